package session

import (
	"sort"
	"sync"
	"time"

	"letterfall/engine/internal/strategy"
)

// Info is a stable view of one attached session for observers.
type Info struct {
	SessionID   string        `json:"session_id"`
	UserID      string        `json:"user_id"`
	SessionType strategy.Type `json:"session_type"`
	Active      bool          `json:"active"`
}

// ManagerOption configures optional Manager behaviour at construction time.
type ManagerOption func(*Manager)

// WithManagerClock overrides the wall-clock source, primarily for tests.
func WithManagerClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// Manager tracks the session bound to each transport connection. Sessions are
// fully independent; the manager only provides lookup and counters.
type Manager struct {
	mu sync.RWMutex

	sessions  map[string]*Session
	now       func() time.Time
	startedAt time.Time

	started   uint64
	completed uint64
	discarded uint64

	drops *Metrics
}

// NewManager constructs an empty session registry.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		now:      time.Now,
		drops:    NewMetrics(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.startedAt = m.now()
	return m
}

// Drops exposes the shared protocol-anomaly counters for new sessions.
func (m *Manager) Drops() *Metrics {
	if m == nil {
		return nil
	}
	return m.drops
}

// Attach binds a session to a connection id, aborting any session the
// connection previously held.
func (m *Manager) Attach(connID string, s *Session) {
	if m == nil || connID == "" || s == nil {
		return
	}
	m.mu.Lock()
	previous := m.sessions[connID]
	m.sessions[connID] = s
	m.started++
	m.mu.Unlock()
	//1.- A lingering session on the same connection can never be resumed.
	if previous != nil {
		previous.Abort()
		m.drops.Forget(previous.ID())
	}
}

// Lookup returns the session bound to the connection, if any.
func (m *Manager) Lookup(connID string) *Session {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[connID]
}

// Detach unbinds and aborts the connection's session, if any.
func (m *Manager) Detach(connID string) {
	if m == nil || connID == "" {
		return
	}
	m.mu.Lock()
	s := m.sessions[connID]
	delete(m.sessions, connID)
	m.mu.Unlock()
	if s != nil {
		s.Abort()
		m.drops.Forget(s.ID())
	}
}

// RecordOutcome counts a finished session for the stats endpoint.
func (m *Manager) RecordOutcome(persisted bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.completed++
	if !persisted {
		m.discarded++
	}
	m.mu.Unlock()
}

// Count reports the number of currently attached sessions.
func (m *Manager) Count() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stats summarises lifetime counters for the operational endpoints.
func (m *Manager) Stats() (attached int, started, completed, discarded uint64) {
	if m == nil {
		return 0, 0, 0, 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), m.started, m.completed, m.discarded
}

// Uptime reports how long the manager has been serving sessions.
func (m *Manager) Uptime() time.Duration {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now().Sub(m.startedAt)
}

// Snapshot lists the attached sessions in a deterministic order.
func (m *Manager) Snapshot() []Info {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, Info{
			SessionID:   s.ID(),
			UserID:      s.UserID(),
			SessionType: s.Type(),
			Active:      s.Active(),
		})
	}
	m.mu.RUnlock()
	//1.- Sort for deterministic payloads in tests and dashboards.
	sort.Slice(infos, func(i, j int) bool { return infos[i].SessionID < infos[j].SessionID })
	return infos
}
