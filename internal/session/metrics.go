package session

import "sync"

// DropReason enumerates why an inbound batch was rejected or degraded.
type DropReason string

const (
	// DropStaleEvent marks a batch whose event id no longer matches the
	// outstanding event (duplicate or late delivery).
	DropStaleEvent DropReason = "stale_event"
	// DropUnknownSprite marks a result referencing a sprite outside the
	// active set.
	DropUnknownSprite DropReason = "unknown_sprite"
	// DropInactive marks a batch that arrived before start or after end.
	DropInactive DropReason = "inactive"
)

// String returns the textual representation of the drop reason.
func (r DropReason) String() string { return string(r) }

// DropCounters aggregates per-reason drop counts for one session.
type DropCounters struct {
	StaleEvent    uint64 `json:"stale_event"`
	UnknownSprite uint64 `json:"unknown_sprite"`
	Inactive      uint64 `json:"inactive"`
}

// Metrics stores per-session drop counters for diagnostics. A nil Metrics is
// valid and records nothing.
type Metrics struct {
	mu    sync.RWMutex
	drops map[string]DropCounters
}

// NewMetrics provisions an empty metrics container.
func NewMetrics() *Metrics {
	return &Metrics{drops: make(map[string]DropCounters)}
}

// observe increments the counter for the supplied reason.
func (m *Metrics) observe(sessionID string, reason DropReason) {
	if m == nil || sessionID == "" {
		return
	}
	//1.- Lock while mutating so concurrent sessions stay consistent.
	m.mu.Lock()
	current := m.drops[sessionID]
	switch reason {
	case DropStaleEvent:
		current.StaleEvent++
	case DropUnknownSprite:
		current.UnknownSprite++
	case DropInactive:
		current.Inactive++
	}
	m.drops[sessionID] = current
	m.mu.Unlock()
}

// Snapshot returns a deep copy of the counters for external consumption.
func (m *Metrics) Snapshot() map[string]DropCounters {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.drops) == 0 {
		return nil
	}
	clone := make(map[string]DropCounters, len(m.drops))
	for sessionID, counters := range m.drops {
		clone[sessionID] = counters
	}
	return clone
}

// Forget removes a session's counters once it is detached.
func (m *Metrics) Forget(sessionID string) {
	if m == nil || sessionID == "" {
		return
	}
	m.mu.Lock()
	delete(m.drops, sessionID)
	m.mu.Unlock()
}
