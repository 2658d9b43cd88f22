package session

import (
	"testing"
	"time"

	"letterfall/engine/internal/logging"
	"letterfall/engine/internal/profile"
	"letterfall/engine/internal/stimulus"
	"letterfall/engine/internal/strategy"
)

func newTestSession(t *testing.T, userID string) *Session {
	t.Helper()
	s, err := New(Config{
		UserID:   userID,
		Letters:  []string{"A"},
		Profile:  profile.Lookup(profile.Casual),
		Strategy: &scriptedStrategy{typ: strategy.Grind, duration: time.Minute},
		Logger:   logging.NewTestLogger(),
	})
	if err != nil {
		t.Fatalf("unexpected session error: %v", err)
	}
	return s
}

func TestManagerNilReceiverIsSafe(t *testing.T) {
	var m *Manager
	//1.- Every accessor must tolerate a nil manager for optional wiring.
	m.Attach("conn", nil)
	m.Detach("conn")
	m.RecordOutcome(true)
	if m.Lookup("conn") != nil || m.Count() != 0 || m.Uptime() != 0 {
		t.Fatalf("nil manager leaked state")
	}
	if m.Snapshot() != nil || m.Drops() != nil {
		t.Fatalf("nil manager returned live collections")
	}
}

func TestManagerAttachReplacesPreviousSession(t *testing.T) {
	m := NewManager()
	first := newTestSession(t, "player-1")
	second := newTestSession(t, "player-1")

	m.Attach("conn-1", first)
	first.Start(func(stimulus.SpawnEvent) {}, nil)
	m.Attach("conn-1", second)

	//1.- The replacement wins the binding and the old session is aborted.
	if got := m.Lookup("conn-1"); got != second {
		t.Fatalf("expected the new session bound to the connection")
	}
	if first.Active() {
		t.Fatalf("replaced session should be aborted")
	}
	if m.Count() != 1 {
		t.Fatalf("expected one attached session, got %d", m.Count())
	}
}

func TestManagerDetachAbortsAndForgets(t *testing.T) {
	m := NewManager()
	s := newTestSession(t, "player-2")
	m.Attach("conn-2", s)
	m.Drops().observe(s.ID(), DropStaleEvent)

	m.Detach("conn-2")
	//1.- Detach unbinds, aborts and drops the per-session counters.
	if m.Lookup("conn-2") != nil || m.Count() != 0 {
		t.Fatalf("detach left the session attached")
	}
	if s.Active() {
		t.Fatalf("detached session should be aborted")
	}
	if _, ok := m.Drops().Snapshot()[s.ID()]; ok {
		t.Fatalf("detach should forget drop counters")
	}
	//2.- Detaching an unknown connection is a no-op.
	m.Detach("conn-2")
	m.Detach("never-seen")
}

func TestManagerStatsAndUptime(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewManager(WithManagerClock(func() time.Time { return now }))

	m.Attach("a", newTestSession(t, "player-a"))
	m.Attach("b", newTestSession(t, "player-b"))
	m.RecordOutcome(true)
	m.RecordOutcome(false)

	attached, started, completed, discarded := m.Stats()
	if attached != 2 || started != 2 || completed != 2 || discarded != 1 {
		t.Fatalf("unexpected stats: attached=%d started=%d completed=%d discarded=%d",
			attached, started, completed, discarded)
	}

	now = now.Add(90 * time.Second)
	if got := m.Uptime(); got != 90*time.Second {
		t.Fatalf("expected 90s uptime, got %v", got)
	}
}

func TestManagerSnapshotIsSorted(t *testing.T) {
	m := NewManager()
	for _, conn := range []string{"c1", "c2", "c3"} {
		m.Attach(conn, newTestSession(t, "player-"+conn))
	}
	infos := m.Snapshot()
	if len(infos) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(infos))
	}
	//1.- Deterministic ordering keeps dashboard payloads stable.
	for i := 1; i < len(infos); i++ {
		if infos[i-1].SessionID > infos[i].SessionID {
			t.Fatalf("snapshot not sorted at index %d", i)
		}
	}
	for _, info := range infos {
		if info.Active {
			t.Fatalf("idle sessions must report inactive")
		}
	}
}
