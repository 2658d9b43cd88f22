package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"letterfall/engine/internal/logging"
	"letterfall/engine/internal/profile"
	"letterfall/engine/internal/recorder"
	"letterfall/engine/internal/session"
	"letterfall/engine/internal/strategy"
)

type stubLimiter struct {
	remaining int
}

func (s *stubLimiter) Allow() bool {
	if s.remaining <= 0 {
		return false
	}
	s.remaining--
	return true
}

type stubSweeper struct {
	stats recorder.StorageStats
	runs  int
}

func (s *stubSweeper) RunOnce() { s.runs++ }

func (s *stubSweeper) Stats() recorder.StorageStats { return s.stats }

func newTestSession(t *testing.T, userID string) *session.Session {
	t.Helper()
	prof := profile.Lookup(profile.Casual)
	s, err := session.New(session.Config{
		UserID:        userID,
		Letters:       []string{"A"},
		Profile:       prof,
		Strategy:      strategy.New(strategy.Calibration, prof),
		SessionNumber: 1,
		Logger:        logging.NewTestLogger(),
	})
	if err != nil {
		t.Fatalf("build session: %v", err)
	}
	return s
}

func TestLivenessHandlerReturnsJSON(t *testing.T) {
	fixed := time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), TimeSource: func() time.Time { return fixed }})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)

	handlers.LivenessHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "alive" {
		t.Fatalf("unexpected status %q", payload.Status)
	}
	if payload.Timestamp != fixed.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp %q", payload.Timestamp)
	}
}

func TestReadinessHandlerUnavailable(t *testing.T) {
	handlers := NewHandlerSet(Options{
		Logger:  logging.NewTestLogger(),
		Clients: func() int { return 3 },
		Startup: func() error { return errors.New("boom") },
	})

	rr := httptest.NewRecorder()
	handlers.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	var payload struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "error" || payload.Message != "boom" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Clients != 3 {
		t.Fatalf("expected client count 3, got %d", payload.Clients)
	}
}

func TestReadinessHandlerHealthy(t *testing.T) {
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	manager := session.NewManager(session.WithManagerClock(clock))
	manager.Attach("conn-1", newTestSession(t, "alice"))
	now = now.Add(90 * time.Second)

	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Manager: manager})
	rr := httptest.NewRecorder()
	handlers.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload struct {
		Status        string  `json:"status"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Sessions      int     `json:"sessions"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "ok" || payload.Sessions != 1 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.UptimeSeconds != 90 {
		t.Fatalf("expected uptime 90s, got %v", payload.UptimeSeconds)
	}
}

func TestMetricsHandlerEmitsCounters(t *testing.T) {
	manager := session.NewManager()
	manager.Attach("conn-1", newTestSession(t, "alice"))
	manager.RecordOutcome(true)
	manager.RecordOutcome(false)

	sweeper := &stubSweeper{stats: recorder.StorageStats{Bundles: 4, Bytes: 2048}}
	handlers := NewHandlerSet(Options{
		Logger:     logging.NewTestLogger(),
		Manager:    manager,
		Clients:    func() int { return 2 },
		SavedCount: func(context.Context) (int64, error) { return 7, nil },
		Sweeper:    sweeper,
	})

	rr := httptest.NewRecorder()
	handlers.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rr.Body.String()
	for _, want := range []string{
		"engine_sessions_active 1",
		"engine_sessions_started_total 1",
		"engine_sessions_completed_total 1",
		"engine_sessions_discarded_total 1",
		"engine_clients 2",
		"engine_results_saved_total 7",
		"engine_record_bundles 4",
		"engine_record_bytes 2048",
		`engine_batch_drops_total{reason="stale_event"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestSessionsHandlerListsAttached(t *testing.T) {
	manager := session.NewManager()
	manager.Attach("conn-1", newTestSession(t, "alice"))

	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Manager: manager})
	rr := httptest.NewRecorder()
	handlers.SessionsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions", nil))

	var payload struct {
		Sessions []session.Info `json:"sessions"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Sessions) != 1 || payload.Sessions[0].UserID != "alice" {
		t.Fatalf("unexpected sessions payload %+v", payload.Sessions)
	}
	if payload.Sessions[0].SessionType != strategy.Calibration {
		t.Fatalf("unexpected session type %q", payload.Sessions[0].SessionType)
	}
}

func TestSweepHandlerAuthorisation(t *testing.T) {
	sweeper := &stubSweeper{}
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Sweeper:     sweeper,
		AdminToken:  "sekrit",
		RateLimiter: &stubLimiter{remaining: 2},
	})
	handler := handlers.SweepHandler()

	//1.- GET is refused outright.
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/records/sweep", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}

	//2.- A wrong token is unauthorized.
	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/records/sweep", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	//3.- The right token triggers the sweep.
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/records/sweep", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	if sweeper.runs != 1 {
		t.Fatalf("expected one sweep, got %d", sweeper.runs)
	}
}

func TestSweepHandlerRateLimited(t *testing.T) {
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Sweeper:     &stubSweeper{},
		AdminToken:  "sekrit",
		RateLimiter: &stubLimiter{remaining: 0},
	})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/records/sweep", nil)
	req.Header.Set("X-Admin-Token", "sekrit")
	handlers.SweepHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}

func TestSweepHandlerRequiresAdminToken(t *testing.T) {
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Sweeper: &stubSweeper{}})
	rr := httptest.NewRecorder()
	handlers.SweepHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/records/sweep", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}
