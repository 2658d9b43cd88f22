// Package httpapi serves the engine's operational endpoints: liveness,
// readiness, Prometheus-style metrics, the active-session listing, and an
// admin-gated sweep of the on-disk recording store.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"letterfall/engine/internal/logging"
	"letterfall/engine/internal/recorder"
	"letterfall/engine/internal/session"
)

// SavedCountFunc reports how many results the storage backend holds.
type SavedCountFunc func(ctx context.Context) (int64, error)

// Sweeper triggers a retention sweep over recorded session bundles.
type Sweeper interface {
	RunOnce()
	Stats() recorder.StorageStats
}

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Manager     *session.Manager
	Clients     func() int
	SavedCount  SavedCountFunc
	Sweeper     Sweeper
	Startup     func() error
	AdminToken  string
	RateLimiter RateLimiter
	TimeSource  func() time.Time
}

// HandlerSet bundles the engine operational handlers.
type HandlerSet struct {
	logger      *logging.Logger
	manager     *session.Manager
	clients     func() int
	savedCount  SavedCountFunc
	sweeper     Sweeper
	startup     func() error
	adminToken  string
	rateLimiter RateLimiter
	now         func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		manager:     opts.Manager,
		clients:     opts.Clients,
		savedCount:  opts.SavedCount,
		sweeper:     opts.Sweeper,
		startup:     opts.Startup,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
		now:         now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/sessions", h.SessionsHandler())
	mux.HandleFunc("/records/sweep", h.SweepHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports engine readiness, including connection and session
// counts and any startup failure.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Clients       int     `json:"clients"`
		Sessions      int     `json:"sessions"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.clients != nil {
			resp.Clients = h.clients()
		}
		if h.manager != nil {
			resp.Sessions = h.manager.Count()
			resp.UptimeSeconds = h.manager.Uptime().Seconds()
		}
		if h.startup != nil {
			if err := h.startup(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		if h.manager != nil {
			attached, started, completed, discarded := h.manager.Stats()
			fmt.Fprintf(w, "# HELP engine_uptime_seconds Engine uptime in seconds.\n")
			fmt.Fprintf(w, "# TYPE engine_uptime_seconds gauge\n")
			fmt.Fprintf(w, "engine_uptime_seconds %.0f\n", h.manager.Uptime().Seconds())

			fmt.Fprintf(w, "# HELP engine_sessions_active Sessions currently bound to a connection.\n")
			fmt.Fprintf(w, "# TYPE engine_sessions_active gauge\n")
			fmt.Fprintf(w, "engine_sessions_active %d\n", attached)

			fmt.Fprintf(w, "# HELP engine_sessions_started_total Sessions created over the process lifetime.\n")
			fmt.Fprintf(w, "# TYPE engine_sessions_started_total counter\n")
			fmt.Fprintf(w, "engine_sessions_started_total %d\n", started)

			fmt.Fprintf(w, "# HELP engine_sessions_completed_total Sessions that finished and passed the persistence filter.\n")
			fmt.Fprintf(w, "# TYPE engine_sessions_completed_total counter\n")
			fmt.Fprintf(w, "engine_sessions_completed_total %d\n", completed)

			fmt.Fprintf(w, "# HELP engine_sessions_discarded_total Sessions that finished below the persistence threshold.\n")
			fmt.Fprintf(w, "# TYPE engine_sessions_discarded_total counter\n")
			fmt.Fprintf(w, "engine_sessions_discarded_total %d\n", discarded)

			var stale, unknown, inactive uint64
			for _, drops := range h.manager.Drops().Snapshot() {
				stale += drops.StaleEvent
				unknown += drops.UnknownSprite
				inactive += drops.Inactive
			}
			fmt.Fprintf(w, "# HELP engine_batch_drops_total Response batches rejected, by reason.\n")
			fmt.Fprintf(w, "# TYPE engine_batch_drops_total counter\n")
			fmt.Fprintf(w, "engine_batch_drops_total{reason=%q} %d\n", session.DropStaleEvent, stale)
			fmt.Fprintf(w, "engine_batch_drops_total{reason=%q} %d\n", session.DropUnknownSprite, unknown)
			fmt.Fprintf(w, "engine_batch_drops_total{reason=%q} %d\n", session.DropInactive, inactive)
		}

		if h.clients != nil {
			fmt.Fprintf(w, "# HELP engine_clients Current connected WebSocket clients.\n")
			fmt.Fprintf(w, "# TYPE engine_clients gauge\n")
			fmt.Fprintf(w, "engine_clients %d\n", h.clients())
		}

		if h.savedCount != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			count, err := h.savedCount(ctx)
			cancel()
			if err == nil {
				fmt.Fprintf(w, "# HELP engine_results_saved_total Session results persisted to storage.\n")
				fmt.Fprintf(w, "# TYPE engine_results_saved_total counter\n")
				fmt.Fprintf(w, "engine_results_saved_total %d\n", count)
			}
		}

		if h.sweeper != nil {
			stats := h.sweeper.Stats()
			fmt.Fprintf(w, "# HELP engine_record_bundles Session recording bundles currently on disk.\n")
			fmt.Fprintf(w, "# TYPE engine_record_bundles gauge\n")
			fmt.Fprintf(w, "engine_record_bundles %d\n", stats.Bundles)
			fmt.Fprintf(w, "# HELP engine_record_bytes Total bytes held by session recordings.\n")
			fmt.Fprintf(w, "# TYPE engine_record_bytes gauge\n")
			fmt.Fprintf(w, "engine_record_bytes %d\n", stats.Bytes)
		}
	}
}

// SessionsHandler lists the sessions currently bound to connections.
func (h *HandlerSet) SessionsHandler() http.HandlerFunc {
	type response struct {
		Sessions []session.Info `json:"sessions"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		infos := h.manager.Snapshot()
		if infos == nil {
			infos = []session.Info{}
		}
		writeJSON(w, http.StatusOK, response{Sessions: infos})
	}
}

// SweepHandler authorises and triggers a recording retention sweep.
func (h *HandlerSet) SweepHandler() http.HandlerFunc {
	type response struct {
		Status  string `json:"status"`
		Bundles int    `json:"bundles"`
		Bytes   int64  `json:"bytes"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "records_sweep"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("sweep denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("sweep denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("sweep denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.sweeper == nil {
			reqLogger.Warn("sweep denied: recording disabled")
			http.Error(w, "session recording is unavailable", http.StatusServiceUnavailable)
			return
		}
		h.sweeper.RunOnce()
		stats := h.sweeper.Stats()
		reqLogger.Info("recording sweep triggered")
		writeJSON(w, http.StatusAccepted, response{
			Status:  "accepted",
			Bundles: stats.Bundles,
			Bytes:   stats.Bytes,
		})
	}
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
