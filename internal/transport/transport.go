// Package transport exposes the engine over a WebSocket endpoint. Each
// connection carries one player: a join message binds identity and builds the
// session, start runs the countdown and begins the stimulus stream, response
// batches feed the session, and the final result is fanned out to the
// persistence collaborators.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"letterfall/engine/internal/auth"
	"letterfall/engine/internal/identity"
	"letterfall/engine/internal/logging"
	"letterfall/engine/internal/profile"
	"letterfall/engine/internal/recorder"
	"letterfall/engine/internal/session"
	"letterfall/engine/internal/stimulus"
	"letterfall/engine/internal/storage"
	"letterfall/engine/internal/strategy"
)

const (
	defaultSendBuffer = 64
	persistTimeout    = 5 * time.Second
	countdownSpacing  = time.Second
)

// Options configures the WebSocket handler.
type Options struct {
	Logger          *logging.Logger
	Manager         *session.Manager
	Verifier        auth.Verifier
	Directory       identity.Directory
	Store           storage.Store
	RecordDir       string
	CountdownTicks  int
	PingInterval    time.Duration
	MaxPayloadBytes int64
	MaxClients      int
	AllowedOrigins  []string
	Clock           func() time.Time
	Timers          session.TimerFactory
	Generator       *stimulus.Generator
}

// Handler upgrades connections and speaks the session protocol.
type Handler struct {
	log       *logging.Logger
	manager   *session.Manager
	verifier  auth.Verifier
	directory identity.Directory
	store     storage.Store
	recordDir string

	countdown   int
	ping        time.Duration
	maxPayload  int64
	maxClients  int
	origins     map[string]struct{}
	now         func() time.Time
	timers      session.TimerFactory
	gen         *stimulus.Generator
	upgrader    websocket.Upgrader
	persistWait sync.WaitGroup

	mu      sync.Mutex
	clients int
}

// NewHandler builds a Handler from the supplied options.
func NewHandler(opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = logging.L()
	}
	manager := opts.Manager
	if manager == nil {
		manager = session.NewManager()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	ping := opts.PingInterval
	if ping <= 0 {
		ping = 30 * time.Second
	}
	origins := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, origin := range opts.AllowedOrigins {
		origins[origin] = struct{}{}
	}
	h := &Handler{
		log:        log,
		manager:    manager,
		verifier:   opts.Verifier,
		directory:  opts.Directory,
		store:      opts.Store,
		recordDir:  strings.TrimSpace(opts.RecordDir),
		countdown:  opts.CountdownTicks,
		ping:       ping,
		maxPayload: opts.MaxPayloadBytes,
		maxClients: opts.MaxClients,
		origins:    origins,
		now:        now,
		timers:     opts.Timers,
		gen:        opts.Generator,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

// Manager exposes the session registry for the operational endpoints.
func (h *Handler) Manager() *session.Manager { return h.manager }

// checkOrigin allows every origin when no allow-list is configured.
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.origins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	_, ok := h.origins[origin]
	return ok
}

// ServeHTTP upgrades the connection and runs the read/write pumps.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.maxClients > 0 && h.clients >= h.maxClients {
		h.mu.Unlock()
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	h.clients++
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logging.Error(err))
		h.releaseSlot()
		return
	}
	if h.maxPayload > 0 {
		conn.SetReadLimit(h.maxPayload)
	}

	c := h.newClient(conn)
	go h.writePump(c)
	h.readPump(c)
}

func (h *Handler) releaseSlot() {
	h.mu.Lock()
	h.clients--
	h.mu.Unlock()
}

// ClientCount reports the number of open connections.
func (h *Handler) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients
}

// Drain blocks until in-flight persistence work completes, for shutdown.
func (h *Handler) Drain() {
	h.persistWait.Wait()
}

type client struct {
	h      *Handler
	conn   *websocket.Conn
	connID string
	send   chan []byte

	mu     sync.Mutex
	userID string
	joined bool
}

func (h *Handler) newClient(conn *websocket.Conn) *client {
	return &client{
		h:      h,
		conn:   conn,
		connID: uuid.NewString(),
		send:   make(chan []byte, defaultSendBuffer),
	}
}

func (h *Handler) readPump(c *client) {
	defer func() {
		//1.- A dropped connection aborts its session; nothing is persisted.
		h.manager.Detach(c.connID)
		close(c.send)
		c.conn.Close()
		h.releaseSlot()
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleMessage(c, data)
	}
}

func (h *Handler) writePump(c *client) {
	ticker := time.NewTicker(h.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.WriteMessage(websocket.TextMessage, msg)
		case <-ticker.C:
			_ = c.conn.WriteMessage(websocket.PingMessage, []byte{})
		}
	}
}

// deliver queues an outbound frame, dropping it if the client stalled.
func (c *client) deliver(payload []byte) {
	defer func() {
		// The send channel closes when the reader exits; late session timers
		// may still race a delivery in, so a recover keeps teardown clean.
		_ = recover()
	}()
	select {
	case c.send <- payload:
	default:
	}
}

func (c *client) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.h.log.Error("encode outbound frame", logging.Error(err))
		return
	}
	c.deliver(data)
}

func (c *client) sendError(code, message string) {
	c.sendJSON(map[string]any{"type": "error", "code": code, "message": message})
}

type inboundMessage struct {
	Type        string                 `json:"type"`
	Token       string                 `json:"token,omitempty"`
	UserID      string                 `json:"userId,omitempty"`
	Letters     []string               `json:"letters,omitempty"`
	SessionType string                 `json:"sessionType,omitempty"`
	EventID     string                 `json:"eventId,omitempty"`
	Results     []session.SpriteResult `json:"results,omitempty"`
	StartTime   int64                  `json:"startTime,omitempty"`
	EndTime     int64                  `json:"endTime,omitempty"`
}

// handleMessage dispatches one inbound frame. Unknown types are ignored so
// protocol additions never break older servers mid-rollout.
func (h *Handler) handleMessage(c *client, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("bad_frame", "malformed message")
		return
	}
	switch msg.Type {
	case "join":
		h.handleJoin(c, &msg)
	case "start":
		h.handleStart(c)
	case "response_batch":
		h.handleBatch(c, &msg)
	case "abort":
		h.handleAbort(c)
	default:
		h.log.Debug("ignoring unknown frame", logging.String("frame_type", msg.Type))
	}
}

func (h *Handler) handleJoin(c *client, msg *inboundMessage) {
	userID := strings.TrimSpace(msg.UserID)
	//1.- Authenticate when a verifier is configured; the token subject is
	// authoritative over the client-supplied id.
	if h.verifier != nil {
		claims, err := h.verifier.Verify(msg.Token)
		if err != nil {
			c.sendError("unauthorized", "token rejected")
			return
		}
		if claims.Subject != "" {
			if userID != "" && userID != claims.Subject {
				c.sendError("unauthorized", "token subject mismatch")
				return
			}
			userID = claims.Subject
		}
	}
	if userID == "" {
		c.sendError("bad_join", "userId is required")
		return
	}
	if len(msg.Letters) == 0 {
		c.sendError("bad_join", "at least one target letter is required")
		return
	}

	//2.- Consult the identity directory; first-time players get zero values.
	var player identity.Player
	if h.directory != nil {
		record, err := h.directory.Player(context.Background(), userID)
		switch {
		case err == nil:
			player = record
		case errors.Is(err, identity.ErrUnknownPlayer):
			// First session: calibration territory.
		default:
			h.log.Warn("identity lookup failed", logging.Error(err), logging.String("user_id", userID))
		}
	}

	prof := profile.Lookup(player.ProfileName)
	override := strings.TrimSpace(msg.SessionType)
	if override == "" {
		override = player.TypeOverride
	}
	strat := strategy.Select(prof, override, player.SessionsPlayed)

	sessionOpts := []session.Option{session.WithDropMetrics(h.manager.Drops())}
	if h.now != nil {
		sessionOpts = append(sessionOpts, session.WithClock(h.now))
	}
	if h.timers != nil {
		sessionOpts = append(sessionOpts, session.WithTimerFactory(h.timers))
	}
	s, err := session.New(session.Config{
		UserID:        userID,
		Letters:       msg.Letters,
		Profile:       prof,
		Strategy:      strat,
		SessionNumber: player.SessionsPlayed + 1,
		Generator:     h.gen,
		Logger:        h.log,
	}, sessionOpts...)
	if err != nil {
		c.sendError("bad_join", err.Error())
		return
	}

	c.mu.Lock()
	c.userID = userID
	c.joined = true
	c.mu.Unlock()
	//3.- Attach replaces any lingering session on this connection.
	h.manager.Attach(c.connID, s)

	c.sendJSON(map[string]any{
		"type":        "session_ready",
		"sessionType": s.Type(),
		"duration":    s.Duration().Milliseconds(),
		"profile":     prof.Name,
	})
}

func (h *Handler) handleStart(c *client) {
	s := h.manager.Lookup(c.connID)
	if s == nil {
		c.sendError("no_session", "join before starting")
		return
	}
	//1.- Emit the countdown ticks, then hand control to the session.
	ticks := h.countdown
	for i := 0; i < ticks; i++ {
		value := ticks - i
		delay := time.Duration(i) * countdownSpacing
		h.schedule(delay, func() {
			c.sendJSON(map[string]any{"type": "countdown", "value": value})
		})
	}
	h.schedule(time.Duration(ticks)*countdownSpacing, func() {
		s.Start(
			func(event stimulus.SpawnEvent) {
				c.sendJSON(map[string]any{"type": "spawn_event", "event": event})
			},
			func(result *session.Result) {
				h.sessionOver(c, s.ID(), result)
			},
		)
	})
}

// schedule runs fn after delay using the injected timer factory when present.
func (h *Handler) schedule(delay time.Duration, fn func()) {
	if h.timers != nil {
		h.timers(delay, fn)
		return
	}
	time.AfterFunc(delay, fn)
}

func (h *Handler) handleBatch(c *client, msg *inboundMessage) {
	s := h.manager.Lookup(c.connID)
	if s == nil {
		return
	}
	s.ProcessBatch(session.Batch{
		EventID:       msg.EventID,
		Results:       msg.Results,
		ClientStartMs: msg.StartTime,
		ClientEndMs:   msg.EndTime,
	})
}

func (h *Handler) handleAbort(c *client) {
	if s := h.manager.Lookup(c.connID); s != nil {
		s.Abort()
	}
}

// sessionOver delivers the result to the player, then hands persistence to a
// background goroutine: saving is fire-and-forget and never blocks the
// connection.
func (h *Handler) sessionOver(c *client, sessionID string, result *session.Result) {
	c.sendJSON(map[string]any{"type": "session_over", "result": result})
	h.manager.RecordOutcome(result.Persist)

	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()

	h.persistWait.Add(1)
	go func() {
		defer h.persistWait.Done()
		h.persistResult(sessionID, userID, result)
	}()
}

func (h *Handler) persistResult(sessionID, userID string, result *session.Result) {
	if result == nil || !result.Persist {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if h.store != nil {
		if err := h.store.SaveResult(ctx, userID, result); err != nil {
			h.log.Error("result save failed", logging.Error(err), logging.String("user_id", userID))
		}
	}
	if h.directory != nil {
		if err := h.directory.RecordSession(ctx, userID, result.Statistics.MaxSpeed); err != nil {
			h.log.Warn("identity update failed", logging.Error(err), logging.String("user_id", userID))
		}
	}
	if h.recordDir != "" {
		if _, err := recorder.Save(h.recordDir, result, sessionID, userID, h.now); err != nil {
			h.log.Warn("recording save failed", logging.Error(err), logging.String("user_id", userID))
		}
	}
}
