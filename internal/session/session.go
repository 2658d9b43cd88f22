// Package session implements the per-player game session: the orchestrator
// that owns speed, score and history, delegates rules to its strategy, and
// serializes spawn generation against response processing.
package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"letterfall/engine/internal/logging"
	"letterfall/engine/internal/profile"
	"letterfall/engine/internal/stats"
	"letterfall/engine/internal/stimulus"
	"letterfall/engine/internal/strategy"
)

// DefaultMinDuration filters out accidental connections: sessions shorter
// than this are delivered to the player but never persisted. Calibration is
// exempt because its natural duration is short.
const DefaultMinDuration = 10 * time.Second

const scorePerSprite = 10

// ErrNoLetters is returned when a session is created without target letters.
var ErrNoLetters = errors.New("session requires at least one target letter")

// ErrNoStrategy is returned when a session is created without a strategy.
var ErrNoStrategy = errors.New("session requires a strategy")

type lifecycle int

const (
	stateIdle lifecycle = iota
	stateRunning
	stateEnded
)

// SpriteResult is one player-reported outcome for a single sprite.
type SpriteResult struct {
	SpriteID string        `json:"spriteId"`
	Outcome  stats.Outcome `json:"result"`
	Letter   string        `json:"letter"`
}

// Batch carries every reported outcome for one outstanding spawn event. The
// client timestamps are advisory only; the authoritative log uses server time.
type Batch struct {
	EventID       string         `json:"eventId"`
	Results       []SpriteResult `json:"results"`
	ClientStartMs int64          `json:"startTime"`
	ClientEndMs   int64          `json:"endTime"`
}

// Result is the immutable outcome of one finished session.
type Result struct {
	Score         int                  `json:"score"`
	History       []stats.HistoryEntry `json:"eventLog"`
	Statistics    stats.Statistics     `json:"statistics"`
	SessionType   strategy.Type        `json:"sessionType"`
	SessionNumber int                  `json:"sessionNumber"`
	ProfileName   string               `json:"userProfile"`
	DurationMs    int64                `json:"duration"`
	// Persist reports whether the session passed the minimum-duration filter
	// and should be handed to the storage collaborator.
	Persist bool `json:"-"`
}

// activeSprite mirrors one sprite of the outstanding event.
type activeSprite struct {
	id       string
	letter   string
	resolved bool
}

// TimerFactory schedules a callback and returns its cancel function. Timer
// cancellation is best effort; the session's liveness flag is the real guard.
type TimerFactory func(delay time.Duration, fn func()) (cancel func())

func defaultTimerFactory(delay time.Duration, fn func()) func() {
	timer := time.AfterFunc(delay, fn)
	return func() { timer.Stop() }
}

// EmitFunc delivers a spawn event to the transport collaborator.
type EmitFunc func(event stimulus.SpawnEvent)

// OverFunc delivers the final result to the transport/persistence wiring.
type OverFunc func(result *Result)

// Config bundles the immutable inputs of one session.
type Config struct {
	UserID        string
	Letters       []string
	Profile       profile.Profile
	Strategy      strategy.Strategy
	SessionNumber int
	Generator     *stimulus.Generator
	Logger        *logging.Logger
}

// Option adjusts session construction, primarily for tests.
type Option func(*Session)

// WithClock injects a deterministic time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Session) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithTimerFactory replaces the scheduling primitive, letting tests run
// timers synchronously or capture them.
func WithTimerFactory(factory TimerFactory) Option {
	return func(s *Session) {
		if factory != nil {
			s.timers = factory
		}
	}
}

// WithMinDuration overrides the persistence filter threshold.
func WithMinDuration(min time.Duration) Option {
	return func(s *Session) {
		if min >= 0 {
			s.minDuration = min
		}
	}
}

// WithDropMetrics wires the shared protocol-anomaly counters.
func WithDropMetrics(metrics *Metrics) Option {
	return func(s *Session) {
		s.drops = metrics
	}
}

// Session is the per-player state machine. All mutable state is guarded by
// one mutex; spawn generation and batch processing are therefore serialized.
type Session struct {
	mu sync.Mutex

	id      string
	userID  string
	letters []string
	prof    profile.Profile
	strat   strategy.Strategy
	gen     *stimulus.Generator
	log     *logging.Logger

	now         func() time.Time
	timers      TimerFactory
	minDuration time.Duration
	drops       *Metrics

	state          lifecycle
	startedAt      time.Time
	currentSpeed   float64
	sessionMax     float64
	actualStart    float64
	score          int
	sessionNumber  int
	history        []stats.HistoryEntry
	currentEventID string
	active         []activeSprite
	spawnedAt      time.Time
	exclude        bool
	eventKind      stimulus.Kind

	emit   EmitFunc
	onOver OverFunc

	cancelSpawn    func()
	cancelWatchdog func()
}

// New validates the configuration and builds an idle session.
func New(cfg Config, opts ...Option) (*Session, error) {
	if len(cfg.Letters) == 0 {
		return nil, ErrNoLetters
	}
	if cfg.Strategy == nil {
		return nil, ErrNoStrategy
	}
	gen := cfg.Generator
	if gen == nil {
		gen = stimulus.NewGenerator(nil)
	}
	log := cfg.Logger
	if log == nil {
		log = logging.L()
	}
	s := &Session{
		id:            uuid.NewString(),
		userID:        cfg.UserID,
		letters:       append([]string(nil), cfg.Letters...),
		prof:          cfg.Profile,
		strat:         cfg.Strategy,
		gen:           gen,
		log:           log,
		now:           time.Now,
		timers:        defaultTimerFactory,
		minDuration:   DefaultMinDuration,
		sessionNumber: cfg.SessionNumber,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.log = s.log.With(
		logging.String("session_id", s.id),
		logging.String("user_id", s.userID),
		logging.String("session_type", string(s.strat.Type())),
	)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the owning player identifier.
func (s *Session) UserID() string { return s.userID }

// Type reports the selected session strategy variant.
func (s *Session) Type() strategy.Type { return s.strat.Type() }

// Duration reports the strategy's nominal duration; zero means unbounded.
func (s *Session) Duration() time.Duration { return s.strat.Duration() }

// Active reports whether the session is currently running.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

// control adapts the session into the narrow capability surface strategies
// receive. Its methods run with the session mutex already held.
type control struct{ s *Session }

func (c control) Speed() float64            { return c.s.currentSpeed }
func (c control) SetSpeed(speed float64)    { c.s.currentSpeed = speed }
func (c control) MaxSpeed() float64         { return c.s.sessionMax }
func (c control) SetMaxSpeed(speed float64) { c.s.sessionMax = speed }

func (c control) CreateSpawnEvent(mask profile.ComplexityMask, isFirst bool) stimulus.SpawnEvent {
	return c.s.gen.Create(c.s.letters, c.s.currentSpeed, mask, isFirst)
}

// Start begins the session. A second call while running is a no-op, guarding
// against duplicate begin signals from the transport layer.
func (s *Session) Start(emit EmitFunc, onOver OverFunc) {
	s.mu.Lock()
	if s.state != stateIdle || emit == nil {
		s.mu.Unlock()
		return
	}
	s.state = stateRunning
	s.emit = emit
	s.onOver = onOver
	s.startedAt = s.now()

	//1.- Let the strategy apply its starting speed and cap overrides, and
	// remember the speed the session actually opened with.
	s.strat.Initialize(control{s})
	s.actualStart = s.currentSpeed

	//2.- Arm the duration watchdog unless the strategy is event-count bound.
	if d := s.strat.Duration(); d > 0 {
		s.cancelWatchdog = s.timers(d, s.watchdogFired)
	}

	//3.- Present the first stimulus immediately.
	s.scheduleSpawnLocked(true)
	s.log.Info("session started",
		logging.String("profile", s.prof.Name),
		logging.Int("session_number", s.sessionNumber))
	s.mu.Unlock()
}

// scheduleSpawnLocked generates the next event and arms its presentation
// timer. Callers must hold the mutex.
func (s *Session) scheduleSpawnLocked(isFirst bool) {
	event := s.strat.GenerateSpawn(control{s}, isFirst)
	delay := time.Duration(event.DelayMs) * time.Millisecond
	s.cancelSpawn = s.timers(delay, func() { s.presentEvent(event) })
}

// presentEvent publishes a generated event once its pacing delay elapses.
func (s *Session) presentEvent(event stimulus.SpawnEvent) {
	s.mu.Lock()
	//1.- A late-firing timer after abort or end must be a safe no-op.
	if s.state != stateRunning {
		s.mu.Unlock()
		return
	}
	s.currentEventID = event.ID
	s.spawnedAt = s.now()
	s.exclude = event.ExcludeFromStats
	s.eventKind = event.Kind
	s.active = s.active[:0]
	for _, sprite := range event.Sprites {
		s.active = append(s.active, activeSprite{id: sprite.ID, letter: sprite.Letter})
	}
	emit := s.emit
	s.mu.Unlock()

	emit(event)
}

// ProcessBatch validates a response batch against the outstanding event,
// applies the strategy's speed rule and schedules the next stimulus. Protocol
// anomalies never error; they degrade to the failure branch or are dropped.
func (s *Session) ProcessBatch(batch Batch) {
	s.mu.Lock()
	if s.state != stateRunning {
		s.drops.observe(s.id, DropInactive)
		s.mu.Unlock()
		return
	}
	//1.- Stale or duplicate batches are silently dropped.
	if batch.EventID == "" || batch.EventID != s.currentEventID {
		s.drops.observe(s.id, DropStaleEvent)
		s.mu.Unlock()
		return
	}
	//2.- Consume the event id immediately so a concurrent duplicate cannot
	// be scored twice.
	s.currentEventID = ""

	now := s.now()
	spriteCount := len(s.active)
	hits := 0
	sawWrong := false
	for _, result := range batch.Results {
		idx := s.findActiveLocked(result.SpriteID)
		if idx < 0 {
			//3.- Unknown sprite ids degrade to the failure branch.
			s.drops.observe(s.id, DropUnknownSprite)
			continue
		}
		switch result.Outcome {
		case stats.Hit:
			if idx == s.firstUnresolvedLocked() {
				s.active[idx].resolved = true
				hits++
			} else {
				// Right letter, wrong order: the whole event fails hard.
				sawWrong = true
			}
		case stats.Wrong:
			sawWrong = true
			s.active[idx].resolved = true
		default:
			s.active[idx].resolved = true
		}
	}

	//4.- All-or-nothing: the event succeeds only when every sprite was hit.
	success := spriteCount > 0 && hits == spriteCount
	outcome := stats.Hit
	if !success {
		outcome = stats.Miss
		if sawWrong {
			outcome = stats.Wrong
		}
	}

	speedAtEvent := s.currentSpeed
	if success {
		s.score += scorePerSprite * spriteCount
		s.strat.HandleSuccess(control{s})
	} else {
		s.strat.HandleFailure(control{s})
	}

	//5.- Append exactly one history entry per resolved event, stamped with
	// server-measured offsets; client timing is advisory only.
	s.history = append(s.history, stats.HistoryEntry{
		TimeOffsetMs:     now.Sub(s.startedAt).Milliseconds(),
		Speed:            speedAtEvent,
		Outcome:          outcome,
		Letter:           s.activeLettersLocked(),
		EventKind:        string(s.eventKind),
		EventDurationMs:  now.Sub(s.spawnedAt).Milliseconds(),
		ExcludeFromStats: s.exclude,
	})
	s.active = s.active[:0]

	//6.- Either close the session or line up the next stimulus.
	if s.strat.ShouldEnd(control{s}, now.Sub(s.startedAt)) {
		result := s.endLocked()
		onOver := s.onOver
		s.mu.Unlock()
		if onOver != nil {
			onOver(result)
		}
		return
	}
	s.scheduleSpawnLocked(false)
	s.mu.Unlock()
}

// watchdogFired force-ends the session when the nominal duration elapses.
func (s *Session) watchdogFired() {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return
	}
	result := s.endLocked()
	onOver := s.onOver
	s.mu.Unlock()
	if onOver != nil {
		onOver(result)
	}
}

// End finishes the session and emits its result exactly once. Calling End on
// an idle or already ended session is a no-op.
func (s *Session) End() {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return
	}
	result := s.endLocked()
	onOver := s.onOver
	s.mu.Unlock()
	if onOver != nil {
		onOver(result)
	}
}

// Abort stops the session without producing a result. It is safe to call at
// any point in the lifecycle, including before Start and after End.
func (s *Session) Abort() {
	s.mu.Lock()
	if s.state == stateEnded {
		s.mu.Unlock()
		return
	}
	wasRunning := s.state == stateRunning
	s.state = stateEnded
	s.stopTimersLocked()
	s.mu.Unlock()
	if wasRunning {
		s.log.Info("session aborted")
	}
}

// endLocked finalises the session state and computes the result. Callers must
// hold the mutex and deliver the returned result after unlocking.
func (s *Session) endLocked() *Result {
	s.state = stateEnded
	s.stopTimersLocked()

	elapsed := s.now().Sub(s.startedAt)
	summary := stats.Summarize(s.history, elapsed, s.actualStart, s.sessionMax)
	result := &Result{
		Score:         s.score,
		History:       append([]stats.HistoryEntry(nil), s.history...),
		Statistics:    summary,
		SessionType:   s.strat.Type(),
		SessionNumber: s.sessionNumber,
		ProfileName:   s.prof.Name,
		DurationMs:    elapsed.Milliseconds(),
		Persist:       true,
	}
	//1.- Discard implausibly short sessions instead of persisting them;
	// Calibration runs are naturally short and stay exempt.
	if s.strat.Type() != strategy.Calibration && elapsed < s.minDuration {
		result.Persist = false
	}
	s.log.Info("session ended",
		logging.Int("score", result.Score),
		logging.Int("events", len(result.History)),
		logging.Bool("persist", result.Persist))
	return result
}

func (s *Session) stopTimersLocked() {
	if s.cancelSpawn != nil {
		s.cancelSpawn()
		s.cancelSpawn = nil
	}
	if s.cancelWatchdog != nil {
		s.cancelWatchdog()
		s.cancelWatchdog = nil
	}
}

func (s *Session) findActiveLocked(spriteID string) int {
	for i := range s.active {
		if s.active[i].id == spriteID {
			return i
		}
	}
	return -1
}

func (s *Session) firstUnresolvedLocked() int {
	for i := range s.active {
		if !s.active[i].resolved {
			return i
		}
	}
	return -1
}

func (s *Session) activeLettersLocked() string {
	letters := make([]string, 0, len(s.active))
	for _, sprite := range s.active {
		letters = append(letters, sprite.letter)
	}
	return strings.Join(letters, ",")
}

// Snapshot exposes the mutable counters for diagnostics endpoints.
func (s *Session) Snapshot() (speed, maxSpeed float64, score, events int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSpeed, s.sessionMax, s.score, len(s.history)
}
