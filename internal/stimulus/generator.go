// Package stimulus generates spawn events: one or two moving letter targets
// with positions and velocities in the normalized 0-100 playfield space.
package stimulus

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"letterfall/engine/internal/profile"
)

// Kind distinguishes single-letter from double-letter events.
type Kind string

const (
	// Single is one falling or flying letter.
	Single Kind = "single"
	// Double is two letters falling at identical velocity; the leading
	// sprite must be answered first.
	Double Kind = "double"
)

// Reference frame used to derive normalized sprite geometry. Sprites are
// authored as 350px squares against a 1920x1080 canvas.
const (
	referenceFrameWidth  = 1920.0
	referenceFrameHeight = 1080.0
	referenceSpriteSize  = 350.0
)

// Derived geometry in normalized playfield units.
const (
	// SpriteWidthUnits is the sprite width as a share of the playfield width.
	SpriteWidthUnits = referenceSpriteSize / referenceFrameWidth * 100
	// SpriteHeightUnits is the sprite height as a share of the playfield height.
	SpriteHeightUnits = referenceSpriteSize / referenceFrameHeight * 100
	// GapUnits separates the two sprites of a double event horizontally.
	GapUnits = SpriteWidthUnits / 3
	// EdgeMarginUnits keeps spawns inside the playfield.
	EdgeMarginUnits = 2.0
)

// Pacing gap inserted between consecutive events.
const (
	minDelayMs   = 300
	delaySpanMs  = 700
	sideChance   = 0.6
	flipChance   = 0.2
	doubleChance = 0.5
)

// SpriteSpec describes one moving letter target for the renderer.
type SpriteSpec struct {
	ID        string  `json:"id"`
	Letter    string  `json:"letter"`
	StartX    float64 `json:"startX"`
	StartY    float64 `json:"startY"`
	VelocityX float64 `json:"velocityX"`
	VelocityY float64 `json:"velocityY"`
	Flipped   bool    `json:"isFlipped,omitempty"`
}

// SpawnEvent is one immutable stimulus presentation. The order of Sprites is
// the required response order.
type SpawnEvent struct {
	ID        string       `json:"eventId"`
	Kind      Kind         `json:"type"`
	Sprites   []SpriteSpec `json:"sprites"`
	SizeUnits float64      `json:"size"`
	DelayMs   int          `json:"delay"`
	Phase     string       `json:"phase,omitempty"`
	// ExcludeFromStats marks warm-down events whose outcomes must not feed
	// the end-of-session error statistics.
	ExcludeFromStats bool `json:"excludeFromStats,omitempty"`
}

// Generator produces spawn events from a random source. The source is
// injectable so tests can replay a seeded sequence.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator builds a generator around the supplied random source. A nil
// source falls back to a time-seeded one.
func NewGenerator(rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{rng: rng}
}

// Create builds the next spawn event for the given target letters, speed and
// complexity mask. The first event of a session starts immediately; later
// events carry a randomized pacing delay.
func (g *Generator) Create(letters []string, speed float64, mask profile.ComplexityMask, isFirst bool) SpawnEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(letters) == 0 {
		letters = []string{"A"}
	}

	event := SpawnEvent{
		ID:        uuid.NewString(),
		Kind:      Single,
		SizeUnits: SpriteWidthUnits,
	}
	//1.- Insert the pacing gap unless this is the opening event of the session.
	if !isFirst {
		event.DelayMs = minDelayMs + g.rng.Intn(delaySpanMs)
	}

	//2.- Decide single versus double; doubles require the mask bit and a coin flip.
	if mask.Has(profile.Double) && g.rng.Float64() < doubleChance {
		event.Kind = Double
	}

	if event.Kind == Double {
		event.Sprites = g.doubleSprites(letters, speed, mask)
		return event
	}
	event.Sprites = []SpriteSpec{g.singleSprite(letters, speed, mask)}
	return event
}

// singleSprite builds one letter entering either from above or, when side
// entry is enabled, from a playfield edge.
func (g *Generator) singleSprite(letters []string, speed float64, mask profile.ComplexityMask) SpriteSpec {
	sprite := SpriteSpec{
		ID:     uuid.NewString(),
		Letter: g.pickLetter(letters),
	}
	//1.- Flip is a pure rendering hint and never changes the geometry.
	if mask.Has(profile.Flip) && g.rng.Float64() < flipChance {
		sprite.Flipped = true
	}

	if mask.Has(profile.Side) && g.rng.Float64() < sideChance {
		//2.- Horizontal flyer: enter from the left or right edge at a random height.
		fromLeft := g.rng.Float64() < 0.5
		sprite.StartY = g.randomLateral(SpriteHeightUnits)
		if fromLeft {
			sprite.StartX = -SpriteWidthUnits
			sprite.VelocityX = speed
		} else {
			sprite.StartX = 100
			sprite.VelocityX = -speed
		}
		return sprite
	}

	//3.- Vertical drop from above the top edge.
	sprite.StartX = g.horizontalStart(mask)
	sprite.StartY = -SpriteHeightUnits
	sprite.VelocityY = speed
	return sprite
}

// doubleSprites builds two letters falling at identical velocity. The
// trailing sprite sits up-and-right of the leader by one sprite size plus the
// gap, so the leader crosses any horizontal line first and the push order is
// the required response order.
func (g *Generator) doubleSprites(letters []string, speed float64, mask profile.ComplexityMask) []SpriteSpec {
	baseX := g.horizontalStart(mask)
	lead := SpriteSpec{
		ID:        uuid.NewString(),
		Letter:    g.pickLetter(letters),
		StartX:    baseX,
		StartY:    -SpriteHeightUnits,
		VelocityY: speed,
	}
	trail := SpriteSpec{
		ID:        uuid.NewString(),
		Letter:    g.pickLetter(letters),
		StartX:    baseX + SpriteWidthUnits + GapUnits,
		StartY:    lead.StartY - (SpriteHeightUnits + GapUnits),
		VelocityY: speed,
	}
	return []SpriteSpec{lead, trail}
}

// horizontalStart picks a spawn X that keeps the sprite inside the playfield,
// or the centre when the fixed-position bit is set.
func (g *Generator) horizontalStart(mask profile.ComplexityMask) float64 {
	if mask.Has(profile.FixedPos) {
		return (100 - SpriteWidthUnits) / 2
	}
	span := 100 - 2*EdgeMarginUnits - SpriteWidthUnits
	return EdgeMarginUnits + g.rng.Float64()*span
}

// randomLateral picks a Y for side flyers inside the vertical margins.
func (g *Generator) randomLateral(height float64) float64 {
	span := 100 - 2*EdgeMarginUnits - height
	return EdgeMarginUnits + g.rng.Float64()*span
}

func (g *Generator) pickLetter(letters []string) string {
	return letters[g.rng.Intn(len(letters))]
}
