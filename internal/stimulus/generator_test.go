package stimulus

import (
	"math/rand"
	"testing"

	"letterfall/engine/internal/profile"
)

func newSeededGenerator(seed int64) *Generator {
	return NewGenerator(rand.New(rand.NewSource(seed)))
}

func TestCreateFirstEventHasNoDelay(t *testing.T) {
	gen := newSeededGenerator(1)
	//1.- The opening event must start immediately regardless of the mask.
	event := gen.Create([]string{"A", "S"}, 80, profile.ComplexityAll, true)
	if event.DelayMs != 0 {
		t.Fatalf("expected zero delay for first event, got %d", event.DelayMs)
	}
}

func TestCreateDelayWithinPacingWindow(t *testing.T) {
	gen := newSeededGenerator(2)
	//1.- Sample many follow-up events and assert the pacing gap bounds.
	for i := 0; i < 200; i++ {
		event := gen.Create([]string{"A"}, 50, 0, false)
		if event.DelayMs < 300 || event.DelayMs >= 1000 {
			t.Fatalf("delay %d outside [300,1000)", event.DelayMs)
		}
	}
}

func TestCreateWithoutDoubleBitNeverDoubles(t *testing.T) {
	gen := newSeededGenerator(3)
	//1.- Without the double bit every event must carry exactly one sprite.
	for i := 0; i < 100; i++ {
		event := gen.Create([]string{"A", "S"}, 60, profile.Side|profile.Flip, false)
		if event.Kind != Single || len(event.Sprites) != 1 {
			t.Fatalf("expected single events only, got %q with %d sprites", event.Kind, len(event.Sprites))
		}
	}
}

func TestCreateDoubleGeometry(t *testing.T) {
	gen := newSeededGenerator(4)
	//1.- Keep generating until the coin flip produces a double event.
	var event SpawnEvent
	for i := 0; i < 200; i++ {
		event = gen.Create([]string{"A", "S"}, 70, profile.Double, false)
		if event.Kind == Double {
			break
		}
	}
	if event.Kind != Double {
		t.Fatalf("never produced a double event")
	}
	if len(event.Sprites) != 2 {
		t.Fatalf("double event should carry two sprites, got %d", len(event.Sprites))
	}
	lead, trail := event.Sprites[0], event.Sprites[1]
	//2.- Both sprites fall vertically at the same speed.
	if lead.VelocityX != 0 || trail.VelocityX != 0 || lead.VelocityY != trail.VelocityY {
		t.Fatalf("double sprites must share a vertical velocity: %+v %+v", lead, trail)
	}
	//3.- The trailing sprite sits up-and-right of the leader, so the leader
	// is first across any horizontal line.
	if trail.StartY >= lead.StartY {
		t.Fatalf("trailing sprite should start above the leader: lead %v trail %v", lead.StartY, trail.StartY)
	}
	wantDX := SpriteWidthUnits + GapUnits
	if got := trail.StartX - lead.StartX; got != wantDX {
		t.Fatalf("expected horizontal offset %v, got %v", wantDX, got)
	}
}

func TestCreateVerticalStartsInsideMargins(t *testing.T) {
	gen := newSeededGenerator(5)
	//1.- Plain drops must always start within the horizontal margins.
	for i := 0; i < 200; i++ {
		event := gen.Create([]string{"A"}, 40, 0, false)
		sprite := event.Sprites[0]
		if sprite.StartX < EdgeMarginUnits || sprite.StartX > 100-EdgeMarginUnits-SpriteWidthUnits {
			t.Fatalf("spawn X %v outside playfield margins", sprite.StartX)
		}
		if sprite.StartY != -SpriteHeightUnits || sprite.VelocityY != 40 || sprite.VelocityX != 0 {
			t.Fatalf("unexpected vertical drop geometry: %+v", sprite)
		}
	}
}

func TestCreateFixedPositionCentresSpawn(t *testing.T) {
	gen := newSeededGenerator(6)
	want := (100 - SpriteWidthUnits) / 2
	//1.- The fixed-position bit pins the spawn X to the playfield centre.
	for i := 0; i < 50; i++ {
		event := gen.Create([]string{"A"}, 40, profile.FixedPos, false)
		if got := event.Sprites[0].StartX; got != want {
			t.Fatalf("expected centred spawn %v, got %v", want, got)
		}
	}
}

func TestCreateSideFlyersEnterFromEdges(t *testing.T) {
	gen := newSeededGenerator(7)
	var sawLeft, sawRight bool
	//1.- With side entry enabled, some events fly in horizontally from either edge.
	for i := 0; i < 300; i++ {
		event := gen.Create([]string{"A"}, 55, profile.Side, false)
		sprite := event.Sprites[0]
		switch {
		case sprite.VelocityX > 0:
			sawLeft = true
			if sprite.StartX != -SpriteWidthUnits {
				t.Fatalf("left flyer should start off the left edge, got %v", sprite.StartX)
			}
		case sprite.VelocityX < 0:
			sawRight = true
			if sprite.StartX != 100 {
				t.Fatalf("right flyer should start off the right edge, got %v", sprite.StartX)
			}
		}
		if sprite.VelocityX != 0 && sprite.VelocityY != 0 {
			t.Fatalf("side flyers travel horizontally only: %+v", sprite)
		}
	}
	if !sawLeft || !sawRight {
		t.Fatalf("expected flyers from both edges, left=%v right=%v", sawLeft, sawRight)
	}
}

func TestCreateFlipOnlyWithFlipBit(t *testing.T) {
	gen := newSeededGenerator(8)
	//1.- The flip hint never appears when the bit is absent.
	for i := 0; i < 100; i++ {
		event := gen.Create([]string{"A"}, 45, profile.Side|profile.Double, false)
		for _, sprite := range event.Sprites {
			if sprite.Flipped {
				t.Fatalf("flip hint produced without the flip bit")
			}
		}
	}
	//2.- With the bit enabled the hint eventually appears.
	var flipped bool
	for i := 0; i < 300 && !flipped; i++ {
		event := gen.Create([]string{"A"}, 45, profile.Flip, false)
		flipped = event.Sprites[0].Flipped
	}
	if !flipped {
		t.Fatalf("flip bit never produced a flipped sprite")
	}
}

func TestCreateIsReproducibleForEqualSeeds(t *testing.T) {
	//1.- Two generators with the same seed must emit identical geometry.
	a := newSeededGenerator(42)
	b := newSeededGenerator(42)
	for i := 0; i < 50; i++ {
		ea := a.Create([]string{"A", "S", "D"}, 65, profile.ComplexityAll, i == 0)
		eb := b.Create([]string{"A", "S", "D"}, 65, profile.ComplexityAll, i == 0)
		if ea.Kind != eb.Kind || ea.DelayMs != eb.DelayMs || len(ea.Sprites) != len(eb.Sprites) {
			t.Fatalf("event %d diverged: %+v vs %+v", i, ea, eb)
		}
		for j := range ea.Sprites {
			sa, sb := ea.Sprites[j], eb.Sprites[j]
			if sa.Letter != sb.Letter || sa.StartX != sb.StartX || sa.StartY != sb.StartY ||
				sa.VelocityX != sb.VelocityX || sa.VelocityY != sb.VelocityY || sa.Flipped != sb.Flipped {
				t.Fatalf("sprite %d/%d diverged: %+v vs %+v", i, j, sa, sb)
			}
		}
	}
}
