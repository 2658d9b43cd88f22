package strategy

import (
	"time"

	"letterfall/engine/internal/stimulus"

	"letterfall/engine/internal/profile"
)

const breakthroughDuration = 60 * time.Second

// breakthrough locks the session at the profile cap for one minute: the test
// is sustaining the maximum speed, not growing it.
type breakthrough struct {
	prof profile.Profile
}

func newBreakthrough(prof profile.Profile) *breakthrough {
	return &breakthrough{prof: prof}
}

func (b *breakthrough) Type() Type { return Breakthrough }

func (b *breakthrough) Duration() time.Duration { return breakthroughDuration }

func (b *breakthrough) Initialize(ctl Control) {
	ctl.SetSpeed(b.prof.GlobalCap)
	ctl.SetMaxSpeed(b.prof.GlobalCap)
}

func (b *breakthrough) GenerateSpawn(ctl Control, isFirst bool) stimulus.SpawnEvent {
	return ctl.CreateSpawnEvent(b.prof.Complexity, isFirst)
}

// HandleSuccess leaves the locked speed untouched.
func (b *breakthrough) HandleSuccess(ctl Control) {}

// HandleFailure leaves the locked speed untouched.
func (b *breakthrough) HandleFailure(ctl Control) {}

func (b *breakthrough) ShouldEnd(ctl Control, elapsed time.Duration) bool {
	return elapsed >= breakthroughDuration
}
