package strategy

import (
	"time"

	"letterfall/engine/internal/profile"
	"letterfall/engine/internal/stimulus"
)

const (
	recoveryDuration  = 3 * time.Minute
	recoveryCapFactor = 0.7
)

// recovery is the reduced-stress session: doubles and flips are disabled,
// growth targets a lowered cap and misses never decay the speed.
type recovery struct {
	prof profile.Profile
}

func newRecovery(prof profile.Profile) *recovery {
	return &recovery{prof: prof}
}

func (r *recovery) Type() Type { return Recovery }

func (r *recovery) Duration() time.Duration { return recoveryDuration }

func (r *recovery) Initialize(ctl Control) {
	ctl.SetSpeed(r.prof.StartSpeed)
	ctl.SetMaxSpeed(r.prof.StartSpeed)
}

func (r *recovery) GenerateSpawn(ctl Control, isFirst bool) stimulus.SpawnEvent {
	//1.- Strip the high-stress variations from the profile mask.
	mask := r.prof.Complexity &^ (profile.Double | profile.Flip)
	return ctl.CreateSpawnEvent(mask, isFirst)
}

func (r *recovery) HandleSuccess(ctl Control) {
	//1.- Grow toward the reduced cap with the normal profile rate.
	reducedCap := r.prof.GlobalCap * recoveryCapFactor
	gap := reducedCap - ctl.Speed()
	if gap <= 0 {
		return
	}
	next := ctl.Speed() + r.prof.KUp*gap
	if next > reducedCap {
		next = reducedCap
	}
	ctl.SetSpeed(next)
	raiseMax(ctl)
}

// HandleFailure keeps the speed frozen; recovery sessions never punish misses.
func (r *recovery) HandleFailure(ctl Control) {}

func (r *recovery) ShouldEnd(ctl Control, elapsed time.Duration) bool {
	return elapsed >= recoveryDuration
}
