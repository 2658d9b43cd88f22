package strategy

import (
	"time"

	"letterfall/engine/internal/profile"
	"letterfall/engine/internal/stimulus"
)

const (
	// calibrationStart is the profile-independent probe speed.
	calibrationStart = 125.0
	// calibrationFloor bounds the downward probe steps.
	calibrationFloor = 10.0
	calibrationUp    = 15.0
	calibrationDown  = 25.0
	calibrationCount = 10
)

// calibration probes a new player's sustainable speed with ten side-entry
// events and coarse fixed-size adjustments.
type calibration struct {
	prof      profile.Profile
	processed int
}

func newCalibration(prof profile.Profile) *calibration {
	return &calibration{prof: prof}
}

func (c *calibration) Type() Type { return Calibration }

// Duration reports zero: calibration ends on the event count, never the clock.
func (c *calibration) Duration() time.Duration { return 0 }

func (c *calibration) Initialize(ctl Control) {
	//1.- Ignore the profile start speed; every player probes from the same point.
	ctl.SetSpeed(calibrationStart)
	ctl.SetMaxSpeed(calibrationStart)
}

func (c *calibration) GenerateSpawn(ctl Control, isFirst bool) stimulus.SpawnEvent {
	//1.- Calibration uses minimal complexity: side entry only.
	return ctl.CreateSpawnEvent(profile.Side, isFirst)
}

func (c *calibration) HandleSuccess(ctl Control) {
	ctl.SetSpeed(ctl.Speed() + calibrationUp)
	raiseMax(ctl)
	c.processed++
}

func (c *calibration) HandleFailure(ctl Control) {
	next := ctl.Speed() - calibrationDown
	if next < calibrationFloor {
		next = calibrationFloor
	}
	ctl.SetSpeed(next)
	c.processed++
}

// ShouldEnd finishes after exactly ten processed events regardless of the
// elapsed wall clock.
func (c *calibration) ShouldEnd(ctl Control, elapsed time.Duration) bool {
	return c.processed >= calibrationCount
}
