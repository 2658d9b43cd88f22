// Package strategy implements the pluggable rulesets that govern one training
// session: its duration, stimulus complexity and speed-update formulas.
package strategy

import (
	"time"

	"letterfall/engine/internal/profile"
	"letterfall/engine/internal/stimulus"
)

// Type names a session strategy variant. The values are the user-facing
// session type labels and are persisted with every result.
type Type string

const (
	Calibration  Type = "Calibration"
	Grind        Type = "The Grind"
	Breakthrough Type = "The Breakthrough"
	Recovery     Type = "Recovery"
)

// Control is the narrow capability surface a strategy receives. The session
// owns every mutable field; strategies mutate speed only through it.
type Control interface {
	Speed() float64
	SetSpeed(speed float64)
	MaxSpeed() float64
	SetMaxSpeed(speed float64)
	CreateSpawnEvent(mask profile.ComplexityMask, isFirst bool) stimulus.SpawnEvent
}

// Strategy encapsulates the session rules for one variant.
type Strategy interface {
	// Type identifies the variant for logging and persistence.
	Type() Type
	// Duration is the nominal wall-clock budget. Zero means the session is
	// not duration-bound and ends on an event-count or phase condition.
	Duration() time.Duration
	// Initialize applies starting speed and cap overrides to the session.
	Initialize(ctl Control)
	// GenerateSpawn produces the next stimulus with the variant's mask.
	GenerateSpawn(ctl Control, isFirst bool) stimulus.SpawnEvent
	// HandleSuccess applies the variant's growth rule after a full hit.
	HandleSuccess(ctl Control)
	// HandleFailure applies the variant's decay rule after a miss or wrong key.
	HandleFailure(ctl Control)
	// ShouldEnd reports whether the session is over after the latest event.
	ShouldEnd(ctl Control, elapsed time.Duration) bool
}

// New constructs the strategy for the requested type. Unknown types fall back
// to the Grind ruleset rather than failing.
func New(t Type, prof profile.Profile) Strategy {
	switch t {
	case Calibration:
		return newCalibration(prof)
	case Breakthrough:
		return newBreakthrough(prof)
	case Recovery:
		return newRecovery(prof)
	case Grind:
		return newGrind(prof)
	default:
		return newGrind(prof)
	}
}

// ParseType resolves a session-type label, reporting whether it was known.
func ParseType(raw string) (Type, bool) {
	switch Type(raw) {
	case Calibration, Grind, Breakthrough, Recovery:
		return Type(raw), true
	default:
		return Grind, false
	}
}

// Select applies the session scheduling policy: an explicit override always
// wins, a first-ever session or the Undefined profile forces Calibration, and
// otherwise the played-session counter rotates Grind/Grind/Breakthrough/
// Recovery.
func Select(prof profile.Profile, override string, sessionsPlayed int) Strategy {
	//1.- An explicit per-user override takes priority over every other rule.
	if override != "" {
		if t, ok := ParseType(override); ok {
			return New(t, prof)
		}
		//2.- Unknown overrides degrade to the documented Grind fallback.
		return New(Grind, prof)
	}
	//3.- New players and unresolved tiers always calibrate first.
	if sessionsPlayed <= 0 || prof.IsUndefined() {
		return New(Calibration, prof)
	}
	//4.- Rotate through the training cycle using the lifetime session count.
	switch sessionsPlayed % 4 {
	case 2:
		return New(Breakthrough, prof)
	case 3:
		return New(Recovery, prof)
	default:
		return New(Grind, prof)
	}
}

// raiseMax lifts the session max-speed watermark when the current speed
// exceeds it.
func raiseMax(ctl Control) {
	if speed := ctl.Speed(); speed > ctl.MaxSpeed() {
		ctl.SetMaxSpeed(speed)
	}
}

func clamp(value, floor, cap float64) float64 {
	if value < floor {
		return floor
	}
	if value > cap {
		return cap
	}
	return value
}
