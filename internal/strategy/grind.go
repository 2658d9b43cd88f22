package strategy

import (
	"time"

	"letterfall/engine/internal/profile"
	"letterfall/engine/internal/stimulus"
)

// GrindPhase enumerates the internal phases of the grind cycle.
type GrindPhase string

const (
	PhaseInitial  GrindPhase = "INITIAL"
	PhaseNormal   GrindPhase = "P1_NORMAL"
	PhaseDouble   GrindPhase = "P2_DOUBLE"
	PhaseRecovery GrindPhase = "P3_RECOVERY"
	PhaseSprint   GrindPhase = "P4_SPRINT"
	PhaseCooldown GrindPhase = "COOLDOWN"
)

const (
	grindMainDuration     = 3 * time.Minute
	grindCooldownDuration = 20 * time.Second

	grindInitialEvents  = 5
	grindNormalEvents   = 5
	grindDoubleEvents   = 3
	grindRecoveryEvents = 5
	grindSprintEvents   = 5
	grindSprintFailCap  = 2

	grindInitialRate   = 0.05
	grindRecoveryDrop  = 0.15
	grindDoubleEntry   = 15.0
	grindSprintEntry   = 20.0
	grindCleanLoopGain = 5.0
	grindCooldownDrop  = 5.0
	grindCooldownFloor = 10.0
	grindCooldownDelay = 1000
)

// GrindMachine is the pure phase state machine behind the grind strategy. It
// owns no session state beyond the speed scalar handed to Step, which makes
// the full transition table testable without a live session.
type GrindMachine struct {
	prof profile.Profile

	phase          GrindPhase
	eventsInPhase  int
	loops          int
	p1ExitSpeed    float64
	p3ExitSpeed    float64
	sprintFailures int
	sprintFailed   bool
}

// NewGrindMachine starts the machine in the INITIAL phase.
func NewGrindMachine(prof profile.Profile) *GrindMachine {
	return &GrindMachine{prof: prof, phase: PhaseInitial}
}

// Phase reports the current phase.
func (m *GrindMachine) Phase() GrindPhase { return m.phase }

// Loops reports how many full INITIAL/P1..P4 cycles have completed.
func (m *GrindMachine) Loops() int { return m.loops }

// EnterCooldown forces the warm-down phase once the main duration elapses.
func (m *GrindMachine) EnterCooldown() {
	if m.phase == PhaseCooldown {
		return
	}
	m.phase = PhaseCooldown
	m.eventsInPhase = 0
}

// Mask reports the complexity mask for the current phase.
func (m *GrindMachine) Mask() profile.ComplexityMask {
	switch m.phase {
	case PhaseNormal, PhaseRecovery:
		return m.prof.Complexity
	case PhaseDouble:
		return profile.Double
	default:
		// INITIAL, P4_SPRINT and COOLDOWN run plain vertical drops.
		return 0
	}
}

// Step consumes one event outcome and returns the updated speed. Phase
// bookkeeping and transition side effects happen here; every rule clamps
// against the profile bounds before returning.
func (m *GrindMachine) Step(speed float64, success bool) float64 {
	if m.phase == PhaseCooldown {
		//1.- Warm-down: misses still bleed speed so the session ends gently.
		if !success {
			speed -= grindCooldownDrop
			if speed < grindCooldownFloor {
				speed = grindCooldownFloor
			}
		}
		return speed
	}

	start := m.prof.StartSpeed
	cap := m.prof.GlobalCap

	//1.- Apply the per-phase speed rule.
	switch m.phase {
	case PhaseInitial:
		if success {
			speed += grindInitialRate * (cap - speed)
		} else {
			speed -= m.prof.KDown * (speed - start)
		}
		speed = clamp(speed, start, cap)
	case PhaseNormal:
		if success {
			speed += m.prof.KUp * (cap - speed)
		} else {
			speed -= m.prof.KDown * (speed - start)
		}
		speed = clamp(speed, start, cap)
	case PhaseDouble:
		// Doubles probe coordination; speed is frozen.
	case PhaseRecovery:
		if !success {
			speed -= grindRecoveryDrop * (speed - start)
			speed = clamp(speed, start, cap)
		}
	case PhaseSprint:
		if success {
			m.sprintFailures = 0
		} else {
			m.sprintFailures++
			m.sprintFailed = true
		}
	}

	//2.- Advance the event counter and run the transition table.
	m.eventsInPhase++
	switch m.phase {
	case PhaseInitial:
		if m.eventsInPhase >= grindInitialEvents {
			m.transition(PhaseNormal)
		}
	case PhaseNormal:
		if m.eventsInPhase >= grindNormalEvents {
			//3.- Snapshot the P1 exit speed before the double-entry drop.
			m.p1ExitSpeed = speed
			m.transition(PhaseDouble)
			speed = clamp(speed-grindDoubleEntry, start, cap)
		}
	case PhaseDouble:
		if m.eventsInPhase >= grindDoubleEvents {
			m.transition(PhaseRecovery)
			//4.- Recovery restores the snapshot taken at the end of P1.
			speed = m.p1ExitSpeed
		}
	case PhaseRecovery:
		if m.eventsInPhase >= grindRecoveryEvents {
			//5.- Sprint jumps up from the recovery exit speed.
			m.p3ExitSpeed = speed
			m.transition(PhaseSprint)
			m.sprintFailures = 0
			m.sprintFailed = false
			speed = clamp(speed+grindSprintEntry, start, cap)
		}
	case PhaseSprint:
		if m.eventsInPhase >= grindSprintEvents || m.sprintFailures >= grindSprintFailCap {
			m.loops++
			m.transition(PhaseNormal)
			//6.- The next loop restarts from the P3 exit speed, rewarded by
			// five units when the sprint was clean.
			next := m.p3ExitSpeed
			if !m.sprintFailed {
				next += grindCleanLoopGain
			}
			speed = clamp(next, start, cap)
		}
	}
	return speed
}

func (m *GrindMachine) transition(next GrindPhase) {
	m.phase = next
	m.eventsInPhase = 0
}

// grind is the default training session: a 3 minute phase cycle followed by a
// 20 second warm-down.
type grind struct {
	prof    profile.Profile
	machine *GrindMachine
}

func newGrind(prof profile.Profile) *grind {
	return &grind{prof: prof, machine: NewGrindMachine(prof)}
}

func (g *grind) Type() Type { return Grind }

func (g *grind) Duration() time.Duration { return grindMainDuration + grindCooldownDuration }

func (g *grind) Initialize(ctl Control) {
	ctl.SetSpeed(g.prof.StartSpeed)
	ctl.SetMaxSpeed(g.prof.StartSpeed)
}

func (g *grind) GenerateSpawn(ctl Control, isFirst bool) stimulus.SpawnEvent {
	event := ctl.CreateSpawnEvent(g.machine.Mask(), isFirst)
	event.Phase = string(g.machine.Phase())
	if g.machine.Phase() == PhaseCooldown {
		//1.- Warm-down outcomes are visible to the player but excluded from
		// the session statistics, and run at a fixed gentle pace.
		event.ExcludeFromStats = true
		event.DelayMs = grindCooldownDelay
	}
	return event
}

func (g *grind) HandleSuccess(ctl Control) { g.step(ctl, true) }

func (g *grind) HandleFailure(ctl Control) { g.step(ctl, false) }

func (g *grind) step(ctl Control, success bool) {
	ctl.SetSpeed(g.machine.Step(ctl.Speed(), success))
	raiseMax(ctl)
}

// ShouldEnd flips the machine into cooldown once the main duration elapses
// and ends the session when the warm-down window closes.
func (g *grind) ShouldEnd(ctl Control, elapsed time.Duration) bool {
	if elapsed >= grindMainDuration {
		g.machine.EnterCooldown()
	}
	return elapsed >= grindMainDuration+grindCooldownDuration
}
