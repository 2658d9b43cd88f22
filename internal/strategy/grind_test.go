package strategy

import (
	"math"
	"math/rand"
	"testing"

	"letterfall/engine/internal/profile"
)

func casualProfile() profile.Profile { return profile.Lookup(profile.Casual) }

func TestGrindMachineAllSuccessPhaseSequence(t *testing.T) {
	machine := NewGrindMachine(casualProfile())
	speed := casualProfile().StartSpeed

	//1.- Feed continuous successes and record the phase before each event.
	var visited []GrindPhase
	for i := 0; i < grindInitialEvents+grindNormalEvents+grindDoubleEvents+grindRecoveryEvents+grindSprintEvents; i++ {
		visited = append(visited, machine.Phase())
		speed = machine.Step(speed, true)
	}
	//2.- The sequence must be INITIAL(5) P1(5) P2(3) P3(5) P4(5).
	expect := func(offset, count int, phase GrindPhase) {
		for i := offset; i < offset+count; i++ {
			if visited[i] != phase {
				t.Fatalf("event %d ran in phase %q, expected %q", i, visited[i], phase)
			}
		}
	}
	expect(0, grindInitialEvents, PhaseInitial)
	expect(grindInitialEvents, grindNormalEvents, PhaseNormal)
	expect(grindInitialEvents+grindNormalEvents, grindDoubleEvents, PhaseDouble)
	expect(grindInitialEvents+grindNormalEvents+grindDoubleEvents, grindRecoveryEvents, PhaseRecovery)
	expect(grindInitialEvents+grindNormalEvents+grindDoubleEvents+grindRecoveryEvents, grindSprintEvents, PhaseSprint)
	//3.- After the sprint the cycle loops back into P1.
	if machine.Phase() != PhaseNormal {
		t.Fatalf("expected loop back to %q, got %q", PhaseNormal, machine.Phase())
	}
	if machine.Loops() != 1 {
		t.Fatalf("expected one completed loop, got %d", machine.Loops())
	}
}

func TestGrindMachineInitialSuccessTrajectory(t *testing.T) {
	//1.- Regression fixture: Casual (start 80, cap 150), five INITIAL hits
	// each applying speed += 0.05*(cap-speed).
	machine := NewGrindMachine(casualProfile())
	speed := 80.0
	for i := 0; i < grindInitialEvents; i++ {
		want := speed + 0.05*(150-speed)
		speed = machine.Step(speed, true)
		if math.Abs(speed-want) > 1e-9 {
			t.Fatalf("step %d: expected %v, got %v", i, want, speed)
		}
	}
	if math.Abs(speed-95.8353) > 0.01 {
		t.Fatalf("five-hit trajectory should land near 95.84, got %v", speed)
	}
}

func TestGrindMachineSprintFailuresShortCircuit(t *testing.T) {
	machine := NewGrindMachine(casualProfile())
	speed := casualProfile().StartSpeed
	//1.- Drive the machine to the sprint phase with successes.
	for machine.Phase() != PhaseSprint {
		speed = machine.Step(speed, true)
	}
	//2.- A success interleaved between failures resets the consecutive counter.
	speed = machine.Step(speed, false)
	speed = machine.Step(speed, true)
	speed = machine.Step(speed, false)
	if machine.Phase() != PhaseSprint {
		t.Fatalf("non-consecutive failures must not end the sprint")
	}
	//3.- A second consecutive failure exits the sprint before five events.
	speed = machine.Step(speed, false)
	if machine.Phase() != PhaseNormal {
		t.Fatalf("two consecutive failures should loop back to P1, got %q", machine.Phase())
	}
}

func TestGrindMachineTransitionSideEffects(t *testing.T) {
	prof := casualProfile()
	machine := NewGrindMachine(prof)
	speed := prof.StartSpeed

	for i := 0; i < grindInitialEvents; i++ {
		speed = machine.Step(speed, true)
	}
	//1.- Complete P1 and capture the snapshot that the entry drop must not erase.
	var p1Exit float64
	for i := 0; i < grindNormalEvents; i++ {
		before := speed + prof.KUp*(prof.GlobalCap-speed)
		speed = machine.Step(speed, true)
		if i == grindNormalEvents-1 {
			p1Exit = before
			//2.- Entering P2 drops the working speed by 15, floored at start.
			want := math.Max(prof.StartSpeed, p1Exit-grindDoubleEntry)
			if math.Abs(speed-want) > 1e-9 {
				t.Fatalf("double entry drop: expected %v, got %v", want, speed)
			}
		}
	}
	//3.- Doubles freeze the speed, and leaving P2 restores the P1 snapshot.
	for i := 0; i < grindDoubleEvents; i++ {
		speed = machine.Step(speed, true)
	}
	if math.Abs(speed-p1Exit) > 1e-9 {
		t.Fatalf("recovery entry should restore %v, got %v", p1Exit, speed)
	}
	//4.- Leaving P3 jumps up by 20 from the recovery exit, capped globally.
	p3Exit := speed
	for i := 0; i < grindRecoveryEvents; i++ {
		speed = machine.Step(speed, true)
	}
	want := math.Min(prof.GlobalCap, p3Exit+grindSprintEntry)
	if math.Abs(speed-want) > 1e-9 {
		t.Fatalf("sprint entry: expected %v, got %v", want, speed)
	}
	//5.- A clean sprint loops back to the P3 exit speed plus five.
	for i := 0; i < grindSprintEvents; i++ {
		speed = machine.Step(speed, true)
	}
	want = math.Min(prof.GlobalCap, p3Exit+grindCleanLoopGain)
	if math.Abs(speed-want) > 1e-9 {
		t.Fatalf("clean loop restart: expected %v, got %v", want, speed)
	}
}

func TestGrindMachineFailedSprintForfeitsBonus(t *testing.T) {
	prof := casualProfile()
	machine := NewGrindMachine(prof)
	speed := prof.StartSpeed
	for machine.Phase() != PhaseRecovery {
		speed = machine.Step(speed, true)
	}
	for machine.Phase() == PhaseRecovery {
		speed = machine.Step(speed, true)
	}
	p3Exit := speed - grindSprintEntry
	//1.- One failure inside the sprint is survivable but forfeits the bonus.
	speed = machine.Step(speed, false)
	speed = machine.Step(speed, true)
	for machine.Phase() == PhaseSprint {
		speed = machine.Step(speed, true)
	}
	if math.Abs(speed-p3Exit) > 1e-9 {
		t.Fatalf("failed sprint should restart at %v, got %v", p3Exit, speed)
	}
}

func TestGrindMachineBoundsHoldForAllProfiles(t *testing.T) {
	//1.- Property check: random outcomes never push the speed outside the
	// profile floor and cap while the main cycle runs.
	rng := rand.New(rand.NewSource(99))
	for _, name := range profile.Names() {
		prof := profile.Lookup(name)
		machine := NewGrindMachine(prof)
		speed := prof.StartSpeed
		for i := 0; i < 500; i++ {
			speed = machine.Step(speed, rng.Intn(2) == 0)
			if speed < prof.StartSpeed-1e-9 || speed > prof.GlobalCap+1e-9 {
				t.Fatalf("profile %q: speed %v escaped [%v,%v] at step %d", name, speed, prof.StartSpeed, prof.GlobalCap, i)
			}
		}
	}
}

func TestGrindMachineCooldownRules(t *testing.T) {
	machine := NewGrindMachine(casualProfile())
	machine.EnterCooldown()
	if machine.Phase() != PhaseCooldown {
		t.Fatalf("expected cooldown phase, got %q", machine.Phase())
	}
	//1.- Successes leave the speed untouched during the warm-down.
	if got := machine.Step(90, true); got != 90 {
		t.Fatalf("cooldown success should not change speed, got %v", got)
	}
	//2.- Failures bleed five units down to the fixed floor.
	if got := machine.Step(90, false); got != 85 {
		t.Fatalf("cooldown failure should drop by five, got %v", got)
	}
	if got := machine.Step(12, false); got != grindCooldownFloor {
		t.Fatalf("cooldown failure should floor at %v, got %v", grindCooldownFloor, got)
	}
}

func TestGrindMachineMaskPerPhase(t *testing.T) {
	prof := casualProfile()
	machine := NewGrindMachine(prof)
	//1.- INITIAL runs plain drops.
	if machine.Mask() != 0 {
		t.Fatalf("initial mask should be empty, got %b", machine.Mask())
	}
	speed := prof.StartSpeed
	for machine.Phase() != PhaseNormal {
		speed = machine.Step(speed, true)
	}
	//2.- P1 uses the profile default.
	if machine.Mask() != prof.Complexity {
		t.Fatalf("P1 mask should match profile, got %b", machine.Mask())
	}
	for machine.Phase() != PhaseDouble {
		speed = machine.Step(speed, true)
	}
	//3.- P2 forces doubles only.
	if machine.Mask() != profile.Double {
		t.Fatalf("P2 mask should force doubles, got %b", machine.Mask())
	}
}
