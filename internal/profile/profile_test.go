package profile

import "testing"

func TestLookupKnownProfiles(t *testing.T) {
	//1.- Resolve every catalog name and confirm the returned tier matches.
	for _, name := range Names() {
		p := Lookup(name)
		if p.Name != name {
			t.Fatalf("expected profile %q, got %q", name, p.Name)
		}
		if p.StartSpeed <= 0 || p.GlobalCap <= p.StartSpeed {
			t.Fatalf("profile %q has incoherent bounds: start %v cap %v", name, p.StartSpeed, p.GlobalCap)
		}
	}
}

func TestLookupFallsBackToCasual(t *testing.T) {
	//1.- Unknown and blank names must degrade to the Casual default.
	for _, name := range []string{"", "nope", "  "} {
		if p := Lookup(name); p.Name != Casual {
			t.Fatalf("expected Casual fallback for %q, got %q", name, p.Name)
		}
	}
	//2.- Whitespace around a valid name still resolves the named tier.
	if p := Lookup("  Elite "); p.Name != Elite {
		t.Fatalf("expected Elite, got %q", p.Name)
	}
}

func TestCasualMatchesRegressionConstants(t *testing.T) {
	//1.- The Casual tier anchors the grind regression fixtures and must not drift.
	p := Lookup(Casual)
	if p.StartSpeed != 80 || p.GlobalCap != 150 || p.KUp != 0.03 || p.KDown != 0.15 {
		t.Fatalf("unexpected Casual constants: %+v", p)
	}
}

func TestUndefinedSignalsCalibration(t *testing.T) {
	if !Lookup(Undefined).IsUndefined() {
		t.Fatalf("Undefined profile should report IsUndefined")
	}
	if Lookup(Casual).IsUndefined() {
		t.Fatalf("Casual profile must not report IsUndefined")
	}
}

func TestComplexityMaskHas(t *testing.T) {
	//1.- Exercise single and combined bit probes.
	mask := Side | Double
	if !mask.Has(Side) || !mask.Has(Double) || !mask.Has(Side|Double) {
		t.Fatalf("mask %b should contain side and double", mask)
	}
	if mask.Has(Flip) || mask.Has(Side|Flip) {
		t.Fatalf("mask %b should not contain flip", mask)
	}
}
