// Package profile holds the static catalog of named difficulty tiers that
// parameterise the adaptive session engine.
package profile

import "strings"

// ComplexityMask is a bitset enabling individual stimulus variations.
type ComplexityMask uint8

const (
	// Side permits horizontal flyers entering from the playfield edges.
	Side ComplexityMask = 1 << iota
	// Flip permits upside-down glyph rendering hints.
	Flip
	// Fake reserves a decoy-letter variation; no generator behaviour is
	// attached to it yet, but profiles carry the bit so stored masks stay
	// forward compatible.
	Fake
	// Double permits two-letter events.
	Double
	// FixedPos pins the horizontal spawn position to the playfield centre.
	FixedPos
)

// ComplexityAll enables every currently defined stimulus variation.
const ComplexityAll = Side | Flip | Fake | Double

// Has reports whether every bit of the probe is set in the mask.
func (m ComplexityMask) Has(probe ComplexityMask) bool { return m&probe == probe }

// StyleMask is a bitset of rendering style variations a profile may use.
type StyleMask uint8

const (
	// Boost enables the renderer's speed-boost styling.
	Boost StyleMask = 1 << iota
)

// StyleAll enables every defined style variation.
const StyleAll = Boost

// Profile bundles the tunable constants of one difficulty tier. Profiles are
// immutable; callers receive copies from the catalog.
type Profile struct {
	Name       string
	StartSpeed float64
	GlobalCap  float64
	KUp        float64
	KDown      float64
	Complexity ComplexityMask
	Style      StyleMask
}

// Catalog profile names.
const (
	Support   = "Support"
	Steady    = "Steady"
	Casual    = "Casual"
	Active    = "Active"
	Elite     = "Elite"
	Undefined = "Undefined"
)

var catalog = map[string]Profile{
	Support: {
		Name:       Support,
		StartSpeed: 50,
		GlobalCap:  110,
		KUp:        0.03,
		KDown:      0.15,
		Complexity: ComplexityAll,
		Style:      StyleAll,
	},
	Steady: {
		Name:       Steady,
		StartSpeed: 65,
		GlobalCap:  130,
		KUp:        0.03,
		KDown:      0.15,
		Complexity: ComplexityAll,
		Style:      StyleAll,
	},
	Casual: {
		Name:       Casual,
		StartSpeed: 80,
		GlobalCap:  150,
		KUp:        0.03,
		KDown:      0.15,
		Complexity: ComplexityAll,
		Style:      StyleAll,
	},
	Active: {
		Name:       Active,
		StartSpeed: 110,
		GlobalCap:  200,
		KUp:        0.03,
		KDown:      0.15,
		Complexity: ComplexityAll,
		Style:      StyleAll,
	},
	Elite: {
		Name:       Elite,
		StartSpeed: 150,
		GlobalCap:  280,
		KUp:        0.03,
		KDown:      0.15,
		Complexity: ComplexityAll,
		Style:      StyleAll,
	},
	Undefined: {
		Name:       Undefined,
		StartSpeed: 80,
		GlobalCap:  150,
		KUp:        0.03,
		KDown:      0.15,
		Complexity: Side,
		Style:      0,
	},
}

// Lookup resolves a profile by name, falling back to Casual for unknown or
// blank names. The Undefined profile is a valid lookup result; callers use it
// as the signal to force a Calibration session.
func Lookup(name string) Profile {
	//1.- Normalise the name so stored values with stray whitespace still resolve.
	trimmed := strings.TrimSpace(name)
	if p, ok := catalog[trimmed]; ok {
		return p
	}
	//2.- Unknown tiers degrade to the documented Casual default rather than failing.
	return catalog[Casual]
}

// IsUndefined reports whether the profile is the Undefined fallback tier.
func (p Profile) IsUndefined() bool { return p.Name == Undefined }

// Names lists the catalog profile names in a stable order.
func Names() []string {
	return []string{Support, Steady, Casual, Active, Elite, Undefined}
}
