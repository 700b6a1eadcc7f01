package engine

import (
	"math"

	"github.com/defrag/fragd/internal/ephemeris"
)

// Version is the engine version recorded in every provenance record and
// cache key. It must change whenever ephemeris.BodySetVersion, the pair
// list or any scoring constant changes.
const Version = "1.0.0"

// Pair is one of the fixed body pairs tracked by the engine.
type Pair int

const (
	SunMoon Pair = iota
	MercuryMars
	MercurySaturn
	MarsSaturn

	NumPairs = 4
)

// PairWeight is the weight applied to every pair's contribution.
const PairWeight = 0.25

// Pairs lists every pair in the fixed vector order.
var Pairs = [NumPairs]Pair{SunMoon, MercuryMars, MercurySaturn, MarsSaturn}

var pairInfo = [NumPairs]struct {
	name   string
	signal string
	a, b   ephemeris.Body
}{
	SunMoon:       {"SUN_MOON", "emotional_tide", ephemeris.Sun, ephemeris.Moon},
	MercuryMars:   {"MERCURY_MARS", "communication_volatility", ephemeris.Mercury, ephemeris.Mars},
	MercurySaturn: {"MERCURY_SATURN", "constraint_load", ephemeris.Mercury, ephemeris.Saturn},
	MarsSaturn:    {"MARS_SATURN", "friction_pressure", ephemeris.Mars, ephemeris.Saturn},
}

func (p Pair) String() string {
	if p < 0 || int(p) >= NumPairs {
		return "UNKNOWN"
	}
	return pairInfo[p].name
}

// Signal is the signal name emitted when the pair contributes strongly.
func (p Pair) Signal() string {
	return pairInfo[p].signal
}

// Bodies returns the two bodies whose separation the pair measures.
func (p Pair) Bodies() (ephemeris.Body, ephemeris.Body) {
	return pairInfo[p].a, pairInfo[p].b
}

// AngularSeparation returns the circular distance between two longitudes
// in degrees, in [0, 180].
func AngularSeparation(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// Contribution maps a separation to its step-function weight.
func Contribution(sep float64) float64 {
	switch {
	case sep <= 2:
		return 1.00
	case sep <= 6:
		return 0.70
	case sep <= 10:
		return 0.35
	default:
		return 0.00
	}
}

const (
	signalThreshold = 0.70
	driverThreshold = 0.35
)

// PairSeparation is one pair evaluated at one instant.
type PairSeparation struct {
	Pair         string  `json:"pair"`
	Separation   float64 `json:"sep_deg"`
	Contribution float64 `json:"c"`
}

// separations evaluates every pair for a sample in fixed order.
func separations(s ephemeris.Sample) ([NumPairs]float64, error) {
	var out [NumPairs]float64
	for _, p := range Pairs {
		a, b := p.Bodies()
		lonA, ok := s.Longitude(a)
		if !ok {
			return out, &MissingSampleDataError{Time: s.Time, Body: a, Pair: p}
		}
		lonB, ok := s.Longitude(b)
		if !ok {
			return out, &MissingSampleDataError{Time: s.Time, Body: b, Pair: p}
		}
		out[p] = AngularSeparation(lonA, lonB)
	}
	return out, nil
}

// roundHalfUp rounds to the nearest integer with halves going up.
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}
