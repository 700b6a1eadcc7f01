// Package disclosure derives the only identifiers and text that leave the
// engine: coarse buckets, an asset hash built from them, and short display
// text checked against a blocklist.
package disclosure

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/defrag/fragd/internal/models"
)

type PressureBucket string

const (
	PressureLow  PressureBucket = "LOW"
	PressureMed  PressureBucket = "MED"
	PressureHigh PressureBucket = "HIGH"
)

type Fidelity string

const (
	FidelityHigh   Fidelity = "HIGH"
	FidelityMedium Fidelity = "MEDIUM"
	FidelityLow    Fidelity = "LOW"
)

const (
	ClassNebulaVariable = "NEBULA_VARIABLE"
	GateNone            = "NONE"
	DefaultAssetVersion = "v1_stills"
)

func PressureBucketFor(score int) PressureBucket {
	switch {
	case score <= 33:
		return PressureLow
	case score <= 66:
		return PressureMed
	default:
		return PressureHigh
	}
}

// Bracket10 clamps a score to [0,100] and floors it to a decile.
func Bracket10(score int) int {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score / 10 * 10
}

// FidelityFor grades how complete a subject's birth data is.
func FidelityFor(b models.BirthData) Fidelity {
	switch {
	case b.BirthTime != "" && b.BirthCity != "":
		return FidelityHigh
	case b.BirthCity != "":
		return FidelityMedium
	default:
		return FidelityLow
	}
}

// Buckets is the discretized, non-identifying description of one result.
type Buckets struct {
	UserClass    string         `json:"user_class"`
	TargetClass  string         `json:"target_class"`
	Pressure     PressureBucket `json:"pressure_bucket"`
	Bracket10    int            `json:"friction_bracket10"`
	Gate         string         `json:"gate"`
	Fidelity     Fidelity       `json:"fidelity_bucket"`
	AssetVersion string         `json:"asset_version"`
}

// NewBuckets discretizes raw scores. Raw values do not survive past here.
func NewBuckets(pressureScore, frictionScore int, fidelity Fidelity, assetVersion string) Buckets {
	if assetVersion == "" {
		assetVersion = DefaultAssetVersion
	}
	return Buckets{
		UserClass:    ClassNebulaVariable,
		TargetClass:  ClassNebulaVariable,
		Pressure:     PressureBucketFor(pressureScore),
		Bracket10:    Bracket10(frictionScore),
		Gate:         GateNone,
		Fidelity:     fidelity,
		AssetVersion: assetVersion,
	}
}

// Canonical is the string hashed into the asset identifier. The pressure
// bucket is not part of it; it is kept only in the private record.
func (b Buckets) Canonical() string {
	return fmt.Sprintf("%s-%s-%d-%s-%s-%s", b.UserClass, b.TargetClass, b.Bracket10, b.Gate, b.Fidelity, b.AssetVersion)
}

// AssetHash is the sole identifier exposed to public lookups.
func (b Buckets) AssetHash() string {
	return HashCanonical(b.Canonical())
}

func HashCanonical(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
