package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/defrag/fragd/internal/ephemeris"
)

// ErrNoSamples is returned when a daily computation receives no samples.
var ErrNoSamples = errors.New("no samples for computation")

// MissingSampleDataError means a sample lacks a body's longitude. The whole
// computation aborts; the sample is never skipped.
type MissingSampleDataError struct {
	Time time.Time
	Body ephemeris.Body
	Pair Pair
}

func (e *MissingSampleDataError) Error() string {
	return fmt.Sprintf("missing %s longitude for pair %s at %s", e.Body, e.Pair, e.Time.UTC().Format(time.RFC3339))
}

// InvalidVectorError means a baseline vector does not have one entry per pair.
type InvalidVectorError struct {
	Which string
	Len   int
}

func (e *InvalidVectorError) Error() string {
	return fmt.Sprintf("invalid baseline vector %s: length %d, want %d", e.Which, e.Len, NumPairs)
}
