package engine

import (
	"time"

	"github.com/defrag/fragd/internal/ephemeris"
)

// BaselineVector is a subject's pair separations at one reference instant,
// in fixed pair order.
type BaselineVector struct {
	Vector     []float64  `json:"baseline_vector"`
	SampleTime time.Time  `json:"sample_t_utc"`
	Provenance Provenance `json:"provenance"`
}

// ComputeBaselineVector evaluates every pair at a single sample.
func ComputeBaselineVector(s ephemeris.Sample, prov Provenance) (BaselineVector, error) {
	seps, err := separations(s)
	if err != nil {
		return BaselineVector{}, err
	}
	return BaselineVector{
		Vector:     seps[:],
		SampleTime: s.Time.UTC(),
		Provenance: prov,
	}, nil
}

// SelectBaselineSample returns the sample nearest to target. Equal
// distances resolve to the earlier sample.
func SelectBaselineSample(samples []ephemeris.Sample, target time.Time) (ephemeris.Sample, error) {
	if len(samples) == 0 {
		return ephemeris.Sample{}, ErrNoSamples
	}
	best := 0
	bestDist := absDuration(samples[0].Time.Sub(target))
	for i := 1; i < len(samples); i++ {
		d := absDuration(samples[i].Time.Sub(target))
		if d < bestDist || (d == bestDist && samples[i].Time.Before(samples[best].Time)) {
			best, bestDist = i, d
		}
	}
	return samples[best], nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
