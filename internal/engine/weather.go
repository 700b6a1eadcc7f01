package engine

import (
	"time"

	"github.com/defrag/fragd/internal/ephemeris"
)

// Band is the coarse label for a pressure score.
type Band string

const (
	BandClear       Band = "Clear"
	BandLoad        Band = "Load"
	BandHighGravity Band = "High Gravity"
)

// BandFor maps a pressure score to its band.
func BandFor(score int) Band {
	switch {
	case score >= 70:
		return BandHighGravity
	case score >= 40:
		return BandLoad
	default:
		return BandClear
	}
}

// Signal is a named pair whose contribution reached the signal threshold.
type Signal struct {
	Key      string  `json:"key"`
	Strength float64 `json:"strength"`
}

// PeakSample is the sample that produced the day's maximum weighted sum.
type PeakSample struct {
	Time        time.Time `json:"t_utc"`
	WeightedSum float64   `json:"weighted_sum"`
}

// DailyWeather is the pressure reading for one local date.
type DailyWeather struct {
	LocalDate     string           `json:"date_local"`
	Timezone      string           `json:"timezone"`
	PressureScore int              `json:"pressure_score"`
	Band          Band             `json:"weather_band"`
	Signals       []Signal         `json:"signals"`
	Drivers       []PairSeparation `json:"drivers"`
	Peak          PeakSample       `json:"max_step"`
	Provenance    Provenance       `json:"provenance"`
}

// ComputeDailyWeather scores every sample and keeps the one with the
// strictly largest weighted sum, so ties resolve to the earliest sample.
// A sample missing any body aborts the computation.
func ComputeDailyWeather(samples []ephemeris.Sample, localDate, timezone string, prov Provenance) (DailyWeather, error) {
	if len(samples) == 0 {
		return DailyWeather{}, ErrNoSamples
	}

	best := -1.0
	var peak PeakSample
	var peakSeps [NumPairs]float64

	for _, s := range samples {
		seps, err := separations(s)
		if err != nil {
			return DailyWeather{}, err
		}
		sum := 0.0
		for _, p := range Pairs {
			sum += Contribution(seps[p]) * PairWeight
		}
		if sum > best {
			best = sum
			peak = PeakSample{Time: s.Time.UTC(), WeightedSum: sum}
			peakSeps = seps
		}
	}

	score := roundHalfUp(100 * best)
	w := DailyWeather{
		LocalDate:     localDate,
		Timezone:      timezone,
		PressureScore: score,
		Band:          BandFor(score),
		Signals:       []Signal{},
		Drivers:       []PairSeparation{},
		Peak:          peak,
		Provenance:    prov,
	}

	for _, p := range Pairs {
		c := Contribution(peakSeps[p])
		if c >= signalThreshold {
			w.Signals = append(w.Signals, Signal{Key: p.Signal(), Strength: c})
		}
		if c >= driverThreshold {
			w.Drivers = append(w.Drivers, PairSeparation{Pair: p.String(), Separation: peakSeps[p], Contribution: c})
		}
	}
	return w, nil
}

// MaxWeightedSum is the daily component used by friction.
func (w DailyWeather) MaxWeightedSum() float64 {
	return w.Peak.WeightedSum
}

// SamplesForLocalDate returns the samples whose civil date in loc is date.
func SamplesForLocalDate(samples []ephemeris.Sample, date string, loc *time.Location) []ephemeris.Sample {
	var out []ephemeris.Sample
	for _, s := range samples {
		if s.Time.In(loc).Format(ephemeris.DateLayout) == date {
			out = append(out, s)
		}
	}
	return out
}
