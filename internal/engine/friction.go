package engine

import "math"

const (
	dailyWeight    = 0.6
	baselineWeight = 0.4
)

// Friction is the pairwise score for two subjects on one day.
type Friction struct {
	FrictionScore    int              `json:"friction_score"`
	BaselineDistance float64          `json:"baseline_distance"`
	DailyComponent   float64          `json:"daily_component"`
	Drivers          []PairSeparation `json:"drivers"`
	Provenance       Provenance       `json:"provenance"`
}

// ComputeFriction combines the day's peak weighted sum with the mean
// separation difference between two baseline vectors.
func ComputeFriction(w DailyWeather, a, b []float64, prov Provenance) (Friction, error) {
	if len(a) != NumPairs {
		return Friction{}, &InvalidVectorError{Which: "a", Len: len(a)}
	}
	if len(b) != NumPairs {
		return Friction{}, &InvalidVectorError{Which: "b", Len: len(b)}
	}

	sum := 0.0
	for i := 0; i < NumPairs; i++ {
		sum += math.Abs(a[i] - b[i])
	}
	distance := sum / NumPairs / 180
	daily := w.MaxWeightedSum()

	drivers := w.Drivers
	if drivers == nil {
		drivers = []PairSeparation{}
	}
	return Friction{
		FrictionScore:    roundHalfUp(100 * (dailyWeight*daily + baselineWeight*distance)),
		BaselineDistance: distance,
		DailyComponent:   daily,
		Drivers:          drivers,
		Provenance:       prov,
	}, nil
}
