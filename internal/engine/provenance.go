package engine

import "time"

// SourceHorizons tags outputs derived from JPL Horizons data.
const SourceHorizons = "NASA_JPL_HORIZONS"

// Provenance records how an output was produced.
type Provenance struct {
	Source        string            `json:"source"`
	Request       map[string]string `json:"horizons_request"`
	ResponseHash  string            `json:"horizons_response_hash"`
	EngineVersion string            `json:"engine_version"`
	ComputedAt    time.Time         `json:"computed_at_utc"`
	InputsHash    string            `json:"inputs_hash,omitempty"`
}

// NewProvenance builds a provenance record for a run's request and raw
// hash. computedAt is supplied by the caller; the engine never reads the
// clock.
func NewProvenance(request map[string]string, responseHash string, computedAt time.Time) Provenance {
	return Provenance{
		Source:        SourceHorizons,
		Request:       request,
		ResponseHash:  responseHash,
		EngineVersion: Version,
		ComputedAt:    computedAt.UTC(),
	}
}

// WithInputs returns a copy carrying the canonical inputs hash.
func (p Provenance) WithInputs(hash string) Provenance {
	p.InputsHash = hash
	return p
}
