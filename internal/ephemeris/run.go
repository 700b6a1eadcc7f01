package ephemeris

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateLayout is the layout used for window bounds.
const DateLayout = "2006-01-02"

// Row is one parsed data line for a single body.
type Row struct {
	Time      time.Time
	Longitude float64
	Latitude  float64
}

// Sample is the position of every body at one instant. Longitudes are
// indexed by Body; a body missing from the source rows is left unset.
type Sample struct {
	Time    time.Time
	lon     [NumBodies]float64
	present uint8
}

// NewSample builds a sample with every body present.
func NewSample(t time.Time, lon [NumBodies]float64) Sample {
	s := Sample{Time: t.UTC()}
	for _, b := range Bodies {
		s.SetLongitude(b, lon[b])
	}
	return s
}

// SetLongitude records the ecliptic longitude for a body.
func (s *Sample) SetLongitude(b Body, lon float64) {
	s.lon[b] = lon
	s.present |= 1 << uint(b)
}

// Longitude returns the body's longitude and whether it was recorded.
func (s Sample) Longitude(b Body) (float64, bool) {
	if !b.Valid() || s.present&(1<<uint(b)) == 0 {
		return 0, false
	}
	return s.lon[b], true
}

// Complete reports whether every body has a longitude.
func (s Sample) Complete() bool {
	return s.present == 1<<NumBodies-1
}

// Window is a half-open UTC time range [Start, Stop).
type Window struct {
	Start time.Time
	Stop  time.Time
}

// DayWindow returns the window from `before` days ahead of date to `after`
// days past it, aligned to UTC midnight.
func DayWindow(date time.Time, before, after int) Window {
	d := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return Window{Start: d.AddDate(0, 0, -before), Stop: d.AddDate(0, 0, after)}
}

func (w Window) String() string {
	return w.Start.Format(DateLayout) + "/" + w.Stop.Format(DateLayout)
}

// Request identifies an ephemeris run: one window, one step, one purpose.
type Request struct {
	Kind   string
	Window Window
	Step   string
}

// Run is an immutable parsed fetch covering every body.
type Run struct {
	Request     Request
	Params      map[string]string
	RawText     string
	RawHash     string
	Rows        [NumBodies][]Row
	ParseErrors int
}

const bodyHeaderPrefix = "--BODY "

// Assemble concatenates per-body response texts into a Run. Each text must
// contain a data block; rows that fail to parse are dropped and counted.
func Assemble(req Request, params map[string]string, texts [NumBodies]string) (*Run, error) {
	run := &Run{Request: req, Params: params}

	var sb strings.Builder
	for _, b := range Bodies {
		rows, bad, err := ParseBlock(texts[b])
		if err != nil {
			return nil, &FetchError{Body: b, Err: err}
		}
		run.Rows[b] = rows
		run.ParseErrors += bad

		sb.WriteString(bodyHeaderPrefix + b.HorizonsID() + "--\n")
		sb.WriteString(texts[b])
		sb.WriteString("\n")
	}

	run.RawText = sb.String()
	run.RawHash = HashRaw(run.RawText)
	return run, nil
}

// Decode rebuilds a Run from stored concatenated raw text. The result has
// the same rows and hash as the Run that produced the text.
func Decode(req Request, params map[string]string, raw string) (*Run, error) {
	var texts [NumBodies]string
	var seen [NumBodies]bool

	for _, section := range strings.Split(raw, bodyHeaderPrefix)[1:] {
		id, body, ok := strings.Cut(section, "--\n")
		if !ok {
			return nil, fmt.Errorf("decode run: malformed body header %q", firstLine(section))
		}
		b, ok := BodyByHorizonsID(id)
		if !ok {
			return nil, fmt.Errorf("decode run: unknown body %q", id)
		}
		texts[b] = strings.TrimSuffix(body, "\n")
		seen[b] = true
	}
	for _, b := range Bodies {
		if !seen[b] {
			return nil, fmt.Errorf("decode run: body %s missing", b)
		}
	}

	run, err := Assemble(req, params, texts)
	if err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	if run.RawText != raw {
		return nil, fmt.Errorf("decode run: raw text does not round-trip")
	}
	return run, nil
}

// Samples merges per-body rows by timestamp in chronological order.
func (r *Run) Samples() []Sample {
	byTime := make(map[int64]*Sample)
	for _, b := range Bodies {
		for _, row := range r.Rows[b] {
			key := row.Time.UnixNano()
			s, ok := byTime[key]
			if !ok {
				s = &Sample{Time: row.Time.UTC()}
				byTime[key] = s
			}
			s.SetLongitude(b, row.Longitude)
		}
	}

	samples := make([]Sample, 0, len(byTime))
	for _, s := range byTime {
		samples = append(samples, *s)
	}
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Time.Before(samples[j].Time)
	})
	return samples
}

// HashRaw returns the hex sha256 of raw response text.
func HashRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
