package ephemeris

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	startMarker = "$$SOE"
	endMarker   = "$$EOE"
)

// ErrNoDataBlock is returned when a response lacks the $$SOE or $$EOE
// marker.
var ErrNoDataBlock = errors.New("response has no data block")

var timeLayouts = []string{
	"2006-Jan-02 15:04",
	"2006-Jan-02 15:04:05",
	"2006-Jan-02 15:04:05.000",
}

// ParseBlock extracts rows between the $$SOE and $$EOE markers. It returns
// the parsed rows and the number of non-empty lines that were dropped.
func ParseBlock(text string) ([]Row, int, error) {
	start := strings.Index(text, startMarker)
	if start == -1 {
		return nil, 0, ErrNoDataBlock
	}
	block := text[start+len(startMarker):]
	end := strings.Index(block, endMarker)
	if end == -1 {
		return nil, 0, ErrNoDataBlock
	}
	block = block[:end]

	var rows []Row
	dropped := 0
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		row, ok := parseRow(line)
		if !ok {
			dropped++
			continue
		}
		rows = append(rows, row)
	}
	return rows, dropped, nil
}

// parseRow reads "timestamp, lon, lat". Quantity 31 output interleaves
// solar and lunar presence flag columns, which are blank for a geocentric
// center and one or two letters (*, C, m, Cm ...) for a topocentric one.
// The first two numeric fields after the timestamp are longitude and
// latitude.
func parseRow(line string) (Row, bool) {
	fields := strings.Split(line, ",")
	if len(fields) < 3 {
		return Row{}, false
	}

	t, ok := parseTime(strings.TrimSpace(fields[0]))
	if !ok {
		return Row{}, false
	}

	var nums []float64
	for _, f := range fields[1:] {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			if len(nums) == 0 && isPresenceFlag(f) {
				continue
			}
			return Row{}, false
		}
		nums = append(nums, v)
		if len(nums) == 2 {
			break
		}
	}
	if len(nums) < 2 {
		return Row{}, false
	}

	return Row{Time: t, Longitude: nums[0], Latitude: nums[1]}, true
}

func isPresenceFlag(f string) bool {
	if len(f) > 2 {
		return false
	}
	for _, r := range f {
		if !strings.ContainsRune("*CNABmrts", r) {
			return false
		}
	}
	return true
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimPrefix(s, "A.D. ")
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
