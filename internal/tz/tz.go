// Package tz pins the conversion between civil dates in named IANA zones
// and UTC instants.
package tz

import (
	"fmt"
	"sync"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// Converter converts between UTC instants and civil time in a named zone.
// An empty zone name means UTC.
type Converter interface {
	Location(zone string) (*time.Location, error)
	LocalDate(instant time.Time, zone string) (string, error)
	Instant(date, clock, zone string) (time.Time, error)
}

// IANA implements Converter with the Go time zone database. Loaded
// locations are memoized.
type IANA struct {
	mu    sync.RWMutex
	cache map[string]*time.Location
}

func NewIANA() *IANA {
	return &IANA{cache: make(map[string]*time.Location)}
}

func (c *IANA) Location(zone string) (*time.Location, error) {
	if zone == "" || zone == "UTC" {
		return time.UTC, nil
	}

	c.mu.RLock()
	loc, ok := c.cache[zone]
	c.mu.RUnlock()
	if ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load zone %q: %w", zone, err)
	}

	c.mu.Lock()
	c.cache[zone] = loc
	c.mu.Unlock()
	return loc, nil
}

// LocalDate returns the civil date of instant in zone.
func (c *IANA) LocalDate(instant time.Time, zone string) (string, error) {
	loc, err := c.Location(zone)
	if err != nil {
		return "", err
	}
	return instant.In(loc).Format(DateLayout), nil
}

// Instant returns the UTC instant of a civil date and HH:MM clock in zone.
// Clocks that fall in a DST gap resolve the way time.Date does.
func (c *IANA) Instant(date, clock, zone string) (time.Time, error) {
	loc, err := c.Location(zone)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(DateLayout+" "+ClockLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse civil time %q %q: %w", date, clock, err)
	}
	return t.UTC(), nil
}

// AddDays shifts a civil date by n days.
func AddDays(date string, n int) (string, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", date, err)
	}
	return d.AddDate(0, 0, n).Format(DateLayout), nil
}
