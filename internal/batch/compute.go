package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/defrag/fragd/internal/cache"
	"github.com/defrag/fragd/internal/engine"
	"github.com/defrag/fragd/internal/ephemeris"
	"github.com/defrag/fragd/internal/models"
	"github.com/defrag/fragd/internal/tz"
)

// DefaultBirthClock is used when a subject's birth time is unknown.
const DefaultBirthClock = "12:00"

type weatherResult struct {
	engine.DailyWeather
	InputsHash string
}

// dailyWeather reads the day's pressure for a location through the cache.
func (o *Orchestrator) dailyWeather(ctx context.Context, d *day, zone, city, localDate string) (weatherResult, error) {
	inputs := map[string]any{
		"date_local":    localDate,
		"timezone":      zone,
		"nasa_raw_hash": d.run.RawHash,
		"step":          d.run.Request.Step,
	}
	hash, err := cache.HashInputs(inputs)
	if err != nil {
		return weatherResult{}, err
	}
	key := cache.Key{
		Subject:       "loc:" + city + "@" + zone,
		Kind:          cache.KindDailyWeather,
		EngineVersion: engine.Version,
		InputsHash:    hash,
		DateKey:       localDate,
	}

	w, err := cache.Load(ctx, o.cache, key, func() (engine.DailyWeather, error) {
		loc, err := o.tz.Location(zone)
		if err != nil {
			return engine.DailyWeather{}, err
		}
		samples := engine.SamplesForLocalDate(d.samples, localDate, loc)
		if len(samples) == 0 {
			return engine.DailyWeather{}, fmt.Errorf("local date %s in %s: %w", localDate, zone, engine.ErrNoSamples)
		}
		prov := engine.NewProvenance(d.run.Params, d.run.RawHash, d.runTS).WithInputs(hash)
		return engine.ComputeDailyWeather(samples, localDate, zone, prov)
	})
	if err != nil {
		return weatherResult{}, err
	}
	return weatherResult{DailyWeather: w, InputsHash: hash}, nil
}

// baselineVector reads a subject's baseline through the cache. The
// ephemeris covering the birth date is only loaded on a miss.
func (o *Orchestrator) baselineVector(ctx context.Context, d *day, subject string, birth models.BirthData, defaultZone string) (engine.BaselineVector, error) {
	zone := birth.BirthTimezone
	if zone == "" {
		zone = defaultZone
	}
	clock := birth.BirthTime
	if clock == "" {
		clock = DefaultBirthClock
	}

	inputs := map[string]any{
		"dob":        birth.DOB,
		"birth_time": clock,
		"timezone":   zone,
		"body_set":   ephemeris.BodySetVersion,
		"step":       o.cfg.Step,
	}
	hash, err := cache.HashInputs(inputs)
	if err != nil {
		return engine.BaselineVector{}, err
	}
	key := cache.Key{
		Subject:       subject,
		Kind:          cache.KindBaselineVector,
		EngineVersion: engine.Version,
		InputsHash:    hash,
	}

	return cache.Load(ctx, o.cache, key, func() (engine.BaselineVector, error) {
		dob, err := time.Parse(tz.DateLayout, birth.DOB)
		if err != nil {
			return engine.BaselineVector{}, fmt.Errorf("parse birth date %q: %w", birth.DOB, err)
		}
		target, err := o.tz.Instant(birth.DOB, clock, zone)
		if err != nil {
			return engine.BaselineVector{}, err
		}

		run, err := o.loadOrFetch(ctx, BaselineRequest(dob, o.cfg.Step))
		if err != nil {
			return engine.BaselineVector{}, fmt.Errorf("baseline ephemeris: %w", err)
		}
		s, err := engine.SelectBaselineSample(run.Samples(), target)
		if err != nil {
			return engine.BaselineVector{}, err
		}
		prov := engine.NewProvenance(run.Params, run.RawHash, d.runTS).WithInputs(hash)
		return engine.ComputeBaselineVector(s, prov)
	})
}

// friction reads the pairwise score through the cache. It returns the
// inputs hash alongside the result for the provenance hash.
func (o *Orchestrator) friction(ctx context.Context, d *day, userID, connectionID string, w weatherResult, a, b engine.BaselineVector) (engine.Friction, string, error) {
	inputs := map[string]any{
		"weather":         w.InputsHash,
		"user_vector":     a.Vector,
		"connection_vec":  b.Vector,
		"engine_version":  engine.Version,
		"daily_component": w.MaxWeightedSum(),
	}
	hash, err := cache.HashInputs(inputs)
	if err != nil {
		return engine.Friction{}, "", err
	}
	key := cache.Key{
		Subject:       "user:" + userID,
		Kind:          cache.KindFriction,
		EngineVersion: engine.Version,
		InputsHash:    hash,
		DateKey:       w.LocalDate,
		SecondaryKey:  "connection:" + connectionID,
	}

	f, err := cache.Load(ctx, o.cache, key, func() (engine.Friction, error) {
		prov := engine.NewProvenance(d.run.Params, d.run.RawHash, d.runTS).WithInputs(hash)
		return engine.ComputeFriction(w.DailyWeather, a.Vector, b.Vector, prov)
	})
	return f, hash, err
}
