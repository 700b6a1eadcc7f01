// Package schedule triggers the daily batch on a cron expression and owns
// retries when the shared ephemeris data is unavailable.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/defrag/fragd/internal/batch"
	"github.com/defrag/fragd/internal/metrics"
	"github.com/defrag/fragd/internal/tz"
)

// DefaultSpec runs five minutes past midnight UTC.
const DefaultSpec = "5 0 * * *"

// Runner is satisfied by *batch.Orchestrator.
type Runner interface {
	ComputeDay(ctx context.Context, utcDate string, runTS time.Time) (*batch.Summary, error)
}

type Config struct {
	Spec            string
	MaxElapsed      time.Duration
	InitialInterval time.Duration
}

type Scheduler struct {
	runner Runner
	cfg    Config
	sched  cron.Schedule
	log    zerolog.Logger
	now    func() time.Time
}

func New(runner Runner, cfg Config, logger zerolog.Logger) (*Scheduler, error) {
	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 30 * time.Minute
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 30 * time.Second
	}
	sched, err := cron.ParseStandard(cfg.Spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", cfg.Spec, err)
	}
	return &Scheduler{
		runner: runner,
		cfg:    cfg,
		sched:  sched,
		log:    logger.With().Str("component", "schedule").Logger(),
		now:    time.Now,
	}, nil
}

// Next returns the next trigger time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.sched.Next(t.UTC())
}

// Run blocks until ctx is cancelled, triggering the batch on schedule. A
// trigger still in flight at shutdown is allowed to observe the cancelled
// context and return.
func (s *Scheduler) Run(ctx context.Context) {
	c := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(s.sched, cron.FuncJob(func() {
		if _, err := s.RunOnce(ctx, s.now()); err != nil {
			s.log.Error().Err(err).Msg("scheduled batch failed")
		}
	}))

	s.log.Info().Str("spec", s.cfg.Spec).Time("next", s.Next(s.now())).Msg("schedule started")
	c.Start()
	<-ctx.Done()
	s.log.Info().Msg("shutting down")
	<-c.Stop().Done()
}

// RunOnce computes the UTC date containing at, retrying with exponential
// backoff while the shared data is unavailable. Any other error is final.
func (s *Scheduler) RunOnce(ctx context.Context, at time.Time) (*batch.Summary, error) {
	at = at.UTC()
	utcDate := at.Format(tz.DateLayout)

	var summary *batch.Summary
	operation := func() error {
		sum, err := s.runner.ComputeDay(ctx, utcDate, at)
		if err != nil {
			if errors.Is(err, batch.ErrDataUnavailable) {
				return err
			}
			return backoff.Permanent(err)
		}
		summary = sum
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialInterval
	bo.MaxElapsedTime = s.cfg.MaxElapsed
	notify := func(err error, wait time.Duration) {
		s.log.Warn().Err(err).Str("utc_date", utcDate).Dur("retry_in", wait).Msg("batch data unavailable, retrying")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify); err != nil {
		metrics.TriggersTotal.WithLabelValues("cron", "failed").Inc()
		return nil, err
	}
	metrics.TriggersTotal.WithLabelValues("cron", "ok").Inc()
	s.log.Info().Str("run_id", summary.RunID).Str("utc_date", utcDate).Bool("ok", summary.OK).Msg("scheduled batch complete")
	return summary, nil
}
