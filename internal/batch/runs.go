package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/defrag/fragd/internal/ephemeris"
	"github.com/defrag/fragd/internal/metrics"
)

const (
	KindDaily    = "daily"
	KindBaseline = "baseline"
)

// SharedRequest is the run shared by every user for a UTC date. The window
// spans the day before and after so every local calendar day overlapping
// the UTC date is covered.
func SharedRequest(date time.Time, step string) ephemeris.Request {
	return ephemeris.Request{Kind: KindDaily, Window: ephemeris.DayWindow(date, 1, 2), Step: step}
}

// BaselineRequest is the run covering a birth date in any zone.
func BaselineRequest(dob time.Time, step string) ephemeris.Request {
	return ephemeris.Request{Kind: KindBaseline, Window: ephemeris.DayWindow(dob, 1, 2), Step: step}
}

// loadOrFetch returns the stored run for req, fetching and storing it on
// first use. Concurrent callers in this process share one fetch; callers in
// other processes converge on whichever row was stored first.
func (o *Orchestrator) loadOrFetch(ctx context.Context, req ephemeris.Request) (*ephemeris.Run, error) {
	key := req.Kind + "|" + req.Window.String() + "|" + req.Step
	v, err, _ := o.flight.Do(key, func() (interface{}, error) {
		rec, err := o.store.FindEphemerisRun(ctx, req)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			run, err := o.store.LoadEphemerisRun(rec)
			if err != nil {
				return nil, fmt.Errorf("load stored run %s: %w", rec.ID, err)
			}
			metrics.EphemerisRunsTotal.WithLabelValues(req.Kind, "reused").Inc()
			return run, nil
		}

		run, err := o.fetcher.Fetch(ctx, req)
		if err != nil {
			metrics.EphemerisRunsTotal.WithLabelValues(req.Kind, "failed").Inc()
			return nil, err
		}
		metrics.EphemerisRunsTotal.WithLabelValues(req.Kind, "fetched").Inc()

		stored, err := o.store.SaveEphemerisRun(ctx, run, o.now())
		if err != nil {
			return nil, fmt.Errorf("store run: %w", err)
		}
		if stored.RawHash == run.RawHash {
			return run, nil
		}
		o.log.Info().Str("kind", req.Kind).Str("window", req.Window.String()).
			Msg("another process stored this run first, using the stored copy")
		return o.store.LoadEphemerisRun(stored)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ephemeris.Run), nil
}
