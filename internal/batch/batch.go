// Package batch runs the daily job: one shared ephemeris run per UTC date,
// fanned out across every user with pinned connections.
package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/defrag/fragd/internal/cache"
	"github.com/defrag/fragd/internal/disclosure"
	"github.com/defrag/fragd/internal/engine"
	"github.com/defrag/fragd/internal/ephemeris"
	"github.com/defrag/fragd/internal/metrics"
	"github.com/defrag/fragd/internal/models"
	"github.com/defrag/fragd/internal/tz"
)

// Fetcher fetches an ephemeris run. *ephemeris.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req ephemeris.Request) (*ephemeris.Run, error)
}

// Repository is the persistence the orchestrator needs. *store.Store
// implements it.
type Repository interface {
	FindEphemerisRun(ctx context.Context, req ephemeris.Request) (*models.EphemerisRun, error)
	SaveEphemerisRun(ctx context.Context, run *ephemeris.Run, fetchedAt time.Time) (*models.EphemerisRun, error)
	LoadEphemerisRun(rec *models.EphemerisRun) (*ephemeris.Run, error)

	PinnedUsers(ctx context.Context, limit int) ([]string, error)
	UserContext(ctx context.Context, userID string) (*models.UserContext, error)
	Baseline(ctx context.Context, userID string) (*models.Baseline, error)
	PinnedConnections(ctx context.Context, userID string, limit int) ([]models.Connection, error)

	LatestEventBefore(ctx context.Context, userID, connectionID, engineVersion, date string) (*models.FrictionEvent, error)
	UpsertFrictionEvent(ctx context.Context, e models.FrictionEvent) (string, error)
	EnsurePublicAsset(ctx context.Context, hash string) error
	UpsertPrivateAsset(ctx context.Context, a models.AssetPrivate) error
	UpsertFrag(ctx context.Context, f models.Frag) error

	StartBatchRun(ctx context.Context, utcDate string, runTS time.Time) (*models.BatchRun, error)
	CompleteBatchRun(ctx context.Context, run *models.BatchRun, errs []string) error
}

type Config struct {
	Step         string
	Concurrency  int
	PinnedLimit  int
	UserLimit    int
	AssetVersion string
}

func (c Config) withDefaults() Config {
	if c.Step == "" {
		c.Step = ephemeris.DefaultStep
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.PinnedLimit < 1 {
		c.PinnedLimit = 5
	}
	if c.UserLimit < 1 {
		c.UserLimit = 50000
	}
	if c.AssetVersion == "" {
		c.AssetVersion = disclosure.DefaultAssetVersion
	}
	return c
}

type Orchestrator struct {
	store   Repository
	fetcher Fetcher
	cache   *cache.Cache
	tz      tz.Converter
	texter  disclosure.Texter
	cfg     Config
	log     zerolog.Logger
	flight  singleflight.Group
	now     func() time.Time
}

func New(store Repository, fetcher Fetcher, c *cache.Cache, conv tz.Converter, texter disclosure.Texter, cfg Config, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:   store,
		fetcher: fetcher,
		cache:   c,
		tz:      conv,
		texter:  texter,
		cfg:     cfg.withDefaults(),
		log:     logger.With().Str("component", "batch").Logger(),
		now:     time.Now,
	}
}

// Summary is the result of one ComputeDay invocation.
type Summary struct {
	RunID          string   `json:"runId"`
	UTCDate        string   `json:"utcDate"`
	NasaRawHash    string   `json:"nasaRawHash"`
	UsersProcessed int      `json:"usersProcessed"`
	EventsWritten  int      `json:"eventsWritten"`
	FragsWritten   int      `json:"fragsWritten"`
	Errors         []string `json:"errors"`
	OK             bool     `json:"ok"`
}

// day is the state shared by every user in one invocation.
type day struct {
	utcDate string
	runTS   time.Time
	runID   string
	run     *ephemeris.Run
	samples []ephemeris.Sample
}

type userOutcome struct {
	processed bool
	events    int
	frags     int
	errs      []*UserError
}

// ComputeDay runs the daily batch for utcDate. runTS is the explicit run
// timestamp: it fixes each user's local date and every computed_at. Per-user
// failures are collected in the summary; only a failure to obtain the
// shared run or to list users returns an error.
func (o *Orchestrator) ComputeDay(ctx context.Context, utcDate string, runTS time.Time) (*Summary, error) {
	start := time.Now()
	defer func() { metrics.BatchDuration.Observe(time.Since(start).Seconds()) }()

	date, err := time.Parse(tz.DateLayout, utcDate)
	if err != nil {
		return nil, fmt.Errorf("parse utc date %q: %w", utcDate, err)
	}
	runTS = runTS.UTC()

	audit, err := o.store.StartBatchRun(ctx, utcDate, runTS)
	if err != nil {
		return nil, err
	}
	log := o.log.With().Str("run_id", audit.ID).Str("utc_date", utcDate).Logger()

	// FetchSharedRun
	run, err := o.loadOrFetch(ctx, SharedRequest(date, o.cfg.Step))
	if err != nil {
		log.Error().Err(err).Msg("shared ephemeris run unavailable")
		o.complete(ctx, audit, &Summary{Errors: []string{err.Error()}})
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	d := &day{utcDate: utcDate, runTS: runTS, runID: audit.ID, run: run, samples: run.Samples()}
	log.Info().Str("nasa_raw_hash", run.RawHash).Int("samples", len(d.samples)).Msg("shared run ready")

	users, err := o.store.PinnedUsers(ctx, o.cfg.UserLimit)
	if err != nil {
		o.complete(ctx, audit, &Summary{NasaRawHash: run.RawHash, Errors: []string{err.Error()}})
		return nil, err
	}

	// PerUserLoop
	summary := &Summary{RunID: audit.ID, UTCDate: utcDate, NasaRawHash: run.RawHash, Errors: []string{}}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for _, userID := range users {
		g.Go(func() error {
			out := o.processUser(gctx, d, userID)

			mu.Lock()
			defer mu.Unlock()
			if out.processed {
				summary.UsersProcessed++
				metrics.BatchUsersTotal.WithLabelValues("processed").Inc()
			} else {
				metrics.BatchUsersTotal.WithLabelValues("failed").Inc()
			}
			summary.EventsWritten += out.events
			summary.FragsWritten += out.frags
			for _, e := range out.errs {
				summary.Errors = append(summary.Errors, e.Error())
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(summary.Errors)
	summary.OK = len(summary.Errors) == 0
	o.complete(ctx, audit, summary)

	log.Info().Int("users", len(users)).Int("processed", summary.UsersProcessed).
		Int("events", summary.EventsWritten).Int("frags", summary.FragsWritten).
		Int("errors", len(summary.Errors)).Dur("took", time.Since(start)).Msg("compute day complete")
	return summary, nil
}

func (o *Orchestrator) complete(ctx context.Context, audit *models.BatchRun, s *Summary) {
	audit.UsersProcessed = s.UsersProcessed
	audit.EventsWritten = s.EventsWritten
	audit.FragsWritten = s.FragsWritten
	audit.Success = s.OK
	if s.NasaRawHash != "" {
		audit.NasaRawHash.String, audit.NasaRawHash.Valid = s.NasaRawHash, true
	}
	if err := o.store.CompleteBatchRun(ctx, audit, s.Errors); err != nil {
		o.log.Error().Err(err).Str("run_id", audit.ID).Msg("failed to record batch run")
	}
}

type candidate struct {
	eventID   string
	assetHash string
	buckets   disclosure.Buckets
	priority  float64
}

// Priority ranks a user's events; the highest becomes the day's frag.
func Priority(frictionScore, delta int) float64 {
	return 0.7*float64(frictionScore) + 0.3*math.Abs(float64(delta))
}

func (o *Orchestrator) processUser(ctx context.Context, d *day, userID string) userOutcome {
	var out userOutcome
	fail := func(err error) userOutcome {
		out.errs = append(out.errs, &UserError{UserID: userID, Err: err})
		return out
	}

	zone, city := "UTC", ""
	uc, err := o.store.UserContext(ctx, userID)
	if err != nil {
		return fail(err)
	}
	if uc != nil {
		if uc.Timezone != "" {
			zone = uc.Timezone
		}
		city = uc.City
	}

	localDate, err := o.tz.LocalDate(d.runTS, zone)
	if err != nil {
		return fail(err)
	}

	baseline, err := o.store.Baseline(ctx, userID)
	if err != nil {
		return fail(err)
	}
	if baseline == nil {
		return fail(errors.New("no baseline on file"))
	}
	if city == "" {
		city = baseline.BirthCity
	}

	conns, err := o.store.PinnedConnections(ctx, userID, o.cfg.PinnedLimit)
	if err != nil {
		return fail(err)
	}
	if len(conns) == 0 {
		out.processed = true
		return out
	}

	weather, err := o.dailyWeather(ctx, d, zone, city, localDate)
	if err != nil {
		return fail(fmt.Errorf("daily weather: %w", err))
	}
	userVec, err := o.baselineVector(ctx, d, "user:"+userID, baseline.BirthData, zone)
	if err != nil {
		return fail(fmt.Errorf("user baseline: %w", err))
	}

	// PerConnectionCompute
	var candidates []candidate
	for _, conn := range conns {
		c, err := o.processConnection(ctx, d, userID, zone, localDate, conn, weather, userVec)
		if c != nil {
			out.events++
			metrics.FrictionEventsWritten.Inc()
		}
		if err != nil {
			out.errs = append(out.errs, &UserError{UserID: userID, ConnectionID: conn.ID, Err: err})
			continue
		}
		candidates = append(candidates, *c)
	}

	// RankAndSelect
	if len(candidates) > 0 {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].priority > candidates[j].priority
		})
		top := candidates[0]

		text, usedFallback := disclosure.SafeText(ctx, o.texter, top.buckets)
		if usedFallback {
			o.log.Debug().Str("user_id", userID).Msg("frag text replaced by fallback")
		}

		// PersistFrag
		err := o.store.UpsertFrag(ctx, models.Frag{
			UserID:           userID,
			LocalDate:        localDate,
			EngineVersion:    engine.Version,
			TopEventID:       top.eventID,
			SimpleTextState:  text.State,
			SimpleTextAction: text.Action,
			AssetHash:        top.assetHash,
		})
		if err != nil {
			return fail(err)
		}
		out.frags++
		metrics.FragsWritten.Inc()
	}

	out.processed = true
	return out
}

// processConnection computes and writes one friction event. A non-nil
// candidate means the event row was written, even if a later asset write
// failed and an error is also returned.
func (o *Orchestrator) processConnection(ctx context.Context, d *day, userID, zone, localDate string, conn models.Connection, w weatherResult, userVec engine.BaselineVector) (*candidate, error) {
	fidelity := disclosure.FidelityFor(conn.BirthData)

	connVec, err := o.baselineVector(ctx, d, "connection:"+conn.ID, conn.BirthData, zone)
	if err != nil {
		return nil, fmt.Errorf("connection baseline: %w", err)
	}
	f, frictionHash, err := o.friction(ctx, d, userID, conn.ID, w, userVec, connVec)
	if err != nil {
		return nil, fmt.Errorf("friction: %w", err)
	}

	// Yesterday's score is read before today's is written.
	yesterday, err := tz.AddDays(localDate, -1)
	if err != nil {
		return nil, err
	}
	prev, err := o.store.LatestEventBefore(ctx, userID, conn.ID, engine.Version, localDate)
	if err != nil {
		return nil, err
	}
	delta := 0
	if prev != nil && prev.EventDate == yesterday {
		delta = f.FrictionScore - prev.FrictionScore
	}

	buckets := disclosure.NewBuckets(w.PressureScore, f.FrictionScore, fidelity, o.cfg.AssetVersion)
	assetHash := buckets.AssetHash()

	eventID, err := o.store.UpsertFrictionEvent(ctx, models.FrictionEvent{
		UserID:         userID,
		ConnectionID:   conn.ID,
		EventDate:      localDate,
		EngineVersion:  engine.Version,
		PressureScore:  w.PressureScore,
		FrictionScore:  f.FrictionScore,
		Delta:          delta,
		PrimaryGate:    disclosure.GateNone,
		Fidelity:       string(fidelity),
		AssetHash:      assetHash,
		ProvenanceHash: ProvenanceHash(d.run.RawHash, userID, conn.ID, localDate, frictionHash),
		RunID:          d.runID,
	})
	if err != nil {
		return nil, err
	}
	c := &candidate{
		eventID:   eventID,
		assetHash: assetHash,
		buckets:   buckets,
		priority:  Priority(f.FrictionScore, delta),
	}

	if err := o.store.EnsurePublicAsset(ctx, assetHash); err != nil {
		return c, err
	}
	params, err := json.Marshal(buckets)
	if err != nil {
		return c, fmt.Errorf("encode asset params: %w", err)
	}
	if err := o.store.UpsertPrivateAsset(ctx, models.AssetPrivate{
		Hash:       assetHash,
		Canonical:  buckets.Canonical(),
		ParamsJSON: string(params),
	}); err != nil {
		return c, err
	}
	return c, nil
}

// ProvenanceHash fingerprints everything an event was derived from.
func ProvenanceHash(rawHash, userID, connectionID, localDate, inputsHash string) string {
	sum := sha256.Sum256([]byte(engine.Version + "|" + rawHash + "|" + userID + "|" + connectionID + "|" + localDate + "|" + inputsHash))
	return hex.EncodeToString(sum[:])
}
