package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/defrag/fragd/internal/api"
	"github.com/defrag/fragd/internal/batch"
	"github.com/defrag/fragd/internal/cache"
	"github.com/defrag/fragd/internal/config"
	"github.com/defrag/fragd/internal/disclosure"
	"github.com/defrag/fragd/internal/ephemeris"
	"github.com/defrag/fragd/internal/logging"
	"github.com/defrag/fragd/internal/models"
	"github.com/defrag/fragd/internal/ratelimit"
	"github.com/defrag/fragd/internal/schedule"
	"github.com/defrag/fragd/internal/store"
	"github.com/defrag/fragd/internal/tz"
)

type CLI struct {
	Config string `help:"Path to a YAML config file." type:"path" placeholder:"PATH"`

	Migrate    MigrateCmd    `cmd:"" help:"Apply database migrations."`
	ComputeDay ComputeDayCmd `cmd:"" name:"compute-day" help:"Run the daily batch once and print the summary."`
	Serve      ServeCmd      `cmd:"" help:"Serve the HTTP API and run the daily schedule."`
	SeedDemo   SeedDemoCmd   `cmd:"" name:"seed-demo" help:"Seed a demo baseline and pinned connection for a user."`
}

type app struct {
	ctx context.Context
	cfg *config.Config
	log zerolog.Logger
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("fragd"),
		kong.Description("Daily pressure and friction batch."),
		kong.UsageOnError(),
	)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = kctx.Run(&app{ctx: ctx, cfg: cfg, log: logger})
	kctx.FatalIfErrorf(err)
}

func (a *app) openStore() (*store.Store, error) {
	if a.cfg.DBDriver == store.DriverSQLite && a.cfg.DBDSN != ":memory:" && !strings.HasPrefix(a.cfg.DBDSN, "file:") {
		if err := os.MkdirAll(filepath.Dir(a.cfg.DBDSN), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	st, err := store.Open(a.cfg.DBDriver, a.cfg.DBDSN, a.log)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(a.ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

// cache puts Redis in front of the durable store when redis_addr is set.
func (a *app) cache(st *store.Store) (*cache.Cache, func()) {
	if a.cfg.RedisAddr == "" {
		return cache.New(st.Outputs(), a.log), func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
	a.log.Info().Str("addr", a.cfg.RedisAddr).Msg("redis cache tier enabled")
	return cache.New(cache.NewTiered(cache.NewRedis(client), st.Outputs()), a.log), func() { client.Close() }
}

func (a *app) orchestrator(st *store.Store, c *cache.Cache) *batch.Orchestrator {
	client := ephemeris.NewClient(ephemeris.Config{
		BaseURL:            a.cfg.HorizonsURL,
		Format:             a.cfg.HorizonsFormat,
		Center:             a.cfg.HorizonsCenter,
		RequestsPerSecond:  a.cfg.HorizonsRPS,
		Timeout:            a.cfg.HorizonsTimeout,
		BreakerMaxFailures: a.cfg.BreakerMaxFailures,
		BreakerOpenTimeout: a.cfg.BreakerOpenTimeout,
	}, a.log)

	return batch.New(st, client, c, tz.NewIANA(), disclosure.Templates{}, batch.Config{
		Step:         a.cfg.HorizonsStep,
		Concurrency:  a.cfg.BatchConcurrency,
		PinnedLimit:  a.cfg.PinnedLimit,
		UserLimit:    a.cfg.UserLimit,
		AssetVersion: a.cfg.AssetVersion,
	}, a.log)
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(a *app) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	v, err := st.MigrationVersion(a.ctx)
	if err != nil {
		return err
	}
	a.log.Info().Int("version", v).Msg("database migrated")
	return nil
}

type ComputeDayCmd struct {
	Date  string `help:"UTC date to compute (YYYY-MM-DD). Defaults to the run timestamp's date." placeholder:"DATE"`
	RunTS string `name:"run-ts" help:"Run timestamp (RFC3339). Defaults to now." placeholder:"TS"`
}

func (c *ComputeDayCmd) Run(a *app) error {
	runTS := time.Now().UTC()
	if c.RunTS != "" {
		t, err := time.Parse(time.RFC3339, c.RunTS)
		if err != nil {
			return fmt.Errorf("--run-ts: %w", err)
		}
		runTS = t.UTC()
	}
	date := c.Date
	if date == "" {
		date = runTS.Format(tz.DateLayout)
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	ch, closeCache := a.cache(st)
	defer closeCache()

	summary, err := a.orchestrator(st, ch).ComputeDay(a.ctx, date, runTS)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return err
	}
	if !summary.OK {
		return fmt.Errorf("batch finished with %d errors", len(summary.Errors))
	}
	return nil
}

type ServeCmd struct {
	NoSchedule bool `name:"no-schedule" help:"Serve only; do not run the daily schedule."`
}

func (c *ServeCmd) Run(a *app) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	ch, closeCache := a.cache(st)
	defer closeCache()

	orch := a.orchestrator(st, ch)

	if !c.NoSchedule {
		sched, err := schedule.New(orch, schedule.Config{
			Spec:       a.cfg.ScheduleCron,
			MaxElapsed: a.cfg.ScheduleMaxElapsed,
		}, a.log)
		if err != nil {
			return err
		}
		go sched.Run(a.ctx)
	} else {
		a.log.Info().Msg("schedule disabled (--no-schedule)")
	}

	limiter := ratelimit.New(a.cfg.TriggerRatePerMinute, a.cfg.TriggerBurst, a.cfg.TriggerCapacity)
	server := api.NewServer(st, orch, limiter, tz.NewIANA(), a.cfg.HTTPAddr, a.log)
	return server.Run(a.ctx)
}

type SeedDemoCmd struct {
	UserID   string `name:"user-id" required:"" env:"TEST_USER_ID" help:"User to seed."`
	Timezone string `default:"America/New_York" help:"User's current timezone."`
}

func (c *SeedDemoCmd) Run(a *app) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.UpsertUserContext(a.ctx, models.UserContext{UserID: c.UserID, Timezone: c.Timezone, City: "New York"}); err != nil {
		return fmt.Errorf("user context: %w", err)
	}

	connID := uuid.NewString()
	if err := st.UpsertConnection(a.ctx, models.Connection{
		ID:     connID,
		UserID: c.UserID,
		Name:   "Demo Connection",
		BirthData: models.BirthData{
			DOB:           "1990-01-01",
			BirthTime:     "12:00",
			BirthCity:     "Los Angeles",
			BirthTimezone: "America/Los_Angeles",
		},
	}); err != nil {
		return fmt.Errorf("connection: %w", err)
	}
	a.log.Info().Str("connection_id", connID).Msg("created connection")

	if err := st.PinConnection(a.ctx, c.UserID, connID, time.Now()); err != nil {
		return fmt.Errorf("pin: %w", err)
	}

	if err := st.UpsertBaseline(a.ctx, models.Baseline{
		UserID: c.UserID,
		BirthData: models.BirthData{
			DOB:           "1988-08-08",
			BirthTime:     "08:00",
			BirthCity:     "New York",
			BirthTimezone: "America/New_York",
		},
	}); err != nil {
		return fmt.Errorf("baseline: %w", err)
	}
	a.log.Info().Str("user_id", c.UserID).Msg("demo data seeded")
	return nil
}
