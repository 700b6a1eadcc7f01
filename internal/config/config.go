// Package config loads process configuration. Layers, lowest precedence
// first: compiled defaults, an optional YAML file, FRAGD_ environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "FRAGD_"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"` // console or json

	DBDriver  string `koanf:"db_driver"` // sqlite or postgres
	DBDSN     string `koanf:"db_dsn"`
	RedisAddr string `koanf:"redis_addr"` // empty disables the Redis tier

	HorizonsURL        string        `koanf:"horizons_url"`
	HorizonsFormat     string        `koanf:"horizons_format"`
	HorizonsCenter     string        `koanf:"horizons_center"`
	HorizonsStep       string        `koanf:"horizons_step"`
	HorizonsRPS        float64       `koanf:"horizons_rps"`
	HorizonsTimeout    time.Duration `koanf:"horizons_timeout"`
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures"`
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout"`

	BatchConcurrency int    `koanf:"batch_concurrency"`
	PinnedLimit      int    `koanf:"pinned_limit"`
	UserLimit        int    `koanf:"user_limit"`
	AssetVersion     string `koanf:"asset_version"`

	HTTPAddr             string  `koanf:"http_addr"`
	TriggerRatePerMinute float64 `koanf:"trigger_rate_per_minute"`
	TriggerBurst         int     `koanf:"trigger_burst"`
	TriggerCapacity      int     `koanf:"trigger_capacity"`

	ScheduleCron       string        `koanf:"schedule_cron"`
	ScheduleMaxElapsed time.Duration `koanf:"schedule_max_elapsed"`
}

func Default() Config {
	return Config{
		LogLevel:             "info",
		LogFormat:            "console",
		DBDriver:             "sqlite",
		DBDSN:                "data/fragd.db",
		HorizonsURL:          "https://ssd.jpl.nasa.gov/api/horizons.api",
		HorizonsFormat:       "json",
		HorizonsCenter:       "500@399",
		HorizonsStep:         "60m",
		HorizonsRPS:          2,
		HorizonsTimeout:      30 * time.Second,
		BreakerMaxFailures:   5,
		BreakerOpenTimeout:   time.Minute,
		BatchConcurrency:     8,
		PinnedLimit:          5,
		UserLimit:            50000,
		AssetVersion:         "v1_stills",
		HTTPAddr:             "127.0.0.1:8080",
		TriggerRatePerMinute: 6,
		TriggerBurst:         2,
		TriggerCapacity:      1024,
		ScheduleCron:         "5 0 * * *",
		ScheduleMaxElapsed:   30 * time.Minute,
	}
}

// Load layers path (or FRAGD_CONFIG when path is empty) and the environment
// over the defaults, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// FRAGD_DB_DSN -> db_dsn
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load config env: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return invalid("log_format %q", c.LogFormat)
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return invalid("db_driver %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return invalid("db_dsn must not be empty")
	}
	switch c.HorizonsFormat {
	case "json", "text":
	default:
		return invalid("horizons_format %q", c.HorizonsFormat)
	}
	if c.HorizonsStep == "" {
		return invalid("horizons_step must not be empty")
	}
	if c.BatchConcurrency < 1 {
		return invalid("batch_concurrency must be at least 1")
	}
	if c.PinnedLimit < 1 || c.PinnedLimit > 5 {
		return invalid("pinned_limit %d outside [1,5]", c.PinnedLimit)
	}
	if c.UserLimit < 1 {
		return invalid("user_limit must be at least 1")
	}
	if c.TriggerCapacity < 1 {
		return invalid("trigger_capacity must be at least 1")
	}
	return nil
}
