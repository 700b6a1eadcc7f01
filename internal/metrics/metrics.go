package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EphemerisRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fragd_ephemeris_requests_total",
			Help: "Total Horizons API requests",
		},
		[]string{"body", "status"},
	)

	EphemerisRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fragd_ephemeris_request_latency_seconds",
			Help:    "Horizons API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"body"},
	)

	EphemerisRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fragd_ephemeris_runs_total",
			Help: "Ephemeris runs by kind and whether they were fetched or reused from the store",
		},
		[]string{"kind", "outcome"},
	)

	EphemerisParseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fragd_ephemeris_parse_errors_total",
			Help: "Data rows dropped because they could not be parsed",
		},
		[]string{"kind"},
	)

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fragd_cache_lookups_total",
			Help: "Provenance cache lookups by kind and result (hit, miss, error)",
		},
		[]string{"kind", "result"},
	)

	CacheWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fragd_cache_write_failures_total",
			Help: "Provenance cache writes that failed; the value was still returned",
		},
		[]string{"kind"},
	)

	BatchUsersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fragd_batch_users_total",
			Help: "Users handled by the daily batch by outcome",
		},
		[]string{"outcome"},
	)

	FrictionEventsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fragd_friction_events_written_total",
			Help: "Friction events upserted by the daily batch",
		},
	)

	FragsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fragd_frags_written_total",
			Help: "Daily frags upserted by the daily batch",
		},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fragd_batch_duration_seconds",
			Help:    "Wall time of a daily batch run",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	TriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fragd_batch_triggers_total",
			Help: "Batch triggers by source (http, cron) and outcome",
		},
		[]string{"source", "outcome"},
	)
)
