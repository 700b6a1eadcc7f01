package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

// {{BLOB}} and {{TIMESTAMP}} are replaced per dialect.
var migrations = []migration{
	{
		Version:     1,
		Description: "Ephemeris runs and engine outputs",
		SQL: `
CREATE TABLE IF NOT EXISTS ephemeris_runs (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    start_utc TEXT NOT NULL,
    stop_utc TEXT NOT NULL,
    step TEXT NOT NULL,
    request_json TEXT NOT NULL,
    raw_compressed {{BLOB}} NOT NULL,
    raw_hash TEXT NOT NULL,
    raw_size INTEGER NOT NULL,
    parse_errors INTEGER NOT NULL DEFAULT 0,
    fetched_at {{TIMESTAMP}} NOT NULL,
    UNIQUE(kind, start_utc, stop_utc, step)
);

CREATE TABLE IF NOT EXISTS engine_outputs (
    subject TEXT NOT NULL,
    kind TEXT NOT NULL,
    engine_version TEXT NOT NULL,
    inputs_hash TEXT NOT NULL,
    date_key TEXT NOT NULL DEFAULT '',
    secondary_key TEXT NOT NULL DEFAULT '',
    output_json TEXT NOT NULL,
    created_at {{TIMESTAMP}} NOT NULL,
    PRIMARY KEY (subject, kind, engine_version, inputs_hash, date_key, secondary_key)
);

CREATE INDEX IF NOT EXISTS idx_ephemeris_runs_hash ON ephemeris_runs(raw_hash);
`,
	},
	{
		Version:     2,
		Description: "Subjects, connections and pins",
		SQL: `
CREATE TABLE IF NOT EXISTS user_context (
    user_id TEXT PRIMARY KEY,
    timezone TEXT NOT NULL DEFAULT 'UTC',
    city TEXT NOT NULL DEFAULT '',
    updated_at {{TIMESTAMP}} NOT NULL
);

CREATE TABLE IF NOT EXISTS baselines (
    user_id TEXT PRIMARY KEY,
    dob TEXT NOT NULL,
    birth_time TEXT NOT NULL DEFAULT '',
    birth_city TEXT NOT NULL DEFAULT '',
    birth_timezone TEXT NOT NULL DEFAULT '',
    updated_at {{TIMESTAMP}} NOT NULL
);

CREATE TABLE IF NOT EXISTS connections (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    dob TEXT NOT NULL,
    birth_time TEXT NOT NULL DEFAULT '',
    birth_city TEXT NOT NULL DEFAULT '',
    birth_timezone TEXT NOT NULL DEFAULT '',
    created_at {{TIMESTAMP}} NOT NULL
);

CREATE TABLE IF NOT EXISTS pinned_connections (
    user_id TEXT NOT NULL,
    connection_id TEXT NOT NULL,
    pinned_at {{TIMESTAMP}} NOT NULL,
    PRIMARY KEY (user_id, connection_id)
);

CREATE INDEX IF NOT EXISTS idx_connections_user ON connections(user_id);
`,
	},
	{
		Version:     3,
		Description: "Friction events, frags and asset cache",
		SQL: `
CREATE TABLE IF NOT EXISTS friction_events (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    connection_id TEXT NOT NULL,
    event_date TEXT NOT NULL,
    engine_version TEXT NOT NULL,
    pressure_score INTEGER NOT NULL,
    friction_score INTEGER NOT NULL,
    delta INTEGER NOT NULL,
    primary_gate TEXT NOT NULL DEFAULT 'NONE',
    fidelity TEXT NOT NULL,
    asset_hash TEXT NOT NULL,
    provenance_hash TEXT NOT NULL,
    run_id TEXT NOT NULL DEFAULT '',
    created_at {{TIMESTAMP}} NOT NULL,
    updated_at {{TIMESTAMP}} NOT NULL,
    UNIQUE(user_id, connection_id, event_date, engine_version)
);

CREATE TABLE IF NOT EXISTS daily_frags (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    local_date TEXT NOT NULL,
    engine_version TEXT NOT NULL,
    top_event_id TEXT NOT NULL,
    simple_text_state TEXT NOT NULL,
    simple_text_action TEXT NOT NULL,
    asset_hash TEXT NOT NULL,
    updated_at {{TIMESTAMP}} NOT NULL,
    UNIQUE(user_id, local_date, engine_version)
);

CREATE TABLE IF NOT EXISTS asset_cache_public (
    hash TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at {{TIMESTAMP}} NOT NULL
);

CREATE TABLE IF NOT EXISTS asset_cache_private (
    hash TEXT PRIMARY KEY,
    canonical TEXT NOT NULL,
    params_json TEXT NOT NULL,
    updated_at {{TIMESTAMP}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_friction_events_pair_date ON friction_events(user_id, connection_id, engine_version, event_date);
`,
	},
	{
		Version:     4,
		Description: "Batch run audit",
		SQL: `
CREATE TABLE IF NOT EXISTS batch_runs (
    id TEXT PRIMARY KEY,
    utc_date TEXT NOT NULL,
    run_ts {{TIMESTAMP}} NOT NULL,
    started_at {{TIMESTAMP}} NOT NULL,
    finished_at {{TIMESTAMP}},
    nasa_raw_hash TEXT,
    users_processed INTEGER NOT NULL DEFAULT 0,
    events_written INTEGER NOT NULL DEFAULT 0,
    frags_written INTEGER NOT NULL DEFAULT 0,
    error_count INTEGER NOT NULL DEFAULT 0,
    errors_json TEXT,
    success INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_batch_runs_date ON batch_runs(utc_date);
`,
	},
}

func (s *Store) dialect(sqlText string) string {
	blob, ts := "BLOB", "DATETIME"
	if s.postgres() {
		blob, ts = "BYTEA", "TIMESTAMPTZ"
	}
	return strings.NewReplacer("{{BLOB}}", blob, "{{TIMESTAMP}}", ts).Replace(sqlText)
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		s.log.Info().Int("version", m.Version).Str("description", m.Description).Msg("applying migration")

		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx, s.dialect(m.SQL)); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			s.db.Rebind("INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)"),
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *Store) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.dialect(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at {{TIMESTAMP}}
		)
	`))
	return err
}

func (s *Store) getAppliedMigrations(ctx context.Context) (map[int]bool, error) {
	var versions []int
	if err := s.db.SelectContext(ctx, &versions, "SELECT version FROM schema_migrations"); err != nil {
		return nil, err
	}
	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

func (s *Store) MigrationVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	if err := s.db.GetContext(ctx, &version, "SELECT MAX(version) FROM schema_migrations"); err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
