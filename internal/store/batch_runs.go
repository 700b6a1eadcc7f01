package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/defrag/fragd/internal/models"
)

// StartBatchRun records the start of a batch for auditing.
func (s *Store) StartBatchRun(ctx context.Context, utcDate string, runTS time.Time) (*models.BatchRun, error) {
	run := &models.BatchRun{
		ID:        uuid.NewString(),
		UTCDate:   utcDate,
		RunTS:     runTS.UTC(),
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO batch_runs (id, utc_date, run_ts, started_at, success)
		VALUES (?, ?, ?, ?, 0)
	`), run.ID, run.UTCDate, run.RunTS, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("start batch run: %w", err)
	}
	return run, nil
}

// CompleteBatchRun stores the run's outcome. errs is stored as a JSON list.
func (s *Store) CompleteBatchRun(ctx context.Context, run *models.BatchRun, errs []string) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	run.ErrorCount = len(errs)
	if len(errs) > 0 {
		b, err := json.Marshal(errs)
		if err != nil {
			return fmt.Errorf("encode batch errors: %w", err)
		}
		run.ErrorsJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE batch_runs SET
			finished_at = ?,
			nasa_raw_hash = ?,
			users_processed = ?,
			events_written = ?,
			frags_written = ?,
			error_count = ?,
			errors_json = ?,
			success = ?
		WHERE id = ?
	`), run.FinishedAt, run.NasaRawHash, run.UsersProcessed, run.EventsWritten, run.FragsWritten,
		run.ErrorCount, run.ErrorsJSON, boolToInt(run.Success), run.ID)
	if err != nil {
		return fmt.Errorf("complete batch run: %w", err)
	}
	return nil
}

func (s *Store) BatchRun(ctx context.Context, id string) (*models.BatchRun, error) {
	var run models.BatchRun
	err := s.db.GetContext(ctx, &run, s.db.Rebind(`
		SELECT id, utc_date, run_ts, started_at, finished_at, nasa_raw_hash, users_processed,
		       events_written, frags_written, error_count, errors_json, success
		FROM batch_runs WHERE id = ?
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get batch run: %w", err)
	}
	return &run, nil
}

// BatchHealth summarizes batch runs per UTC date.
type BatchHealth struct {
	UTCDate     string `db:"utc_date"`
	TotalRuns   int    `db:"total_runs"`
	SuccessRuns int    `db:"success_runs"`
	TotalErrors int    `db:"total_errors"`
	TotalFrags  int    `db:"total_frags"`
}

// GetBatchHealth returns per-date summaries for the most recent dates.
func (s *Store) GetBatchHealth(ctx context.Context, dates int) ([]BatchHealth, error) {
	var out []BatchHealth
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`
		SELECT utc_date,
		       COUNT(*) AS total_runs,
		       COALESCE(SUM(success), 0) AS success_runs,
		       COALESCE(SUM(error_count), 0) AS total_errors,
		       COALESCE(SUM(frags_written), 0) AS total_frags
		FROM batch_runs
		GROUP BY utc_date
		ORDER BY utc_date DESC
		LIMIT ?
	`), dates)
	if err != nil {
		return nil, fmt.Errorf("batch health: %w", err)
	}
	return out, nil
}
