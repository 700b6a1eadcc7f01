package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/defrag/fragd/internal/ephemeris"
	"github.com/defrag/fragd/internal/models"
)

// FindEphemerisRun returns the stored run for the request's exact kind,
// window and step, or nil if none exists.
func (s *Store) FindEphemerisRun(ctx context.Context, req ephemeris.Request) (*models.EphemerisRun, error) {
	var rec models.EphemerisRun
	err := s.db.GetContext(ctx, &rec, s.db.Rebind(`
		SELECT id, kind, start_utc, stop_utc, step, request_json, raw_compressed, raw_hash,
		       raw_size, parse_errors, fetched_at
		FROM ephemeris_runs
		WHERE kind = ? AND start_utc = ? AND stop_utc = ? AND step = ?
	`), req.Kind, req.Window.Start.Format(ephemeris.DateLayout), req.Window.Stop.Format(ephemeris.DateLayout), req.Step)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find ephemeris run: %w", err)
	}
	return &rec, nil
}

// SaveEphemerisRun stores a fetched run compressed. If a run for the same
// kind, window and step already exists the insert is ignored and the
// existing row is returned, so concurrent fetches converge on one run.
func (s *Store) SaveEphemerisRun(ctx context.Context, run *ephemeris.Run, fetchedAt time.Time) (*models.EphemerisRun, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(run.RawText)); err != nil {
		return nil, fmt.Errorf("compress run: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}

	params, err := json.Marshal(run.Params)
	if err != nil {
		return nil, fmt.Errorf("encode request params: %w", err)
	}

	req := run.Request
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO ephemeris_runs
		(id, kind, start_utc, stop_utc, step, request_json, raw_compressed, raw_hash, raw_size, parse_errors, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, start_utc, stop_utc, step) DO NOTHING
	`), uuid.NewString(), req.Kind, req.Window.Start.Format(ephemeris.DateLayout), req.Window.Stop.Format(ephemeris.DateLayout),
		req.Step, string(params), buf.Bytes(), run.RawHash, len(run.RawText), run.ParseErrors, fetchedAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("insert ephemeris run: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.log.Info().Str("kind", req.Kind).Str("window", req.Window.String()).Msg("ephemeris run already stored, keeping existing row")
	} else {
		s.log.Info().Str("kind", req.Kind).Str("window", req.Window.String()).
			Str("raw", humanize.Bytes(uint64(len(run.RawText)))).
			Str("compressed", humanize.Bytes(uint64(buf.Len()))).
			Msg("stored ephemeris run")
	}

	rec, err := s.FindEphemerisRun(ctx, req)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("ephemeris run %s %s vanished after insert", req.Kind, req.Window)
	}
	return rec, nil
}

// LoadEphemerisRun decompresses a stored run and re-parses it.
func (s *Store) LoadEphemerisRun(rec *models.EphemerisRun) (*ephemeris.Run, error) {
	gz, err := gzip.NewReader(bytes.NewReader(rec.RawCompressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompress run %s: %w", rec.ID, err)
	}

	var params map[string]string
	if err := json.Unmarshal([]byte(rec.RequestJSON), &params); err != nil {
		return nil, fmt.Errorf("decode request params for run %s: %w", rec.ID, err)
	}

	start, err := time.Parse(ephemeris.DateLayout, rec.StartUTC)
	if err != nil {
		return nil, fmt.Errorf("parse run start: %w", err)
	}
	stop, err := time.Parse(ephemeris.DateLayout, rec.StopUTC)
	if err != nil {
		return nil, fmt.Errorf("parse run stop: %w", err)
	}

	req := ephemeris.Request{Kind: rec.Kind, Window: ephemeris.Window{Start: start, Stop: stop}, Step: rec.Step}
	run, err := ephemeris.Decode(req, params, string(raw))
	if err != nil {
		return nil, err
	}
	if run.RawHash != rec.RawHash {
		return nil, fmt.Errorf("run %s hash mismatch: stored %s, decoded %s", rec.ID, rec.RawHash, run.RawHash)
	}
	return run, nil
}
