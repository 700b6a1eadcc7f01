package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/defrag/fragd/internal/models"
)

// UpsertFrictionEvent writes one event per (user, connection, date, engine
// version). A rerun overwrites the scores in place and keeps the row id,
// which is returned.
func (s *Store) UpsertFrictionEvent(ctx context.Context, e models.FrictionEvent) (string, error) {
	now := time.Now().UTC()
	var id string
	err := s.db.GetContext(ctx, &id, s.db.Rebind(`
		INSERT INTO friction_events
		(id, user_id, connection_id, event_date, engine_version, pressure_score, friction_score, delta,
		 primary_gate, fidelity, asset_hash, provenance_hash, run_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, connection_id, event_date, engine_version) DO UPDATE SET
			pressure_score = excluded.pressure_score,
			friction_score = excluded.friction_score,
			delta = excluded.delta,
			primary_gate = excluded.primary_gate,
			fidelity = excluded.fidelity,
			asset_hash = excluded.asset_hash,
			provenance_hash = excluded.provenance_hash,
			run_id = excluded.run_id,
			updated_at = excluded.updated_at
		RETURNING id
	`), uuid.NewString(), e.UserID, e.ConnectionID, e.EventDate, e.EngineVersion, e.PressureScore, e.FrictionScore,
		e.Delta, e.PrimaryGate, e.Fidelity, e.AssetHash, e.ProvenanceHash, e.RunID, now, now)
	if err != nil {
		return "", fmt.Errorf("upsert friction event %s/%s/%s: %w", e.UserID, e.ConnectionID, e.EventDate, err)
	}
	return id, nil
}

const frictionEventColumns = `id, user_id, connection_id, event_date, engine_version, pressure_score, friction_score,
	delta, primary_gate, fidelity, asset_hash, provenance_hash, run_id, created_at, updated_at`

// LatestEventBefore returns the most recent event for the pair dated
// strictly before date, or nil.
func (s *Store) LatestEventBefore(ctx context.Context, userID, connectionID, engineVersion, date string) (*models.FrictionEvent, error) {
	var e models.FrictionEvent
	err := s.db.GetContext(ctx, &e, s.db.Rebind(`
		SELECT `+frictionEventColumns+`
		FROM friction_events
		WHERE user_id = ? AND connection_id = ? AND engine_version = ? AND event_date < ?
		ORDER BY event_date DESC
		LIMIT 1
	`), userID, connectionID, engineVersion, date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest event before %s: %w", date, err)
	}
	return &e, nil
}

func (s *Store) FrictionEvents(ctx context.Context, userID, date, engineVersion string) ([]models.FrictionEvent, error) {
	var events []models.FrictionEvent
	err := s.db.SelectContext(ctx, &events, s.db.Rebind(`
		SELECT `+frictionEventColumns+`
		FROM friction_events
		WHERE user_id = ? AND event_date = ? AND engine_version = ?
		ORDER BY connection_id
	`), userID, date, engineVersion)
	if err != nil {
		return nil, fmt.Errorf("list friction events: %w", err)
	}
	return events, nil
}

// UpsertFrag writes the single frag for (user, date, engine version).
func (s *Store) UpsertFrag(ctx context.Context, f models.Frag) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO daily_frags
		(id, user_id, local_date, engine_version, top_event_id, simple_text_state, simple_text_action, asset_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, local_date, engine_version) DO UPDATE SET
			top_event_id = excluded.top_event_id,
			simple_text_state = excluded.simple_text_state,
			simple_text_action = excluded.simple_text_action,
			asset_hash = excluded.asset_hash,
			updated_at = excluded.updated_at
	`), uuid.NewString(), f.UserID, f.LocalDate, f.EngineVersion, f.TopEventID, f.SimpleTextState,
		f.SimpleTextAction, f.AssetHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert frag %s/%s: %w", f.UserID, f.LocalDate, err)
	}
	return nil
}

// Frag returns the materialized frag, or nil if none exists.
func (s *Store) Frag(ctx context.Context, userID, date, engineVersion string) (*models.Frag, error) {
	var f models.Frag
	err := s.db.GetContext(ctx, &f, s.db.Rebind(`
		SELECT id, user_id, local_date, engine_version, top_event_id, simple_text_state, simple_text_action, asset_hash, updated_at
		FROM daily_frags
		WHERE user_id = ? AND local_date = ? AND engine_version = ?
	`), userID, date, engineVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get frag: %w", err)
	}
	return &f, nil
}

func (s *Store) CountFrags(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM daily_frags WHERE user_id = ?`), userID)
	return n, err
}
