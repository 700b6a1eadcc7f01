package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/defrag/fragd/internal/models"
)

const (
	AssetTypeStill     = "STILL"
	AssetStatusMissing = "MISSING"
)

// EnsurePublicAsset registers a hash for rendering. An existing row is left
// alone; the renderer owns its status.
func (s *Store) EnsurePublicAsset(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO asset_cache_public (hash, type, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`), hash, AssetTypeStill, AssetStatusMissing, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ensure public asset: %w", err)
	}
	return nil
}

func (s *Store) PublicAsset(ctx context.Context, hash string) (*models.AssetPublic, error) {
	var a models.AssetPublic
	err := s.db.GetContext(ctx, &a, s.db.Rebind(`
		SELECT hash, type, status, created_at FROM asset_cache_public WHERE hash = ?
	`), hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get public asset: %w", err)
	}
	return &a, nil
}

func (s *Store) UpsertPrivateAsset(ctx context.Context, a models.AssetPrivate) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO asset_cache_private (hash, canonical, params_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			canonical = excluded.canonical,
			params_json = excluded.params_json,
			updated_at = excluded.updated_at
	`), a.Hash, a.Canonical, a.ParamsJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert private asset: %w", err)
	}
	return nil
}

func (s *Store) PrivateAsset(ctx context.Context, hash string) (*models.AssetPrivate, error) {
	var a models.AssetPrivate
	err := s.db.GetContext(ctx, &a, s.db.Rebind(`
		SELECT hash, canonical, params_json, updated_at FROM asset_cache_private WHERE hash = ?
	`), hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get private asset: %w", err)
	}
	return &a, nil
}
