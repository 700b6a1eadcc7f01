package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/defrag/fragd/internal/models"
)

// PinnedUsers lists distinct users with at least one pinned connection.
func (s *Store) PinnedUsers(ctx context.Context, limit int) ([]string, error) {
	var users []string
	err := s.db.SelectContext(ctx, &users, s.db.Rebind(`
		SELECT DISTINCT user_id FROM pinned_connections ORDER BY user_id LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("list pinned users: %w", err)
	}
	return users, nil
}

// UserContext returns the user's location context, or nil if unset.
func (s *Store) UserContext(ctx context.Context, userID string) (*models.UserContext, error) {
	var uc models.UserContext
	err := s.db.GetContext(ctx, &uc, s.db.Rebind(`
		SELECT user_id, timezone, city, updated_at FROM user_context WHERE user_id = ?
	`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user context %s: %w", userID, err)
	}
	return &uc, nil
}

func (s *Store) UpsertUserContext(ctx context.Context, uc models.UserContext) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO user_context (user_id, timezone, city, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			timezone = excluded.timezone,
			city = excluded.city,
			updated_at = excluded.updated_at
	`), uc.UserID, uc.Timezone, uc.City, time.Now().UTC())
	return err
}

// Baseline returns the user's own birth data, or nil if unset.
func (s *Store) Baseline(ctx context.Context, userID string) (*models.Baseline, error) {
	var b models.Baseline
	err := s.db.GetContext(ctx, &b, s.db.Rebind(`
		SELECT user_id, dob, birth_time, birth_city, birth_timezone, updated_at
		FROM baselines WHERE user_id = ?
	`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get baseline %s: %w", userID, err)
	}
	return &b, nil
}

func (s *Store) UpsertBaseline(ctx context.Context, b models.Baseline) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO baselines (user_id, dob, birth_time, birth_city, birth_timezone, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			dob = excluded.dob,
			birth_time = excluded.birth_time,
			birth_city = excluded.birth_city,
			birth_timezone = excluded.birth_timezone,
			updated_at = excluded.updated_at
	`), b.UserID, b.DOB, b.BirthTime, b.BirthCity, b.BirthTimezone, time.Now().UTC())
	return err
}

func (s *Store) UpsertConnection(ctx context.Context, c models.Connection) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO connections (id, user_id, name, dob, birth_time, birth_city, birth_timezone, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			dob = excluded.dob,
			birth_time = excluded.birth_time,
			birth_city = excluded.birth_city,
			birth_timezone = excluded.birth_timezone
	`), c.ID, c.UserID, c.Name, c.DOB, c.BirthTime, c.BirthCity, c.BirthTimezone, time.Now().UTC())
	return err
}

// PinConnection pins a connection for a user. Re-pinning keeps the
// original pin time.
func (s *Store) PinConnection(ctx context.Context, userID, connectionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO pinned_connections (user_id, connection_id, pinned_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, connection_id) DO NOTHING
	`), userID, connectionID, at.UTC())
	return err
}

// PinnedConnections returns up to limit of the user's pinned connections in
// pin order. Pins whose connection row is gone, or belongs to another user,
// are skipped.
func (s *Store) PinnedConnections(ctx context.Context, userID string, limit int) ([]models.Connection, error) {
	var conns []models.Connection
	err := s.db.SelectContext(ctx, &conns, s.db.Rebind(`
		SELECT c.id, c.user_id, c.name, c.dob, c.birth_time, c.birth_city, c.birth_timezone, c.created_at
		FROM pinned_connections p
		JOIN connections c ON c.id = p.connection_id AND c.user_id = p.user_id
		WHERE p.user_id = ?
		ORDER BY p.pinned_at, p.connection_id
		LIMIT ?
	`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list pinned connections for %s: %w", userID, err)
	}
	return conns, nil
}
