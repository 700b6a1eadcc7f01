package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/defrag/fragd/internal/cache"
)

// Outputs is the durable cache.Backend over engine_outputs.
type Outputs struct {
	s *Store
}

func (s *Store) Outputs() *Outputs {
	return &Outputs{s: s}
}

func (o *Outputs) Get(ctx context.Context, key cache.Key) ([]byte, bool, error) {
	var out string
	err := o.s.db.GetContext(ctx, &out, o.s.db.Rebind(`
		SELECT output_json FROM engine_outputs
		WHERE subject = ? AND kind = ? AND engine_version = ? AND inputs_hash = ? AND date_key = ? AND secondary_key = ?
	`), key.Subject, key.Kind, key.EngineVersion, key.InputsHash, key.DateKey, key.SecondaryKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(out), true, nil
}

// Put upserts. Equal keys carry equal inputs, so a concurrent writer
// stores the same value and the last write wins.
func (o *Outputs) Put(ctx context.Context, key cache.Key, value []byte) error {
	_, err := o.s.db.ExecContext(ctx, o.s.db.Rebind(`
		INSERT INTO engine_outputs
		(subject, kind, engine_version, inputs_hash, date_key, secondary_key, output_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject, kind, engine_version, inputs_hash, date_key, secondary_key) DO UPDATE SET
			output_json = excluded.output_json,
			created_at = excluded.created_at
	`), key.Subject, key.Kind, key.EngineVersion, key.InputsHash, key.DateKey, key.SecondaryKey, string(value), time.Now().UTC())
	return err
}
