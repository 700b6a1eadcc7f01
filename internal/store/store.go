// Package store is the relational persistence layer. The same SQL serves
// sqlite and postgres; placeholders are rebound per driver by sqlx.
package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Store struct {
	db  *sqlx.DB
	log zerolog.Logger
}

// Open connects to the database. sqlite is held to one connection: writes
// serialize, and each new connection to ":memory:" would see an empty
// database.
func Open(driver, dsn string, logger zerolog.Logger) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return New(db, logger), nil
}

func New(db *sqlx.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, log: logger.With().Str("component", "store").Logger()}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) postgres() bool {
	return s.db.DriverName() == DriverPostgres
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
