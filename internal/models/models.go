package models

import (
	"database/sql"
	"time"
)

type UserContext struct {
	UserID    string    `db:"user_id"`
	Timezone  string    `db:"timezone"`
	City      string    `db:"city"`
	UpdatedAt time.Time `db:"updated_at"`
}

// BirthData is what is known about a subject's birth. Empty BirthTime or
// BirthCity means unknown.
type BirthData struct {
	DOB           string `db:"dob"`        // YYYY-MM-DD
	BirthTime     string `db:"birth_time"` // HH:MM
	BirthCity     string `db:"birth_city"`
	BirthTimezone string `db:"birth_timezone"`
}

type Baseline struct {
	UserID string `db:"user_id"`
	BirthData
	UpdatedAt time.Time `db:"updated_at"`
}

type Connection struct {
	ID     string `db:"id"`
	UserID string `db:"user_id"`
	Name   string `db:"name"`
	BirthData
	CreatedAt time.Time `db:"created_at"`
}

type PinnedConnection struct {
	UserID       string    `db:"user_id"`
	ConnectionID string    `db:"connection_id"`
	PinnedAt     time.Time `db:"pinned_at"`
}

type FrictionEvent struct {
	ID             string    `db:"id"`
	UserID         string    `db:"user_id"`
	ConnectionID   string    `db:"connection_id"`
	EventDate      string    `db:"event_date"` // user's local date
	EngineVersion  string    `db:"engine_version"`
	PressureScore  int       `db:"pressure_score"`
	FrictionScore  int       `db:"friction_score"`
	Delta          int       `db:"delta"`
	PrimaryGate    string    `db:"primary_gate"`
	Fidelity       string    `db:"fidelity"` // HIGH, MEDIUM, LOW
	AssetHash      string    `db:"asset_hash"`
	ProvenanceHash string    `db:"provenance_hash"`
	RunID          string    `db:"run_id"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

type Frag struct {
	ID               string    `db:"id"`
	UserID           string    `db:"user_id"`
	LocalDate        string    `db:"local_date"`
	EngineVersion    string    `db:"engine_version"`
	TopEventID       string    `db:"top_event_id"`
	SimpleTextState  string    `db:"simple_text_state"`
	SimpleTextAction string    `db:"simple_text_action"`
	AssetHash        string    `db:"asset_hash"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// AssetPublic is the only asset record addressable from outside.
type AssetPublic struct {
	Hash      string    `db:"hash"`
	Type      string    `db:"type"`   // STILL
	Status    string    `db:"status"` // MISSING until a renderer fills it
	CreatedAt time.Time `db:"created_at"`
}

// AssetPrivate holds the bucket parameters behind a public hash.
type AssetPrivate struct {
	Hash       string    `db:"hash"`
	Canonical  string    `db:"canonical"`
	ParamsJSON string    `db:"params_json"`
	UpdatedAt  time.Time `db:"updated_at"`
}

type EphemerisRun struct {
	ID            string    `db:"id"`
	Kind          string    `db:"kind"`
	StartUTC      string    `db:"start_utc"`
	StopUTC       string    `db:"stop_utc"`
	Step          string    `db:"step"`
	RequestJSON   string    `db:"request_json"`
	RawCompressed []byte    `db:"raw_compressed"`
	RawHash       string    `db:"raw_hash"`
	RawSize       int64     `db:"raw_size"`
	ParseErrors   int       `db:"parse_errors"`
	FetchedAt     time.Time `db:"fetched_at"`
}

type BatchRun struct {
	ID             string         `db:"id"`
	UTCDate        string         `db:"utc_date"`
	RunTS          time.Time      `db:"run_ts"`
	StartedAt      time.Time      `db:"started_at"`
	FinishedAt     sql.NullTime   `db:"finished_at"`
	NasaRawHash    sql.NullString `db:"nasa_raw_hash"`
	UsersProcessed int            `db:"users_processed"`
	EventsWritten  int            `db:"events_written"`
	FragsWritten   int            `db:"frags_written"`
	ErrorCount     int            `db:"error_count"`
	ErrorsJSON     sql.NullString `db:"errors_json"`
	Success        bool           `db:"success"`
}
