// Package cache is the content-addressed provenance cache for engine
// outputs. Entries are keyed by subject, kind, engine version and a hash of
// the canonicalized inputs; they are never invalidated, only superseded by
// new keys.
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/defrag/fragd/internal/metrics"
)

const (
	KindDailyWeather   = "daily_weather"
	KindBaselineVector = "baseline_vector"
	KindFriction       = "friction"
)

// Key addresses one cached output. DateKey and SecondaryKey are optional
// and stored as empty strings when unused.
type Key struct {
	Subject       string
	Kind          string
	EngineVersion string
	InputsHash    string
	DateKey       string
	SecondaryKey  string
}

func (k Key) String() string {
	return strings.Join([]string{k.Subject, k.Kind, k.EngineVersion, k.InputsHash, k.DateKey, k.SecondaryKey}, "|")
}

// Backend stores encoded outputs. Get reports a miss with ok=false and a
// nil error.
type Backend interface {
	Get(ctx context.Context, key Key) (value []byte, ok bool, err error)
	Put(ctx context.Context, key Key, value []byte) error
}

// CacheWriteError reports a failed write. The computed value is still
// returned to the caller; the next lookup for the key recomputes.
type CacheWriteError struct {
	Key Key
	Err error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("cache write %s: %v", e.Key.Kind, e.Err)
}

func (e *CacheWriteError) Unwrap() error {
	return e.Err
}

// HashInputs returns the sha256 of v rendered as JSON with object keys
// sorted at every level, so logically equal inputs hash equally regardless
// of construction order.
func HashInputs(v any) (string, error) {
	canon, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Canonicalize renders v as JSON with lexicographically sorted object keys.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode inputs: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}
	// encoding/json writes map keys in sorted order.
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("encode canonical inputs: %w", err)
	}
	return out, nil
}

// Cache wraps a Backend with logging and metrics.
type Cache struct {
	backend Backend
	log     zerolog.Logger
}

func New(backend Backend, logger zerolog.Logger) *Cache {
	return &Cache{
		backend: backend,
		log:     logger.With().Str("component", "cache").Logger(),
	}
}

// Get returns the stored bytes for key. Backend errors are logged and
// reported as a miss.
func (c *Cache) Get(ctx context.Context, key Key) ([]byte, bool) {
	value, ok, err := c.backend.Get(ctx, key)
	switch {
	case err != nil:
		metrics.CacheLookupsTotal.WithLabelValues(key.Kind, "error").Inc()
		c.log.Warn().Err(err).Str("kind", key.Kind).Str("subject", key.Subject).Msg("cache read failed, recomputing")
		return nil, false
	case !ok:
		metrics.CacheLookupsTotal.WithLabelValues(key.Kind, "miss").Inc()
		return nil, false
	default:
		metrics.CacheLookupsTotal.WithLabelValues(key.Kind, "hit").Inc()
		return value, true
	}
}

// Put stores value under key. A failure is returned as *CacheWriteError.
func (c *Cache) Put(ctx context.Context, key Key, value []byte) error {
	if err := c.backend.Put(ctx, key, value); err != nil {
		return &CacheWriteError{Key: key, Err: err}
	}
	return nil
}

// Load is a typed read-through. On a hit the stored value is decoded and
// compute is not called. On a miss the computed value is stored; a write
// failure is logged and counted but the value is still returned.
func Load[T any](ctx context.Context, c *Cache, key Key, compute func() (T, error)) (T, error) {
	if raw, ok := c.Get(ctx, key); ok {
		var v T
		err := json.Unmarshal(raw, &v)
		if err == nil {
			return v, nil
		}
		c.log.Warn().Err(err).Str("kind", key.Kind).Str("subject", key.Subject).Msg("undecodable cache entry, recomputing")
	}

	v, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		c.recordWriteFailure(&CacheWriteError{Key: key, Err: err})
		return v, nil
	}
	if err := c.Put(ctx, key, raw); err != nil {
		c.recordWriteFailure(err)
	}
	return v, nil
}

func (c *Cache) recordWriteFailure(err error) {
	var kind string
	if we, ok := err.(*CacheWriteError); ok {
		kind = we.Key.Kind
	}
	metrics.CacheWriteFailures.WithLabelValues(kind).Inc()
	c.log.Error().Err(err).Str("kind", kind).Msg("cache write failed")
}
