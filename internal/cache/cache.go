// Package cache provides the small key-value cache for remote aggregates
// (stats snapshots). Entries carry the time they were cached; a read older
// than the caller's max age is treated as a miss.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/studiofit/logsync/internal/store"
)

// StatsKey is the cache key for the aggregate stats snapshot written after
// a successful sync pass.
const StatsKey = "aggregate_stats"

// Cache persists opaque JSON payloads keyed by string.
type Cache struct {
	conn *sql.DB
}

// New creates a cache backed by the given store.
func New(st *store.Store) *Cache {
	return &Cache{conn: st.RawDB()}
}

// Put writes the payload under key, overwriting any existing entry and
// stamping the cache time.
func (c *Cache) Put(ctx context.Context, key string, data json.RawMessage) error {
	query := `
	INSERT INTO aggregate_cache (key, data, cached_at)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		data = excluded.data,
		cached_at = excluded.cached_at
	`
	if _, err := c.conn.ExecContext(ctx, query, key, string(data), store.FormatTime(time.Now())); err != nil {
		return fmt.Errorf("failed to cache %s: %w", key, err)
	}
	return nil
}

// Get returns the payload for key if it was cached within maxAge, or nil
// when the key is absent or stale. A stale entry is left in place; the next
// Put overwrites it.
func (c *Cache) Get(ctx context.Context, key string, maxAge time.Duration) (json.RawMessage, error) {
	var data, cachedAt string
	err := c.conn.QueryRowContext(ctx,
		`SELECT data, cached_at FROM aggregate_cache WHERE key = ?`, key).Scan(&data, &cachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}

	at, err := store.ParseTime(cachedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cached_at for %s: %w", key, err)
	}

	if time.Since(at) > maxAge {
		return nil, nil
	}

	return json.RawMessage(data), nil
}

// Clear wipes every entry. Called wholesale on logout.
func (c *Cache) Clear(ctx context.Context) error {
	if _, err := c.conn.ExecContext(ctx, `DELETE FROM aggregate_cache`); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}
