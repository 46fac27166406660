// Package store provides the embedded SQLite database that backs the
// offline-first workout log engine.
//
// The database lives entirely on the device and owns three record kinds:
// locally cached workout logs, a generic mutation queue, and a small
// key-value aggregate cache. It runs in embedded mode with WAL enabled so
// reads stay concurrent with the single logical writer.
//
// Architecture:
//   - Database file: ~/.logsync/logsync.db (configurable)
//   - WAL mode: concurrent readers during writes
//   - Schema: workout_logs, sync_queue, aggregate_cache tables
//   - Indexes: user+date listing, unsynced scan, queue FIFO by creation time
//
// The store performs no retries of its own. A failed statement (disk full,
// corrupted file) propagates to the caller uninterpreted.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// TimeFormat is the fixed-width RFC 3339 layout used for every timestamp
// column. The width is fixed (no trailing-zero trimming) so that stored
// values sort lexicographically in chronological order.
const TimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t in the canonical column layout, normalized to UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime parses a timestamp column value.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeFormat, s)
}

// Store wraps the SQLite connection with schema management.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it is created; call InitSchema before
// first use. The caller MUST call Close when done.
//
// Example:
//
//	st, err := store.Open("~/.logsync/logsync.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &Store{
		conn: conn,
		path: path,
	}

	// Enable WAL mode for concurrent reads
	if _, err := st.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to 5 seconds
	if _, err := st.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := st.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return st, nil
}

// RawDB returns the underlying sql.DB connection.
// This is what the repository, queue, and cache layers execute against.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the filesystem path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
//
// This creates the workout_logs, sync_queue, and aggregate_cache tables
// along with the indexes the repository and queue depend on. Idempotent -
// safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	-- Locally cached workout logs. local_id is client-generated and stable;
	-- server_id stays NULL until the record has been accepted upstream.
	CREATE TABLE IF NOT EXISTS workout_logs (
		local_id TEXT PRIMARY KEY,
		server_id TEXT UNIQUE,
		user_id TEXT NOT NULL,
		workout_date TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL,
		workout_type TEXT NOT NULL,
		rpe INTEGER NOT NULL,
		notes TEXT,
		calorie_estimate INTEGER,
		focus_areas TEXT,  -- JSON array
		image_url TEXT,
		session_id TEXT,
		studio_id TEXT,
		custom_studio_name TEXT,
		is_shared INTEGER NOT NULL DEFAULT 0,
		synced INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Durable mutation queue. entity_type is a free-form tag so new entity
	-- kinds can be queued without a schema migration.
	CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		operation TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 5,
		created_at TEXT NOT NULL,
		last_attempted_at TEXT
	);

	-- Small key-value cache for remote aggregates (stats snapshots).
	CREATE TABLE IF NOT EXISTS aggregate_cache (
		key TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		cached_at TEXT NOT NULL
	);

	-- Indexes for common queries
	CREATE INDEX IF NOT EXISTS idx_logs_user_date
	    ON workout_logs(user_id, workout_date);
	CREATE INDEX IF NOT EXISTS idx_logs_synced ON workout_logs(synced);
	CREATE INDEX IF NOT EXISTS idx_queue_created ON sync_queue(created_at);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

var (
	sharedMu sync.Mutex
	shared   *Store
)

// Shared returns the process-wide store handle, opening it lazily on first
// access and memoizing it for the process lifetime. Subsequent calls ignore
// path and return the memoized handle.
//
// The schema is initialized as part of the first open.
func Shared(path string) (*Store, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared != nil {
		return shared, nil
	}

	st, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(); err != nil {
		_ = st.Close()
		return nil, err
	}

	shared = st
	return shared, nil
}

// CloseShared closes the memoized handle and clears the reference so the
// next Shared call reopens. Used in tests and process teardown.
func CloseShared() error {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared == nil {
		return nil
	}

	err := shared.Close()
	shared = nil
	return err
}
