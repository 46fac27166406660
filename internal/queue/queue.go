// Package queue provides the durable mutation queue: retryable side effects
// against the remote service beyond the plain workout-log create path.
//
// Items are tagged with a free-form entity type rather than a typed
// reference, so new entity kinds can be queued without a schema migration.
// Dispatch happens through a handler registry keyed by (entity type,
// operation); payloads are decoded into concrete types at the registry
// boundary so the rest of the engine never handles untyped data.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/studiofit/logsync/internal/store"
)

// DefaultMaxRetries is the retry budget for queued mutations. Workout log
// creates are not queued here - they live on the unsynced flag and retry
// indefinitely.
const DefaultMaxRetries = 5

// Operation identifies what a queued mutation does to its entity.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Item is one durable, retryable mutation.
type Item struct {
	ID              int64           `json:"id"`
	Operation       Operation       `json:"operation"`
	EntityType      string          `json:"entity_type"`
	EntityID        string          `json:"entity_id"` // local or server id depending on stage
	Payload         json.RawMessage `json:"payload"`
	RetryCount      int             `json:"retry_count"`
	MaxRetries      int             `json:"max_retries"`
	CreatedAt       time.Time       `json:"created_at"`
	LastAttemptedAt *time.Time      `json:"last_attempted_at,omitempty"`
}

// Dead reports whether the item has exhausted its retry budget. Dead items
// are kept in place for diagnostics and never processed again.
func (i *Item) Dead() bool {
	return i.RetryCount >= i.MaxRetries
}

// Queue persists mutation items in the embedded store.
type Queue struct {
	conn *sql.DB
}

// NewQueue creates a queue backed by the given store.
func NewQueue(st *store.Store) *Queue {
	return &Queue{conn: st.RawDB()}
}

// Enqueue appends a mutation with the default retry budget and returns it.
func (q *Queue) Enqueue(ctx context.Context, op Operation, entityType, entityID string, payload json.RawMessage) (*Item, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("unknown operation %q", op)
	}
	if entityType == "" {
		return nil, fmt.Errorf("entity_type is required")
	}

	item := &Item{
		Operation:  op,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
		MaxRetries: DefaultMaxRetries,
		CreatedAt:  time.Now(),
	}

	query := `
	INSERT INTO sync_queue (operation, entity_type, entity_id, payload,
		retry_count, max_retries, created_at, last_attempted_at)
	VALUES (?, ?, ?, ?, 0, ?, ?, NULL)
	`

	res, err := q.conn.ExecContext(ctx, query,
		string(item.Operation),
		item.EntityType,
		item.EntityID,
		string(item.Payload),
		item.MaxRetries,
		store.FormatTime(item.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s %s: %w", op, entityType, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue item id: %w", err)
	}
	item.ID = id

	return item, nil
}

// All returns every queue item, dead or alive, ordered FIFO by creation
// time. Eligibility filtering is the caller's job - see Eligible.
func (q *Queue) All(ctx context.Context) ([]*Item, error) {
	query := `
	SELECT id, operation, entity_type, entity_id, payload,
	       retry_count, max_retries, created_at, last_attempted_at
	FROM sync_queue
	ORDER BY created_at ASC, id ASC
	`

	rows, err := q.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// DeadLetters returns items that have exhausted their retry budget,
// retained for diagnostics.
func (q *Queue) DeadLetters(ctx context.Context) ([]*Item, error) {
	query := `
	SELECT id, operation, entity_type, entity_id, payload,
	       retry_count, max_retries, created_at, last_attempted_at
	FROM sync_queue
	WHERE retry_count >= max_retries
	ORDER BY created_at ASC, id ASC
	`

	rows, err := q.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// Delete removes an item after successful dispatch.
// Returns nil if the item doesn't exist (idempotent).
func (q *Queue) Delete(ctx context.Context, id int64) error {
	if _, err := q.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete queue item %d: %w", id, err)
	}
	return nil
}

// RecordFailure increments the retry count and stamps the attempt time.
func (q *Queue) RecordFailure(ctx context.Context, id int64, attemptedAt time.Time) error {
	query := `
	UPDATE sync_queue
	SET retry_count = retry_count + 1, last_attempted_at = ?
	WHERE id = ?
	`
	if _, err := q.conn.ExecContext(ctx, query, store.FormatTime(attemptedAt), id); err != nil {
		return fmt.Errorf("failed to record failure for queue item %d: %w", id, err)
	}
	return nil
}

// PendingCount returns the number of items still inside their retry budget.
// Pure read - it must never trigger a sync pass as a side effect.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := q.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE retry_count < max_retries`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending queue items: %w", err)
	}
	return count, nil
}

// scanItems is a helper to scan queue items from query results.
func scanItems(rows *sql.Rows) ([]*Item, error) {
	var items []*Item

	for rows.Next() {
		var item Item
		var op, payload, createdAt string
		var lastAttempted sql.NullString

		err := rows.Scan(
			&item.ID,
			&op,
			&item.EntityType,
			&item.EntityID,
			&payload,
			&item.RetryCount,
			&item.MaxRetries,
			&createdAt,
			&lastAttempted,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}

		item.Operation = Operation(op)
		item.Payload = json.RawMessage(payload)

		if t, err := store.ParseTime(createdAt); err == nil {
			item.CreatedAt = t
		}
		if lastAttempted.Valid {
			if t, err := store.ParseTime(lastAttempted.String); err == nil {
				item.LastAttemptedAt = &t
			}
		}

		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue items: %w", err)
	}

	return items, nil
}
