package worklog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/studiofit/logsync/internal/store"
)

// Repository provides CRUD over local workout log rows and translates
// between the wire representation and the row representation.
type Repository struct {
	conn *sql.DB
}

// NewRepository creates a repository backed by the given store.
func NewRepository(st *store.Store) *Repository {
	return &Repository{conn: st.RawDB()}
}

// NewLogFields carries the user-entered payload for a locally created log.
type NewLogFields struct {
	WorkoutDate      time.Time
	DurationMinutes  int
	WorkoutType      string
	RPE              int
	Notes            string
	CalorieEstimate  *int
	FocusAreas       []string
	ImageURL         string
	SessionID        string
	StudioID         string
	CustomStudioName string
	IsShared         bool
}

// SaveLocally inserts a new workout log row with a fresh client-generated
// local id, Synced=false and no server id, and returns the record.
//
// The insert is a single atomic statement: either the row exists afterwards
// or the error propagates to the caller with no intermediate state.
func (r *Repository) SaveLocally(ctx context.Context, userID string, fields NewLogFields) (*Record, error) {
	now := time.Now()
	rec := &Record{
		LocalID:          uuid.NewString(),
		UserID:           userID,
		WorkoutDate:      fields.WorkoutDate,
		DurationMinutes:  fields.DurationMinutes,
		WorkoutType:      fields.WorkoutType,
		RPE:              fields.RPE,
		Notes:            fields.Notes,
		CalorieEstimate:  fields.CalorieEstimate,
		FocusAreas:       fields.FocusAreas,
		ImageURL:         fields.ImageURL,
		SessionID:        fields.SessionID,
		StudioID:         fields.StudioID,
		CustomStudioName: fields.CustomStudioName,
		IsShared:         fields.IsShared,
		Synced:           false,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workout log: %w", err)
	}

	focusJSON, err := json.Marshal(rec.FocusAreas)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal focus areas: %w", err)
	}

	query := `
	INSERT INTO workout_logs (
		local_id, server_id, user_id, workout_date, duration_minutes,
		workout_type, rpe, notes, calorie_estimate, focus_areas,
		image_url, session_id, studio_id, custom_studio_name, is_shared,
		synced, created_at, updated_at
	) VALUES (?, NULL, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`

	_, err = r.conn.ExecContext(ctx, query,
		rec.LocalID,
		rec.UserID,
		store.FormatTime(rec.WorkoutDate),
		rec.DurationMinutes,
		rec.WorkoutType,
		rec.RPE,
		nullableString(rec.Notes),
		nullableInt(rec.CalorieEstimate),
		string(focusJSON),
		nullableString(rec.ImageURL),
		nullableString(rec.SessionID),
		nullableString(rec.StudioID),
		nullableString(rec.CustomStudioName),
		boolToInt(rec.IsShared),
		store.FormatTime(rec.CreatedAt),
		store.FormatTime(rec.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert workout log: %w", err)
	}

	return rec, nil
}

// CacheServerRecords upserts authoritative rows from the remote service,
// keyed by server id, always setting synced=true. An existing row with the
// same server id is overwritten unconditionally - the remote is
// authoritative.
func (r *Repository) CacheServerRecords(ctx context.Context, records []RemoteWorkoutLog) error {
	query := `
	INSERT INTO workout_logs (
		local_id, server_id, user_id, workout_date, duration_minutes,
		workout_type, rpe, notes, calorie_estimate, focus_areas,
		image_url, session_id, studio_id, custom_studio_name, is_shared,
		synced, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	ON CONFLICT(server_id) DO UPDATE SET
		user_id = excluded.user_id,
		workout_date = excluded.workout_date,
		duration_minutes = excluded.duration_minutes,
		workout_type = excluded.workout_type,
		rpe = excluded.rpe,
		notes = excluded.notes,
		calorie_estimate = excluded.calorie_estimate,
		focus_areas = excluded.focus_areas,
		image_url = excluded.image_url,
		session_id = excluded.session_id,
		studio_id = excluded.studio_id,
		custom_studio_name = excluded.custom_studio_name,
		is_shared = excluded.is_shared,
		synced = 1,
		updated_at = excluded.updated_at
	`

	for _, w := range records {
		if w.ID == "" {
			return fmt.Errorf("server record without id for user %s", w.UserID)
		}

		rec := FromWire(w)
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now()
		}
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = rec.CreatedAt
		}

		focusJSON, err := json.Marshal(rec.FocusAreas)
		if err != nil {
			return fmt.Errorf("failed to marshal focus areas: %w", err)
		}

		_, err = r.conn.ExecContext(ctx, query,
			uuid.NewString(),
			rec.ServerID,
			rec.UserID,
			store.FormatTime(rec.WorkoutDate),
			rec.DurationMinutes,
			rec.WorkoutType,
			rec.RPE,
			nullableString(rec.Notes),
			nullableInt(rec.CalorieEstimate),
			string(focusJSON),
			nullableString(rec.ImageURL),
			nullableString(rec.SessionID),
			nullableString(rec.StudioID),
			nullableString(rec.CustomStudioName),
			boolToInt(rec.IsShared),
			store.FormatTime(rec.CreatedAt),
			store.FormatTime(rec.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to cache server record %s: %w", rec.ServerID, err)
		}
	}

	return nil
}

// ListLocal returns the user's logs ordered by workout date descending,
// then created_at descending. Pure read, never touches the network.
func (r *Repository) ListLocal(ctx context.Context, userID string, limit int) ([]*Record, error) {
	query := `
	SELECT ` + recordColumns + `
	FROM workout_logs
	WHERE user_id = ?
	ORDER BY workout_date DESC, created_at DESC
	`
	args := []interface{}{userID}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workout logs: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ListUnsynced returns every record with synced=false ordered by created_at
// ascending - oldest first, so no record starves behind newer ones.
func (r *Repository) ListUnsynced(ctx context.Context) ([]*Record, error) {
	query := `
	SELECT ` + recordColumns + `
	FROM workout_logs
	WHERE synced = 0
	ORDER BY created_at ASC, local_id ASC
	`

	rows, err := r.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced logs: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// MarkSynced records the server-assigned id and flips the synced flag.
// Idempotent: calling it twice with the same arguments leaves the row in
// the same state as calling it once.
//
// A replayed create (accepted remotely, local write lost, resubmitted next
// pass) can return a server id that a cache refresh already pulled down
// under its own local id. The synced duplicate is removed in the same
// transaction so the update cannot hit the server_id UNIQUE constraint; the
// user's row keeps its stable local id.
func (r *Repository) MarkSynced(ctx context.Context, localID, serverID string) error {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to mark %s synced: %w", localID, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM workout_logs WHERE server_id = ? AND local_id != ? AND synced = 1`,
		serverID, localID)
	if err != nil {
		return fmt.Errorf("failed to mark %s synced: %w", localID, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE workout_logs SET server_id = ?, synced = 1 WHERE local_id = ?`,
		serverID, localID)
	if err != nil {
		return fmt.Errorf("failed to mark %s synced: %w", localID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to mark %s synced: %w", localID, err)
	}
	return nil
}

// DeleteLocal removes a row unconditionally. It does not cascade to the
// sync queue: a queued mutation for a deleted row fails harmlessly upstream
// and is discarded by normal retry exhaustion.
func (r *Repository) DeleteLocal(ctx context.Context, localID string) error {
	query := `DELETE FROM workout_logs WHERE local_id = ?`
	if _, err := r.conn.ExecContext(ctx, query, localID); err != nil {
		return fmt.Errorf("failed to delete workout log %s: %w", localID, err)
	}
	return nil
}

// GetByLocalID retrieves a single record.
// Returns sql.ErrNoRows if no such row exists.
func (r *Repository) GetByLocalID(ctx context.Context, localID string) (*Record, error) {
	query := `
	SELECT ` + recordColumns + `
	FROM workout_logs
	WHERE local_id = ?
	`

	rows, err := r.conn.QueryContext(ctx, query, localID)
	if err != nil {
		return nil, fmt.Errorf("failed to get workout log %s: %w", localID, err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, sql.ErrNoRows
	}
	return recs[0], nil
}

// CountUnsynced returns the number of rows still waiting on the engine.
func (r *Repository) CountUnsynced(ctx context.Context) (int, error) {
	var count int
	err := r.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM workout_logs WHERE synced = 0").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unsynced logs: %w", err)
	}
	return count, nil
}

// PruneSynced keeps only the user's most recent keep synced rows, ordered
// by workout date. Unsynced rows are never evicted - a log that hasn't
// reached the server yet must survive cache trims.
func (r *Repository) PruneSynced(ctx context.Context, userID string, keep int) error {
	if keep <= 0 {
		return fmt.Errorf("keep must be positive (got %d)", keep)
	}

	query := `
	DELETE FROM workout_logs
	WHERE user_id = ? AND synced = 1 AND local_id NOT IN (
		SELECT local_id FROM workout_logs
		WHERE user_id = ? AND synced = 1
		ORDER BY workout_date DESC, created_at DESC
		LIMIT ?
	)
	`

	if _, err := r.conn.ExecContext(ctx, query, userID, userID, keep); err != nil {
		return fmt.Errorf("failed to prune synced logs: %w", err)
	}
	return nil
}

const recordColumns = `local_id, server_id, user_id, workout_date,
	       duration_minutes, workout_type, rpe, notes, calorie_estimate,
	       focus_areas, image_url, session_id, studio_id,
	       custom_studio_name, is_shared, synced, created_at, updated_at`

// scanRecords is a helper to scan multiple records from query results.
func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record

	for rows.Next() {
		var rec Record
		var serverID, notes, imageURL, sessionID, studioID, customStudio sql.NullString
		var calories sql.NullInt64
		var focusJSON sql.NullString
		var workoutDate, createdAt, updatedAt string
		var isShared, synced int

		err := rows.Scan(
			&rec.LocalID,
			&serverID,
			&rec.UserID,
			&workoutDate,
			&rec.DurationMinutes,
			&rec.WorkoutType,
			&rec.RPE,
			&notes,
			&calories,
			&focusJSON,
			&imageURL,
			&sessionID,
			&studioID,
			&customStudio,
			&isShared,
			&synced,
			&createdAt,
			&updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workout log: %w", err)
		}

		rec.ServerID = serverID.String
		rec.Notes = notes.String
		rec.ImageURL = imageURL.String
		rec.SessionID = sessionID.String
		rec.StudioID = studioID.String
		rec.CustomStudioName = customStudio.String
		rec.IsShared = isShared != 0
		rec.Synced = synced != 0

		if calories.Valid {
			v := int(calories.Int64)
			rec.CalorieEstimate = &v
		}

		if t, err := store.ParseTime(workoutDate); err == nil {
			rec.WorkoutDate = t
		}
		if t, err := store.ParseTime(createdAt); err == nil {
			rec.CreatedAt = t
		}
		if t, err := store.ParseTime(updatedAt); err == nil {
			rec.UpdatedAt = t
		}

		if focusJSON.Valid && focusJSON.String != "" && focusJSON.String != "null" {
			if err := json.Unmarshal([]byte(focusJSON.String), &rec.FocusAreas); err != nil {
				return nil, fmt.Errorf("failed to unmarshal focus areas: %w", err)
			}
		} else {
			rec.FocusAreas = []string{}
		}

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workout logs: %w", err)
	}

	return records, nil
}

// nullableString converts "" to SQL NULL.
func nullableString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullableInt converts a nil pointer to SQL NULL.
func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
