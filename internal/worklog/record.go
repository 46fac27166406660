// Package worklog provides the local workout log record type, its wire
// representation, and the repository that persists records in the embedded
// store.
package worklog

import (
	"fmt"
	"time"
)

// Record represents a workout log row in the local database.
//
// Records are created the instant a user logs a workout, online or offline,
// with Synced=false and no ServerID. The sync engine flips Synced and fills
// ServerID once the remote service accepts the record. Authoritative rows
// fetched from the remote service arrive through CacheServerRecords with
// Synced=true from the start.
type Record struct {
	// ===== Identity =====
	LocalID  string `json:"local_id"`            // client-generated, stable, never reused
	ServerID string `json:"server_id,omitempty"` // empty until synced

	// ===== Payload =====
	UserID           string     `json:"user_id"`
	WorkoutDate      time.Time  `json:"workout_date"`
	DurationMinutes  int        `json:"duration_minutes"`
	WorkoutType      string     `json:"workout_type"` // mat, reformer, tower, cardio, ...
	RPE              int        `json:"rpe"`          // rate of perceived exertion, 1-10
	Notes            string     `json:"notes,omitempty"`
	CalorieEstimate  *int       `json:"calorie_estimate,omitempty"`
	FocusAreas       []string   `json:"focus_areas,omitempty"` // ordered tags
	ImageURL         string     `json:"image_url,omitempty"`
	SessionID        string     `json:"session_id,omitempty"`
	StudioID         string     `json:"studio_id,omitempty"`
	CustomStudioName string     `json:"custom_studio_name,omitempty"`
	IsShared         bool       `json:"is_shared"`

	// ===== Bookkeeping =====
	Synced    bool      `json:"synced"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks shape-level invariants on the record. Content validation
// (does the studio exist, is the session real) is the remote service's job.
func (r *Record) Validate() error {
	if r.LocalID == "" {
		return fmt.Errorf("local_id is required")
	}
	if r.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if r.WorkoutType == "" {
		return fmt.Errorf("workout_type is required")
	}
	if r.WorkoutDate.IsZero() {
		return fmt.Errorf("workout_date is required")
	}
	if r.RPE < 1 || r.RPE > 10 {
		return fmt.Errorf("rpe must be between 1 and 10 (got %d)", r.RPE)
	}
	if r.DurationMinutes <= 0 {
		return fmt.Errorf("duration_minutes must be positive (got %d)", r.DurationMinutes)
	}
	// At most one studio reference, mirroring the remote service's constraint.
	if r.StudioID != "" && r.CustomStudioName != "" {
		return fmt.Errorf("studio_id and custom_studio_name are mutually exclusive")
	}
	if r.Synced && r.ServerID == "" {
		return fmt.Errorf("synced record must have a server_id")
	}
	return nil
}

// RemoteWorkoutLog is the wire shape exchanged with the remote service, as
// opposed to the local row representation.
type RemoteWorkoutLog struct {
	ID               string    `json:"id,omitempty"`         // server-assigned
	ClientRef        string    `json:"client_ref,omitempty"` // echoes the local id for at-least-once creates
	UserID           string    `json:"user_id"`
	WorkoutDate      time.Time `json:"workout_date"`
	DurationMinutes  int       `json:"duration_minutes"`
	WorkoutType      string    `json:"workout_type"`
	RPE              int       `json:"rpe"`
	Notes            string    `json:"notes,omitempty"`
	CalorieEstimate  *int      `json:"calorie_estimate,omitempty"`
	FocusAreas       []string  `json:"focus_areas,omitempty"`
	ImageURL         string    `json:"image_url,omitempty"`
	SessionID        string    `json:"session_id,omitempty"`
	StudioID         string    `json:"studio_id,omitempty"`
	CustomStudioName string    `json:"custom_studio_name,omitempty"`
	IsShared         bool      `json:"is_shared"`
	CreatedAt        time.Time `json:"created_at,omitempty"`
	UpdatedAt        time.Time `json:"updated_at,omitempty"`
}

// ToWire maps a local record to its wire representation. Pure - no side
// effects, no store access.
func (r *Record) ToWire() RemoteWorkoutLog {
	return RemoteWorkoutLog{
		ID:               r.ServerID,
		ClientRef:        r.LocalID,
		UserID:           r.UserID,
		WorkoutDate:      r.WorkoutDate,
		DurationMinutes:  r.DurationMinutes,
		WorkoutType:      r.WorkoutType,
		RPE:              r.RPE,
		Notes:            r.Notes,
		CalorieEstimate:  r.CalorieEstimate,
		FocusAreas:       r.FocusAreas,
		ImageURL:         r.ImageURL,
		SessionID:        r.SessionID,
		StudioID:         r.StudioID,
		CustomStudioName: r.CustomStudioName,
		IsShared:         r.IsShared,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

// FromWire maps an authoritative remote row to a local record. The result
// is marked synced; CacheServerRecords assigns a local id on insert.
func FromWire(w RemoteWorkoutLog) *Record {
	return &Record{
		ServerID:         w.ID,
		UserID:           w.UserID,
		WorkoutDate:      w.WorkoutDate,
		DurationMinutes:  w.DurationMinutes,
		WorkoutType:      w.WorkoutType,
		RPE:              w.RPE,
		Notes:            w.Notes,
		CalorieEstimate:  w.CalorieEstimate,
		FocusAreas:       w.FocusAreas,
		ImageURL:         w.ImageURL,
		SessionID:        w.SessionID,
		StudioID:         w.StudioID,
		CustomStudioName: w.CustomStudioName,
		IsShared:         w.IsShared,
		Synced:           true,
		CreatedAt:        w.CreatedAt,
		UpdatedAt:        w.UpdatedAt,
	}
}
