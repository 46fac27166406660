// Package remote defines the network-facing client for the workout log
// service of record. The sync engine consumes the Client interface; the
// HTTP implementation lives in this package but the engine never depends
// on it directly.
package remote

import (
	"context"
	"encoding/json"

	"github.com/studiofit/logsync/internal/worklog"
)

// CreateResult is the response to a successful workout log create.
type CreateResult struct {
	ServerID string                   `json:"id"`
	Log      worklog.RemoteWorkoutLog `json:"log"`
}

// Client is the remote service abstraction injected into the sync engine.
//
// The service is authoritative: the engine treats whatever it returns as
// the truth and overwrites local state accordingly (last-writer-wins from
// the client's perspective).
type Client interface {
	// CreateWorkoutLog submits a new log and returns the server-assigned id.
	CreateWorkoutLog(ctx context.Context, log worklog.RemoteWorkoutLog) (*CreateResult, error)

	// UpdateWorkoutLog replaces the log identified by serverID.
	UpdateWorkoutLog(ctx context.Context, serverID string, log worklog.RemoteWorkoutLog) error

	// DeleteWorkoutLog removes the log identified by serverID.
	DeleteWorkoutLog(ctx context.Context, serverID string) error

	// FetchWorkoutLogs lists the user's authoritative logs, newest first.
	FetchWorkoutLogs(ctx context.Context, userID string, limit int) ([]worklog.RemoteWorkoutLog, error)

	// FetchAggregateStats returns the user's stats snapshot. The payload is
	// opaque to this subsystem beyond being cacheable JSON.
	FetchAggregateStats(ctx context.Context, userID string) (json.RawMessage, error)

	// Submit dispatches a generic mutation for entity kinds this subsystem
	// has no dedicated endpoint for. Extension point for queued items whose
	// entity type has no registered handler.
	Submit(ctx context.Context, operation, entityType string, payload json.RawMessage) error
}
