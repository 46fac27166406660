package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/studiofit/logsync/internal/queue"
	"github.com/studiofit/logsync/internal/worklog"
)

// UpdateLogPayload is the typed payload for a queued workout log update.
type UpdateLogPayload struct {
	ServerID string                   `json:"server_id"`
	Log      worklog.RemoteWorkoutLog `json:"log"`
}

// DeleteLogPayload is the typed payload for a queued workout log delete.
type DeleteLogPayload struct {
	ServerID string `json:"server_id"`
}

// registerWorkoutLogHandlers installs the built-in handlers for queued
// workout log mutations. The create path never goes through the queue - it
// lives on the unsynced flag with unbounded retry.
func (e *Engine) registerWorkoutLogHandlers() {
	e.registry.Register(EntityTypeWorkoutLog, queue.OpUpdate, func(ctx context.Context, item *queue.Item) error {
		p, err := queue.DecodePayload[UpdateLogPayload](item)
		if err != nil {
			return err
		}
		if p.ServerID == "" {
			return fmt.Errorf("update payload for item %d missing server id", item.ID)
		}
		return e.remote.UpdateWorkoutLog(ctx, p.ServerID, p.Log)
	})

	e.registry.Register(EntityTypeWorkoutLog, queue.OpDelete, func(ctx context.Context, item *queue.Item) error {
		p, err := queue.DecodePayload[DeleteLogPayload](item)
		if err != nil {
			return err
		}
		if p.ServerID == "" {
			return fmt.Errorf("delete payload for item %d missing server id", item.ID)
		}
		return e.remote.DeleteWorkoutLog(ctx, p.ServerID)
	})
}

// QueueUpdate enqueues a durable update for an already-synced log.
func (e *Engine) QueueUpdate(ctx context.Context, serverID string, log worklog.RemoteWorkoutLog) error {
	payload, err := json.Marshal(UpdateLogPayload{ServerID: serverID, Log: log})
	if err != nil {
		return fmt.Errorf("failed to marshal update payload: %w", err)
	}
	_, err = e.queue.Enqueue(ctx, queue.OpUpdate, EntityTypeWorkoutLog, serverID, payload)
	return err
}

// QueueDelete enqueues a durable delete for an already-synced log.
func (e *Engine) QueueDelete(ctx context.Context, serverID string) error {
	payload, err := json.Marshal(DeleteLogPayload{ServerID: serverID})
	if err != nil {
		return fmt.Errorf("failed to marshal delete payload: %w", err)
	}
	_, err = e.queue.Enqueue(ctx, queue.OpDelete, EntityTypeWorkoutLog, serverID, payload)
	return err
}
