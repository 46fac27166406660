// Package engine implements the reconciliation loop that drives every
// unsynced local artifact to either synced or permanently failed.
//
// One sync pass:
//  1. Drain unsynced workout logs oldest-first via remote create.
//  2. Drain eligible queue items oldest-first through the handler registry.
//  3. Refresh the aggregate stats cache if anything synced.
//
// The engine does no scheduling of its own - a pass is one well-defined
// unit of work invoked by an external trigger (timer, connectivity change,
// on demand). At most one pass runs at a time; a trigger that arrives while
// a pass is in flight is dropped with ErrPassInProgress.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/studiofit/logsync/internal/cache"
	"github.com/studiofit/logsync/internal/queue"
	"github.com/studiofit/logsync/internal/remote"
	"github.com/studiofit/logsync/internal/worklog"
)

// EntityTypeWorkoutLog tags queue items that mutate workout logs. The
// coupling between queue items and log rows is by this tag only - no
// foreign key, so new entity kinds need no schema change.
const EntityTypeWorkoutLog = "workout_log"

// ErrPassInProgress is returned when a pass is requested while another is
// still running. The caller should simply try again later; the running
// pass covers the same work.
var ErrPassInProgress = errors.New("sync pass already in progress")

// PassSummary reports aggregate results of one pass. Per-item errors are
// never surfaced individually - silent retry is the default posture.
type PassSummary struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// Config assembles an Engine.
type Config struct {
	Repo   *worklog.Repository
	Queue  *queue.Queue
	Cache  *cache.Cache
	Remote remote.Client

	// UserID scopes stats fetches and cache refreshes.
	UserID string

	// KeepLocal is how many synced rows survive a cache refresh prune.
	// Zero means keep 200.
	KeepLocal int

	// Logger for engine activity. Nil means a default stderr logger.
	Logger *log.Logger

	// Clock overrides time.Now in tests. Nil means time.Now.
	Clock func() time.Time
}

// Engine is the sync state machine.
type Engine struct {
	repo     *worklog.Repository
	queue    *queue.Queue
	cache    *cache.Cache
	remote   remote.Client
	registry *queue.Registry
	userID   string
	keep     int
	logger   *log.Logger
	now      func() time.Time

	inFlight atomic.Bool
}

// New creates an Engine and registers the built-in workout_log queue
// handlers. Additional entity kinds are added via Registry().Register.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.KeepLocal <= 0 {
		cfg.KeepLocal = 200
	}

	e := &Engine{
		repo:     cfg.Repo,
		queue:    cfg.Queue,
		cache:    cfg.Cache,
		remote:   cfg.Remote,
		registry: queue.NewRegistry(),
		userID:   cfg.UserID,
		keep:     cfg.KeepLocal,
		logger:   cfg.Logger,
		now:      cfg.Clock,
	}

	e.registerWorkoutLogHandlers()
	return e
}

// Registry exposes the handler registry so callers can register handlers
// for new entity kinds.
func (e *Engine) Registry() *queue.Registry {
	return e.registry
}

// RunPass executes one sync pass and returns its summary.
//
// Individual remote failures leave the record or item in place for the next
// pass and never abort the rest of the pass. Only a failure in the local
// store itself is fatal. If another pass is already running the call
// returns ErrPassInProgress without doing any work.
func (e *Engine) RunPass(ctx context.Context) (PassSummary, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return PassSummary{}, ErrPassInProgress
	}
	defer e.inFlight.Store(false)

	var sum PassSummary

	// Step 1: unsynced workout logs, oldest first. Unbounded retry - a
	// user's logged workout is never silently dropped, so failures just
	// leave synced=false for the next pass.
	records, err := e.repo.ListUnsynced(ctx)
	if err != nil {
		return sum, fmt.Errorf("failed to list unsynced logs: %w", err)
	}

	for _, rec := range records {
		result, err := e.remote.CreateWorkoutLog(ctx, rec.ToWire())
		if err != nil {
			e.logger.Printf("create failed for %s: %v", rec.LocalID, err)
			sum.Failed++
			continue
		}

		if err := e.repo.MarkSynced(ctx, rec.LocalID, result.ServerID); err != nil {
			return sum, err
		}

		e.logger.Printf("synced workout log %s -> %s", rec.LocalID, result.ServerID)
		sum.Synced++
	}

	// Step 2: eligible queue items, oldest first. Bounded retry with
	// dead-lettering; Eligible filters both exhausted and backing-off items.
	items, err := e.queue.All(ctx)
	if err != nil {
		return sum, fmt.Errorf("failed to list queue items: %w", err)
	}

	for _, item := range items {
		if !queue.Eligible(item, e.now()) {
			continue
		}

		if err := e.dispatch(ctx, item); err != nil {
			e.logger.Printf("queue item %d (%s %s) failed: %v", item.ID, item.Operation, item.EntityType, err)
			sum.Failed++
			if ferr := e.queue.RecordFailure(ctx, item.ID, e.now()); ferr != nil {
				return sum, ferr
			}
			continue
		}

		if err := e.queue.Delete(ctx, item.ID); err != nil {
			return sum, err
		}
		sum.Synced++
	}

	// Step 3: stats cache refresh. A stale cache is acceptable, so errors
	// here are logged and swallowed - the next read or pass retries.
	if sum.Synced > 0 {
		e.refreshStats(ctx)
	}

	return sum, nil
}

// dispatch routes one queue item. Registered handlers decode the payload
// into its concrete type; unregistered kinds fall through to the remote
// client's generic submit.
func (e *Engine) dispatch(ctx context.Context, item *queue.Item) error {
	if h, ok := e.registry.Lookup(item.EntityType, item.Operation); ok {
		return h(ctx, item)
	}
	return e.remote.Submit(ctx, string(item.Operation), item.EntityType, item.Payload)
}

// refreshStats fetches the current aggregate snapshot and overwrites the
// cache entry.
func (e *Engine) refreshStats(ctx context.Context) {
	stats, err := e.remote.FetchAggregateStats(ctx, e.userID)
	if err != nil {
		e.logger.Printf("stats refresh failed: %v", err)
		return
	}
	if err := e.cache.Put(ctx, cache.StatsKey, stats); err != nil {
		e.logger.Printf("stats cache write failed: %v", err)
	}
}

// QueuedCount returns the number of queue items still inside their retry
// budget. Pure read - never triggers a pass.
func (e *Engine) QueuedCount(ctx context.Context) (int, error) {
	return e.queue.PendingCount(ctx)
}

// CachedStats returns the cached aggregate snapshot, or nil when the cache
// is empty or older than maxAge.
func (e *Engine) CachedStats(ctx context.Context, maxAge time.Duration) (json.RawMessage, error) {
	return e.cache.Get(ctx, cache.StatsKey, maxAge)
}

// ClearCache wipes every cached aggregate. Called wholesale on logout;
// local workout logs are untouched.
func (e *Engine) ClearCache(ctx context.Context) error {
	return e.cache.Clear(ctx)
}

// RefreshFromRemote pulls the user's authoritative logs, overwrites the
// local cache rows, prunes synced rows beyond the retention limit, and
// refreshes the stats snapshot.
func (e *Engine) RefreshFromRemote(ctx context.Context, limit int) error {
	logs, err := e.remote.FetchWorkoutLogs(ctx, e.userID, limit)
	if err != nil {
		return fmt.Errorf("failed to fetch remote logs: %w", err)
	}

	if err := e.repo.CacheServerRecords(ctx, logs); err != nil {
		return err
	}

	if err := e.repo.PruneSynced(ctx, e.userID, e.keep); err != nil {
		return err
	}

	e.refreshStats(ctx)

	e.logger.Printf("refreshed %d logs from remote", len(logs))
	return nil
}
