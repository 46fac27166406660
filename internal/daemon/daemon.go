// Package daemon provides the scheduler that drives the sync engine.
//
// The daemon:
//  1. Runs a sync pass on a periodic timer
//  2. Runs an immediate (debounced) pass when a trigger file is touched
//  3. Periodically refreshes the local cache from the remote service
//  4. Handles graceful shutdown
//
// The trigger file is the connectivity hook: any process that notices the
// network is back can touch <dir>/sync.trigger to request a pass without
// talking to the daemon.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/studiofit/logsync/internal/engine"
)

// TriggerFileName is the file watched for on-demand sync triggers.
const TriggerFileName = "sync.trigger"

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often a periodic pass runs.
	SyncInterval time.Duration

	// RefreshInterval is how often the local cache is refreshed from the
	// remote service. Zero disables periodic refresh.
	RefreshInterval time.Duration

	// RefreshLimit is how many authoritative logs a refresh pulls.
	RefreshLimit int

	// DebounceInterval is how long to wait after a trigger before running
	// the pass. This batches rapid triggers (connectivity flaps) together.
	DebounceInterval time.Duration

	// TriggerDir is the directory watched for the trigger file. Empty
	// disables the watcher.
	TriggerDir string

	// OnPass, if set, is called with the summary of every completed pass.
	// Used by the dashboard broadcaster.
	OnPass func(engine.PassSummary)

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     30 * time.Second,
		RefreshInterval:  15 * time.Minute,
		RefreshLimit:     100,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates periodic and on-demand sync passes.
type Daemon struct {
	engine  *engine.Engine
	config  *Config
	watcher *fsnotify.Watcher
	trigger chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance. Use Start to begin scheduling.
func New(eng *engine.Engine, config *Config) (*Daemon, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = 30 * time.Second
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 500 * time.Millisecond
	}

	var watcher *fsnotify.Watcher
	if config.TriggerDir != "" {
		var err error
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine:  eng,
		config:  config,
		watcher: watcher,
		trigger: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon runs an initial pass immediately, then schedules periodic
// passes, watches for trigger-file touches, and refreshes the local cache.
// This blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	d.runPass()

	if d.watcher != nil {
		if err := os.MkdirAll(d.config.TriggerDir, 0755); err != nil {
			return fmt.Errorf("failed to create trigger directory: %w", err)
		}
		if err := d.watcher.Add(d.config.TriggerDir); err != nil {
			return fmt.Errorf("failed to watch trigger directory: %w", err)
		}
		d.config.Logger.Printf("Watching: %s", filepath.Join(d.config.TriggerDir, TriggerFileName))

		d.wg.Add(1)
		go d.watchTriggerFile()
	}

	d.wg.Add(1)
	go d.syncLoop()

	if d.config.RefreshInterval > 0 {
		d.wg.Add(1)
		go d.refreshLoop()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// TriggerSync requests an immediate (debounced) pass. Non-blocking; if a
// trigger is already pending the call coalesces into it.
func (d *Daemon) TriggerSync() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// syncLoop runs periodic and on-demand passes.
func (d *Daemon) syncLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.runPass()

		case <-d.trigger:
			// Debounce: let rapid triggers coalesce before running.
			select {
			case <-time.After(d.config.DebounceInterval):
			case <-d.ctx.Done():
				return
			}
			d.drainTrigger()
			d.runPass()
		}
	}
}

// drainTrigger clears any trigger that arrived during the debounce window.
func (d *Daemon) drainTrigger() {
	select {
	case <-d.trigger:
	default:
	}
}

// runPass executes one engine pass and reports the summary.
func (d *Daemon) runPass() {
	sum, err := d.engine.RunPass(d.ctx)
	if err != nil {
		if errors.Is(err, engine.ErrPassInProgress) {
			return
		}
		d.config.Logger.Printf("Sync pass error: %v", err)
		return
	}

	if sum.Synced > 0 || sum.Failed > 0 {
		d.config.Logger.Printf("Sync pass complete: synced=%d failed=%d", sum.Synced, sum.Failed)
	}

	if d.config.OnPass != nil {
		d.config.OnPass(sum)
	}
}

// refreshLoop periodically pulls authoritative rows from the remote.
func (d *Daemon) refreshLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if err := d.engine.RefreshFromRemote(d.ctx, d.config.RefreshLimit); err != nil {
				d.config.Logger.Printf("Cache refresh error: %v", err)
			}
		}
	}
}

// watchTriggerFile converts trigger-file touches into sync triggers.
func (d *Daemon) watchTriggerFile() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Base(event.Name) != TriggerFileName {
				continue
			}

			d.config.Logger.Printf("Trigger file touched: %s", event.Name)
			_ = os.Remove(event.Name)
			d.TriggerSync()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}
