// Command logsync is the offline-first workout log client.
//
// Workouts are recorded locally first - the embedded database accepts the
// write whether or not the network is up - and a sync engine reconciles
// them with the remote service of record in the background.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/studiofit/logsync/internal/cache"
	"github.com/studiofit/logsync/internal/config"
	"github.com/studiofit/logsync/internal/engine"
	"github.com/studiofit/logsync/internal/queue"
	"github.com/studiofit/logsync/internal/remote"
	"github.com/studiofit/logsync/internal/store"
	"github.com/studiofit/logsync/internal/worklog"
)

const version = "0.3.1"

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
	titleStyle   = lipgloss.NewStyle().Bold(true)
)

var rootCmd = &cobra.Command{
	Use:     "logsync",
	Short:   "Offline-first workout log with background sync",
	Version: version,
	Long: `logsync records workouts locally and reconciles them with the
remote workout log service when connectivity allows.

Logs are written to an embedded database immediately; the sync engine
pushes unsynced records and queued mutations upstream with capped
exponential backoff, and pulls authoritative rows back down.`,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "logging", Title: "Logging Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
	)
}

// appEnv bundles the handles every command needs.
type appEnv struct {
	cfg    *config.Config
	store  *store.Store
	repo   *worklog.Repository
	engine *engine.Engine
}

// openEnv loads config and opens the shared store. Commands call this in
// their Run funcs; errors are fatal to the command.
func openEnv() (*appEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	st, err := store.Shared(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := worklog.NewRepository(st)
	eng := engine.New(engine.Config{
		Repo:      repo,
		Queue:     queue.NewQueue(st),
		Cache:     cache.New(st),
		Remote:    remote.NewHTTPClient(cfg.APIBaseURL, cfg.APIToken),
		UserID:    cfg.UserID,
		KeepLocal: cfg.KeepLocal,
	})

	return &appEnv{cfg: cfg, store: st, repo: repo, engine: eng}, nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+fmt.Sprintf(format, args...))
	os.Exit(1)
}

func main() {
	defer func() { _ = store.CloseShared() }()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
