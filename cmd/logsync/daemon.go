package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/studiofit/logsync/internal/config"
	"github.com/studiofit/logsync/internal/daemon"
	"github.com/studiofit/logsync/internal/dashboard"
	"github.com/studiofit/logsync/internal/engine"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon",
	Long: `Run the sync daemon in the foreground.

The daemon runs a sync pass periodically, refreshes the local cache from
the remote service, and watches ~/.logsync/sync.trigger - touch that file
from any process to request an immediate pass.

With --dashboard, a WebSocket server broadcasts pass summaries and queue
depth to connected clients.`,
	Run: func(cmd *cobra.Command, args []string) {
		env, err := openEnv()
		if err != nil {
			fatal("%v", err)
		}

		logger := log.New(os.Stderr, "[daemon] ", log.LstdFlags)
		if env.cfg.DaemonLogFile != "" {
			logger.SetOutput(&lumberjack.Logger{
				Filename:   env.cfg.DaemonLogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			})
		}

		withDashboard, _ := cmd.Flags().GetBool("dashboard")

		var dash *dashboard.Server
		if withDashboard {
			dash = dashboard.NewServer(&dashboard.Config{
				Port:   env.cfg.DashboardPort,
				Logger: logger,
			})
			if err := dash.Start(); err != nil {
				fatal("failed to start dashboard: %v", err)
			}
			fmt.Printf("Dashboard: ws://localhost:%d/ws\n", env.cfg.DashboardPort)
		}

		dcfg := daemon.DefaultConfig()
		dcfg.SyncInterval = env.cfg.SyncInterval
		dcfg.RefreshInterval = env.cfg.RefreshInterval
		dcfg.TriggerDir = config.Dir()
		dcfg.Logger = logger
		dcfg.OnPass = func(sum engine.PassSummary) {
			if dash == nil {
				return
			}
			dash.BroadcastPass(sum.Synced, sum.Failed)

			pending, err := env.engine.QueuedCount(cmd.Context())
			if err != nil {
				return
			}
			unsynced, err := env.repo.CountUnsynced(cmd.Context())
			if err != nil {
				return
			}
			dash.BroadcastQueueDepth(pending, 0, unsynced)
		}

		d, err := daemon.New(env.engine, dcfg)
		if err != nil {
			fatal("%v", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Println("Sync daemon running. Press Ctrl+C to stop.")
		if err := d.Start(ctx); err != nil {
			fatal("%v", err)
		}

		if dash != nil {
			if err := dash.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Error stopping dashboard: %v\n", err)
			}
		}
	},
}

var triggerCmd = &cobra.Command{
	Use:     "trigger",
	GroupID: "sync",
	Short:   "Ask a running daemon for an immediate sync pass",
	Run: func(cmd *cobra.Command, args []string) {
		path := config.Dir() + string(os.PathSeparator) + daemon.TriggerFileName
		if err := os.MkdirAll(config.Dir(), 0755); err != nil {
			fatal("%v", err)
		}
		if err := os.WriteFile(path, []byte{}, 0644); err != nil {
			fatal("failed to touch trigger file: %v", err)
		}
		fmt.Println(faintStyle.Render("Sync trigger written."))
	},
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Serve the WebSocket dashboard")
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(triggerCmd)
}
