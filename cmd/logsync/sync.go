package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/studiofit/logsync/internal/engine"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync pass now",
	Long: `Run a single sync pass:

  1. Push unsynced workout logs to the remote service
  2. Dispatch eligible queued mutations
  3. Refresh the cached aggregate stats if anything synced

Individual failures are retried on later passes; the command only fails
outright when the local database does.`,
	Run: func(cmd *cobra.Command, args []string) {
		env, err := openEnv()
		if err != nil {
			fatal("%v", err)
		}

		sum, err := env.engine.RunPass(cmd.Context())
		if err != nil {
			if errors.Is(err, engine.ErrPassInProgress) {
				fmt.Println(warnStyle.Render("A sync pass is already running."))
				return
			}
			fatal("sync pass failed: %v", err)
		}

		switch {
		case sum.Synced == 0 && sum.Failed == 0:
			fmt.Println(faintStyle.Render("Nothing to sync."))
		case sum.Failed == 0:
			fmt.Println(successStyle.Render(fmt.Sprintf("Synced %d item(s).", sum.Synced)))
		default:
			fmt.Println(warnStyle.Render(fmt.Sprintf("Synced %d, failed %d (will retry).", sum.Synced, sum.Failed)))
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
