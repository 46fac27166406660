package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/studiofit/logsync/internal/queue"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show pending sync work and dead letters",
	Run: func(cmd *cobra.Command, args []string) {
		env, err := openEnv()
		if err != nil {
			fatal("%v", err)
		}
		ctx := cmd.Context()

		unsynced, err := env.repo.CountUnsynced(ctx)
		if err != nil {
			fatal("%v", err)
		}

		pending, err := env.engine.QueuedCount(ctx)
		if err != nil {
			fatal("%v", err)
		}

		q := queue.NewQueue(env.store)
		dead, err := q.DeadLetters(ctx)
		if err != nil {
			fatal("%v", err)
		}

		fmt.Println(titleStyle.Render("Sync status"))
		fmt.Printf("  Unsynced workout logs: %d\n", unsynced)
		fmt.Printf("  Pending queue items:   %d\n", pending)
		fmt.Printf("  Dead letters:          %d\n", len(dead))

		if len(dead) > 0 {
			fmt.Println()
			fmt.Println(warnStyle.Render("Dead letters (retry budget exhausted, kept for diagnostics):"))
			for _, item := range dead {
				last := "never"
				if item.LastAttemptedAt != nil {
					last = item.LastAttemptedAt.Local().Format("2006-01-02 15:04:05")
				}
				fmt.Printf("  #%d %s %s %s  attempts=%d  last=%s\n",
					item.ID, item.Operation, item.EntityType, item.EntityID,
					item.RetryCount, last)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
