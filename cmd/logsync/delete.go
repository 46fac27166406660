package main

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <local-id>",
	GroupID: "logging",
	Short:   "Delete a workout log",
	Long: `Delete a workout log locally. If the log has already synced, a durable
delete is queued so the remote copy is removed on the next sync pass.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		env, err := openEnv()
		if err != nil {
			fatal("%v", err)
		}
		ctx := cmd.Context()
		localID := args[0]

		rec, err := env.repo.GetByLocalID(ctx, localID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				fatal("no workout log with id %s", localID)
			}
			fatal("%v", err)
		}

		if rec.ServerID != "" {
			if err := env.engine.QueueDelete(ctx, rec.ServerID); err != nil {
				fatal("%v", err)
			}
		}

		if err := env.repo.DeleteLocal(ctx, localID); err != nil {
			fatal("%v", err)
		}

		fmt.Println(successStyle.Render("Deleted") + " " + localID)
		if rec.ServerID != "" {
			fmt.Println(faintStyle.Render("  remote delete queued for next sync pass"))
		}
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
