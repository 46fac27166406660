package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:     "refresh",
	GroupID: "sync",
	Short:   "Pull authoritative logs from the remote service",
	Long: `Fetch the user's workout logs from the remote service, overwrite the
local cache rows (the remote is authoritative), and prune synced rows
beyond the retention limit. Unsynced local logs are never touched.`,
	Run: func(cmd *cobra.Command, args []string) {
		env, err := openEnv()
		if err != nil {
			fatal("%v", err)
		}

		limit, _ := cmd.Flags().GetInt("limit")

		if err := env.engine.RefreshFromRemote(cmd.Context(), limit); err != nil {
			fatal("%v", err)
		}

		fmt.Println(successStyle.Render("Local cache refreshed."))
	},
}

func init() {
	refreshCmd.Flags().IntP("limit", "l", 100, "Maximum number of logs to fetch")
	rootCmd.AddCommand(refreshCmd)
}
