package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear cached remote data",
	Long: `Clear the cached aggregate snapshots for the current user.

Local workout logs are kept: synced rows remain a valid read cache and
unsynced rows still push on the next pass after signing back in.`,
	Run: func(cmd *cobra.Command, args []string) {
		env, err := openEnv()
		if err != nil {
			fatal("%v", err)
		}

		if err := env.engine.ClearCache(cmd.Context()); err != nil {
			fatal("%v", err)
		}

		fmt.Println(successStyle.Render("Cached aggregates cleared."))
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
