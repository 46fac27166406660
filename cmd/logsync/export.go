package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "logging",
	Short:   "Export local workout logs as JSONL",
	Long: `Write every local workout log as one JSON object per line, newest
first. Defaults to stdout; pass a filename to write a file.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		env, err := openEnv()
		if err != nil {
			fatal("%v", err)
		}

		records, err := env.repo.ListLocal(cmd.Context(), env.cfg.UserID, 0)
		if err != nil {
			fatal("%v", err)
		}

		out := os.Stdout
		if len(args) == 1 {
			f, err := os.Create(args[0])
			if err != nil {
				fatal("failed to create %s: %v", args[0], err)
			}
			defer f.Close()
			out = f
		}

		enc := json.NewEncoder(out)
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				fatal("failed to encode %s: %v", rec.LocalID, err)
			}
		}

		if len(args) == 1 {
			fmt.Fprintln(os.Stderr, successStyle.Render(fmt.Sprintf("Exported %d log(s) to %s", len(records), args[0])))
		}
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
