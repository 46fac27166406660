package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "logging",
	Short:   "List recent local workout logs",
	Run: func(cmd *cobra.Command, args []string) {
		env, err := openEnv()
		if err != nil {
			fatal("%v", err)
		}

		limit, _ := cmd.Flags().GetInt("limit")

		records, err := env.repo.ListLocal(cmd.Context(), env.cfg.UserID, limit)
		if err != nil {
			fatal("%v", err)
		}

		if len(records) == 0 {
			fmt.Println(faintStyle.Render("No workouts logged yet."))
			return
		}

		for _, rec := range records {
			status := successStyle.Render("✓")
			if !rec.Synced {
				status = warnStyle.Render("…")
			}

			line := fmt.Sprintf("%s %s  %-9s %3d min  RPE %2d",
				status,
				rec.WorkoutDate.Local().Format("2006-01-02 15:04"),
				rec.WorkoutType,
				rec.DurationMinutes,
				rec.RPE,
			)
			if len(rec.FocusAreas) > 0 {
				line += faintStyle.Render("  [" + strings.Join(rec.FocusAreas, ", ") + "]")
			}
			fmt.Println(line)

			if rec.Notes != "" {
				fmt.Println(faintStyle.Render("    " + rec.Notes))
			}
		}
	},
}

func init() {
	listCmd.Flags().IntP("limit", "l", 20, "Maximum number of logs to show")
	rootCmd.AddCommand(listCmd)
}
