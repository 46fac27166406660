package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/studiofit/logsync/internal/worklog"
)

var workoutTypes = []string{"mat", "reformer", "tower", "cardio", "strength", "other"}

var logCmd = &cobra.Command{
	Use:     "log",
	GroupID: "logging",
	Short:   "Record a workout locally",
	Long: `Record a workout in the local database.

The write succeeds immediately, online or offline. The record is marked
unsynced and the sync engine pushes it to the remote service on the next
pass.

Dates accept natural language:

  logsync log --type mat --duration 45 --rpe 7 --date "yesterday 7pm"

Run without flags on a terminal for an interactive form.`,
	Run: func(cmd *cobra.Command, args []string) {
		env, err := openEnv()
		if err != nil {
			fatal("%v", err)
		}
		if env.cfg.UserID == "" {
			fatal("user_id is not configured (set LOGSYNC_USER_ID or ~/.logsync/config.yaml)")
		}

		workoutType, _ := cmd.Flags().GetString("type")
		duration, _ := cmd.Flags().GetInt("duration")
		rpe, _ := cmd.Flags().GetInt("rpe")
		notes, _ := cmd.Flags().GetString("notes")
		calories, _ := cmd.Flags().GetInt("calories")
		focus, _ := cmd.Flags().GetStringSlice("focus")
		dateStr, _ := cmd.Flags().GetString("date")
		studioID, _ := cmd.Flags().GetString("studio-id")
		studioName, _ := cmd.Flags().GetString("studio-name")
		sessionID, _ := cmd.Flags().GetString("session")
		shared, _ := cmd.Flags().GetBool("shared")

		// Interactive form when the required fields are missing and we have
		// a terminal to ask on.
		if workoutType == "" && duration == 0 && term.IsTerminal(int(os.Stdin.Fd())) {
			var err error
			workoutType, duration, rpe, notes, err = runLogForm()
			if err != nil {
				fatal("form aborted: %v", err)
			}
		}

		workoutDate, err := parseWorkoutDate(dateStr)
		if err != nil {
			fatal("%v", err)
		}

		fields := worklog.NewLogFields{
			WorkoutDate:      workoutDate,
			DurationMinutes:  duration,
			WorkoutType:      workoutType,
			RPE:              rpe,
			Notes:            notes,
			FocusAreas:       focus,
			SessionID:        sessionID,
			StudioID:         studioID,
			CustomStudioName: studioName,
			IsShared:         shared,
		}
		if calories > 0 {
			fields.CalorieEstimate = &calories
		}

		rec, err := env.repo.SaveLocally(cmd.Context(), env.cfg.UserID, fields)
		if err != nil {
			fatal("%v", err)
		}

		fmt.Println(successStyle.Render("Logged") + fmt.Sprintf(" %s workout, %d min, RPE %d",
			rec.WorkoutType, rec.DurationMinutes, rec.RPE))
		fmt.Println(faintStyle.Render(fmt.Sprintf("  id: %s (pending sync)", rec.LocalID)))
	},
}

// parseWorkoutDate accepts natural language ("yesterday 7pm"), a plain
// date (2026-08-29), or empty for now.
func parseWorkoutDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}

	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	result, err := w.Parse(s, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", s, err)
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("could not understand date %q", s)
	}

	return result.Time, nil
}

// runLogForm collects the required fields interactively.
func runLogForm() (workoutType string, duration, rpe int, notes string, err error) {
	durationStr := "45"
	rpeStr := "6"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Workout type").
				Options(huh.NewOptions(workoutTypes...)...).
				Value(&workoutType),
			huh.NewInput().
				Title("Duration (minutes)").
				Value(&durationStr).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n <= 0 {
						return fmt.Errorf("enter a positive number of minutes")
					}
					return nil
				}),
			huh.NewInput().
				Title("Effort (RPE 1-10)").
				Value(&rpeStr).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 || n > 10 {
						return fmt.Errorf("enter a number from 1 to 10")
					}
					return nil
				}),
			huh.NewText().
				Title("Notes").
				Value(&notes),
		),
	)

	if err = form.Run(); err != nil {
		return "", 0, 0, "", err
	}

	duration, _ = strconv.Atoi(durationStr)
	rpe, _ = strconv.Atoi(rpeStr)
	return workoutType, duration, rpe, notes, nil
}

func init() {
	logCmd.Flags().StringP("type", "t", "", "Workout type (mat, reformer, tower, cardio, strength, other)")
	logCmd.Flags().IntP("duration", "d", 0, "Duration in minutes")
	logCmd.Flags().IntP("rpe", "r", 6, "Rate of perceived exertion (1-10)")
	logCmd.Flags().StringP("notes", "n", "", "Free-form notes")
	logCmd.Flags().Int("calories", 0, "Calorie estimate")
	logCmd.Flags().StringSlice("focus", nil, "Focus area tags (repeatable)")
	logCmd.Flags().String("date", "", `Workout date ("2026-08-29", "yesterday 7pm", ...)`)
	logCmd.Flags().String("studio-id", "", "Studio id (mutually exclusive with --studio-name)")
	logCmd.Flags().String("studio-name", "", "Custom studio name (mutually exclusive with --studio-id)")
	logCmd.Flags().String("session", "", "Session id from the session builder")
	logCmd.Flags().Bool("shared", false, "Share this workout to the feed")

	rootCmd.AddCommand(logCmd)
}
