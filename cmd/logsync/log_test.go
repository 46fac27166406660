package main

import (
	"testing"
	"time"
)

func TestParseWorkoutDate(t *testing.T) {
	got, err := parseWorkoutDate("")
	if err != nil {
		t.Fatalf("empty date failed: %v", err)
	}
	if time.Since(got) > time.Minute {
		t.Errorf("empty date should mean now, got %v", got)
	}

	got, err = parseWorkoutDate("2026-08-20")
	if err != nil {
		t.Fatalf("plain date failed: %v", err)
	}
	if got.Year() != 2026 || got.Month() != time.August || got.Day() != 20 {
		t.Errorf("plain date parsed as %v", got)
	}

	got, err = parseWorkoutDate("yesterday")
	if err != nil {
		t.Fatalf("natural language date failed: %v", err)
	}
	wantDay := time.Now().AddDate(0, 0, -1).Day()
	if got.Day() != wantDay {
		t.Errorf("yesterday parsed as %v", got)
	}

	if _, err := parseWorkoutDate("not a date at all xyzzy"); err == nil {
		t.Error("expected error for gibberish date")
	}
}
