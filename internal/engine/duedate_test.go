package engine_test

import (
	"testing"
	"time"

	"queueline/internal/engine"
)

func TestParseServiceLevel(t *testing.T) {
	cases := map[string]engine.ServiceLevel{
		"P2D":       {Days: 2},
		"P1W":       {Days: 7},
		"PT8H":      {Rest: 8 * time.Hour},
		"P1DT4H30M": {Days: 1, Rest: 4*time.Hour + 30*time.Minute},
	}
	for raw, want := range cases {
		got, err := engine.ParseServiceLevel(raw)
		if err != nil || got != want {
			t.Fatalf("%s: got %+v %v", raw, got, err)
		}
	}
	for _, bad := range []string{"", "P", "PT", "P1DT", "2D", "P1Y"} {
		if _, err := engine.ParseServiceLevel(bad); err == nil {
			t.Fatalf("%q should be rejected", bad)
		}
	}
}

func TestDueDateSkipsWeekends(t *testing.T) {
	friday := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	sl := engine.ServiceLevel{Days: 1}
	if got := sl.DueFrom(friday, false); got.Weekday() != time.Saturday {
		t.Fatalf("calendar days: %s", got)
	}
	monday := sl.DueFrom(friday, true)
	if monday.Weekday() != time.Monday || monday.Day() != 8 {
		t.Fatalf("working days: %s", monday)
	}
	if back := sl.PlannedFrom(monday, true); !back.Equal(friday) {
		t.Fatalf("planned from due: %s", back)
	}
}
