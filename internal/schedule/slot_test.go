package schedule

import (
	"errors"
	"testing"
	"time"
)

func day(s string) time.Time {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		panic(err)
	}
	return t.Add(9 * time.Hour)
}

func TestNextSlot(t *testing.T) {
	base := day("2026-01-05")

	tests := []struct {
		name      string
		index     int64
		blackouts []string
		want      string
	}{
		{"index zero is base", 0, nil, "2026-01-05"},
		{"blacked out base moves one day", 0, []string{"2026-01-05"}, "2026-01-06"},
		{"consecutive blackouts", 0, []string{"2026-01-05", "2026-01-06", "2026-01-07"}, "2026-01-08"},
		{"second slot is two weeks out", 1, nil, "2026-01-19"},
		{"tenth slot is twenty weeks out", 10, nil, "2026-05-25"},
		{"blackout only affects its own day", 1, []string{"2026-01-05"}, "2026-01-19"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ParseBlackouts(tt.blackouts)
			if err != nil {
				t.Fatalf("ParseBlackouts() error = %v", err)
			}
			got, err := NextSlot(base, tt.index, b)
			if err != nil {
				t.Fatalf("NextSlot() error = %v", err)
			}
			if got.Format(DayLayout) != tt.want {
				t.Errorf("NextSlot() = %s, want %s", got.Format(DayLayout), tt.want)
			}
			if got.Hour() != 9 {
				t.Errorf("publish hour = %d, want 9", got.Hour())
			}
		})
	}
}

func TestNextSlotKeepsLocalHourAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, loc)

	got, err := NextSlot(base, 1, nil)
	if err != nil {
		t.Fatalf("NextSlot() error = %v", err)
	}
	if got.Hour() != 9 || got.Day() != 16 {
		t.Errorf("NextSlot() = %v, want March 16 09:00 local", got)
	}
}

func TestNextSlotNoValidDay(t *testing.T) {
	base := day("2026-01-01")
	b := Blackouts{}
	for i := 0; i <= maxSearchDays+1; i++ {
		b.Add(base.AddDate(0, 0, i))
	}

	if _, err := NextSlot(base, 0, b); !errors.Is(err, ErrNoValidSlot) {
		t.Errorf("NextSlot() error = %v, want ErrNoValidSlot", err)
	}
}

func TestNextSlotRejectsNegativeIndex(t *testing.T) {
	if _, err := NextSlot(day("2026-01-01"), -1, nil); err == nil {
		t.Error("NextSlot(-1) should fail")
	}
}

func TestParseBlackoutsRejectsBadDates(t *testing.T) {
	if _, err := ParseBlackouts([]string{"2026-13-01"}); err == nil {
		t.Error("ParseBlackouts() accepted an invalid month")
	}
}

func TestPreview(t *testing.T) {
	b, _ := ParseBlackouts([]string{"2026-01-19"})
	slots, err := Preview(day("2026-01-05"), 0, 3, 7, b)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	want := []string{"2026-01-05", "2026-01-12", "2026-01-20"}
	for i, s := range slots {
		if s.Format(DayLayout) != want[i] {
			t.Errorf("slot[%d] = %s, want %s", i, s.Format(DayLayout), want[i])
		}
	}
}
