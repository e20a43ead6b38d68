package schedule

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultIntervalDays is the bi-weekly publishing cadence
	DefaultIntervalDays = 14

	// DayLayout is the format of blackout dates
	DayLayout = "2006-01-02"

	maxSearchDays = 366
)

// ErrNoValidSlot is a configuration error: blackouts cover every day the search may reach
var ErrNoValidSlot = errors.New("no valid publish slot within a year, check blackout dates")

// Blackouts is a set of calendar days on which nothing is published
type Blackouts map[string]struct{}

// ParseBlackouts builds a set from YYYY-MM-DD strings
func ParseBlackouts(days []string) (Blackouts, error) {
	b := make(Blackouts, len(days))
	for _, d := range days {
		t, err := time.Parse(DayLayout, d)
		if err != nil {
			return nil, fmt.Errorf("invalid blackout date %q: %w", d, err)
		}
		b.Add(t)
	}
	return b, nil
}

// Add marks the calendar day of t
func (b Blackouts) Add(t time.Time) {
	b[t.Format(DayLayout)] = struct{}{}
}

// Contains reports whether the calendar day of t is blacked out
func (b Blackouts) Contains(t time.Time) bool {
	if len(b) == 0 {
		return false
	}
	_, ok := b[t.Format(DayLayout)]
	return ok
}

// NextSlot returns base + index*14 days, moved forward past blackout days
func NextSlot(base time.Time, index int64, blackouts Blackouts) (time.Time, error) {
	return NextSlotEvery(base, index, DefaultIntervalDays, blackouts)
}

// NextSlotEvery is NextSlot with a custom interval. The result keeps base's
// time of day and location; days are added on the calendar so DST shifts do
// not move the publish hour.
func NextSlotEvery(base time.Time, index int64, intervalDays int, blackouts Blackouts) (time.Time, error) {
	if index < 0 {
		return time.Time{}, fmt.Errorf("slot index must not be negative, got %d", index)
	}
	if intervalDays <= 0 {
		intervalDays = DefaultIntervalDays
	}

	slot := base.AddDate(0, 0, int(index)*intervalDays)
	for i := 0; i <= maxSearchDays; i++ {
		if !blackouts.Contains(slot) {
			return slot, nil
		}
		slot = slot.AddDate(0, 0, 1)
	}
	return time.Time{}, ErrNoValidSlot
}

// Preview lists count consecutive slots starting at index from
func Preview(base time.Time, from int64, count, intervalDays int, blackouts Blackouts) ([]time.Time, error) {
	slots := make([]time.Time, 0, count)
	for i := 0; i < count; i++ {
		slot, err := NextSlotEvery(base, from+int64(i), intervalDays, blackouts)
		if err != nil {
			return slots, err
		}
		slots = append(slots, slot)
	}
	return slots, nil
}
