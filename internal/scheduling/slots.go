// Package scheduling owns the consultation calendar: the fixed slot grid and
// the claim ledger that makes slot ownership exclusive under concurrent
// bookings.
package scheduling

import (
	"errors"
	"fmt"
	"time"
)

// SlotDurationMins is the canonical consultation length. Availability reduces
// to a set-membership check on start times only because every booking shares
// this single duration.
const SlotDurationMins = 60

// ErrInvalidSlot indicates a requested start time outside the bookable grid.
var ErrInvalidSlot = errors.New("scheduling: invalid slot")

// SlotKey returns the canonical identity of a slot: its start in RFC3339 UTC.
// The claim ledger keys on this string, so two writers racing for the same
// wall-clock hour always collide on the same item.
func SlotKey(start time.Time) string {
	return start.UTC().Format(time.RFC3339)
}

// DayKey formats the calendar day a slot belongs to (YYYY-MM-DD, UTC).
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// ParseSlot combines a date (YYYY-MM-DD) and a clock time (HH:MM) into a slot
// start in UTC.
func ParseSlot(date, clock string) (time.Time, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q", ErrInvalidSlot, date)
	}
	hm, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad time %q", ErrInvalidSlot, clock)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hm.Hour(), hm.Minute(), 0, 0, time.UTC), nil
}

// ParseDay parses a YYYY-MM-DD string into a UTC midnight time.
func ParseDay(date string) (time.Time, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q", ErrInvalidSlot, date)
	}
	return day, nil
}

// Grid describes the bookable calendar: business hours in UTC and how far
// ahead bookings are accepted.
type Grid struct {
	OpenHour   int // inclusive, 24h clock
	CloseHour  int // exclusive
	WindowDays int
}

// DefaultGrid returns the standard office grid, 08:00-18:00 UTC.
func DefaultGrid() Grid {
	return Grid{OpenHour: 8, CloseHour: 18, WindowDays: 60}
}

// Validate rejects slot starts that are off-grid, in the past, or beyond the
// booking window.
func (g Grid) Validate(start, now time.Time) error {
	start = start.UTC()
	if !start.Equal(start.Truncate(time.Hour)) {
		return fmt.Errorf("%w: start %s is not hour aligned", ErrInvalidSlot, start.Format(time.RFC3339))
	}
	if h := start.Hour(); h < g.OpenHour || h >= g.CloseHour {
		return fmt.Errorf("%w: %02d:00 is outside business hours %02d:00-%02d:00", ErrInvalidSlot, h, g.OpenHour, g.CloseHour)
	}
	if !start.After(now) {
		return fmt.Errorf("%w: start %s is in the past", ErrInvalidSlot, start.Format(time.RFC3339))
	}
	if g.WindowDays > 0 && start.After(now.AddDate(0, 0, g.WindowDays)) {
		return fmt.Errorf("%w: start %s is beyond the %d-day booking window", ErrInvalidSlot, start.Format(time.RFC3339), g.WindowDays)
	}
	return nil
}

// SlotsForDay enumerates every grid slot start for the given calendar day.
func (g Grid) SlotsForDay(day time.Time) []time.Time {
	day = day.UTC()
	slots := make([]time.Time, 0, g.CloseHour-g.OpenHour)
	for h := g.OpenHour; h < g.CloseHour; h++ {
		slots = append(slots, time.Date(day.Year(), day.Month(), day.Day(), h, 0, 0, 0, time.UTC))
	}
	return slots
}
