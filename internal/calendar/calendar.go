// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package calendar owns the wall-clock arithmetic of the scheduler.
//
// Shifts are defined as HH:MM windows in a single configured timezone.
// All timestamps are persisted in UTC; this package converts into the
// shift timezone for the shift math and hands back UTC. No other package
// does its own wall-clock arithmetic.
package calendar

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopfloor-dev/foreman/internal/conf"
)

// One concrete shift window on a specific calendar day, in UTC.
type Window struct {
	// The shift number this window belongs to.
	Shift int
	// Inclusive start of the window.
	Start time.Time
	// Exclusive end of the window.
	End time.Time
}

// Whether t falls within the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Length of the window.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// One shift as configured, by wall-clock values.
type shiftSpec struct {
	number      int
	startMinute int // Minutes after local midnight.
	endMinute   int
	// Whether the shift spills past midnight into the next calendar day.
	// Derived from end <= start in the config.
	wraps bool
}

// ShiftCalendar resolves timestamps to shift windows.
type ShiftCalendar struct {
	location *time.Location
	// Shift specs ordered by their wall-clock start.
	shifts []shiftSpec
}

// Create a new shift calendar from the given config.
func NewShiftCalendar(config conf.CalendarConfig) (*ShiftCalendar, error) {
	location, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", config.Timezone, err)
	}
	calendar := &ShiftCalendar{location: location}
	for _, shift := range config.Shifts {
		start, err := parseClock(shift.Start)
		if err != nil {
			return nil, fmt.Errorf("shift %d: %w", shift.Number, err)
		}
		end, err := parseClock(shift.End)
		if err != nil {
			return nil, fmt.Errorf("shift %d: %w", shift.Number, err)
		}
		calendar.shifts = append(calendar.shifts, shiftSpec{
			number:      shift.Number,
			startMinute: start,
			endMinute:   end,
			wraps:       end <= start,
		})
	}
	if len(calendar.shifts) == 0 {
		return nil, fmt.Errorf("no shifts configured")
	}
	sort.Slice(calendar.shifts, func(i, j int) bool {
		return calendar.shifts[i].startMinute < calendar.shifts[j].startMinute
	})
	return calendar, nil
}

// Parse an HH:MM clock value into minutes after midnight.
func parseClock(clock string) (int, error) {
	parsed, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", clock, err)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

// The timezone in which shifts are defined.
func (c *ShiftCalendar) Location() *time.Location {
	return c.location
}

// The configured shift numbers, ordered by their wall-clock start.
func (c *ShiftCalendar) ShiftNumbers() []int {
	numbers := make([]int, len(c.shifts))
	for i, spec := range c.shifts {
		numbers[i] = spec.number
	}
	return numbers
}

// Materialize the given spec on the calendar day containing localDay.
func (c *ShiftCalendar) window(localDay time.Time, spec shiftSpec) Window {
	year, month, day := localDay.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, c.location)
	start := midnight.Add(time.Duration(spec.startMinute) * time.Minute)
	end := midnight.Add(time.Duration(spec.endMinute) * time.Minute)
	if spec.wraps {
		end = end.AddDate(0, 0, 1)
	}
	return Window{Shift: spec.number, Start: start.UTC(), End: end.UTC()}
}

// The shift window containing t, if any. Windows anchored on the previous
// calendar day are checked as well, which covers shifts wrapping past
// midnight.
func (c *ShiftCalendar) WindowAt(t time.Time) (Window, bool) {
	local := t.In(c.location)
	for _, anchor := range []time.Time{local.AddDate(0, 0, -1), local} {
		for _, spec := range c.shifts {
			if w := c.window(anchor, spec); w.Contains(t) {
				return w, true
			}
		}
	}
	return Window{}, false
}

// The window of the given shift number on the calendar day containing
// day (interpreted in the shift timezone). False for unknown numbers.
func (c *ShiftCalendar) ShiftWindow(day time.Time, number int) (Window, bool) {
	local := day.In(c.location)
	for _, spec := range c.shifts {
		if spec.number == number {
			return c.window(local, spec), true
		}
	}
	return Window{}, false
}

// The shift number at t, or 0 when t is outside all shifts.
func (c *ShiftCalendar) ShiftNumberAt(t time.Time) int {
	if w, ok := c.WindowAt(t); ok {
		return w.Shift
	}
	return 0
}

// Whether t falls within any shift window.
func (c *ShiftCalendar) WithinAnyShift(t time.Time) bool {
	_, ok := c.WindowAt(t)
	return ok
}

// Advance t to the next start of shift if it is outside any shift.
// Timestamps already within a shift are returned unchanged.
func (c *ShiftCalendar) RoundToShiftStart(t time.Time) time.Time {
	if c.WithinAnyShift(t) {
		return t.UTC()
	}
	return c.nextShiftStart(t)
}

// Advance t past the end of the shift containing it, to the start of the
// next shift. Timestamps outside any shift advance to the next shift
// start directly.
func (c *ShiftCalendar) AdvancePastShiftEnd(t time.Time) time.Time {
	if w, ok := c.WindowAt(t); ok {
		return c.RoundToShiftStart(w.End)
	}
	return c.nextShiftStart(t)
}

// The earliest shift start at or after t.
func (c *ShiftCalendar) nextShiftStart(t time.Time) time.Time {
	local := t.In(c.location)
	for offset := 0; offset <= 1; offset++ {
		anchor := local.AddDate(0, 0, offset)
		var best time.Time
		for _, spec := range c.shifts {
			w := c.window(anchor, spec)
			if w.Start.Before(t) {
				continue
			}
			if best.IsZero() || w.Start.Before(best) {
				best = w.Start
			}
		}
		if !best.IsZero() {
			return best
		}
	}
	// Unreachable: the next calendar day always carries a shift start.
	panic("no next shift start found")
}

// Midnight of the next calendar day in the shift timezone, in UTC.
func (c *ShiftCalendar) StartOfNextDay(t time.Time) time.Time {
	local := t.In(c.location)
	year, month, day := local.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, c.location)
	return midnight.AddDate(0, 0, 1).UTC()
}

// The weekday name of t in the shift timezone, e.g. "Monday". Weekly
// resource schedules are keyed by these names.
func (c *ShiftCalendar) WeekdayName(t time.Time) string {
	return t.In(c.location).Weekday().String()
}

// Build a concrete window on the calendar day containing day from
// wall-clock HH:MM values. When end is at or before start, the window
// wraps into the next calendar day.
func (c *ShiftCalendar) ClockWindow(day time.Time, startClock, endClock string) (start, end time.Time, err error) {
	startMinute, err := parseClock(startClock)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	endMinute, err := parseClock(endClock)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	local := day.In(c.location)
	year, month, dayOfMonth := local.Date()
	midnight := time.Date(year, month, dayOfMonth, 0, 0, 0, 0, c.location)
	start = midnight.Add(time.Duration(startMinute) * time.Minute)
	end = midnight.Add(time.Duration(endMinute) * time.Minute)
	if endMinute <= startMinute {
		end = end.AddDate(0, 0, 1)
	}
	return start.UTC(), end.UTC(), nil
}
