// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package operators answers availability questions about the human
// resources on the shop floor.
package operators

import (
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-set/v3"

	"github.com/shopfloor-dev/foreman/internal/calendar"
	"github.com/shopfloor-dev/foreman/internal/shop"
)

// How many days NextAvailableDay scans before giving up.
const nextAvailableDayScanLimit = 365

// AvailabilityManager serves pure, synchronous reads over an in-memory
// snapshot of resources and their unavailability windows. When backing
// data changes, the caller replaces the snapshot with UpdateData.
type AvailabilityManager struct {
	// Mutex to protect concurrent access to the snapshot.
	mu        sync.RWMutex
	resources map[string]shop.Resource
	// Unavailability windows grouped by resource id.
	unavailabilities map[string][]shop.ResourceUnavailability

	calendar *calendar.ShiftCalendar
}

func NewAvailabilityManager(cal *calendar.ShiftCalendar) *AvailabilityManager {
	return &AvailabilityManager{
		resources:        map[string]shop.Resource{},
		unavailabilities: map[string][]shop.ResourceUnavailability{},
		calendar:         cal,
	}
}

// Replace the snapshot atomically.
func (m *AvailabilityManager) UpdateData(resources []shop.Resource, unavailabilities []shop.ResourceUnavailability) {
	byID := make(map[string]shop.Resource, len(resources))
	for _, resource := range resources {
		byID[resource.ID] = resource
	}
	grouped := make(map[string][]shop.ResourceUnavailability)
	for _, unavailability := range unavailabilities {
		grouped[unavailability.ResourceID] = append(grouped[unavailability.ResourceID], unavailability)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources = byID
	m.unavailabilities = grouped
}

// The resource with the given id.
func (m *AvailabilityManager) ResourceByID(id string) (shop.Resource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resource, ok := m.resources[id]
	return resource, ok
}

// All resources in the snapshot, ordered by id.
func (m *AvailabilityManager) Resources() []shop.Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resources := make([]shop.Resource, 0, len(m.resources))
	for _, resource := range m.resources {
		resources = append(resources, resource)
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].ID < resources[j].ID })
	return resources
}

// Midnight of the calendar day containing t, in the shift timezone.
func (m *AvailabilityManager) localDay(t time.Time) time.Time {
	local := t.In(m.calendar.Location())
	year, month, day := local.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, m.calendar.Location())
}

// Whether the unavailability blocks the given day and shift at the
// whole-day level. Partial-day windows never block a whole day; they
// are handled by the window checks.
func (m *AvailabilityManager) blocksDay(u shop.ResourceUnavailability, day time.Time, shift int) bool {
	if u.IsPartialDay {
		return false
	}
	if day.Before(m.localDay(u.StartDate)) || day.After(m.localDay(u.EndDate)) {
		return false
	}
	if shift == 0 {
		return true
	}
	shifts := u.ShiftNumbers()
	if len(shifts) == 0 {
		return true
	}
	return set.From(shifts).Contains(shift)
}

// Whether the resource can work on the given date. A shift of 0 means
// any shift. Checks: active, shift membership, weekly schedule enabled
// for the weekday, and no whole-day unavailability covering the date.
func (m *AvailabilityManager) IsAvailable(resourceID string, date time.Time, shift int) bool {
	m.mu.RLock()
	resource, ok := m.resources[resourceID]
	windows := m.unavailabilities[resourceID]
	m.mu.RUnlock()
	if !ok || !resource.Active {
		return false
	}
	if shift != 0 && !set.From(resource.ShiftNumbers()).Contains(shift) {
		return false
	}
	schedule, ok := resource.WeeklySchedule()[m.calendar.WeekdayName(date)]
	if !ok || !schedule.Enabled {
		return false
	}
	day := m.localDay(date)
	for _, unavailability := range windows {
		if m.blocksDay(unavailability, day, shift) {
			return false
		}
	}
	return true
}

// The concrete working window of the resource on the given date, built
// from the weekly schedule. Windows with end at or before start wrap
// into the next calendar day. False when the resource does not work
// that weekday.
func (m *AvailabilityManager) WorkingWindow(resourceID string, date time.Time) (start, end time.Time, ok bool) {
	m.mu.RLock()
	resource, found := m.resources[resourceID]
	m.mu.RUnlock()
	if !found {
		return time.Time{}, time.Time{}, false
	}
	schedule, found := resource.WeeklySchedule()[m.calendar.WeekdayName(date)]
	if !found || !schedule.Enabled {
		return time.Time{}, time.Time{}, false
	}
	start, end, err := m.calendar.ClockWindow(date, schedule.StartTime, schedule.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// The resources available on the given date and shift, filtered by role
// and work-center qualification. Empty roles match any role; empty
// workCenters skip the qualification check, otherwise the resource must
// be qualified on at least one of them. The result is ordered by id.
func (m *AvailabilityManager) AvailableOperators(date time.Time, shift int, roles, workCenters []string) []shop.Resource {
	roleSet := set.From(roles)
	requiredCenters := set.From(workCenters)

	var available []shop.Resource
	for _, resource := range m.Resources() {
		if !roleSet.Empty() && !roleSet.Contains(resource.Role) {
			continue
		}
		if !requiredCenters.Empty() {
			qualified := set.From(resource.WorkCenterIDs())
			if qualified.Intersect(requiredCenters).Empty() {
				continue
			}
		}
		if !m.IsAvailable(resource.ID, date, shift) {
			continue
		}
		available = append(available, resource)
	}
	return available
}

// The first day at or after the given timestamp on which the resource
// is available on any shift. Scans forward up to a year.
func (m *AvailabilityManager) NextAvailableDay(resourceID string, after time.Time) (time.Time, bool) {
	day := m.localDay(after)
	for i := 0; i < nextAvailableDayScanLimit; i++ {
		if m.IsAvailable(resourceID, day, 0) {
			return day.UTC(), true
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}, false
}

// The hours the resource can work between start and end: the sum of the
// working-window overlaps with [start, end) on days where the resource
// is available.
func (m *AvailabilityManager) AvailableHours(resourceID string, start, end time.Time) float64 {
	var hours float64
	for day := m.localDay(start); day.Before(end); day = day.AddDate(0, 0, 1) {
		if !m.IsAvailable(resourceID, day, 0) {
			continue
		}
		windowStart, windowEnd, ok := m.WorkingWindow(resourceID, day)
		if !ok {
			continue
		}
		if windowStart.Before(start) {
			windowStart = start
		}
		if windowEnd.After(end) {
			windowEnd = end
		}
		if windowStart.Before(windowEnd) {
			hours += windowEnd.Sub(windowStart).Hours()
		}
	}
	return hours
}

// Whether the resource can work the whole window [start, end): every
// moment must be covered by the working window of an available day, and
// no partial-day unavailability may cut into the window. Working windows
// wrapping past midnight are attributed to the day they start on.
func (m *AvailabilityManager) IsAvailableInWindow(resourceID string, start, end time.Time) bool {
	if !start.Before(end) {
		return false
	}
	cursor := start
	for cursor.Before(end) {
		coveredUntil, ok := m.coveringWindowEnd(resourceID, cursor)
		if !ok {
			return false
		}
		cursor = coveredUntil
	}

	m.mu.RLock()
	windows := m.unavailabilities[resourceID]
	m.mu.RUnlock()
	for _, unavailability := range windows {
		if !unavailability.IsPartialDay {
			continue
		}
		for day := m.localDay(unavailability.StartDate); !day.After(m.localDay(unavailability.EndDate)); day = day.AddDate(0, 0, 1) {
			blockStart, blockEnd, err := m.calendar.ClockWindow(day, unavailability.StartTime, unavailability.EndTime)
			if err != nil {
				continue
			}
			if blockStart.Before(end) && start.Before(blockEnd) {
				return false
			}
		}
	}
	return true
}

// The end of the contiguous stretch the resource can work starting at
// the given moment. The covering working-window end, clipped at the
// first partial-day unavailability and at shift boundaries the resource
// may not work past. False when the moment itself is blocked or not
// covered by any working window.
func (m *AvailabilityManager) AvailableUntil(resourceID string, moment time.Time) (time.Time, bool) {
	end, ok := m.coveringWindowEnd(resourceID, moment)
	if !ok {
		return time.Time{}, false
	}
	// A working window may extend past the end of the moment's shift.
	// The stretch past the boundary only counts when the resource is
	// available there as well.
	if shiftWindow, found := m.calendar.WindowAt(moment); found && shiftWindow.End.Before(end) {
		if _, ok := m.coveringWindowEnd(resourceID, shiftWindow.End); !ok {
			end = shiftWindow.End
		}
	}

	m.mu.RLock()
	windows := m.unavailabilities[resourceID]
	m.mu.RUnlock()
	for _, unavailability := range windows {
		if !unavailability.IsPartialDay {
			continue
		}
		for day := m.localDay(unavailability.StartDate); !day.After(m.localDay(unavailability.EndDate)); day = day.AddDate(0, 0, 1) {
			blockStart, blockEnd, err := m.calendar.ClockWindow(day, unavailability.StartTime, unavailability.EndTime)
			if err != nil {
				continue
			}
			if !moment.Before(blockStart) && moment.Before(blockEnd) {
				return time.Time{}, false
			}
			if blockStart.After(moment) && blockStart.Before(end) {
				end = blockStart
			}
		}
	}
	return end, true
}

// The resources on duty at the given moment, filtered by role and
// work-center qualification like AvailableOperators. On duty means the
// moment falls within a working window and is not cut out by any
// unavailability. The result is ordered by id.
func (m *AvailabilityManager) OperatorsOnDuty(moment time.Time, roles, workCenters []string) []shop.Resource {
	roleSet := set.From(roles)
	requiredCenters := set.From(workCenters)

	var onDuty []shop.Resource
	for _, resource := range m.Resources() {
		if !roleSet.Empty() && !roleSet.Contains(resource.Role) {
			continue
		}
		if !requiredCenters.Empty() {
			qualified := set.From(resource.WorkCenterIDs())
			if qualified.Intersect(requiredCenters).Empty() {
				continue
			}
		}
		if _, ok := m.AvailableUntil(resource.ID, moment); !ok {
			continue
		}
		onDuty = append(onDuty, resource)
	}
	return onDuty
}

// The end of the working window covering the given moment, anchored on
// the moment's day or the previous one (wrapped windows). False when no
// available day's window covers it.
func (m *AvailabilityManager) coveringWindowEnd(resourceID string, moment time.Time) (time.Time, bool) {
	day := m.localDay(moment)
	for _, anchor := range []time.Time{day.AddDate(0, 0, -1), day} {
		if !m.IsAvailable(resourceID, anchor, m.calendar.ShiftNumberAt(moment)) {
			continue
		}
		windowStart, windowEnd, ok := m.WorkingWindow(resourceID, anchor)
		if !ok {
			continue
		}
		if !moment.Before(windowStart) && moment.Before(windowEnd) {
			return windowEnd, true
		}
	}
	return time.Time{}, false
}
