// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"time"

	"github.com/shopfloor-dev/foreman/internal/calendar"
	"github.com/shopfloor-dev/foreman/internal/shop"
)

// A half-open time interval [start, end).
type interval struct {
	start, end time.Time
}

func (iv interval) contains(t time.Time) bool {
	return !t.Before(iv.start) && t.Before(iv.end)
}

// batchState tracks which machine and operator minutes are already
// taken, combining the persisted schedule snapshot with the entries
// produced so far in this batch.
//
// The snapshot intervals allow backfilling into gaps left by earlier
// batches. The lock maps do not: within one batch, nothing is placed
// before the last end time already produced on a machine or operator,
// so the emitted entry stream stays in ascending start order per
// machine.
type batchState struct {
	machineBusy  map[string][]interval
	resourceBusy map[string][]interval

	machineLocksUntil  map[string]time.Time
	resourceLocksUntil map[string]time.Time
}

// Build the booking state from the persisted schedule snapshot.
// Outsource placeholders carry no machine or operator time and are
// ignored.
func newBatchState(entries []shop.ScheduleEntry) *batchState {
	state := &batchState{
		machineBusy:        map[string][]interval{},
		resourceBusy:       map[string][]interval{},
		machineLocksUntil:  map[string]time.Time{},
		resourceLocksUntil: map[string]time.Time{},
	}
	for _, entry := range entries {
		if entry.MachineID == "" {
			continue
		}
		iv := interval{start: entry.StartTime, end: entry.EndTime}
		state.machineBusy[entry.MachineID] = append(state.machineBusy[entry.MachineID], iv)
		if entry.ResourceID != nil {
			state.resourceBusy[*entry.ResourceID] = append(state.resourceBusy[*entry.ResourceID], iv)
		}
	}
	return state
}

// Record a produced entry in the lock maps.
func (s *batchState) lock(entry shop.ScheduleEntry) {
	if entry.MachineID == "" {
		return
	}
	if entry.EndTime.After(s.machineLocksUntil[entry.MachineID]) {
		s.machineLocksUntil[entry.MachineID] = entry.EndTime
	}
	if entry.ResourceID != nil && entry.EndTime.After(s.resourceLocksUntil[*entry.ResourceID]) {
		s.resourceLocksUntil[*entry.ResourceID] = entry.EndTime
	}
}

// Copies of the lock maps, for rolling back a failed placement.
func (s *batchState) snapshotLocks() (machines, resources map[string]time.Time) {
	machines = make(map[string]time.Time, len(s.machineLocksUntil))
	for id, until := range s.machineLocksUntil {
		machines[id] = until
	}
	resources = make(map[string]time.Time, len(s.resourceLocksUntil))
	for id, until := range s.resourceLocksUntil {
		resources[id] = until
	}
	return machines, resources
}

// Restore the lock maps to an earlier snapshot.
func (s *batchState) restoreLocks(machines, resources map[string]time.Time) {
	s.machineLocksUntil = machines
	s.resourceLocksUntil = resources
}

// Whether the machine has no booking at the given moment.
func (s *batchState) machineFreeAt(machineID string, at time.Time) bool {
	if s.machineLocksUntil[machineID].After(at) {
		return false
	}
	for _, iv := range s.machineBusy[machineID] {
		if iv.contains(at) {
			return false
		}
	}
	return true
}

// How long the machine stays free from the given moment, capped at the
// horizon. Callers must have checked machineFreeAt first.
func (s *batchState) machineFreeUntil(machineID string, at, horizon time.Time) time.Time {
	free := horizon
	for _, iv := range s.machineBusy[machineID] {
		if iv.start.After(at) && iv.start.Before(free) {
			free = iv.start
		}
	}
	return free
}

// The earliest future moment at which the machine's current booking or
// lock ends. Used to jump the scan cursor over booked stretches.
func (s *batchState) machineNextFree(machineID string, at time.Time) time.Time {
	next := s.machineLocksUntil[machineID]
	for _, iv := range s.machineBusy[machineID] {
		if iv.contains(at) && iv.end.After(next) {
			next = iv.end
		}
	}
	return next
}

func (s *batchState) resourceFreeAt(resourceID string, at time.Time) bool {
	if s.resourceLocksUntil[resourceID].After(at) {
		return false
	}
	for _, iv := range s.resourceBusy[resourceID] {
		if iv.contains(at) {
			return false
		}
	}
	return true
}

func (s *batchState) resourceFreeUntil(resourceID string, at, horizon time.Time) time.Time {
	free := horizon
	for _, iv := range s.resourceBusy[resourceID] {
		if iv.start.After(at) && iv.start.Before(free) {
			free = iv.start
		}
	}
	return free
}

// One contiguous placement found by the scan.
type chunk struct {
	machineID  string
	resourceID string
	start, end time.Time
	shift      int
}

// Running tallies of why candidate minutes were rejected, used to name
// the dominating failure reason when a scan exhausts its window.
type scanTally struct {
	daysScanned      int
	machineBusy      int
	machineUnstaffed int
	operatorMissing  int
}

// Inputs of one chunk scan.
type chunkQuery struct {
	state *batchState
	op    shop.RoutingOperation
	// Candidate machines in pipeline preference order.
	candidates []shop.Machine
	// Acceptable operator roles for this operation.
	roles []string
	// Machine and operator continuity locks, set after the first chunk
	// of an operation. An operation never swaps machine or operator
	// between its chunks.
	lockedMachineID  string
	lockedResourceID string
	// Work left to place.
	remaining time.Duration
	// When the scan gives up.
	deadline time.Time
	// Hard latest finish of the operation, zero if unconstrained.
	latestFinish time.Time

	tally *scanTally
}

// Scan forward from the cursor for the next chunk of the operation:
// the earliest minute at which a candidate machine is free and staffed
// and a qualified operator is on duty. Minutes outside any shift jump
// to the next shift start; minutes where every candidate machine is
// booked jump to the earliest booking end. Returns false when the scan
// window is exhausted, the latest finish passes, or the context is
// cancelled.
func (s *Scheduler) findNextAvailableChunk(ctx context.Context, q chunkQuery, cursor time.Time) (chunk, bool) {
	scanStart := cursor
	preferredShift := s.shiftLoad.OptimalShift()
	for cursor.Before(q.deadline) {
		if ctx.Err() != nil {
			return chunk{}, false
		}
		if !q.latestFinish.IsZero() && !cursor.Before(q.latestFinish) {
			return chunk{}, false
		}
		q.tally.daysScanned = int(cursor.Sub(scanStart).Hours()/24) + 1

		window, withinShift := s.calendar.WindowAt(cursor)
		if !withinShift {
			cursor = s.calendar.RoundToShiftStart(cursor)
			continue
		}

		found, nextEvent := s.tryMinute(q, cursor, window, preferredShift)
		if found.machineID != "" {
			return found, true
		}
		if nextEvent.After(cursor) {
			cursor = nextEvent
			continue
		}
		cursor = cursor.Add(time.Minute)
	}
	return chunk{}, false
}

// Try to place a chunk at exactly this minute. When every candidate
// machine is booked, the second return value carries the earliest
// moment a booking ends, so the scan can jump instead of stepping.
func (s *Scheduler) tryMinute(q chunkQuery, cursor time.Time, window calendar.Window, preferredShift int) (chunk, time.Time) {
	allBooked := true
	nextEvent := time.Time{}
	observeBooking := func(machineID string) {
		q.tally.machineBusy++
		next := q.state.machineNextFree(machineID, cursor)
		if next.After(cursor) && (nextEvent.IsZero() || next.Before(nextEvent)) {
			nextEvent = next
		}
	}

	for _, machine := range q.candidates {
		if q.lockedMachineID != "" && machine.MachineID != q.lockedMachineID {
			continue
		}
		if !machineStaffedOn(machine, window.Shift) {
			q.tally.machineUnstaffed++
			allBooked = false
			continue
		}
		if !q.state.machineFreeAt(machine.MachineID, cursor) {
			observeBooking(machine.MachineID)
			continue
		}
		allBooked = false

		required := q.remaining
		if required == 0 {
			// Before the first chunk the work left depends on the
			// machine's speed.
			required = s.requiredDuration(q.op, machine)
		}
		operatorID, operatorUntil, ok := s.pickOperator(
			q.state, q.roles, machine.MachineID, cursor, q.lockedResourceID, preferredShift,
		)
		if !ok {
			q.tally.operatorMissing++
			continue
		}

		end := cursor.Add(required)
		if operatorUntil.Before(end) {
			end = operatorUntil
		}
		if staffedUntil := s.machineStaffedUntil(machine, window); staffedUntil.Before(end) {
			end = staffedUntil
		}
		if machineFree := q.state.machineFreeUntil(machine.MachineID, cursor, end); machineFree.Before(end) {
			end = machineFree
		}
		end = end.Truncate(time.Minute)
		if !end.After(cursor) {
			continue
		}
		return chunk{
			machineID:  machine.MachineID,
			resourceID: operatorID,
			start:      cursor,
			end:        end,
			shift:      window.Shift,
		}, time.Time{}
	}

	if allBooked {
		return chunk{}, nextEvent
	}
	return chunk{}, time.Time{}
}

// The qualified operator to run the machine starting at the given
// moment, and how long they can stay on it. Operators staffing the
// preferred shift are picked first, then the others, ties by id. A
// non-empty lockedResourceID restricts the choice to that operator.
func (s *Scheduler) pickOperator(
	state *batchState,
	roles []string,
	machineID string,
	cursor time.Time,
	lockedResourceID string,
	preferredShift int,
) (resourceID string, until time.Time, ok bool) {
	candidates := s.availability.OperatorsOnDuty(cursor, roles, []string{machineID})
	if len(candidates) == 0 {
		return "", time.Time{}, false
	}
	ordered := make([]shop.Resource, 0, len(candidates))
	for _, resource := range candidates {
		if staffsShift(resource, preferredShift) {
			ordered = append(ordered, resource)
		}
	}
	for _, resource := range candidates {
		if !staffsShift(resource, preferredShift) {
			ordered = append(ordered, resource)
		}
	}
	for _, resource := range ordered {
		if lockedResourceID != "" && resource.ID != lockedResourceID {
			continue
		}
		if !state.resourceFreeAt(resource.ID, cursor) {
			continue
		}
		windowEnd, available := s.availability.AvailableUntil(resource.ID, cursor)
		if !available {
			continue
		}
		if free := state.resourceFreeUntil(resource.ID, cursor, windowEnd); free.Before(windowEnd) {
			windowEnd = free
		}
		if !windowEnd.After(cursor) {
			continue
		}
		return resource.ID, windowEnd, true
	}
	return "", time.Time{}, false
}

func staffsShift(resource shop.Resource, shift int) bool {
	for _, number := range resource.ShiftNumbers() {
		if number == shift {
			return true
		}
	}
	return false
}

func machineStaffedOn(machine shop.Machine, shift int) bool {
	shifts := machine.ShiftNumbers()
	// Machines without explicit shift data run whenever staffed.
	if len(shifts) == 0 {
		return true
	}
	for _, number := range shifts {
		if number == shift {
			return true
		}
	}
	return false
}

// How long the machine stays staffed from within the given shift
// window: the window end, extended across back-to-back shifts the
// machine is also staffed on.
func (s *Scheduler) machineStaffedUntil(machine shop.Machine, window calendar.Window) time.Time {
	end := window.End
	for range 14 {
		next, ok := s.calendar.WindowAt(end)
		if !ok || !machineStaffedOn(machine, next.Shift) {
			return end
		}
		end = next.End
	}
	return end
}

// The total time the operation occupies the given machine: the
// estimated hours scaled by the machine's speed, plus setup. Running on
// a machine the job was not quoted on applies the routing's declared
// substitution efficiency hit.
func (s *Scheduler) requiredDuration(op shop.RoutingOperation, machine shop.Machine) time.Duration {
	factor := machine.EfficiencyFactor
	if factor <= 0 {
		factor = 1.0
	}
	hours := op.EstimatedHours / factor
	if op.EfficiencyImpact > 0 && op.EfficiencyImpact < 1 && !quotedOn(op, machine.MachineID) {
		hours /= op.EfficiencyImpact
	}
	hours += op.SetupHours
	return time.Duration(hours * float64(time.Hour)).Truncate(time.Minute)
}

func quotedOn(op shop.RoutingOperation, machineID string) bool {
	for _, id := range op.CompatibleMachineIDs() {
		if id == machineID {
			return true
		}
	}
	return false
}
