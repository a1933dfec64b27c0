// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package scheduler places manufacturing jobs onto the shop floor. A
// machine-selection pipeline ranks the candidate machines per routing
// operation, then a forward scan carves the operation into contiguous
// chunks of machine and operator time, walking the shift calendar from
// the planning boundary until everything fits or the scan window runs
// out.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/shopfloor-dev/foreman/internal/calendar"
	"github.com/shopfloor-dev/foreman/internal/campaigns"
	"github.com/shopfloor-dev/foreman/internal/conf"
	"github.com/shopfloor-dev/foreman/internal/events"
	"github.com/shopfloor-dev/foreman/internal/machines"
	"github.com/shopfloor-dev/foreman/internal/operators"
	"github.com/shopfloor-dev/foreman/internal/priority"
	"github.com/shopfloor-dev/foreman/internal/shiftload"
	"github.com/shopfloor-dev/foreman/internal/shop"
)

// Stages a schedule_progress event can report.
const (
	StageInitializing = "initializing"
	StagePlacing      = "placing"
	StageCompleted    = "completed"
	StageError        = "error"
)

// Progress is the payload of schedule_progress events pushed to
// watchers while a job schedules.
type Progress struct {
	JobID            string          `json:"jobId"`
	JobNumber        string          `json:"jobNumber"`
	Progress         int             `json:"progress"`
	Status           string          `json:"status"`
	Stage            string          `json:"stage"`
	OperationName    string          `json:"operationName,omitempty"`
	CurrentOperation int             `json:"currentOperation,omitempty"`
	TotalOperations  int             `json:"totalOperations,omitempty"`
	FailureDetails   []FailureDetail `json:"failureDetails,omitempty"`
}

// FailureDetail explains why one routing operation could not be placed.
type FailureDetail struct {
	OperationSequence  int      `json:"operationSequence"`
	OperationName      string   `json:"operationName"`
	MachineType        string   `json:"machineType"`
	CompatibleMachines []string `json:"compatibleMachines"`
	AttemptedDays      int      `json:"attemptedDays"`
	Reasons            []string `json:"reasons"`
}

// ScheduleResult is the outcome of placing one job. On failure the
// entries are empty and the reason and details say why.
type ScheduleResult struct {
	JobID          string               `json:"jobId"`
	JobNumber      string               `json:"jobNumber"`
	Entries        []shop.ScheduleEntry `json:"entries"`
	Warnings       []string             `json:"warnings,omitempty"`
	FailureReason  string               `json:"failureReason,omitempty"`
	FailureDetails []FailureDetail      `json:"failureDetails,omitempty"`
}

// Options controlling one placement.
type Options struct {
	// Place no work before this time. Zero means the job's planning
	// boundary applies: its creation date plus the planning horizon,
	// or now, whichever is later.
	After time.Time
	// Pin operations matching this machine's type onto exactly this
	// machine, as when a job card is dragged onto a machine lane.
	// Placement fails if the pinned machine does not pass the filters.
	PinnedMachineID string
	// Re-place only operations at or after this sequence, keeping the
	// entries of earlier operations. Zero re-places the whole routing.
	FromSequence int
}

// Scheduler turns routings into schedule entries.
type Scheduler struct {
	store        shop.Store
	calendar     *calendar.ShiftCalendar
	registry     *machines.Registry
	availability *operators.AvailabilityManager
	shiftLoad    *shiftload.Manager
	campaigns    *campaigns.Manager
	pipelines    map[string]Pipeline
	publisher    events.Publisher
	config       conf.SchedulerConfig

	// Admits one batch at a time.
	batchGate chan struct{}
	// The clock, replaceable in tests.
	now func() time.Time
}

func New(
	store shop.Store,
	shiftCalendar *calendar.ShiftCalendar,
	registry *machines.Registry,
	availability *operators.AvailabilityManager,
	shiftLoad *shiftload.Manager,
	campaignManager *campaigns.Manager,
	pipelines map[string]Pipeline,
	publisher events.Publisher,
	config conf.SchedulerConfig,
) *Scheduler {
	return &Scheduler{
		store:        store,
		calendar:     shiftCalendar,
		registry:     registry,
		availability: availability,
		shiftLoad:    shiftLoad,
		campaigns:    campaignManager,
		pipelines:    pipelines,
		publisher:    publisher,
		config:       config,
		batchGate:    make(chan struct{}, 1),
		now:          time.Now,
	}
}

// Reload machines, resources, and unavailabilities from the store into
// the in-memory lookups the placement loop runs against.
func (s *Scheduler) refreshWorldState() error {
	machineRows, err := s.store.Machines()
	if err != nil {
		return err
	}
	s.registry.UpdateData(machineRows)
	resources, err := s.store.Resources()
	if err != nil {
		return err
	}
	unavailabilities, err := s.store.Unavailabilities()
	if err != nil {
		return err
	}
	s.availability.UpdateData(resources, unavailabilities)
	return nil
}

// ScheduleJob places one job onto the live schedule. Existing entries
// of the job (at or after Options.FromSequence) are replaced
// atomically on success and untouched on failure.
func (s *Scheduler) ScheduleJob(ctx context.Context, jobID string, opts Options) (ScheduleResult, error) {
	if err := s.refreshWorldState(); err != nil {
		return ScheduleResult{JobID: jobID}, err
	}
	snapshot, err := s.store.ScheduleEntries()
	if err != nil {
		return ScheduleResult{JobID: jobID}, err
	}
	state := newBatchState(withoutJobTail(snapshot, jobID, opts.FromSequence))
	return s.scheduleJobWithState(ctx, state, jobID, opts)
}

// Drop the entries the placement is about to replace from the snapshot:
// all entries of the job, or only those at or after the sequence the
// re-placement starts from.
func withoutJobTail(entries []shop.ScheduleEntry, jobID string, fromSequence int) []shop.ScheduleEntry {
	return lo.Reject(entries, func(entry shop.ScheduleEntry, _ int) bool {
		if entry.JobID != jobID {
			return false
		}
		return fromSequence == 0 || entry.OperationSequence >= fromSequence
	})
}

// Place one job against the given booking state. The state keeps the
// locks of every placement committed so far in this batch, so entries
// emitted within one batch stay in ascending start order per machine.
func (s *Scheduler) scheduleJobWithState(
	ctx context.Context,
	state *batchState,
	jobID string,
	opts Options,
) (ScheduleResult, error) {
	job, err := s.store.GetJob(jobID)
	if err != nil {
		return ScheduleResult{JobID: jobID}, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	result := ScheduleResult{JobID: job.ID, JobNumber: job.JobNumber}

	routing, err := s.store.RoutingForJob(job.ID)
	if err != nil {
		return result, err
	}
	if opts.FromSequence > 0 {
		routing = lo.Filter(routing, func(op shop.RoutingOperation, _ int) bool {
			return op.Sequence >= opts.FromSequence
		})
	}
	if len(routing) == 0 {
		return s.fail(&result, job, ErrRoutingEmpty, nil)
	}
	s.publishProgress(Progress{
		JobID: job.ID, JobNumber: job.JobNumber,
		Stage: StageInitializing, Status: "preparing placement",
		TotalOperations: len(routing),
	})

	ready, reason, warnings, err := s.store.IsJobReady(job.ID)
	if err != nil {
		return result, err
	}
	result.Warnings = warnings
	if !ready {
		return s.fail(&result, job, fmt.Errorf("%w: %s", ErrMaterialMissing, reason), nil)
	}

	boundary, replacedStart, err := s.replaceWindow(job, opts)
	if err != nil {
		return result, err
	}

	// Lock snapshots let a failed placement roll the shared batch
	// state back to before this job touched it.
	machineLocks, resourceLocks := state.snapshotLocks()
	var produced []shop.ScheduleEntry
	for i, op := range routing {
		if err := ctx.Err(); err != nil {
			state.restoreLocks(machineLocks, resourceLocks)
			return s.fail(&result, job, fmt.Errorf("%w: %s", ErrBatchTimeout, err), nil)
		}

		var entries []shop.ScheduleEntry
		if op.Kind() == shop.OpKindOutsource {
			isFinal := i == len(routing)-1
			entry, returned := s.placeOutsource(job, op, boundary, isFinal)
			entries = []shop.ScheduleEntry{entry}
			boundary = returned
		} else {
			latestFinish := s.latestFinishFor(job, routing, i)
			var detail *FailureDetail
			entries, detail, err = s.placeOperation(ctx, state, job, routing, op, boundary, opts, latestFinish)
			if err != nil {
				state.restoreLocks(machineLocks, resourceLocks)
				return s.fail(&result, job, err, detail)
			}
			if len(entries) > 0 {
				boundary = entries[len(entries)-1].EndTime
				// Cut material settles overnight before downstream
				// operations may consume it.
				if machines.IsSawOperation(op) || op.MachineType == shop.MachineTypeWaterjet {
					boundary = s.calendar.StartOfNextDay(boundary)
				}
			}
		}
		produced = append(produced, entries...)

		s.publishProgress(Progress{
			JobID: job.ID, JobNumber: job.JobNumber,
			Stage: StagePlacing, Status: "placed " + op.Name,
			Progress:         (i + 1) * 100 / len(routing),
			OperationName:    op.Name,
			CurrentOperation: i + 1,
			TotalOperations:  len(routing),
		})
	}

	cutoff := time.Time{}
	if opts.FromSequence > 0 {
		cutoff = boundary
		if len(produced) > 0 {
			cutoff = produced[0].StartTime
		}
		// Stale entries of the replaced operations may start before the
		// new placement; the commit must reach back to them.
		if !replacedStart.IsZero() && replacedStart.Before(cutoff) {
			cutoff = replacedStart
		}
	}
	job.Status = shop.JobStatusScheduled
	job.Priority = priority.Score(job, s.now().UTC())
	if err := s.store.CommitEntries(&job, cutoff, produced); err != nil {
		state.restoreLocks(machineLocks, resourceLocks)
		return result, fmt.Errorf("failed to commit schedule for job %s: %w", job.JobNumber, err)
	}
	result.Entries = produced
	s.publishProgress(Progress{
		JobID: job.ID, JobNumber: job.JobNumber,
		Stage: StageCompleted, Status: "scheduled",
		Progress:        100,
		TotalOperations: len(routing),
	})
	return result, nil
}

// The earliest moment the first replaced operation may start, and the
// start of the earliest existing entry being replaced (zero when there
// is none). The boundary is an explicit lower bound from the caller or
// the job's planning boundary; a partial re-placement additionally
// never starts before the entries it keeps have finished.
func (s *Scheduler) replaceWindow(job shop.Job, opts Options) (boundary, replacedStart time.Time, err error) {
	boundary = opts.After.UTC()
	if boundary.IsZero() {
		boundary = job.CreatedDate.AddDate(0, 0, s.config.PlanningHorizonDays)
		if now := s.now().UTC(); now.After(boundary) {
			boundary = now
		}
	}
	if opts.FromSequence > 0 {
		existing, err := s.store.ScheduleEntriesForJob(job.ID)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		for _, entry := range existing {
			if entry.OperationSequence < opts.FromSequence {
				if entry.EndTime.After(boundary) {
					boundary = entry.EndTime
				}
			} else if replacedStart.IsZero() || entry.StartTime.Before(replacedStart) {
				replacedStart = entry.StartTime
			}
		}
	}
	return boundary, replacedStart, nil
}

// The hard latest finish of the operation, zero when unconstrained. The
// last internal operation of a campaign member must finish before the
// campaign shipment leaves for the vendor.
func (s *Scheduler) latestFinishFor(job shop.Job, routing []shop.RoutingOperation, index int) time.Time {
	latest := time.Time{}
	if op := routing[index]; op.LatestFinishDate != nil {
		latest = *op.LatestFinishDate
	}
	lastInternal := index == len(routing)-2 &&
		routing[len(routing)-1].Kind() == shop.OpKindOutsource
	if lastInternal {
		if ship, ok := s.campaigns.ShipDateForJob(job.ID); ok {
			if latest.IsZero() || ship.Before(latest) {
				latest = ship
			}
		}
	}
	return latest
}

// Placeholder entry for work done by an outside vendor. It occupies no
// machine or operator; the boundary for downstream operations advances
// past the vendor turnaround. Parts in a shipping campaign leave with
// the campaign shipment, not before.
func (s *Scheduler) placeOutsource(job shop.Job, op shop.RoutingOperation, boundary time.Time, isFinal bool) (shop.ScheduleEntry, time.Time) {
	start := boundary
	if isFinal {
		if ship, ok := s.campaigns.ShipDateForJob(job.ID); ok && ship.After(start) {
			start = ship
		}
	}
	end := start.AddDate(0, 0, job.LeadDays)
	entry := shop.ScheduleEntry{
		JobID:             job.ID,
		MachineID:         "",
		ResourceID:        nil,
		OperationSequence: op.Sequence,
		OperationName:     op.Name,
		StartTime:         start,
		EndTime:           end,
		Shift:             0,
		Status:            "Outsourced",
	}
	return entry, end
}

// Place one production or inspection operation: rank the candidate
// machines through the selection pipeline, then scan forward from the
// boundary carving the operation into chunks. The first chunk locks
// the machine and the operator for the whole operation.
func (s *Scheduler) placeOperation(
	ctx context.Context,
	state *batchState,
	job shop.Job,
	routing []shop.RoutingOperation,
	op shop.RoutingOperation,
	boundary time.Time,
	opts Options,
	latestFinish time.Time,
) ([]shop.ScheduleEntry, *FailureDetail, error) {
	// Operations without estimated work occupy no machine time.
	if op.EstimatedHours <= 0 && op.SetupHours <= 0 {
		return nil, nil, nil
	}
	candidates, err := s.candidateMachines(job, routing, op, opts.PinnedMachineID)
	if err != nil {
		detail := &FailureDetail{
			OperationSequence:  op.Sequence,
			OperationName:      op.Name,
			MachineType:        op.MachineType,
			CompatibleMachines: op.CompatibleMachineIDs(),
			Reasons:            []string{err.Error()},
		}
		return nil, detail, err
	}
	candidateIDs := lo.Map(candidates, func(m shop.Machine, _ int) string { return m.MachineID })

	roles := rolesForKind(op.Kind())
	if !s.hasQualifiedOperator(roles, candidateIDs) {
		detail := &FailureDetail{
			OperationSequence:  op.Sequence,
			OperationName:      op.Name,
			MachineType:        op.MachineType,
			CompatibleMachines: candidateIDs,
			Reasons: []string{fmt.Sprintf(
				"no active %v qualified on any of %v", roles, candidateIDs,
			)},
		}
		return nil, detail, ErrNoQualifiedOperator
	}

	start := boundary
	if op.EarliestStartDate != nil && op.EarliestStartDate.After(start) {
		start = *op.EarliestStartDate
	}
	cursor := s.calendar.RoundToShiftStart(start)
	deadline := cursor.AddDate(0, 0, s.config.ScanDays)

	tally := &scanTally{}
	var entries []shop.ScheduleEntry
	var remaining time.Duration
	lockedMachine, lockedResource := "", ""
	for {
		found, ok := s.findNextAvailableChunk(ctx, chunkQuery{
			state:            state,
			op:               op,
			candidates:       candidates,
			roles:            roles,
			lockedMachineID:  lockedMachine,
			lockedResourceID: lockedResource,
			remaining:        remaining,
			deadline:         deadline,
			latestFinish:     latestFinish,
			tally:            tally,
		}, cursor)
		if !ok {
			detail := &FailureDetail{
				OperationSequence:  op.Sequence,
				OperationName:      op.Name,
				MachineType:        op.MachineType,
				CompatibleMachines: candidateIDs,
				AttemptedDays:      tally.daysScanned,
				Reasons:            tally.reasons(latestFinish),
			}
			return nil, detail, tally.dominantErr()
		}
		if lockedMachine == "" {
			lockedMachine = found.machineID
			lockedResource = found.resourceID
			machine, _ := s.registry.ByID(found.machineID)
			remaining = s.requiredDuration(op, machine)
		}
		resourceID := found.resourceID
		entry := shop.ScheduleEntry{
			JobID:             job.ID,
			MachineID:         found.machineID,
			ResourceID:        &resourceID,
			OperationSequence: op.Sequence,
			OperationName:     op.Name,
			StartTime:         found.start,
			EndTime:           found.end,
			Shift:             found.shift,
			Status:            "Scheduled",
		}
		entries = append(entries, entry)
		state.lock(entry)
		// Feed the shift load so later chunks steer to the lighter shift.
		s.shiftLoad.Observe(entry)
		remaining -= found.end.Sub(found.start)
		if remaining <= 0 {
			break
		}
		cursor = found.end
	}

	opEnd := entries[len(entries)-1].EndTime
	if !latestFinish.IsZero() && opEnd.After(latestFinish) {
		detail := &FailureDetail{
			OperationSequence:  op.Sequence,
			OperationName:      op.Name,
			MachineType:        op.MachineType,
			CompatibleMachines: candidateIDs,
			AttemptedDays:      tally.daysScanned,
			Reasons: []string{fmt.Sprintf(
				"cannot finish before %s", latestFinish.Format(time.RFC3339),
			)},
		}
		return nil, detail, ErrMachineBookedOut
	}
	return entries, nil, nil
}

// The candidate machines for the operation, best first. The fleet of
// the operation's machine type goes through the selection pipeline;
// a pinned machine of the same type narrows the result to itself.
func (s *Scheduler) candidateMachines(
	job shop.Job,
	routing []shop.RoutingOperation,
	op shop.RoutingOperation,
	pinnedMachineID string,
) ([]shop.Machine, error) {
	fleet := s.registry.MachinesOfType(op.MachineType)
	if len(fleet) == 0 {
		return nil, fmt.Errorf("%w: no %s machines in the fleet", ErrNoCompatibleMachine, op.MachineType)
	}
	request := Request{
		Job:       job,
		Operation: op,
		Routing:   routing,
		Machines:  fleet,
		Weights:   map[string]float64{},
		Pipeline:  "default",
	}
	for _, machine := range fleet {
		request.Weights[machine.MachineID] = 0
	}
	pipeline, ok := s.pipelines[request.Pipeline]
	if !ok {
		return nil, fmt.Errorf("no pipeline named %q", request.Pipeline)
	}
	ordered, err := pipeline.Run(request)
	if err != nil {
		return nil, err
	}
	if pinned, ok := s.registry.ByID(pinnedMachineID); ok && pinned.Type == op.MachineType {
		if !lo.Contains(ordered, pinnedMachineID) {
			return nil, fmt.Errorf("%w: pinned machine %s cannot run %s",
				ErrNoCompatibleMachine, pinnedMachineID, op.Name)
		}
		ordered = []string{pinnedMachineID}
	}
	if len(ordered) == 0 {
		return nil, fmt.Errorf("%w: all %s machines were filtered out",
			ErrNoCompatibleMachine, op.MachineType)
	}
	selected := make([]shop.Machine, 0, len(ordered))
	for _, id := range ordered {
		if machine, ok := request.MachineByID(id); ok {
			selected = append(selected, machine)
		}
	}
	return selected, nil
}

// Operator roles acceptable for the kind of work.
func rolesForKind(kind shop.RoutingOpKind) []string {
	if kind == shop.OpKindInspection {
		return []string{shop.RoleQualityInspector}
	}
	return []string{shop.RoleOperator, shop.RoleShiftLead}
}

// Whether any active resource holds one of the roles and is qualified
// on at least one of the machines, regardless of the calendar. Placing
// fails fast when nobody qualifies, instead of scanning an empty month.
func (s *Scheduler) hasQualifiedOperator(roles []string, machineIDs []string) bool {
	for _, resource := range s.availability.Resources() {
		if !resource.Active || !lo.Contains(roles, resource.Role) {
			continue
		}
		if lo.Some(resource.WorkCenterIDs(), machineIDs) {
			return true
		}
	}
	return false
}

func (s *Scheduler) fail(result *ScheduleResult, job shop.Job, err error, detail *FailureDetail) (ScheduleResult, error) {
	result.FailureReason = err.Error()
	if detail != nil {
		result.FailureDetails = append(result.FailureDetails, *detail)
	}
	s.publishProgress(Progress{
		JobID: job.ID, JobNumber: job.JobNumber,
		Stage: StageError, Status: err.Error(),
		FailureDetails: result.FailureDetails,
	})
	return *result, err
}

func (s *Scheduler) publishProgress(progress Progress) {
	s.publishEvent(events.TypeScheduleProgress, progress)
}

func (s *Scheduler) publishEvent(eventType string, data any) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(events.Event{Type: eventType, Data: data})
}

// Human-readable rejection summary of an exhausted scan.
func (t *scanTally) reasons(latestFinish time.Time) []string {
	var reasons []string
	if t.machineBusy > 0 {
		reasons = append(reasons, fmt.Sprintf("machines already booked (%d rejected slots)", t.machineBusy))
	}
	if t.operatorMissing > 0 {
		reasons = append(reasons, fmt.Sprintf("no qualified operator on duty (%d rejected slots)", t.operatorMissing))
	}
	if t.machineUnstaffed > 0 {
		reasons = append(reasons, fmt.Sprintf("machines not staffed on the scanned shifts (%d rejected slots)", t.machineUnstaffed))
	}
	if !latestFinish.IsZero() {
		reasons = append(reasons, fmt.Sprintf("must finish before %s", latestFinish.Format(time.RFC3339)))
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "no free window within the scan horizon")
	}
	return reasons
}

// The failure mode that rejected the most candidate slots.
func (t *scanTally) dominantErr() error {
	if t.operatorMissing > t.machineBusy && t.operatorMissing > t.machineUnstaffed {
		return ErrNoQualifiedOperator
	}
	return ErrMachineBookedOut
}
