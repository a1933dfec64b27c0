// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package rescheduler re-plans scheduled work around posted resource
// and machine unavailability.
package rescheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/hashicorp/go-set/v3"

	"github.com/shopfloor-dev/foreman/internal/events"
	"github.com/shopfloor-dev/foreman/internal/mqtt"
	"github.com/shopfloor-dev/foreman/internal/priority"
	"github.com/shopfloor-dev/foreman/internal/scheduler"
	"github.com/shopfloor-dev/foreman/internal/shop"
)

// Request describes an unavailability window to re-plan around.
type Request struct {
	Reason              string    `json:"reason"`
	AffectedResourceIDs []string  `json:"affectedResourceIds,omitempty"`
	AffectedMachineIDs  []string  `json:"affectedMachineIds,omitempty"`
	Start               time.Time `json:"unavailabilityStart"`
	End                 time.Time `json:"unavailabilityEnd"`
	Shifts              []int     `json:"shifts,omitempty"`
	// Force keeps the run going even when some displaced work cannot
	// be re-placed; the leftovers are reported for a human to resolve.
	Force bool `json:"forceReschedule"`
}

// Conflict severity by how soon the affected entry starts.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

func severityFor(start, now time.Time) string {
	until := start.Sub(now)
	switch {
	case until < 8*time.Hour:
		return SeverityCritical
	case until < 24*time.Hour:
		return SeverityHigh
	case until < 72*time.Hour:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Conflict is one schedule entry caught in the unavailability window.
type Conflict struct {
	JobID             string    `json:"jobId"`
	JobNumber         string    `json:"jobNumber"`
	MachineID         string    `json:"machineId,omitempty"`
	ResourceID        *string   `json:"resourceId,omitempty"`
	OperationSequence int       `json:"operationSequence"`
	OperationName     string    `json:"operationName"`
	StartTime         time.Time `json:"startTime"`
	Severity          string    `json:"severity"`
	// Whether the conflict is about the machine rather than the
	// operator. Machine conflicts push the re-placement past the
	// unavailability window; operator conflicts may stay in place
	// with a stand-in.
	MachineAffected bool `json:"machineAffected"`
}

// Result of one rescheduling run.
type Result struct {
	Success               bool       `json:"success"`
	ConflictsResolved     int        `json:"conflictsResolved"`
	JobsRescheduled       int        `json:"jobsRescheduled"`
	OperationsRescheduled int        `json:"operationsRescheduled"`
	UnresolvableConflicts []Conflict `json:"unresolvableConflicts"`
	Warnings              []string   `json:"warnings"`
	Summary               string     `json:"summary"`
}

// Engine detects conflicts between the live schedule and posted
// unavailability and re-places the displaced work job by job.
type Engine struct {
	store     shop.Store
	scheduler *scheduler.Scheduler
	publisher events.Publisher

	now func() time.Time
}

func New(store shop.Store, sched *scheduler.Scheduler, publisher events.Publisher) *Engine {
	return &Engine{
		store:     store,
		scheduler: sched,
		publisher: publisher,
		now:       time.Now,
	}
}

// Every schedule entry overlapping the window on an affected machine or
// operator during an affected shift, graded by urgency.
func (e *Engine) detect(request Request) ([]Conflict, error) {
	entries, err := e.store.ScheduleEntriesInRange(request.Start, request.End)
	if err != nil {
		return nil, err
	}
	affectedResources := set.From(request.AffectedResourceIDs)
	affectedMachines := set.From(request.AffectedMachineIDs)
	affectedShifts := set.From(request.Shifts)
	now := e.now().UTC()

	jobNumbers := map[string]string{}
	var conflicts []Conflict
	for _, entry := range entries {
		if !affectedShifts.Empty() && !affectedShifts.Contains(entry.Shift) {
			continue
		}
		resourceHit := entry.ResourceID != nil && affectedResources.Contains(*entry.ResourceID)
		machineHit := affectedMachines.Contains(entry.MachineID)
		if !resourceHit && !machineHit {
			continue
		}
		if _, ok := jobNumbers[entry.JobID]; !ok {
			job, err := e.store.GetJob(entry.JobID)
			if err != nil {
				return nil, err
			}
			jobNumbers[entry.JobID] = job.JobNumber
		}
		conflicts = append(conflicts, Conflict{
			JobID:             entry.JobID,
			JobNumber:         jobNumbers[entry.JobID],
			MachineID:         entry.MachineID,
			ResourceID:        entry.ResourceID,
			OperationSequence: entry.OperationSequence,
			OperationName:     entry.OperationName,
			StartTime:         entry.StartTime,
			Severity:          severityFor(entry.StartTime, now),
			MachineAffected:   machineHit,
		})
	}
	return conflicts, nil
}

// Reschedule re-plans every job whose schedule collides with the
// request window. Per job, the entries from the earliest conflicting
// operation onward are re-placed; earlier operations keep their slots.
//
// An operator conflict re-places from the conflict's own start time:
// the posted unavailability already excludes the operator there, so a
// qualified stand-in may cover the very same window. A machine
// conflict has no such guard and re-places after the window instead.
func (e *Engine) Reschedule(ctx context.Context, request Request) (Result, error) {
	conflicts, err := e.detect(request)
	if err != nil {
		return Result{}, err
	}
	result := Result{Success: true}
	if len(conflicts) == 0 {
		result.Summary = "no schedule entries conflict with the unavailability"
		e.publisher.Publish(events.Event{Type: events.TypeRescheduleCompleted, Data: result})
		return result, nil
	}

	byJob := map[string][]Conflict{}
	for _, conflict := range conflicts {
		byJob[conflict.JobID] = append(byJob[conflict.JobID], conflict)
	}
	jobs := make([]shop.Job, 0, len(byJob))
	for jobID := range byJob {
		job, err := e.store.GetJob(jobID)
		if err != nil {
			return Result{}, err
		}
		jobs = append(jobs, job)
	}
	priority.Sort(jobs, e.now().UTC())

	for _, job := range jobs {
		opts := replacementOptions(byJob[job.ID], request)
		placed, err := e.scheduler.ScheduleJob(ctx, job.ID, opts)
		if err != nil {
			if !scheduler.IsSchedulingFailure(err) {
				return Result{}, err
			}
			result.UnresolvableConflicts = append(result.UnresolvableConflicts, byJob[job.ID]...)
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("job %s could not be re-placed: %v", job.JobNumber, err))
			if !request.Force {
				result.Success = false
			}
			continue
		}
		result.ConflictsResolved += len(byJob[job.ID])
		result.JobsRescheduled++
		moved := set.New[int](len(placed.Entries))
		var tail time.Time
		for _, entry := range placed.Entries {
			moved.Insert(entry.OperationSequence)
			if entry.EndTime.After(tail) {
				tail = entry.EndTime
			}
		}
		result.OperationsRescheduled += moved.Size()
		result.Warnings = append(result.Warnings, placed.Warnings...)
		if !job.PromisedDate.IsZero() && tail.After(job.PromisedDate) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("job %s now finishes %s, after its promised date %s",
					job.JobNumber,
					tail.Format("2006-01-02"),
					job.PromisedDate.Format("2006-01-02")))
		}
	}

	result.Summary = fmt.Sprintf(
		"%d conflicting entries across %d jobs: %d jobs re-placed, %d left unresolved",
		len(conflicts), len(jobs), result.JobsRescheduled, len(result.UnresolvableConflicts),
	)
	slog.Info("reschedule completed",
		"reason", request.Reason,
		"conflicts", len(conflicts),
		"jobsRescheduled", result.JobsRescheduled,
		"unresolved", len(result.UnresolvableConflicts),
	)
	e.publisher.Publish(events.Event{Type: events.TypeRescheduleCompleted, Data: result})
	return result, nil
}

// The placement options for re-placing one job's displaced tail.
func replacementOptions(conflicts []Conflict, request Request) scheduler.Options {
	opts := scheduler.Options{FromSequence: conflicts[0].OperationSequence}
	earliest := conflicts[0].StartTime
	machineAffected := false
	for _, conflict := range conflicts {
		if conflict.OperationSequence < opts.FromSequence {
			opts.FromSequence = conflict.OperationSequence
		}
		if conflict.StartTime.Before(earliest) {
			earliest = conflict.StartTime
		}
		machineAffected = machineAffected || conflict.MachineAffected
	}
	if machineAffected {
		opts.After = request.End
	} else {
		opts.After = earliest
	}
	return opts
}

// TriggerTopic carries broker-side announcements of posted
// unavailability, for rescheduling runs decoupled from the REST API.
const TriggerTopic = "foreman/resources/unavailability/posted"

// SubscribeTriggers starts rescheduling runs for requests posted on the
// trigger topic.
func (e *Engine) SubscribeTriggers(client mqtt.Client) error {
	return client.Subscribe(TriggerTopic, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		var request Request
		if err := json.Unmarshal(msg.Payload(), &request); err != nil {
			slog.Error("dropping malformed reschedule trigger", "error", err)
			return
		}
		go func() {
			if _, err := e.Reschedule(context.Background(), request); err != nil {
				slog.Error("triggered reschedule failed", "error", err)
			}
		}()
	})
}
