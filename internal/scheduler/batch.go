// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/shopfloor-dev/foreman/internal/conf"
	"github.com/shopfloor-dev/foreman/internal/events"
	"github.com/shopfloor-dev/foreman/internal/priority"
	"github.com/shopfloor-dev/foreman/internal/shop"
)

// BatchResult summarizes one schedule-all run.
type BatchResult struct {
	// Jobs the batch attempted, after limiting.
	Requested int `json:"requested"`
	// Per-job outcomes.
	Scheduled []ScheduleResult `json:"scheduled"`
	Failed    []ScheduleResult `json:"failed"`
	// Whether the wall-clock budget ran out before every job was tried.
	TimedOut   bool  `json:"timedOut"`
	DurationMS int64 `json:"durationMs"`
}

// IsSchedulingFailure reports whether the error is an expected
// placement outcome: the job stays open and the batch moves on.
// Anything else is an infrastructure error worth surfacing.
func IsSchedulingFailure(err error) bool {
	for _, sentinel := range []error{
		ErrRoutingEmpty,
		ErrNoCompatibleMachine,
		ErrNoQualifiedOperator,
		ErrMachineBookedOut,
		ErrMaterialMissing,
		ErrConflictUnresolvable,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// ScheduleAll places open jobs onto the live schedule, most urgent
// first. Only one batch runs at a time; a second call while one is in
// flight returns ErrBatchBusy immediately. Each job commits on its
// own, so a failing job never takes the rest of the batch down with
// it. The returned error aggregates infrastructure problems and the
// timeout; ordinary placement failures are reported per job in the
// result only.
func (s *Scheduler) ScheduleAll(ctx context.Context, maxJobs int) (BatchResult, error) {
	select {
	case s.batchGate <- struct{}{}:
		defer func() { <-s.batchGate }()
	default:
		return BatchResult{}, ErrBatchBusy
	}
	started := s.now()

	if timeout := s.config.BatchTimeoutSeconds; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}

	// Utilization feeds the machine ranking, so bring it up to date
	// before the world state snapshot is taken.
	if err := s.shiftLoad.RecomputeFromStore(ctx); err != nil {
		return BatchResult{}, err
	}
	if err := s.refreshWorldState(); err != nil {
		return BatchResult{}, err
	}

	jobs, err := s.store.ListJobs(false)
	if err != nil {
		return BatchResult{}, err
	}
	open := lo.Filter(jobs, func(job shop.Job, _ int) bool {
		return job.Status == shop.JobStatusOpen
	})
	now := s.now().UTC()
	priority.Sort(open, now)
	selected := open[:batchLimit(s.config, maxJobs, len(open))]

	// Campaigns form in priority order, so the most urgent member
	// founds the shipment and nothing admitted later may delay it.
	routings := make(map[string][]shop.RoutingOperation, len(selected))
	for _, job := range selected {
		routing, err := s.store.RoutingForJob(job.ID)
		if err != nil {
			return BatchResult{}, err
		}
		routings[job.ID] = routing
	}
	s.campaigns.Build(selected, routings, now)

	snapshot, err := s.store.ScheduleEntries()
	if err != nil {
		return BatchResult{}, err
	}
	batchJobIDs := lo.SliceToMap(selected, func(job shop.Job) (string, struct{}) {
		return job.ID, struct{}{}
	})
	state := newBatchState(lo.Reject(snapshot, func(entry shop.ScheduleEntry, _ int) bool {
		_, inBatch := batchJobIDs[entry.JobID]
		return inBatch
	}))

	result := BatchResult{Requested: len(selected)}
	var errs error
	for _, job := range selected {
		if ctx.Err() != nil {
			result.TimedOut = true
			errs = multierr.Append(errs, ErrBatchTimeout)
			break
		}
		jobResult, err := s.scheduleJobWithState(ctx, state, job.ID, Options{})
		switch {
		case err == nil:
			result.Scheduled = append(result.Scheduled, jobResult)
			s.publishEvent(events.TypeJobAutoScheduled, jobResult)
		case errors.Is(err, ErrBatchTimeout):
			result.TimedOut = true
			result.Failed = append(result.Failed, jobResult)
			errs = multierr.Append(errs, fmt.Errorf("job %s: %w", job.JobNumber, err))
		case IsSchedulingFailure(err):
			slog.Info("scheduler: job not placed", "job", job.JobNumber, "reason", err)
			result.Failed = append(result.Failed, jobResult)
		default:
			result.Failed = append(result.Failed, jobResult)
			errs = multierr.Append(errs, fmt.Errorf("job %s: %w", job.JobNumber, err))
		}
	}
	result.DurationMS = time.Since(started).Milliseconds()
	slog.Info(
		"scheduler: batch finished",
		"requested", result.Requested,
		"scheduled", len(result.Scheduled),
		"failed", len(result.Failed),
		"timedOut", result.TimedOut,
		"durationMs", result.DurationMS,
	)
	return result, errs
}

// How many jobs the batch may attempt: the caller's limit, the
// configured default when the caller passes none, hard-capped by the
// configured maximum and the number of open jobs.
func batchLimit(config conf.SchedulerConfig, maxJobs, open int) int {
	limit := maxJobs
	if limit <= 0 {
		limit = config.DefaultBatchJobs
	}
	if config.MaxBatchJobs > 0 && limit > config.MaxBatchJobs {
		limit = config.MaxBatchJobs
	}
	if limit <= 0 || limit > open {
		limit = open
	}
	return limit
}
