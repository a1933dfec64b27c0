// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package scheduler

import "errors"

// Failure modes surfaced by the scheduling core. Jobs that fail to
// place carry one of these as their failure reason; batch runs continue
// past them.
var (
	// The job has no routing operations to place.
	ErrRoutingEmpty = errors.New("job has no routing operations")
	// No machine passed the pipeline filters for an operation.
	ErrNoCompatibleMachine = errors.New("no compatible machine available")
	// No active operator with the required role and work-center
	// qualification was found within the scan window.
	ErrNoQualifiedOperator = errors.New("no qualified operator available")
	// The forward scan exhausted its window without free machine time.
	ErrMachineBookedOut = errors.New("machine is booked out")
	// The job cannot be scheduled yet, e.g. parts are at an outside
	// vendor. Missing material alone only produces a warning.
	ErrMaterialMissing = errors.New("job is not ready for scheduling")
	// A pinned placement conflicts with the existing schedule.
	ErrConflictUnresolvable = errors.New("placement conflicts with the existing schedule")
	// The batch exceeded its wall-clock budget.
	ErrBatchTimeout = errors.New("batch scheduling timed out")
	// Another batch is already in flight.
	ErrBatchBusy = errors.New("another scheduling batch is already running")
)
