// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"log/slog"

	"github.com/shopfloor-dev/foreman/internal/shop"
)

// Step to remove machines that are down for maintenance or offline.
type MachineStatusFilter struct {
	BaseStep[EmptyStepOpts]
}

// Get the name of this step, used for identification in config, logs, metrics, etc.
func (s *MachineStatusFilter) GetName() string { return "filter_machine_status" }

// Remove machines that cannot take new work. Busy machines stay in,
// work queues up behind their existing schedule entries.
func (s *MachineStatusFilter) Run(traceLog *slog.Logger, request Request) (*StepResult, error) {
	result := s.PrepareResult(request)
	for _, machine := range request.Machines {
		switch machine.Status {
		case shop.MachineMaintenance, shop.MachineOffline:
			delete(result.Activations, machine.MachineID)
			traceLog.Debug(
				"filtering machine that is out of service",
				"machine", machine.MachineID, "status", machine.Status,
			)
		}
	}
	return result, nil
}
