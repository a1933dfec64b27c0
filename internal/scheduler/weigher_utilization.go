// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package scheduler

import "log/slog"

// Step to prefer machines with free capacity. A machine booked to 100%
// gains nothing, an idle machine gains the full 100 points.
type UtilizationWeigher struct {
	BaseStep[EmptyStepOpts]
}

// Get the name of this step, used for identification in config, logs, metrics, etc.
func (s *UtilizationWeigher) GetName() string { return "weigher_utilization" }

func (s *UtilizationWeigher) Run(traceLog *slog.Logger, request Request) (*StepResult, error) {
	result := s.PrepareResult(request)
	result.Statistics["machine utilization"] = s.PrepareStats(request, "%")
	for _, machine := range request.Machines {
		result.Activations[machine.MachineID] = 100 - machine.UtilizationPct
		result.Statistics["machine utilization"].Subjects[machine.MachineID] = machine.UtilizationPct
	}
	return result, nil
}
