// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package scheduler

import "log/slog"

// Multiplier turning a machine's speed factor into weight points.
const efficiencyPointsScale = 20

// Step to prefer faster machines. The efficiency factor is a speed
// multiplier against the fleet baseline of 1.0.
type EfficiencyWeigher struct {
	BaseStep[EmptyStepOpts]
}

// Get the name of this step, used for identification in config, logs, metrics, etc.
func (s *EfficiencyWeigher) GetName() string { return "weigher_efficiency" }

func (s *EfficiencyWeigher) Run(traceLog *slog.Logger, request Request) (*StepResult, error) {
	result := s.PrepareResult(request)
	result.Statistics["efficiency factor"] = s.PrepareStats(request, "x")
	for _, machine := range request.Machines {
		factor := machine.EfficiencyFactor
		if factor <= 0 {
			// Unset in the fleet data, treat as baseline speed.
			factor = 1.0
		}
		result.Activations[machine.MachineID] = efficiencyPointsScale * factor
		result.Statistics["efficiency factor"].Subjects[machine.MachineID] = factor
	}
	return result, nil
}
