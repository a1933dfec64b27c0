// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"log/slog"

	"github.com/hashicorp/go-set/v3"
)

// Bonus for machines the routing was quoted on.
const exactMatchPoints = 15

// Step to prefer the machines the job was quoted on over substitutes.
type ExactMatchWeigher struct {
	BaseStep[EmptyStepOpts]
}

// Get the name of this step, used for identification in config, logs, metrics, etc.
func (s *ExactMatchWeigher) GetName() string { return "weigher_exact_match" }

func (s *ExactMatchWeigher) Run(traceLog *slog.Logger, request Request) (*StepResult, error) {
	result := s.PrepareResult(request)
	quoted := set.From(request.Operation.CompatibleMachineIDs())
	for _, machine := range request.Machines {
		if quoted.Contains(machine.MachineID) {
			result.Activations[machine.MachineID] = exactMatchPoints
		}
	}
	return result, nil
}
