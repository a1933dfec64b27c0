// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"log/slog"

	"github.com/shopfloor-dev/foreman/internal/machines"
	"github.com/shopfloor-dev/foreman/internal/shop"
)

// Step to remove bar-fed lathes that the routing cannot run on, e.g.
// because an upstream saw cut already chopped the bar stock or the bar
// is longer than the feeder magazine.
type BarFeederFilter struct {
	BaseStep[EmptyStepOpts]
}

// Get the name of this step, used for identification in config, logs, metrics, etc.
func (s *BarFeederFilter) GetName() string { return "filter_bar_feeder" }

// Only lathe operations care about bar feed, everything else skips.
func (s *BarFeederFilter) Run(traceLog *slog.Logger, request Request) (*StepResult, error) {
	if request.Operation.MachineType != shop.MachineTypeLathe {
		return nil, ErrStepSkipped
	}
	result := s.PrepareResult(request)
	for _, machine := range request.Machines {
		violations := machines.BarFeedViolations(request.Routing, machine)
		if len(violations) == 0 {
			continue
		}
		delete(result.Activations, machine.MachineID)
		traceLog.Debug(
			"filtering lathe that breaks bar-feed rules",
			"machine", machine.MachineID, "violations", violations,
		)
	}
	return result, nil
}
