// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"log/slog"

	"github.com/shopfloor-dev/foreman/internal/shop"
)

// Points awarded per machine tier.
const (
	tierPointsPremium  = 30
	tierPointsStandard = 20
	tierPointsBudget   = 10
)

// Step to prefer better machine tiers. Premium and Tier 1 machines rank
// above Standard, Standard above Budget and anything unclassified.
type MachineTierWeigher struct {
	BaseStep[EmptyStepOpts]
}

// Get the name of this step, used for identification in config, logs, metrics, etc.
func (s *MachineTierWeigher) GetName() string { return "weigher_machine_tier" }

func (s *MachineTierWeigher) Run(traceLog *slog.Logger, request Request) (*StepResult, error) {
	result := s.PrepareResult(request)
	for _, machine := range request.Machines {
		result.Activations[machine.MachineID] = tierPoints(machine)
	}
	return result, nil
}

func tierPoints(machine shop.Machine) float64 {
	switch {
	case machine.IsPremiumTier():
		return tierPointsPremium
	case machine.Tier == shop.TierStandard:
		return tierPointsStandard
	default:
		return tierPointsBudget
	}
}
