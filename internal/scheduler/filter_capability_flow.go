// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"log/slog"

	"github.com/hashicorp/go-set/v3"

	"github.com/shopfloor-dev/foreman/internal/machines"
)

// Step to keep only machines that can run the operation: the machines
// quoted on the routing, plus substitutes whose capabilities the quoted
// work may flow up to.
type CapabilityFlowFilter struct {
	BaseStep[EmptyStepOpts]
}

// Get the name of this step, used for identification in config, logs, metrics, etc.
func (s *CapabilityFlowFilter) GetName() string { return "filter_capability_flow" }

// The machine the operation was quoted on. Substitutes must carry its
// primary capability or one the capability flows up to. Falls back to
// the first quoted machine still present in the fleet.
func (s *CapabilityFlowFilter) referenceMachine(request Request) (machine reference, ok bool) {
	if m, found := request.MachineByID(request.Operation.OriginalMachineID); found {
		return reference{m.MachineID, machines.PrimaryCapability(m)}, true
	}
	for _, id := range request.Operation.CompatibleMachineIDs() {
		if m, found := request.MachineByID(id); found {
			return reference{m.MachineID, machines.PrimaryCapability(m)}, true
		}
	}
	return reference{}, false
}

type reference struct {
	machineID  string
	capability string
}

func (s *CapabilityFlowFilter) Run(traceLog *slog.Logger, request Request) (*StepResult, error) {
	result := s.PrepareResult(request)
	quoted := set.From(request.Operation.CompatibleMachineIDs())

	ref, haveRef := s.referenceMachine(request)
	if !haveRef || ref.capability == "" {
		// Without a reference capability no substitution is possible,
		// only the quoted machines remain.
		for _, machine := range request.Machines {
			if !quoted.Contains(machine.MachineID) {
				delete(result.Activations, machine.MachineID)
			}
		}
		return result, nil
	}

	for _, machine := range request.Machines {
		// Quoted machines are always valid, the shop priced the job on them.
		if quoted.Contains(machine.MachineID) {
			continue
		}
		if machines.CanServe(machine, ref.capability) {
			continue
		}
		delete(result.Activations, machine.MachineID)
		traceLog.Debug(
			"filtering machine that cannot substitute for the quoted machine",
			"machine", machine.MachineID,
			"quotedMachine", ref.machineID,
			"capability", ref.capability,
		)
	}
	return result, nil
}
