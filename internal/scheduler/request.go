// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"log/slog"

	"github.com/samber/lo"

	"github.com/shopfloor-dev/foreman/internal/shop"
)

// Request carries one routing operation through the machine selection
// pipeline. The candidate machines are the fleet of the operation's
// machine type; filters narrow them down and weighers rank the rest.
type Request struct {
	// The job the operation belongs to.
	Job shop.Job
	// The operation a machine is selected for.
	Operation shop.RoutingOperation
	// The full routing, for steps that need cross-operation context
	// such as bar-feed restrictions from a preceding saw cut.
	Routing []shop.RoutingOperation
	// Candidate machines, keyed into weights by their machine id.
	Machines []shop.Machine

	// The weights of the machines, modified by the pipeline steps.
	Weights map[string]float64
	// The name of the pipeline selecting the machine.
	Pipeline string
}

// GetSubjects returns the machine ids the pipeline is ranking.
func (r Request) GetSubjects() []string {
	return lo.Map(r.Machines, func(m shop.Machine, _ int) string {
		return m.MachineID
	})
}

// GetWeights returns the current machine weights.
func (r Request) GetWeights() map[string]float64 {
	return r.Weights
}

// GetPipeline returns the name of the pipeline handling this request.
func (r Request) GetPipeline() string {
	return r.Pipeline
}

// GetTraceLogArgs returns slog args to identify this request in logs.
func (r Request) GetTraceLogArgs() []slog.Attr {
	return []slog.Attr{
		slog.String("job", r.Job.JobNumber),
		slog.Int("sequence", r.Operation.Sequence),
		slog.String("operation", r.Operation.Name),
	}
}

// MachineByID returns the candidate machine with the given id.
func (r Request) MachineByID(id string) (shop.Machine, bool) {
	return lo.Find(r.Machines, func(m shop.Machine) bool {
		return m.MachineID == id
	})
}
