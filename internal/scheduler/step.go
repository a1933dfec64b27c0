// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"errors"
	"log/slog"

	"github.com/shopfloor-dev/foreman/internal/conf"
	"github.com/shopfloor-dev/foreman/internal/db"
)

var (
	// This error is returned from the step at any time when the step should be skipped.
	ErrStepSkipped = errors.New("step skipped")
)

// Interface to which step options must conform.
type StepOpts interface {
	// Validate the options for this step.
	Validate() error
}

// Empty step opts conforming to the StepOpts interface (validation always succeeds).
type EmptyStepOpts struct{}

func (EmptyStepOpts) Validate() error { return nil }

// Interface for a scheduler step.
type Step interface {
	// Configure the step from the options given in the service config.
	Init(alias string, db db.DB, opts conf.RawOpts) error
	// Run this step of the machine selection pipeline.
	// Return a map of machine ids to activation values. Important: machines
	// that are not in the map are considered as filtered out.
	// Provide a traceLog that contains the job context and should
	// be used to log the step's execution.
	Run(traceLog *slog.Logger, request Request) (*StepResult, error)
	// Get the name of this step, used to identify the step in config.
	GetName() string
	// Get the alias of this step, may be empty if not configured.
	GetAlias() string
}

// Result of a step run.
type StepResult struct {
	// Weight modifications by machine id. Machines missing from the map
	// are removed from further consideration.
	Activations map[string]float64
	// Statistics that should be observed for this step, by a short
	// display name such as "machine utilization".
	Statistics map[string]StepStatistics
}

// Statistics observed for the machines touched by a step.
type StepStatistics struct {
	// Unit of the statistics, e.g. "%".
	Unit string `json:"unit"`
	// Statistics per machine id.
	Subjects map[string]float64 `json:"subjects"`
}

// Common base for all steps that provides some functionality
// that would otherwise be duplicated across all steps.
type BaseStep[Opts StepOpts] struct {
	// Options to pass via yaml to this step.
	conf.YamlOpts[Opts]
	// The activation function to use.
	ActivationFunction
	// Database connection.
	DB db.DB
	// Alias under which this step was configured.
	Alias string
}

// Init the step with the database and options.
func (s *BaseStep[Opts]) Init(alias string, db db.DB, opts conf.RawOpts) error {
	if err := s.Load(opts); err != nil {
		return err
	}
	if err := s.Options.Validate(); err != nil {
		return err
	}
	s.Alias = alias
	s.DB = db
	return nil
}

// Get the alias of this step, may be empty if not configured.
func (s *BaseStep[Opts]) GetAlias() string { return s.Alias }

// Get a default result (no action) for the machines given in the request.
func (s *BaseStep[Opts]) PrepareResult(request Request) *StepResult {
	activations := make(map[string]float64, len(request.Machines))
	for _, subject := range request.GetSubjects() {
		activations[subject] = s.NoEffect()
	}
	stats := make(map[string]StepStatistics)
	return &StepResult{Activations: activations, Statistics: stats}
}

// Get default statistics for the machines given in the request.
func (s *BaseStep[Opts]) PrepareStats(request Request, unit string) StepStatistics {
	return StepStatistics{
		Unit:     unit,
		Subjects: make(map[string]float64, len(request.Machines)),
	}
}
