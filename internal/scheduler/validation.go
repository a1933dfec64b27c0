// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"errors"
	"log/slog"

	"github.com/shopfloor-dev/foreman/internal/conf"
	"github.com/shopfloor-dev/foreman/internal/db"
)

// The config type has a long name, so we use a shorter alias here.
// The name is intentionally long to make it explicit that we disable
// validations for the scheduler step instead of enabling them.
type disabledValidations = conf.SchedulerStepDisabledValidationsConfig

// Wrapper for scheduler steps that validates them before/after execution.
type StepValidator struct {
	// The wrapped step to validate.
	Step Step
	// By default, we execute all validations. However, through the config,
	// we can also disable some validations if necessary.
	DisabledValidations disabledValidations
}

// Get the name of the wrapped step.
func (s *StepValidator) GetName() string {
	return s.Step.GetName()
}

// Get the alias of the wrapped step.
func (s *StepValidator) GetAlias() string {
	return s.Step.GetAlias()
}

// Initialize the wrapped step with the database and options.
func (s *StepValidator) Init(alias string, db db.DB, opts conf.RawOpts) error {
	slog.Info(
		"scheduler: init validation for step", "name", s.GetName(),
		"disabled", s.DisabledValidations,
	)
	return s.Step.Init(alias, db, opts)
}

// Validate the wrapped step with the database and options.
func ValidateStep(step Step, disabledValidations disabledValidations) *StepValidator {
	return &StepValidator{
		Step:                step,
		DisabledValidations: disabledValidations,
	}
}

// Run the step and validate what happens.
func (s *StepValidator) Run(traceLog *slog.Logger, request Request) (*StepResult, error) {
	result, err := s.Step.Run(traceLog, request)
	if err != nil {
		return nil, err
	}
	// If not disabled, validate that the number of machines stayed the same.
	// Weigher steps must only reorder, never add or remove machines. Filter
	// steps disable this validation through their config.
	if !s.DisabledValidations.SameSubjectNumberInOut {
		deduplicated := map[string]struct{}{}
		for _, subject := range request.GetSubjects() {
			deduplicated[subject] = struct{}{}
		}
		if len(result.Activations) != len(deduplicated) {
			return nil, errors.New("safety: number of (deduplicated) subjects changed during step execution")
		}
	}
	// If not disabled, validate that some machines remain.
	if !s.DisabledValidations.SomeSubjectsRemain {
		if len(result.Activations) == 0 {
			return nil, errors.New("safety: no subjects remain after step execution")
		}
	}
	return result, nil
}
