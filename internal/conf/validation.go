// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Fallbacks applied by Validate when the config leaves a knob unset.
const (
	DefaultPlanningHorizonDays = 7
	DefaultScanDays            = 30
	DefaultBatchTimeoutSeconds = 30
	DefaultBatchJobs           = 50
	DefaultMaxBatchJobs        = 100
)

// Check that the config is complete and consistent, and fill in defaults.
func (c *Config) Validate() error {
	if err := c.CalendarConfig.validate(); err != nil {
		return err
	}
	if err := c.SchedulerConfig.validate(); err != nil {
		return err
	}
	if c.APIConfig.LogRequestBodies {
		slog.Warn("logging request bodies is enabled (debug feature)")
	}
	return nil
}

func (c *CalendarConfig) validate() error {
	if c.Timezone == "" {
		return errors.New("calendar: timezone is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("calendar: invalid timezone %s: %w", c.Timezone, err)
	}
	if len(c.Shifts) == 0 {
		return errors.New("calendar: at least one shift is required")
	}
	seenNumbers := make(map[int]bool)
	for _, shift := range c.Shifts {
		if seenNumbers[shift.Number] {
			return fmt.Errorf("calendar: duplicate shift number %d", shift.Number)
		}
		seenNumbers[shift.Number] = true
		for _, clock := range []string{shift.Start, shift.End} {
			if _, err := time.Parse("15:04", clock); err != nil {
				return fmt.Errorf("calendar: invalid shift time %s: %w", clock, err)
			}
		}
	}
	return nil
}

func (c *SchedulerConfig) validate() error {
	seenPipelines := make(map[string]bool)
	for _, pipeline := range c.Pipelines {
		if seenPipelines[pipeline.Name] {
			return fmt.Errorf("scheduler: duplicate pipeline name %s", pipeline.Name)
		}
		seenPipelines[pipeline.Name] = true
		// Step keys must be unique within one pipeline so that the
		// application order is unambiguous.
		seenSteps := make(map[string]bool)
		for _, step := range pipeline.Steps {
			key := step.Name
			if step.Alias != "" {
				key = step.Name + " (" + step.Alias + ")"
			}
			if seenSteps[key] {
				return fmt.Errorf("scheduler: duplicate step %s in pipeline %s", key, pipeline.Name)
			}
			seenSteps[key] = true
		}
	}
	if !seenPipelines["default"] {
		return errors.New("scheduler: a pipeline named default is required")
	}
	if c.PlanningHorizonDays == 0 {
		c.PlanningHorizonDays = DefaultPlanningHorizonDays
	}
	if c.ScanDays == 0 {
		c.ScanDays = DefaultScanDays
	}
	if c.BatchTimeoutSeconds == 0 {
		c.BatchTimeoutSeconds = DefaultBatchTimeoutSeconds
	}
	if c.DefaultBatchJobs == 0 {
		c.DefaultBatchJobs = DefaultBatchJobs
	}
	if c.MaxBatchJobs == 0 {
		c.MaxBatchJobs = DefaultMaxBatchJobs
	}
	if c.DefaultBatchJobs > c.MaxBatchJobs {
		return fmt.Errorf(
			"scheduler: defaultBatchJobs %d exceeds maxBatchJobs %d",
			c.DefaultBatchJobs, c.MaxBatchJobs,
		)
	}
	return nil
}
