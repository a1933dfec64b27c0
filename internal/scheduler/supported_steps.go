// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"github.com/shopfloor-dev/foreman/internal/conf"
	"github.com/shopfloor-dev/foreman/internal/db"
	"github.com/shopfloor-dev/foreman/internal/mqtt"
)

// Configuration of steps supported by the machine selection pipeline.
// The steps actually used are defined through the configuration file.
var supportedSteps = map[string]func() Step{
	// Filters remove machines that cannot run the operation.
	(&MachineStatusFilter{}).GetName():  func() Step { return &MachineStatusFilter{} },
	(&CapabilityFlowFilter{}).GetName(): func() Step { return &CapabilityFlowFilter{} },
	(&BarFeederFilter{}).GetName():      func() Step { return &BarFeederFilter{} },
	// Weighers rank the remaining machines.
	(&UtilizationWeigher{}).GetName(): func() Step { return &UtilizationWeigher{} },
	(&MachineTierWeigher{}).GetName(): func() Step { return &MachineTierWeigher{} },
	(&EfficiencyWeigher{}).GetName():  func() Step { return &EfficiencyWeigher{} },
	(&ExactMatchWeigher{}).GetName():  func() Step { return &ExactMatchWeigher{} },
}

// Create the configured machine selection pipelines by name, with
// validation and monitoring wrapped around each step.
func NewPipelinesFromConfig(
	config conf.SchedulerConfig,
	database db.DB,
	monitor PipelineMonitor,
	mqttClient mqtt.Client,
) map[string]Pipeline {
	pipelines := make(map[string]Pipeline, len(config.Pipelines))
	for _, pipelineConf := range config.Pipelines {
		if _, exists := pipelines[pipelineConf.Name]; exists {
			panic("duplicate pipeline name: " + pipelineConf.Name)
		}
		wrappers := []StepWrapper{
			// Validate the step before running it.
			func(step Step, c conf.SchedulerStepConfig) Step {
				return ValidateStep(step, c.DisabledValidations)
			},
			// Monitor the step during execution.
			func(step Step, _ conf.SchedulerStepConfig) Step {
				return MonitorStep(step, monitor.SubPipeline(pipelineConf.Name))
			},
		}
		pipelines[pipelineConf.Name] = NewPipeline(
			supportedSteps,
			pipelineConf.Steps,
			wrappers,
			database,
			monitor.SubPipeline(pipelineConf.Name),
			mqttClient,
			TopicFinished,
		)
	}
	if _, ok := pipelines["default"]; !ok {
		panic("no default pipeline configured")
	}
	return pipelines
}

// The default pipeline configuration, applied when the service config
// does not define its own pipelines. Filters run before weighers; the
// filters drop machines, so their subject-count validations are off.
func DefaultPipelineConfig() []conf.SchedulerPipelineConfig {
	filter := func(name string) conf.SchedulerStepConfig {
		return conf.SchedulerStepConfig{
			Name: name,
			DisabledValidations: conf.SchedulerStepDisabledValidationsConfig{
				SameSubjectNumberInOut: true,
				SomeSubjectsRemain:     true,
			},
		}
	}
	return []conf.SchedulerPipelineConfig{{
		Name: "default",
		Steps: []conf.SchedulerStepConfig{
			filter((&MachineStatusFilter{}).GetName()),
			filter((&CapabilityFlowFilter{}).GetName()),
			filter((&BarFeederFilter{}).GetName()),
			{Name: (&UtilizationWeigher{}).GetName()},
			{Name: (&MachineTierWeigher{}).GetName()},
			{Name: (&EfficiencyWeigher{}).GetName()},
			{Name: (&ExactMatchWeigher{}).GetName()},
		},
	}}
}
