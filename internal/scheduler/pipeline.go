// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shopfloor-dev/foreman/internal/conf"
	"github.com/shopfloor-dev/foreman/internal/db"
	"github.com/shopfloor-dev/foreman/internal/mqtt"
)

// MQTT topic on which finished pipeline runs are published for
// dashboards and debugging.
const TopicFinished = "foreman/scheduler/pipeline/finished"

// Steps with this name prefix remove machines instead of weighing them.
const filterPrefix = "filter_"

type Pipeline interface {
	// Run the pipeline and return machine ids in order of preference.
	Run(request Request) ([]string, error)
}

// Wrapper that can be applied to each step in the pipeline, e.g. to
// validate or monitor the step.
type StepWrapper func(Step, conf.SchedulerStepConfig) Step

// Pipeline of scheduler steps.
type pipeline struct {
	// The activation function to use when combining the
	// results of the scheduler steps.
	ActivationFunction
	// The steps to run, in groups. Steps within a group run in
	// parallel, groups run in sequence.
	executionOrder [][]Step
	// The order in which the step weights are applied to the input
	// weights, by the step key (name plus alias).
	applicationOrder []string
	// Monitor to observe the pipeline.
	monitor PipelineMonitor
	// Client to publish finished pipeline runs over mqtt.
	mqttClient mqtt.Client
	// Topic on which finished runs are published.
	topicFinished string
}

// The key under which a step's activations are tracked. Steps
// configured multiple times are told apart by their alias.
func stepKey(step Step) string {
	if alias := step.GetAlias(); alias != "" {
		return step.GetName() + " (" + alias + ")"
	}
	return step.GetName()
}

// Create a new pipeline with steps contained in the configuration.
// Filters run before weighers, regardless of the order in the config.
// The pipeline config is validated at startup, so an unsupported or
// misconfigured step panics.
func NewPipeline(
	supportedSteps map[string]func() Step,
	confedSteps []conf.SchedulerStepConfig,
	stepWrappers []StepWrapper,
	database db.DB,
	monitor PipelineMonitor,
	mqttClient mqtt.Client,
	topicFinished string,
) Pipeline {
	var filters, weighers []Step
	applicationOrder := []string{}
	for _, stepConfig := range confedSteps {
		makeStep, ok := supportedSteps[stepConfig.Name]
		if !ok {
			panic("unsupported scheduler step: " + stepConfig.Name)
		}
		step := makeStep()
		// Apply the step wrappers to the step, e.g. validation and monitoring.
		for _, wrapper := range stepWrappers {
			step = wrapper(step, stepConfig)
		}
		if err := step.Init(stepConfig.Alias, database, stepConfig.Options); err != nil {
			panic("failed to initialize pipeline step: " + err.Error())
		}
		if strings.HasPrefix(stepConfig.Name, filterPrefix) {
			filters = append(filters, step)
		} else {
			weighers = append(weighers, step)
		}
		slog.Info(
			"scheduler: added step",
			"name", stepConfig.Name, "alias", stepConfig.Alias,
		)
	}
	executionOrder := [][]Step{}
	if len(filters) > 0 {
		executionOrder = append(executionOrder, filters)
	}
	if len(weighers) > 0 {
		executionOrder = append(executionOrder, weighers)
	}
	for _, steps := range executionOrder {
		for _, step := range steps {
			applicationOrder = append(applicationOrder, stepKey(step))
		}
	}
	return &pipeline{
		executionOrder:   executionOrder,
		applicationOrder: applicationOrder,
		monitor:          monitor,
		mqttClient:       mqttClient,
		topicFinished:    topicFinished,
	}
}

// Execute the scheduler steps in groups of the execution order.
// The steps within each group are run in parallel.
func (p *pipeline) runSteps(log *slog.Logger, request Request) map[string]map[string]float64 {
	var lock sync.Mutex
	activationsByStep := map[string]map[string]float64{}
	for _, steps := range p.executionOrder {
		var wg sync.WaitGroup
		for _, step := range steps {
			wg.Go(func() {
				key := stepKey(step)
				stepLog := log.With("step", key)
				result, err := step.Run(stepLog, request)
				if errors.Is(err, ErrStepSkipped) {
					stepLog.Info("scheduler: step skipped")
					return
				}
				if err != nil {
					stepLog.Error("scheduler: failed to run step", "error", err)
					return
				}
				lock.Lock()
				defer lock.Unlock()
				activationsByStep[key] = result.Activations
			})
		}
		wg.Wait()
	}
	return activationsByStep
}

// Apply the step weights to the input weights.
func (p *pipeline) applyStepWeights(
	stepWeights map[string]map[string]float64,
	inWeights map[string]float64,
) map[string]float64 {
	// Copy to avoid modifying the original weights.
	outWeights := make(map[string]float64, len(inWeights))
	maps.Copy(outWeights, inWeights)

	// Apply all activations in the strict order defined by the configuration.
	for _, key := range p.applicationOrder {
		stepActivations, ok := stepWeights[key]
		if !ok {
			// This is ok, since steps can be skipped.
			continue
		}
		outWeights = p.Apply(outWeights, stepActivations)
	}
	return outWeights
}

// Sort the machines by their weights, highest weight first.
// Equal weights are broken by machine id, so the result is stable.
func (p *pipeline) sortSubjectsByWeights(weights map[string]float64) []string {
	subjects := slices.Collect(maps.Keys(weights))
	sort.Slice(subjects, func(i, j int) bool {
		if weights[subjects[i]] != weights[subjects[j]] {
			return weights[subjects[i]] > weights[subjects[j]]
		}
		return subjects[i] < subjects[j]
	})
	return subjects
}

// Evaluate the pipeline and return a list of machine ids in order of preference.
func (p *pipeline) Run(request Request) ([]string, error) {
	slogArgs := request.GetTraceLogArgs()
	slogArgsAny := make([]any, 0, len(slogArgs))
	for _, arg := range slogArgs {
		slogArgsAny = append(slogArgsAny, arg)
	}
	traceLog := slog.With(slogArgsAny...)

	if p.monitor.pipelineRunTimer != nil {
		timer := prometheus.NewTimer(p.monitor.pipelineRunTimer.WithLabelValues(p.monitor.PipelineName))
		defer timer.ObserveDuration()
	}

	traceLog.Info("scheduler: starting pipeline", "machines", request.GetSubjects())

	// Get weights from the scheduler steps, apply them to the input
	// weights, and sort the machines by their weights.
	stepWeights := p.runSteps(traceLog, request)
	inWeights := request.GetWeights()
	outWeights := p.applyStepWeights(stepWeights, inWeights)
	traceLog.Info("scheduler: output weights", "weights", outWeights)
	subjects := p.sortSubjectsByWeights(outWeights)
	traceLog.Info("scheduler: sorted machines", "machines", subjects)

	// Collect some metrics about the pipeline execution.
	go p.monitor.observePipelineResult(request, subjects)

	// Publish the finished run over mqtt for dashboards and debugging.
	if p.mqttClient != nil {
		go p.mqttClient.Publish(p.topicFinished, map[string]any{
			"request":     request,
			"in":          inWeights,
			"out":         outWeights,
			"order":       subjects,
			"stepWeights": stepWeights,
		})
	}
	return subjects, nil
}
