// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package scheduler

// Mixin that can be embedded in a step to provide some common tooling
// around the weights produced by the steps.
//
// The machine scores are plain point values (utilization headroom, tier
// points, efficiency points) that add up linearly, so activations are
// applied by simple addition.
type ActivationFunction struct{}

// Get an activation that has no effect on the input weight.
func (ActivationFunction) NoEffect() float64 { return 0.0 }

// Apply the given activations to the input weights. Machines that are
// not contained in the activations map are filtered out.
func (ActivationFunction) Apply(in, activations map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(activations))
	for subject, weight := range in {
		activation, ok := activations[subject]
		if !ok {
			continue
		}
		out[subject] = weight + activation
	}
	return out
}
