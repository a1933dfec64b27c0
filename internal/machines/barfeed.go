// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package machines

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopfloor-dev/foreman/internal/shop"
)

// Name fragments marking cutoff work in a routing operation.
var sawNameFragments = []string{"saw", "cut", "cutoff", "part off", "sawing"}

// Whether the routing operation is saw work, either by type or by name.
// A saw operation produces a cut billet, which a bar-fed lathe cannot
// run: bar feeders require continuous stock.
func IsSawOperation(op shop.RoutingOperation) bool {
	if op.MachineType == shop.MachineTypeSaw || op.OperationType == shop.MachineTypeSaw {
		return true
	}
	name := strings.ToLower(op.Name)
	for _, fragment := range sawNameFragments {
		if strings.Contains(name, fragment) {
			return true
		}
	}
	return false
}

// The bar length the routing declares, in feet. Zero when the routing
// does not request bar stock.
func RoutingBarLength(routing []shop.RoutingOperation) float64 {
	var length float64
	for _, op := range routing {
		if op.RequiredBarLengthFt > length {
			length = op.RequiredBarLengthFt
		}
	}
	return length
}

// Result of the bar-feed policy for one routing on one lathe.
type Verdict struct {
	OK bool `json:"ok"`
	// The rules the lathe breaks for this routing.
	Violations []string `json:"violations,omitempty"`
	// Lathes of the same type that would accept the routing instead,
	// ordered by descending efficiency.
	Alternatives []shop.Machine `json:"alternatives,omitempty"`
}

// Check whether the lathe may run the routing under the bar-feed rules:
// saw work forbids bar-fed lathes for the whole job, declared bar stock
// requires a bar feeder of at least the declared length, and bar-fed
// work never moves to a shorter feeder or a lathe without one.
func (r *Registry) CheckBarFeed(routing []shop.RoutingOperation, lathe shop.Machine) Verdict {
	violations := BarFeedViolations(routing, lathe)
	verdict := Verdict{OK: len(violations) == 0, Violations: violations}
	if verdict.OK {
		return verdict
	}
	for _, machine := range r.MachinesOfType(lathe.Type) {
		if machine.MachineID == lathe.MachineID {
			continue
		}
		if len(BarFeedViolations(routing, machine)) == 0 {
			verdict.Alternatives = append(verdict.Alternatives, machine)
		}
	}
	sort.SliceStable(verdict.Alternatives, func(i, j int) bool {
		a, b := verdict.Alternatives[i], verdict.Alternatives[j]
		if a.EfficiencyFactor != b.EfficiencyFactor {
			return a.EfficiencyFactor > b.EfficiencyFactor
		}
		return a.MachineID < b.MachineID
	})
	return verdict
}

// The bar-feed rules the lathe breaks for this routing. Empty means the
// lathe may run it.
func BarFeedViolations(routing []shop.RoutingOperation, lathe shop.Machine) []string {
	for _, op := range routing {
		if IsSawOperation(op) {
			if lathe.BarFeeder {
				return []string{fmt.Sprintf(
					"routing contains saw operation %q, bar-fed lathe %s requires continuous stock",
					op.Name, lathe.MachineID)}
			}
			// Cut billets run on any non-bar-fed lathe.
			return nil
		}
	}
	barLength := RoutingBarLength(routing)
	if barLength <= 0 {
		return nil
	}
	if !lathe.BarFeeder {
		return []string{fmt.Sprintf(
			"routing requires a %gft bar feeder, %s has none", barLength, lathe.MachineID)}
	}
	if lathe.BarLengthFt < barLength {
		return []string{fmt.Sprintf(
			"routing requires a %gft bar, %s holds only %gft",
			barLength, lathe.MachineID, lathe.BarLengthFt)}
	}
	return nil
}
