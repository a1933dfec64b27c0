// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package machines holds the machine registry and the substitution rules
// deciding which machines may stand in for each other.
package machines

import (
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-set/v3"
	gocache "github.com/patrickmn/go-cache"

	"github.com/shopfloor-dev/foreman/internal/shop"
)

// Subcategory required by machines accepting dual-spindle work.
const subcategoryLiveToolingLathes = "Live Tooling Lathes"

// One substitution target a capability may flow to.
type flowTarget struct {
	// The capability an accepting machine must carry.
	capability string
	// The machine must have a bar feeder fitted.
	needsBarFeeder bool
	// Required machine subcategory, if not empty.
	subcategory string
}

// Upward-only substitution table. Work requesting the key capability may
// run on machines matching one of the listed targets; the source itself
// is always the first target. Capabilities outside the table match by
// exact membership with no substitution flow.
var flowTable = map[string][]flowTarget{
	shop.CapSingleSpindleTurning: {
		{capability: shop.CapSingleSpindleTurning},
		{capability: shop.CapLiveToolingTurning},
		{capability: shop.CapDualSpindleTurning, subcategory: subcategoryLiveToolingLathes},
	},
	shop.CapLiveToolingTurning: {
		{capability: shop.CapLiveToolingTurning},
		{capability: shop.CapDualSpindleTurning, subcategory: subcategoryLiveToolingLathes},
	},
	shop.CapDualSpindleTurning: {
		{capability: shop.CapDualSpindleTurning, subcategory: subcategoryLiveToolingLathes},
	},
	shop.CapBarFedTurning: {
		{capability: shop.CapBarFedTurning, needsBarFeeder: true},
	},
	shop.CapVMCMilling: {
		{capability: shop.CapVMCMilling},
		{capability: shop.CapPseudo4thAxisMilling},
		{capability: shop.CapTrue4thAxisMilling},
		{capability: shop.Cap5AxisMilling},
	},
	shop.CapPseudo4thAxisMilling: {
		{capability: shop.CapPseudo4thAxisMilling},
		{capability: shop.CapTrue4thAxisMilling},
		{capability: shop.Cap5AxisMilling},
	},
	shop.CapTrue4thAxisMilling: {
		{capability: shop.CapTrue4thAxisMilling},
		{capability: shop.Cap5AxisMilling},
	},
	shop.Cap5AxisMilling: {
		{capability: shop.Cap5AxisMilling},
	},
}

// Specificity rank of the flow capabilities, used to find the primary
// capability of a machine. Higher means more specific.
var capabilityRank = map[string]int{
	shop.CapSingleSpindleTurning: 1,
	shop.CapLiveToolingTurning:   2,
	shop.CapDualSpindleTurning:   3,
	shop.CapVMCMilling:           1,
	shop.CapPseudo4thAxisMilling: 2,
	shop.CapTrue4thAxisMilling:   3,
	shop.Cap5AxisMilling:         4,
}

// Whether the machine can accept work requesting the given capability.
func CanServe(machine shop.Machine, capability string) bool {
	capabilities := set.From(machine.CapabilityFlags())
	targets, ok := flowTable[capability]
	if !ok {
		// Outside the flow table only exact membership counts.
		return capabilities.Contains(capability)
	}
	for _, target := range targets {
		if !capabilities.Contains(target.capability) {
			continue
		}
		if target.needsBarFeeder && !machine.BarFeeder {
			continue
		}
		if target.subcategory != "" && machine.Subcategory != target.subcategory {
			continue
		}
		return true
	}
	return false
}

// The most specific flow capability the machine carries, or empty when
// the machine carries none. Jobs quoted on this machine request this
// capability from substitutes, so substitution can only go upward.
func PrimaryCapability(machine shop.Machine) string {
	primary, bestRank := "", 0
	for _, capability := range machine.CapabilityFlags() {
		if rank, ok := capabilityRank[capability]; ok && rank > bestRank {
			primary, bestRank = capability, rank
		}
	}
	return primary
}

// How long memoized substitution lookups stay valid. Snapshot updates
// flush the cache early.
const flowCacheTTL = 5 * time.Minute

// Registry answers machine lookups over an in-memory snapshot.
type Registry struct {
	// Mutex to protect concurrent access to the snapshot.
	mu       sync.RWMutex
	machines []shop.Machine
	byID     map[string]shop.Machine
	// Memoized CompatibleMachines results by (capability, category, tier).
	flowCache *gocache.Cache
}

func NewRegistry() *Registry {
	return &Registry{
		byID:      map[string]shop.Machine{},
		flowCache: gocache.New(flowCacheTTL, 2*flowCacheTTL),
	}
}

// Replace the machine snapshot and flush memoized lookups.
func (r *Registry) UpdateData(machines []shop.Machine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.machines = make([]shop.Machine, len(machines))
	copy(r.machines, machines)
	r.byID = make(map[string]shop.Machine, len(machines))
	for _, machine := range machines {
		r.byID[machine.MachineID] = machine
	}
	r.flowCache.Flush()
}

// All machines in the snapshot.
func (r *Registry) Machines() []shop.Machine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	machines := make([]shop.Machine, len(r.machines))
	copy(machines, r.machines)
	return machines
}

// The machine with the given machine id, e.g. VMC-001.
func (r *Registry) ByID(id string) (shop.Machine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	machine, ok := r.byID[id]
	return machine, ok
}

// All machines of the given semantic type, e.g. LATHE.
func (r *Registry) MachinesOfType(machineType string) []shop.Machine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var machines []shop.Machine
	for _, machine := range r.machines {
		if machine.Type == machineType {
			machines = append(machines, machine)
		}
	}
	return machines
}

// All machines in the given substitution group.
func (r *Registry) MachinesInGroup(group string) []shop.Machine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var machines []shop.Machine
	for _, machine := range r.machines {
		if machine.SubstitutionGroup == group {
			machines = append(machines, machine)
		}
	}
	return machines
}

// The machines that can accept work requesting the given capability,
// ordered for candidate selection: machines in the preferred category
// first, then descending efficiency, then ascending utilization, ties
// by machine id. A non-empty tier restricts the result to that tier.
func (r *Registry) CompatibleMachines(capability, preferredCategory, tier string) []shop.Machine {
	key := capability + "|" + preferredCategory + "|" + tier
	if cached, ok := r.flowCache.Get(key); ok {
		return cached.([]shop.Machine)
	}

	r.mu.RLock()
	var compatible []shop.Machine
	for _, machine := range r.machines {
		if tier != "" && machine.Tier != tier {
			continue
		}
		if CanServe(machine, capability) {
			compatible = append(compatible, machine)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(compatible, func(i, j int) bool {
		a, b := compatible[i], compatible[j]
		if preferredCategory != "" {
			aExact := a.Category == preferredCategory
			bExact := b.Category == preferredCategory
			if aExact != bExact {
				return aExact
			}
		}
		if a.EfficiencyFactor != b.EfficiencyFactor {
			return a.EfficiencyFactor > b.EfficiencyFactor
		}
		if a.UtilizationPct != b.UtilizationPct {
			return a.UtilizationPct < b.UtilizationPct
		}
		return a.MachineID < b.MachineID
	})

	r.flowCache.SetDefault(key, compatible)
	return compatible
}
