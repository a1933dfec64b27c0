// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package machines

import (
	"testing"

	"github.com/shopfloor-dev/foreman/internal/shop"
)

func testMachine(id, machineType, category, tier string, efficiency, utilization float64, capabilities ...string) shop.Machine {
	machine := shop.Machine{
		ID:               "uuid-" + id,
		MachineID:        id,
		Name:             id,
		Type:             machineType,
		Category:         category,
		Tier:             tier,
		Status:           shop.MachineAvailable,
		EfficiencyFactor: efficiency,
		UtilizationPct:   utilization,
	}
	machine.SetCapabilityFlags(capabilities)
	return machine
}

func TestCanServe(t *testing.T) {
	tests := []struct {
		name       string
		machine    shop.Machine
		capability string
		expected   bool
	}{
		{
			name:       "single spindle work on a live tooling lathe",
			machine:    testMachine("LATHE-002", shop.MachineTypeLathe, "Lathes", shop.TierStandard, 1.0, 0, shop.CapLiveToolingTurning),
			capability: shop.CapSingleSpindleTurning,
			expected:   true,
		},
		{
			name:       "live tooling work cannot fall back to a single spindle lathe",
			machine:    testMachine("LATHE-001", shop.MachineTypeLathe, "Lathes", shop.TierBudget, 1.0, 0, shop.CapSingleSpindleTurning),
			capability: shop.CapLiveToolingTurning,
			expected:   false,
		},
		{
			name: "dual spindle work requires the live tooling subcategory",
			machine: func() shop.Machine {
				m := testMachine("LATHE-005", shop.MachineTypeLathe, "Lathes", shop.TierPremium, 1.2, 0, shop.CapDualSpindleTurning)
				m.Subcategory = "CNC Lathes"
				return m
			}(),
			capability: shop.CapDualSpindleTurning,
			expected:   false,
		},
		{
			name: "dual spindle work on a live tooling subcategory machine",
			machine: func() shop.Machine {
				m := testMachine("LATHE-006", shop.MachineTypeLathe, "Lathes", shop.TierPremium, 1.2, 0, shop.CapDualSpindleTurning)
				m.Subcategory = "Live Tooling Lathes"
				return m
			}(),
			capability: shop.CapDualSpindleTurning,
			expected:   true,
		},
		{
			name:       "bar fed work requires the bar feeder flag",
			machine:    testMachine("LATHE-003", shop.MachineTypeLathe, "Lathes", shop.TierStandard, 1.0, 0, shop.CapBarFedTurning),
			capability: shop.CapBarFedTurning,
			expected:   false,
		},
		{
			name: "bar fed work on a lathe with a feeder",
			machine: func() shop.Machine {
				m := testMachine("LATHE-004", shop.MachineTypeLathe, "Lathes", shop.TierStandard, 1.0, 0, shop.CapBarFedTurning)
				m.BarFeeder = true
				return m
			}(),
			capability: shop.CapBarFedTurning,
			expected:   true,
		},
		{
			name:       "vmc work flows up to a 5 axis mill",
			machine:    testMachine("MILL-010", shop.MachineTypeMill, "Mills", shop.TierPremium, 1.3, 0, shop.Cap5AxisMilling),
			capability: shop.CapVMCMilling,
			expected:   true,
		},
		{
			name:       "pseudo 4th axis work cannot fall back to a basic vmc",
			machine:    testMachine("MILL-001", shop.MachineTypeMill, "Mills", shop.TierBudget, 1.0, 0, shop.CapVMCMilling),
			capability: shop.CapPseudo4thAxisMilling,
			expected:   false,
		},
		{
			name:       "true 4th axis work cannot fall back to pseudo",
			machine:    testMachine("MILL-002", shop.MachineTypeMill, "Mills", shop.TierStandard, 1.0, 0, shop.CapPseudo4thAxisMilling),
			capability: shop.CapTrue4thAxisMilling,
			expected:   false,
		},
		{
			name:       "capabilities outside the flow table match exactly",
			machine:    testMachine("SAW-001", shop.MachineTypeSaw, "Saws", shop.TierStandard, 1.0, 0, "horizontal_sawing"),
			capability: "horizontal_sawing",
			expected:   true,
		},
		{
			name:       "capabilities outside the flow table have no substitutes",
			machine:    testMachine("SAW-002", shop.MachineTypeSaw, "Saws", shop.TierStandard, 1.0, 0, "vertical_sawing"),
			capability: "horizontal_sawing",
			expected:   false,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := CanServe(test.machine, test.capability); got != test.expected {
				t.Errorf("CanServe(%s, %s) = %v, expected %v",
					test.machine.MachineID, test.capability, got, test.expected)
			}
		})
	}
}

func TestPrimaryCapability(t *testing.T) {
	lathe := testMachine("LATHE-007", shop.MachineTypeLathe, "Lathes", shop.TierPremium, 1.2, 0,
		shop.CapSingleSpindleTurning, shop.CapLiveToolingTurning)
	if got := PrimaryCapability(lathe); got != shop.CapLiveToolingTurning {
		t.Errorf("expected %s, got %s", shop.CapLiveToolingTurning, got)
	}

	mill := testMachine("MILL-003", shop.MachineTypeMill, "Mills", shop.TierPremium, 1.1, 0,
		shop.CapVMCMilling, shop.CapTrue4thAxisMilling)
	if got := PrimaryCapability(mill); got != shop.CapTrue4thAxisMilling {
		t.Errorf("expected %s, got %s", shop.CapTrue4thAxisMilling, got)
	}

	saw := testMachine("SAW-001", shop.MachineTypeSaw, "Saws", shop.TierStandard, 1.0, 0, "horizontal_sawing")
	if got := PrimaryCapability(saw); got != "" {
		t.Errorf("expected no primary capability, got %s", got)
	}
}

func TestRegistryLookups(t *testing.T) {
	registry := NewRegistry()
	vmc := testMachine("MILL-001", shop.MachineTypeMill, "Mills", shop.TierStandard, 1.0, 10, shop.CapVMCMilling)
	vmc.SubstitutionGroup = "vmc"
	lathe := testMachine("LATHE-001", shop.MachineTypeLathe, "Lathes", shop.TierStandard, 1.0, 20, shop.CapSingleSpindleTurning)
	registry.UpdateData([]shop.Machine{vmc, lathe})

	if _, ok := registry.ByID("MILL-001"); !ok {
		t.Error("expected to find MILL-001")
	}
	if _, ok := registry.ByID("MILL-999"); ok {
		t.Error("expected no machine MILL-999")
	}
	if got := registry.MachinesOfType(shop.MachineTypeLathe); len(got) != 1 || got[0].MachineID != "LATHE-001" {
		t.Errorf("unexpected lathes: %v", got)
	}
	if got := registry.MachinesInGroup("vmc"); len(got) != 1 || got[0].MachineID != "MILL-001" {
		t.Errorf("unexpected group members: %v", got)
	}
	if got := registry.Machines(); len(got) != 2 {
		t.Errorf("expected 2 machines, got %d", len(got))
	}
}

func TestCompatibleMachines_Ordering(t *testing.T) {
	registry := NewRegistry()
	registry.UpdateData([]shop.Machine{
		// Exact category, slow.
		testMachine("MILL-001", shop.MachineTypeMill, "Vertical Mills", shop.TierBudget, 0.9, 50, shop.CapVMCMilling),
		// Exact category, fast.
		testMachine("MILL-002", shop.MachineTypeMill, "Vertical Mills", shop.TierStandard, 1.2, 50, shop.CapVMCMilling),
		// Other category, fastest of all.
		testMachine("MILL-010", shop.MachineTypeMill, "5 Axis Mills", shop.TierPremium, 1.5, 10, shop.Cap5AxisMilling),
		// Equal efficiency to MILL-002 but busier, other category.
		testMachine("MILL-011", shop.MachineTypeMill, "Horizontal Mills", shop.TierStandard, 1.2, 80, shop.CapTrue4thAxisMilling),
		// Not a mill at all.
		testMachine("LATHE-001", shop.MachineTypeLathe, "Lathes", shop.TierStandard, 1.0, 0, shop.CapSingleSpindleTurning),
	})

	got := registry.CompatibleMachines(shop.CapVMCMilling, "Vertical Mills", "")
	expected := []string{"MILL-002", "MILL-001", "MILL-010", "MILL-011"}
	if len(got) != len(expected) {
		t.Fatalf("expected %d machines, got %d", len(expected), len(got))
	}
	for i, id := range expected {
		if got[i].MachineID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].MachineID)
		}
	}
}

func TestCompatibleMachines_TierFilter(t *testing.T) {
	registry := NewRegistry()
	registry.UpdateData([]shop.Machine{
		testMachine("MILL-001", shop.MachineTypeMill, "Mills", shop.TierBudget, 1.0, 0, shop.CapVMCMilling),
		testMachine("MILL-002", shop.MachineTypeMill, "Mills", shop.TierPremium, 1.0, 0, shop.CapVMCMilling),
	})

	got := registry.CompatibleMachines(shop.CapVMCMilling, "", shop.TierPremium)
	if len(got) != 1 || got[0].MachineID != "MILL-002" {
		t.Errorf("expected only MILL-002, got %v", got)
	}
}

func TestCompatibleMachines_CacheFlushedOnUpdate(t *testing.T) {
	registry := NewRegistry()
	registry.UpdateData([]shop.Machine{
		testMachine("MILL-001", shop.MachineTypeMill, "Mills", shop.TierStandard, 1.0, 0, shop.CapVMCMilling),
	})

	if got := registry.CompatibleMachines(shop.CapVMCMilling, "", ""); len(got) != 1 {
		t.Fatalf("expected 1 machine, got %d", len(got))
	}

	// The memoized result must not survive a snapshot update.
	registry.UpdateData([]shop.Machine{
		testMachine("MILL-001", shop.MachineTypeMill, "Mills", shop.TierStandard, 1.0, 0, shop.CapVMCMilling),
		testMachine("MILL-002", shop.MachineTypeMill, "Mills", shop.TierStandard, 1.1, 0, shop.CapVMCMilling),
	})
	if got := registry.CompatibleMachines(shop.CapVMCMilling, "", ""); len(got) != 2 {
		t.Errorf("expected 2 machines after update, got %d", len(got))
	}
}
