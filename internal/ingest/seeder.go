// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/shopfloor-dev/foreman/internal/conf"
	"github.com/shopfloor-dev/foreman/internal/mqtt"
	"github.com/shopfloor-dev/foreman/internal/shop"
	"gopkg.in/yaml.v3"
)

// Published after the fleet was re-seeded.
const TriggerMachinesSeeded = "foreman/machines/seeded"

// MachineSeeder replaces the machine fleet with the contents of the
// fleet yaml file. The fleet is never hard-coded; a missing or empty
// file is an error.
type MachineSeeder struct {
	// Store to write the fleet into.
	Store shop.Store
	// Configuration telling the seeder where the fleet file lives.
	Conf conf.MachinesConfig
	// MQTT client to publish the seeded trigger. May be nil.
	MqttClient mqtt.Client
}

// One machine as described in the fleet file.
type seedMachine struct {
	MachineID         string   `yaml:"machineId"`
	Name              string   `yaml:"name"`
	Type              string   `yaml:"type"`
	Category          string   `yaml:"category"`
	Subcategory       string   `yaml:"subcategory"`
	Tier              string   `yaml:"tier"`
	Status            string   `yaml:"status"`
	Shifts            []int    `yaml:"shifts"`
	EfficiencyFactor  float64  `yaml:"efficiencyFactor"`
	SubstitutionGroup string   `yaml:"substitutionGroup"`
	Capabilities      []string `yaml:"capabilities"`
	DualSpindle       bool     `yaml:"dualSpindle"`
	LiveTooling       bool     `yaml:"liveTooling"`
	BarFeeder         bool     `yaml:"barFeeder"`
	BarLengthFt       float64  `yaml:"barLengthFt"`
	FourthAxis        bool     `yaml:"fourthAxis"`
}

type fleetFile struct {
	Machines []seedMachine `yaml:"machines"`
}

// Seed loads the fleet file and replaces the machine set.
func (s *MachineSeeder) Seed(ctx context.Context) error {
	machines, err := s.load()
	if err != nil {
		return err
	}
	if err := s.Store.ReplaceAllMachines(machines); err != nil {
		return fmt.Errorf("failed to store machine fleet: %w", err)
	}
	slog.Info("seeded machine fleet", "file", s.Conf.SeedFile, "machines", len(machines))
	if s.MqttClient != nil {
		go s.MqttClient.Publish(TriggerMachinesSeeded, "")
	}
	return nil
}

func (s *MachineSeeder) load() ([]shop.Machine, error) {
	raw, err := os.ReadFile(s.Conf.SeedFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet file %s: %w", s.Conf.SeedFile, err)
	}
	var fleet fleetFile
	if err := yaml.Unmarshal(raw, &fleet); err != nil {
		return nil, fmt.Errorf("failed to parse fleet file %s: %w", s.Conf.SeedFile, err)
	}
	if len(fleet.Machines) == 0 {
		return nil, fmt.Errorf("fleet file %s describes no machines", s.Conf.SeedFile)
	}
	machines := make([]shop.Machine, 0, len(fleet.Machines))
	seen := map[string]bool{}
	for _, entry := range fleet.Machines {
		if entry.MachineID == "" {
			return nil, fmt.Errorf("fleet file %s: machine without machineId", s.Conf.SeedFile)
		}
		if seen[entry.MachineID] {
			return nil, fmt.Errorf("fleet file %s: duplicate machine %s", s.Conf.SeedFile, entry.MachineID)
		}
		seen[entry.MachineID] = true
		machine := shop.Machine{
			MachineID:         entry.MachineID,
			Name:              entry.Name,
			Type:              entry.Type,
			Category:          entry.Category,
			Subcategory:       entry.Subcategory,
			Tier:              entry.Tier,
			Status:            entry.Status,
			EfficiencyFactor:  entry.EfficiencyFactor,
			SubstitutionGroup: entry.SubstitutionGroup,
			DualSpindle:       entry.DualSpindle,
			LiveTooling:       entry.LiveTooling,
			BarFeeder:         entry.BarFeeder,
			BarLengthFt:       entry.BarLengthFt,
			FourthAxis:        entry.FourthAxis,
		}
		if machine.Status == "" {
			machine.Status = shop.MachineAvailable
		}
		if machine.EfficiencyFactor == 0 {
			machine.EfficiencyFactor = 1.0
		}
		machine.SetShiftNumbers(entry.Shifts)
		machine.SetCapabilityFlags(entry.Capabilities)
		machines = append(machines, machine)
	}
	return machines, nil
}

// SeedIfConfigured runs Seed when a fleet file is configured, and is a
// no-op otherwise so that deployments without a fleet file keep their
// manually managed machines.
func (s *MachineSeeder) SeedIfConfigured(ctx context.Context) error {
	if s.Conf.SeedFile == "" {
		slog.Info("no machine fleet file configured, keeping existing fleet")
		return nil
	}
	return s.Seed(ctx)
}
