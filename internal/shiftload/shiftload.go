// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package shiftload tracks how much work is booked onto each shift and
// derives machine utilization from the persisted schedule.
package shiftload

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sapcc/go-bits/jobloop"

	"github.com/shopfloor-dev/foreman/internal/calendar"
	"github.com/shopfloor-dev/foreman/internal/events"
	"github.com/shopfloor-dev/foreman/internal/mqtt"
	"github.com/shopfloor-dev/foreman/internal/shop"
)

// How many days of schedule the load snapshot covers, from now forward.
const loadHorizonDays = 14

// Manager keeps a running count of scheduled hours per shift. The
// scheduler asks it which shift to prefer when placing a chunk, so that
// work spreads across shifts instead of piling onto the first one.
type Manager struct {
	// Mutex to protect the per-shift counters.
	mu           sync.RWMutex
	hoursByShift map[int]float64

	store     shop.Store
	calendar  *calendar.ShiftCalendar
	publisher events.Publisher
	monitor   Monitor

	// Clock, replaceable in tests.
	now func() time.Time
}

func NewManager(store shop.Store, cal *calendar.ShiftCalendar, publisher events.Publisher, monitor Monitor) *Manager {
	return &Manager{
		hoursByShift: map[int]float64{},
		store:        store,
		calendar:     cal,
		publisher:    publisher,
		monitor:      monitor,
		now:          time.Now,
	}
}

// The shift with the lowest booked hours. Ties prefer the earlier shift.
func (m *Manager) OptimalShift() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	best, bestHours := 0, math.Inf(1)
	for _, shift := range m.calendar.ShiftNumbers() {
		if hours := m.hoursByShift[shift]; hours < bestHours {
			best, bestHours = shift, hours
		}
	}
	return best
}

// The booked hours currently attributed to the given shift.
func (m *Manager) Hours(shift int) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hoursByShift[shift]
}

// Add a freshly produced entry to the in-memory load, so that placement
// within one batch steers to the lighter shift as it fills up.
func (m *Manager) Observe(entry shop.ScheduleEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hoursByShift[entry.Shift] += entry.EndTime.Sub(entry.StartTime).Hours()
}

// Rebuild the per-shift load from the persisted schedule and refresh
// the derived per-machine utilization. Machines whose utilization
// changed are updated in the database and announced to watchers.
func (m *Manager) RecomputeFromStore(ctx context.Context) error {
	now := m.now().UTC()
	entries, err := m.store.ScheduleEntriesInRange(now, now.AddDate(0, 0, loadHorizonDays))
	if err != nil {
		return err
	}

	hoursByShift := map[int]float64{}
	hoursByMachine := map[string]float64{}
	for _, entry := range entries {
		hours := entry.EndTime.Sub(entry.StartTime).Hours()
		hoursByShift[entry.Shift] += hours
		hoursByMachine[entry.MachineID] += hours
	}

	m.mu.Lock()
	m.hoursByShift = hoursByShift
	m.mu.Unlock()
	for _, shift := range m.calendar.ShiftNumbers() {
		m.monitor.observeShiftLoad(shift, hoursByShift[shift])
	}

	return m.refreshUtilization(hoursByMachine)
}

func (m *Manager) refreshUtilization(hoursByMachine map[string]float64) error {
	machines, err := m.store.Machines()
	if err != nil {
		return err
	}
	for _, machine := range machines {
		staffed := m.staffedHours(machine)
		var utilization float64
		if staffed > 0 {
			utilization = 100 * hoursByMachine[machine.MachineID] / staffed
			utilization = math.Min(math.Round(utilization*10)/10, 100)
		}
		m.monitor.observeMachineUtilization(machine.MachineID, utilization)
		if math.Abs(machine.UtilizationPct-utilization) < 0.05 {
			continue
		}
		machine.UtilizationPct = utilization
		if err := m.store.UpsertMachine(&machine); err != nil {
			return err
		}
		m.publisher.Publish(events.Event{Type: events.TypeMachineUpdated, Data: machine})
	}
	return nil
}

// The hours the machine is staffed over the load horizon, from its
// shift membership and the configured shift windows.
func (m *Manager) staffedHours(machine shop.Machine) float64 {
	var perDay float64
	day := m.now().UTC()
	for _, shift := range machine.ShiftNumbers() {
		if window, ok := m.calendar.ShiftWindow(day, shift); ok {
			perDay += window.Duration().Hours()
		}
	}
	return perDay * loadHorizonDays
}

// Recompute the load snapshot on a jittered interval until the context
// is cancelled.
func (m *Manager) RecomputePeriodically(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := m.RecomputeFromStore(ctx); err != nil {
				slog.Error("failed to recompute shift load", "error", err)
			}
			time.Sleep(jobloop.DefaultJitter(interval))
		}
	}
}

// Recompute whenever one of the given topics fires, so that the load
// snapshot follows the schedule without waiting for the periodic run.
func (m *Manager) SubscribeTriggers(ctx context.Context, client mqtt.Client, topics ...string) error {
	callback := func(_ pahomqtt.Client, _ pahomqtt.Message) {
		if err := m.RecomputeFromStore(ctx); err != nil {
			slog.Error("failed to recompute shift load", "error", err)
		}
	}
	for _, topic := range topics {
		if err := client.Subscribe(topic, callback); err != nil {
			return err
		}
	}
	return nil
}
