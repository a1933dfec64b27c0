// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package shiftload

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopfloor-dev/foreman/internal/monitoring"
)

type Monitor struct {
	// Booked hours per shift over the load horizon.
	shiftLoadHours *prometheus.GaugeVec
	// Derived utilization percentage per machine.
	machineUtilization *prometheus.GaugeVec
}

func NewShiftLoadMonitor(registry *monitoring.Registry) Monitor {
	shiftLoadHours := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "foreman_shift_load_hours",
		Help: "Scheduled hours per shift over the load horizon",
	}, []string{"shift"})
	machineUtilization := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "foreman_machine_utilization_pct",
		Help: "Derived machine utilization in percent over the load horizon",
	}, []string{"machine"})
	registry.MustRegister(
		shiftLoadHours,
		machineUtilization,
	)
	return Monitor{
		shiftLoadHours:     shiftLoadHours,
		machineUtilization: machineUtilization,
	}
}

func (m Monitor) observeShiftLoad(shift int, hours float64) {
	if m.shiftLoadHours == nil {
		return
	}
	m.shiftLoadHours.WithLabelValues(strconv.Itoa(shift)).Set(hours)
}

func (m Monitor) observeMachineUtilization(machineID string, pct float64) {
	if m.machineUtilization == nil {
		return
	}
	m.machineUtilization.WithLabelValues(machineID).Set(pct)
}
