// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopfloor-dev/foreman/internal/conf"
	"github.com/shopfloor-dev/foreman/internal/monitoring"
)

type Monitor struct {
	connectionAttempts *prometheus.CounterVec

	// An observer that checks how long SELECT queries take to run.
	selectTimer *prometheus.HistogramVec
}

func NewDBMonitor(registry *monitoring.Registry) Monitor {
	monitor := Monitor{
		connectionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foreman_db_connection_attempts_total",
			Help: "Total number of database connection attempts",
		}, []string{"host", "database"}),
		selectTimer: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "foreman_db_select_duration_seconds",
			Help:    "Duration of SELECT queries in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"group", "query"}),
	}
	registry.MustRegister(
		monitor.connectionAttempts,
		monitor.selectTimer,
	)
	return monitor
}

func (m Monitor) observeConnectionAttempt(c conf.DBConfig) {
	if m.connectionAttempts == nil {
		return
	}
	m.connectionAttempts.WithLabelValues(c.Host, c.Database).Inc()
}
