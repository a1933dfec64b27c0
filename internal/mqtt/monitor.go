// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopfloor-dev/foreman/internal/monitoring"
)

type Monitor struct {
	connectionAttempts prometheus.Counter
	publishedMessages  *prometheus.CounterVec
}

func NewMQTTMonitor(registry *monitoring.Registry) Monitor {
	connectionAttempts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "foreman_mqtt_connection_attempts_total",
		Help: "Total number of attempts to connect to the MQTT broker",
	})
	publishedMessages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "foreman_mqtt_published_messages_total",
		Help: "Total number of messages published to the MQTT broker",
	}, []string{"topic"})
	registry.MustRegister(
		connectionAttempts,
		publishedMessages,
	)
	return Monitor{
		connectionAttempts: connectionAttempts,
		publishedMessages:  publishedMessages,
	}
}

func (m Monitor) observeConnectionAttempt() {
	if m.connectionAttempts == nil {
		return
	}
	m.connectionAttempts.Inc()
}

func (m Monitor) observePublished(topic string) {
	if m.publishedMessages == nil {
		return
	}
	m.publishedMessages.WithLabelValues(topic).Inc()
}
