// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package events defines the envelopes pushed to schedule watchers and
// the publisher plumbing carrying them.
package events

import (
	"github.com/shopfloor-dev/foreman/internal/mqtt"
)

// Event types pushed to watchers.
const (
	TypeScheduleProgress          = "schedule_progress"
	TypeJobAutoScheduled          = "job_auto_scheduled"
	TypeRescheduleCompleted       = "reschedule_completed"
	TypeResourceMarkedUnavailable = "resource_marked_unavailable"
	TypeMachineUpdated            = "machine_updated"
)

// One typed envelope.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Publisher fans events out to watchers. Implementations must not block
// the caller: the scheduler publishes from its hot loop.
type Publisher interface {
	Publish(event Event)
}

// NoopPublisher drops all events. Useful for tests and for wiring
// components without a transport.
type NoopPublisher struct{}

func (NoopPublisher) Publish(Event) {}

// MultiPublisher fans one event out to all contained publishers.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(event Event) {
	for _, publisher := range m {
		publisher.Publish(event)
	}
}

// Topic prefix under which event envelopes are mirrored to the broker.
const mqttTopicPrefix = "foreman/events/"

// MQTTPublisher mirrors event envelopes to the mqtt broker, one topic
// per event type. Publishing runs in a goroutine so that a slow broker
// cannot stall the scheduler.
type MQTTPublisher struct {
	Client mqtt.Client
}

func (p MQTTPublisher) Publish(event Event) {
	go p.Client.Publish(mqttTopicPrefix+event.Type, event)
}
