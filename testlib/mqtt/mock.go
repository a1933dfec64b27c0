// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// MockClient is a broker-less mqtt client for tests.
type MockClient struct{}

func (m *MockClient) Connect() error { return nil }

func (m *MockClient) Publish(topic string, payload any) {}

func (m *MockClient) Subscribe(topic string, callback pahomqtt.MessageHandler) error {
	return nil
}

func (m *MockClient) Disconnect() {}
