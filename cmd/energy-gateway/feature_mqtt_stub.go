//go:build no_mqtt

package main

import (
	"log/slog"

	"zigbee-energy-gateway/internal/gateway"
	"zigbee-energy-gateway/internal/wire"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *gateway.Gateway, _ *wire.Parser, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
