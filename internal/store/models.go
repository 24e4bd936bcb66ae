package store

import (
	"time"

	"zigbee-energy-gateway/internal/converter"
)

// Device is a meter known to the gateway.
type Device struct {
	IEEEAddress  string         `json:"ieee_address"`
	Model        string         `json:"model,omitempty"`
	FriendlyName string         `json:"friendly_name,omitempty"`
	Options      map[string]any `json:"options,omitempty"`
	JoinedAt     time.Time      `json:"joined_at"`
	LastSeen     time.Time      `json:"last_seen"`
	// State is the last published reading, merged across messages.
	State map[string]any `json:"state,omitempty"`
}

// Attribute is a persisted raw attribute value of a device endpoint.
type Attribute struct {
	IEEE     string          `json:"ieee"`
	Endpoint uint8           `json:"endpoint"`
	Cluster  uint16          `json:"cluster"`
	ID       uint16          `json:"id"`
	Value    converter.Value `json:"value"`
}
