//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strings"

	"zigbee-energy-gateway/internal/devicedb"
	"zigbee-energy-gateway/internal/store"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/meter_00124B.../voltage/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a sensor discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	EntityCategory    string   `json:"entity_category,omitempty"`
	Device            haDevice `json:"device"`
}

// sensorClass maps an exposed unit to the HA device and state class.
var sensorClass = map[string]struct{ device, state string }{
	"V":    {"voltage", "measurement"},
	"A":    {"current", "measurement"},
	"kW":   {"power", "measurement"},
	"kVA":  {"apparent_power", "measurement"},
	"kVAR": {"reactive_power", "measurement"},
	"Hz":   {"frequency", "measurement"},
	"%":    {"power_factor", "measurement"},
	"kWh":  {"energy", "total_increasing"},
}

// diagnostic lists exposes that describe the device rather than the grid.
var diagnostic = map[string]bool{
	"hw_version":   true,
	"locationDesc": true,
	"Alarm":        true,
}

// deviceDisplayName returns a display name for the device.
func deviceDisplayName(dev *store.Device, def *devicedb.Definition) string {
	if dev.FriendlyName != "" {
		return dev.FriendlyName
	}
	if def != nil && def.Vendor != "" && dev.Model != "" {
		return def.Vendor + " " + dev.Model
	}
	if dev.Model != "" {
		return dev.Model
	}
	return dev.IEEEAddress
}

// deviceIdentifier returns the unique identifier for HA device registry.
func deviceIdentifier(dev *store.Device) string {
	return "meter_" + dev.IEEEAddress
}

// deviceTopicName returns the topic name for a device (friendly name or IEEE).
func deviceTopicName(dev *store.Device) string {
	if dev.FriendlyName != "" {
		// Sanitize: lowercase and keep only safe chars for MQTT topics.
		name := strings.ToLower(dev.FriendlyName)
		return strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
				return r
			}
			return '_'
		}, name)
	}
	return dev.IEEEAddress
}

// buildDiscovery generates one HA sensor per field the device definition exposes.
func buildDiscovery(dev *store.Device, def *devicedb.Definition, prefix string) []discoveryMsg {
	if def == nil {
		return nil
	}

	avail := prefix + "/bridge/state"
	stateTopic := prefix + "/" + deviceTopicName(dev)
	nodeID := deviceIdentifier(dev)
	displayName := deviceDisplayName(dev, def)
	haDev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: def.Vendor,
		Model:        def.Model,
		Name:         displayName,
	}

	msgs := make([]discoveryMsg, 0, len(def.Exposes))
	for _, e := range def.Exposes {
		payload := haDiscovery{
			Name:              displayName + " " + exposeTitle(e),
			UniqueID:          nodeID + "_" + e.Name,
			StateTopic:        stateTopic,
			AvailabilityTopic: avail,
			ValueTemplate:     fmt.Sprintf("{{ value_json.%s }}", e.Name),
			UnitOfMeasurement: e.Unit,
			Device:            haDev,
		}
		if c, ok := sensorClass[e.Unit]; ok {
			payload.DeviceClass, payload.StateClass = c.device, c.state
		}
		if diagnostic[e.Name] {
			payload.EntityCategory = "diagnostic"
		}
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("homeassistant/sensor/%s/%s/config", nodeID, e.Name),
			Payload: mustJSON(payload),
		})
	}
	return msgs
}

// exposeTitle turns "power_factor_phase_b" into "Power factor phase b".
func exposeTitle(e devicedb.Expose) string {
	s := strings.ReplaceAll(e.Name, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// buildRemoveDiscovery generates empty retained messages to remove a device from HA.
func buildRemoveDiscovery(dev *store.Device, def *devicedb.Definition) []discoveryMsg {
	if def == nil {
		return nil
	}
	nodeID := deviceIdentifier(dev)
	msgs := make([]discoveryMsg, 0, len(def.Exposes))
	for _, e := range def.Exposes {
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("homeassistant/sensor/%s/%s/config", nodeID, e.Name),
			Payload: nil, // empty retained = delete
		})
	}
	return msgs
}
