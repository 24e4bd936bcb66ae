//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zigbee-energy-gateway/internal/converter"
	"zigbee-energy-gateway/internal/devicedb"
	"zigbee-energy-gateway/internal/gateway"
	"zigbee-energy-gateway/internal/store"
	"zigbee-energy-gateway/internal/wire"
	"zigbee-energy-gateway/internal/zcl"
	"zigbee-energy-gateway/internal/zcl/clusters"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDiscoveryThreePhaseMeter(t *testing.T) {
	def := devicedb.NewWithBuiltins().Lookup("SPM02X001")
	dev := &store.Device{
		IEEEAddress:  "00124B0012345678",
		Model:        "SPM02X001",
		FriendlyName: "Main Meter",
	}

	msgs := buildDiscovery(dev, def, "energy")
	if len(msgs) != len(def.Exposes) {
		t.Fatalf("got %d discovery messages, want %d", len(msgs), len(def.Exposes))
	}

	topics := extractTopics(msgs)
	for _, name := range []string{"voltage_phase_c", "total_active_power", "produced_energy"} {
		if !topics["homeassistant/sensor/meter_00124B0012345678/"+name+"/config"] {
			t.Errorf("%s discovery missing", name)
		}
	}

	var energy haDiscovery
	for _, m := range msgs {
		if m.Topic == "homeassistant/sensor/meter_00124B0012345678/energy/config" {
			if err := json.Unmarshal(m.Payload, &energy); err != nil {
				t.Fatal(err)
			}
		}
	}
	if energy.DeviceClass != "energy" || energy.StateClass != "total_increasing" {
		t.Errorf("energy classes = %q/%q", energy.DeviceClass, energy.StateClass)
	}
	if energy.StateTopic != "energy/main_meter" {
		t.Errorf("state_topic = %q", energy.StateTopic)
	}
	if energy.AvailabilityTopic != "energy/bridge/state" {
		t.Errorf("availability_topic = %q", energy.AvailabilityTopic)
	}
	if energy.ValueTemplate != "{{ value_json.energy }}" {
		t.Errorf("value_template = %q", energy.ValueTemplate)
	}
	if energy.Device.Manufacturer != "BITUO TECHNIK" {
		t.Errorf("device.manufacturer = %q", energy.Device.Manufacturer)
	}
}

func TestDiscoveryDiagnosticFields(t *testing.T) {
	def := devicedb.NewWithBuiltins().Lookup("SPM01X001")
	msgs := buildDiscovery(&store.Device{IEEEAddress: "AABBCCDD00112233", Model: "SPM01X001"}, def, "energy")
	for _, m := range msgs {
		var p haDiscovery
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			t.Fatal(err)
		}
		wantDiag := p.UniqueID == "meter_AABBCCDD00112233_hw_version" ||
			p.UniqueID == "meter_AABBCCDD00112233_locationDesc" ||
			p.UniqueID == "meter_AABBCCDD00112233_Alarm"
		if (p.EntityCategory == "diagnostic") != wantDiag {
			t.Errorf("%s entity_category = %q", p.UniqueID, p.EntityCategory)
		}
	}
}

func TestDiscoveryUnknownModel(t *testing.T) {
	if msgs := buildDiscovery(&store.Device{IEEEAddress: "AABB"}, nil, "energy"); len(msgs) != 0 {
		t.Errorf("expected no discovery without a definition, got %d", len(msgs))
	}
}

func TestDeviceDisplayName(t *testing.T) {
	def := &devicedb.Definition{Vendor: "BITUO TECHNIK", Model: "SPM01X001"}
	tests := []struct {
		name string
		dev  *store.Device
		def  *devicedb.Definition
		want string
	}{
		{"friendly name", &store.Device{FriendlyName: "Garage", Model: "SPM01X001"}, def, "Garage"},
		{"vendor and model", &store.Device{Model: "SPM01X001"}, def, "BITUO TECHNIK SPM01X001"},
		{"model only", &store.Device{Model: "SPM01X001"}, nil, "SPM01X001"},
		{"IEEE fallback", &store.Device{IEEEAddress: "00124B0012345678"}, nil, "00124B0012345678"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deviceDisplayName(tt.dev, tt.def); got != tt.want {
				t.Errorf("deviceDisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeviceTopicName(t *testing.T) {
	tests := []struct {
		name string
		dev  *store.Device
		want string
	}{
		{"friendly name with spaces", &store.Device{FriendlyName: "Main Meter", IEEEAddress: "AABB"}, "main_meter"},
		{"IEEE fallback", &store.Device{IEEEAddress: "00124B0012345678"}, "00124B0012345678"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deviceTopicName(tt.dev); got != tt.want {
				t.Errorf("deviceTopicName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAlertTopic(t *testing.T) {
	tests := []struct {
		name string
		data gateway.AlertData
		want string
	}{
		{"named device", gateway.AlertData{IEEE: "00124B0012345678", FriendlyName: "Main Meter"}, "energy/main_meter/alert"},
		{"unnamed device", gateway.AlertData{IEEE: "00124B0012345678"}, "energy/00124B0012345678/alert"},
		{"gateway wide", gateway.AlertData{Message: "night tariff"}, "energy/alert"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := alertTopic("energy", tt.data); got != tt.want {
				t.Errorf("alertTopic() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRemoveDiscovery(t *testing.T) {
	def := devicedb.NewWithBuiltins().Lookup("SPM01X001")
	msgs := buildRemoveDiscovery(&store.Device{IEEEAddress: "AABBCCDD11223344"}, def)
	if len(msgs) != len(def.Exposes) {
		t.Fatalf("got %d removal messages, want %d", len(msgs), len(def.Exposes))
	}
	for _, m := range msgs {
		if m.Payload != nil {
			t.Errorf("removal message should have nil payload, got %q for %s", m.Payload, m.Topic)
		}
	}
}

func TestStatePayload(t *testing.T) {
	seen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	state := map[string]any{"energy": 12.5}
	var got map[string]any
	if err := json.Unmarshal(statePayload(state, seen), &got); err != nil {
		t.Fatal(err)
	}
	if got["energy"] != 12.5 || got["last_seen"] != "2024-05-01T12:00:00Z" {
		t.Errorf("payload = %v", got)
	}
	if _, ok := state["last_seen"]; ok {
		t.Error("statePayload modified the device state")
	}
}

func TestHandleRaw(t *testing.T) {
	logger := testLogger()
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	registry := zcl.NewRegistry(logger)
	for _, c := range clusters.Standard() {
		registry.Register(c)
	}
	gw := gateway.New(st, devicedb.NewWithBuiltins(), converter.NewEngine(nil, nil, logger), gateway.NewEventBus(logger), logger)
	gw.SeedDevices(map[string]gateway.DeviceConfig{"00124B0012345678": {Model: "SPM01X001"}})

	b := &Bridge{gw: gw, parser: wire.NewParser(registry, logger), logger: logger, announced: map[string]bool{}}
	b.handleRaw("energy/raw/meter", []byte(`{"ieee":"00124B0012345678","endpoint":1,"cluster":"seMetering","seq":1,
		"attributes":{"Multiplier":1,"Divisor":1,"CurrentSummationDelivered":[0,42]}}`))
	b.handleRaw("energy/raw/meter", []byte(`not json`))

	state, err := gw.State("00124B0012345678")
	if err != nil {
		t.Fatal(err)
	}
	if state["energy"] != 42.0 {
		t.Errorf("state = %v", state)
	}
}

func TestMustJSON(t *testing.T) {
	result := mustJSON(map[string]string{"hello": "world"})
	var parsed map[string]string
	if err := json.Unmarshal(result, &parsed); err != nil {
		t.Fatalf("mustJSON output not valid JSON: %v", err)
	}
	if parsed["hello"] != "world" {
		t.Errorf("parsed value = %q", parsed["hello"])
	}
}

func extractTopics(msgs []discoveryMsg) map[string]bool {
	topics := make(map[string]bool)
	for _, m := range msgs {
		topics[m.Topic] = true
	}
	return topics
}

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Error() error                   { return nil }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// instantClient runs the connect handler inside Connect, as paho may when the
// broker answers quickly.
type instantClient struct {
	opts *pahomqtt.ClientOptions

	mu        sync.Mutex
	published map[string]string
}

func (c *instantClient) IsConnected() bool      { return true }
func (c *instantClient) IsConnectionOpen() bool { return true }
func (c *instantClient) Disconnect(uint)        {}

func (c *instantClient) AddRoute(string, pahomqtt.MessageHandler) {}

func (c *instantClient) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

func (c *instantClient) Connect() pahomqtt.Token {
	if c.opts.OnConnect != nil {
		c.opts.OnConnect(c)
	}
	return doneToken{}
}

func (c *instantClient) Publish(topic string, _ byte, _ bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, _ := payload.([]byte)
	c.published[topic] = string(b)
	return doneToken{}
}

func (c *instantClient) Subscribe(string, byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return doneToken{}
}

func (c *instantClient) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return doneToken{}
}

func (c *instantClient) Unsubscribe(...string) pahomqtt.Token { return doneToken{} }

func TestConnectHandlerDuringConnect(t *testing.T) {
	logger := testLogger()
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	gw := gateway.New(st, devicedb.NewWithBuiltins(), converter.NewEngine(nil, nil, logger), gateway.NewEventBus(logger), logger)

	var fake *instantClient
	orig := newClient
	newClient = func(o *pahomqtt.ClientOptions) pahomqtt.Client {
		fake = &instantClient{opts: o, published: map[string]string{}}
		return fake
	}
	t.Cleanup(func() { newClient = orig })

	b, err := NewBridge(gw, wire.NewParser(zcl.NewRegistry(logger), logger), Config{Broker: "tcp://localhost:1883", TopicPrefix: "energy"}, logger)
	if err != nil {
		t.Fatal(err)
	}
	if got := fake.published["energy/bridge/state"]; got != "online" {
		t.Errorf("bridge state = %q, want online", got)
	}
	b.Stop()
	if got := fake.published["energy/bridge/state"]; got != "offline" {
		t.Errorf("bridge state after stop = %q, want offline", got)
	}
}
