//go:build !no_mqtt

// Package mqtt connects the gateway to an MQTT broker: raw attribute
// messages are consumed from "<prefix>/raw/+" and merged device state is
// published retained to "<prefix>/<device>".
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zigbee-energy-gateway/internal/gateway"
	"zigbee-energy-gateway/internal/store"
	"zigbee-energy-gateway/internal/wire"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
	Discovery   bool
}

// newClient builds the paho client; tests substitute it.
var newClient = pahomqtt.NewClient

// Bridge connects the gateway to MQTT with HA autodiscovery.
type Bridge struct {
	client    pahomqtt.Client
	gw        *gateway.Gateway
	parser    *wire.Parser
	prefix    string
	discovery bool
	logger    *slog.Logger
	unsub     func()

	// Devices whose discovery config was published in this session.
	mu        sync.Mutex
	announced map[string]bool
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(gw *gateway.Gateway, parser *wire.Parser, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := &Bridge{
		gw:        gw,
		parser:    parser,
		prefix:    cfg.TopicPrefix,
		discovery: cfg.Discovery,
		logger:    logger.With("component", "mqtt"),
		announced: make(map[string]bool),
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "zigbee-energy-gateway"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(c pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.subscribeRaw(c)
			b.publishAllDiscovery()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// The connect handler publishes through b.client, so it is set first.
	client := newClient(opts)
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to gateway events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.gw.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) rawTopic() string {
	return b.prefix + "/raw/+"
}

func (b *Bridge) subscribeRaw(c pahomqtt.Client) {
	token := c.Subscribe(b.rawTopic(), 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleRaw(msg.Topic(), msg.Payload())
	})
	go func() {
		if !token.WaitTimeout(10 * time.Second) {
			b.logger.Warn("MQTT subscribe timeout", "topic", b.rawTopic())
		} else if err := token.Error(); err != nil {
			b.logger.Error("MQTT subscribe", "topic", b.rawTopic(), "err", err)
		}
	}()
}

// handleRaw decodes one inbound attribute message.
func (b *Bridge) handleRaw(topic string, payload []byte) {
	msg, err := b.parser.Parse(payload)
	if err != nil {
		b.logger.Warn("invalid raw message", "topic", topic, "err", err)
		return
	}
	_, err = b.gw.HandleMessage(msg)
	switch {
	case err == nil:
	case errors.Is(err, gateway.ErrDuplicate):
		b.logger.Debug("duplicate raw message", "topic", topic, "seq", msg.Seq)
	case errors.Is(err, gateway.ErrUnknownModel):
		b.logger.Debug("raw message from unsupported device", "topic", topic, "err", err)
	default:
		b.logger.Error("handle raw message", "topic", topic, "err", err)
	}
}

func (b *Bridge) handleEvent(event gateway.Event) {
	switch data := event.Data.(type) {
	case gateway.ReadingData:
		b.publishState(data)
	case gateway.DeviceData:
		switch event.Type {
		case gateway.EventDeviceRemoved:
			b.removeDevice(data)
		case gateway.EventDeviceUpdated:
			b.mu.Lock()
			delete(b.announced, data.IEEE)
			b.mu.Unlock()
			if dev, err := b.gw.Device(data.IEEE); err == nil {
				b.publishDeviceDiscovery(dev)
			}
		}
	case gateway.AlertData:
		b.publishAlert(data)
	}
}

func (b *Bridge) publishAlert(data gateway.AlertData) {
	b.publish(alertTopic(b.prefix, data), mustJSON(data), false)
}

// alertTopic is <prefix>/<device>/alert, or <prefix>/alert when the alert
// concerns no device.
func alertTopic(prefix string, data gateway.AlertData) string {
	if data.IEEE == "" {
		return prefix + "/alert"
	}
	dev := &store.Device{IEEEAddress: data.IEEE, FriendlyName: data.FriendlyName}
	return prefix + "/" + deviceTopicName(dev) + "/alert"
}

func (b *Bridge) publishState(data gateway.ReadingData) {
	dev, err := b.gw.Device(data.IEEE)
	if err != nil {
		dev = &store.Device{IEEEAddress: data.IEEE, FriendlyName: data.FriendlyName, Model: data.Model}
	}

	b.mu.Lock()
	announced := b.announced[data.IEEE]
	b.mu.Unlock()
	if !announced {
		b.publishDeviceDiscovery(dev)
	}

	b.publish(b.prefix+"/"+deviceTopicName(dev), statePayload(data.State, dev.LastSeen), true)
}

// statePayload adds last_seen to a device state.
func statePayload(state map[string]any, lastSeen time.Time) []byte {
	out := make(map[string]any, len(state)+1)
	for k, v := range state {
		out[k] = v
	}
	if !lastSeen.IsZero() {
		out["last_seen"] = lastSeen.Format(time.RFC3339)
	}
	return mustJSON(out)
}

func (b *Bridge) removeDevice(data gateway.DeviceData) {
	dev := &store.Device{IEEEAddress: data.IEEE, FriendlyName: data.FriendlyName, Model: data.Model}
	if b.discovery {
		for _, msg := range buildRemoveDiscovery(dev, b.gw.Definition(data.Model)) {
			b.publish(msg.Topic, msg.Payload, true)
		}
	}
	// Clear the retained state.
	b.publish(b.prefix+"/"+deviceTopicName(dev), nil, true)

	b.mu.Lock()
	delete(b.announced, data.IEEE)
	b.mu.Unlock()
}

func (b *Bridge) publishBridgeState(state string) {
	topic := b.prefix + "/bridge/state"
	b.publish(topic, []byte(state), true)
}

func (b *Bridge) publishAllDiscovery() {
	devices, err := b.gw.Devices()
	if err != nil {
		b.logger.Error("list devices for discovery", "err", err)
		return
	}
	for _, dev := range devices {
		b.publishDeviceDiscovery(dev)
	}
}

func (b *Bridge) publishDeviceDiscovery(dev *store.Device) {
	if !b.discovery {
		return
	}
	def := b.gw.Definition(dev.Model)
	msgs := buildDiscovery(dev, def, b.prefix)
	if len(msgs) == 0 {
		return
	}
	for _, msg := range msgs {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.mu.Lock()
	b.announced[dev.IEEEAddress] = true
	b.mu.Unlock()
	b.logger.Info("published HA discovery", "ieee", dev.IEEEAddress, "name", deviceDisplayName(dev, def))
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
