// Package gateway ties the device catalogue, the converter engine and the
// store together: it accepts validated messages, decodes them and publishes
// the resulting readings on the event bus.
package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"zigbee-energy-gateway/internal/calibration"
	"zigbee-energy-gateway/internal/converter"
	"zigbee-energy-gateway/internal/devicedb"
	"zigbee-energy-gateway/internal/store"
	"zigbee-energy-gateway/internal/zcl/clusters"
)

var (
	// ErrDuplicate is returned for retransmitted messages.
	ErrDuplicate = errors.New("duplicate message")
	// ErrUnknownModel is returned when a device has no definition.
	ErrUnknownModel = errors.New("unknown device model")
)

// DeviceConfig is the static configuration of one device.
type DeviceConfig struct {
	FriendlyName string         `yaml:"friendly_name" json:"friendly_name,omitempty"`
	Model        string         `yaml:"model" json:"model,omitempty"`
	Options      map[string]any `yaml:"options" json:"options,omitempty"`
}

// Gateway decodes device messages.
type Gateway struct {
	store   store.Store
	defs    *devicedb.DB
	engine  *converter.Engine
	events  *EventBus
	logger  *slog.Logger
	now     func() time.Time
	createM sync.Mutex // serializes first-seen device creation
}

// New creates a gateway.
func New(st store.Store, defs *devicedb.DB, engine *converter.Engine, events *EventBus, logger *slog.Logger) *Gateway {
	return &Gateway{
		store:  st,
		defs:   defs,
		engine: engine,
		events: events,
		logger: logger.With("component", "gateway"),
		now:    time.Now,
	}
}

// Events returns the event bus.
func (g *Gateway) Events() *EventBus {
	return g.events
}

// deviceName returns a human-readable display name for a device.
func deviceName(dev *store.Device) string {
	if dev == nil {
		return ""
	}
	if dev.FriendlyName != "" {
		return dev.FriendlyName
	}
	return dev.Model
}

// SeedDevices applies configured names, models and options, creating devices
// that were never seen.
func (g *Gateway) SeedDevices(cfg map[string]DeviceConfig) error {
	for ieee, dc := range cfg {
		apply := func(dev *store.Device) error {
			if dc.FriendlyName != "" {
				dev.FriendlyName = dc.FriendlyName
			}
			if dc.Model != "" {
				dev.Model = dc.Model
			}
			if dc.Options != nil {
				dev.Options = maps.Clone(dc.Options)
			}
			return nil
		}
		err := g.store.UpdateDevice(ieee, apply)
		if errors.Is(err, store.ErrNotFound) {
			dev := &store.Device{IEEEAddress: ieee, JoinedAt: g.now()}
			apply(dev)
			err = g.store.SaveDevice(dev)
		}
		if err != nil {
			return fmt.Errorf("seed device %s: %w", ieee, err)
		}
	}
	if len(cfg) > 0 {
		g.logger.Info("devices seeded from config", "count", len(cfg))
	}
	return nil
}

// HandleMessage decodes a message and merges the reading into the device
// state. Unknown devices are created on first contact; their model is learned
// from the Basic cluster model identifier.
func (g *Gateway) HandleMessage(msg converter.Message) (converter.Reading, error) {
	dev, err := g.getOrCreate(msg.IEEE)
	if err != nil {
		return nil, err
	}

	def := g.defs.Lookup(dev.Model)
	publishDuplicates := def != nil && def.PublishDuplicates
	if !g.engine.Admit(msg, publishDuplicates) {
		return nil, fmt.Errorf("device %s seq %d: %w", dev.IEEEAddress, msg.Seq, ErrDuplicate)
	}

	if msg.ClusterID == clusters.BasicID {
		if v, ok := msg.Attr(clusters.BasicModelIdentifier); ok {
			if model, ok := v.Text(); ok && model != "" && model != dev.Model {
				g.logger.Info("device model learned", "ieee", dev.IEEEAddress, "model", model)
				dev.Model = model
				g.updateModel(dev.IEEEAddress, model)
				def = g.defs.Lookup(model)
			}
		}
	}

	// Scale attributes of a device without a definition are already learned;
	// they apply once the model is known.
	if def == nil {
		g.touch(dev.IEEEAddress)
		return nil, fmt.Errorf("device %s model %q: %w", dev.IEEEAddress, dev.Model, ErrUnknownModel)
	}

	reading := g.engine.Decode(def.Profile(), msg, calibration.Options(dev.Options))

	var state map[string]any
	err = g.store.UpdateDevice(dev.IEEEAddress, func(d *store.Device) error {
		d.LastSeen = g.now()
		if d.State == nil {
			d.State = make(map[string]any)
		}
		maps.Copy(d.State, reading)
		state = maps.Clone(d.State)
		dev = d
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update device %s: %w", msg.IEEE, err)
	}

	if len(reading) == 0 {
		return reading, nil
	}
	g.logger.Debug("reading",
		"ieee", dev.IEEEAddress,
		"name", deviceName(dev),
		"cluster", fmt.Sprintf("0x%04X", msg.ClusterID),
		"fields", len(reading),
	)
	g.events.Emit(Event{
		Type: EventReading,
		Data: ReadingData{
			IEEE:         dev.IEEEAddress,
			FriendlyName: dev.FriendlyName,
			Model:        dev.Model,
			Endpoint:     msg.Endpoint,
			Cluster:      msg.ClusterID,
			Fields:       maps.Clone(reading),
			State:        state,
		},
	})
	return reading, nil
}

func (g *Gateway) getOrCreate(ieee string) (*store.Device, error) {
	g.createM.Lock()
	defer g.createM.Unlock()

	dev, err := g.store.GetDevice(ieee)
	if err == nil {
		return dev, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get device %s: %w", ieee, err)
	}

	dev = &store.Device{IEEEAddress: ieee, JoinedAt: g.now(), LastSeen: g.now()}
	if err := g.store.SaveDevice(dev); err != nil {
		return nil, fmt.Errorf("save device %s: %w", ieee, err)
	}
	g.logger.Info("device added", "ieee", ieee)
	g.events.Emit(Event{Type: EventDeviceAdded, Data: DeviceData{IEEE: ieee}})
	return dev, nil
}

func (g *Gateway) updateModel(ieee, model string) {
	err := g.store.UpdateDevice(ieee, func(d *store.Device) error {
		d.Model = model
		return nil
	})
	if err != nil {
		g.logger.Error("save device model", "err", err, "ieee", ieee)
	}
}

func (g *Gateway) touch(ieee string) {
	err := g.store.UpdateDevice(ieee, func(d *store.Device) error {
		d.LastSeen = g.now()
		return nil
	})
	if err != nil {
		g.logger.Error("save device last_seen", "err", err, "ieee", ieee)
	}
}

// Device returns a device by IEEE address.
func (g *Gateway) Device(ieee string) (*store.Device, error) {
	return g.store.GetDevice(ieee)
}

// Devices returns all known devices.
func (g *Gateway) Devices() ([]*store.Device, error) {
	return g.store.ListDevices()
}

// State returns the merged state of a device.
func (g *Gateway) State(ieee string) (map[string]any, error) {
	dev, err := g.store.GetDevice(ieee)
	if err != nil {
		return nil, err
	}
	if dev.State == nil {
		return map[string]any{}, nil
	}
	return dev.State, nil
}

// DeviceUpdate holds the user-editable settings of a device. Nil fields are
// left unchanged.
type DeviceUpdate struct {
	FriendlyName *string        `json:"friendly_name,omitempty"`
	Model        *string        `json:"model,omitempty"`
	Options      map[string]any `json:"options,omitempty"`
}

// UpdateDevice changes the settings of a device.
func (g *Gateway) UpdateDevice(ieee string, upd DeviceUpdate) (*store.Device, error) {
	var out *store.Device
	err := g.store.UpdateDevice(ieee, func(d *store.Device) error {
		if upd.FriendlyName != nil {
			d.FriendlyName = *upd.FriendlyName
		}
		if upd.Model != nil {
			d.Model = *upd.Model
		}
		if upd.Options != nil {
			d.Options = maps.Clone(upd.Options)
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.logger.Info("device updated", "ieee", ieee, "name", deviceName(out))
	g.events.Emit(Event{Type: EventDeviceUpdated, Data: DeviceData{IEEE: ieee, FriendlyName: out.FriendlyName, Model: out.Model}})
	return out, nil
}

// RemoveDevice deletes a device with its persisted attributes and drops its
// decoding state.
func (g *Gateway) RemoveDevice(ieee string) error {
	dev, err := g.store.GetDevice(ieee)
	if err != nil {
		return err
	}
	if err := g.store.DeleteDevice(ieee); err != nil {
		return fmt.Errorf("delete device %s: %w", ieee, err)
	}
	g.engine.Forget(ieee)
	g.logger.Info("device removed", "ieee", ieee, "name", deviceName(dev))
	g.events.Emit(Event{Type: EventDeviceRemoved, Data: DeviceData{IEEE: ieee, FriendlyName: dev.FriendlyName, Model: dev.Model}})
	return nil
}

// Definitions returns all device definitions.
func (g *Gateway) Definitions() []*devicedb.Definition {
	return g.defs.All()
}

// Definition returns the definition of a model.
func (g *Gateway) Definition(model string) *devicedb.Definition {
	return g.defs.Lookup(model)
}

// ConverterOptions lists the calibration options a model supports.
func (g *Gateway) ConverterOptions(model string) ([]calibration.Option, error) {
	def := g.defs.Lookup(model)
	if def == nil {
		return nil, fmt.Errorf("model %q: %w", model, ErrUnknownModel)
	}
	return g.engine.Catalog().Options(def.Converters), nil
}
