package gateway

import (
	"log/slog"
	"sync"
	"time"
)

// Event types
const (
	EventReading       = "reading"
	EventDeviceAdded   = "device_added"
	EventDeviceRemoved = "device_removed"
	EventDeviceUpdated = "device_updated"
	EventAlert         = "alert"
)

// Event represents a gateway event.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ReadingData is the payload of an EventReading.
type ReadingData struct {
	IEEE         string         `json:"ieee"`
	FriendlyName string         `json:"friendly_name,omitempty"`
	Model        string         `json:"model,omitempty"`
	Endpoint     uint8          `json:"endpoint"`
	Cluster      uint16         `json:"cluster"`
	Fields       map[string]any `json:"fields"`
	// State is the device's merged state after applying Fields.
	State map[string]any `json:"state"`
}

// DeviceData is the payload of device lifecycle events.
type DeviceData struct {
	IEEE         string `json:"ieee"`
	FriendlyName string `json:"friendly_name,omitempty"`
	Model        string `json:"model,omitempty"`
}

// AlertData is the payload of an EventAlert raised by an automation script.
type AlertData struct {
	IEEE         string    `json:"ieee,omitempty"`
	FriendlyName string    `json:"friendly_name,omitempty"`
	Script       string    `json:"script"`
	Level        string    `json:"level"`
	Message      string    `json:"message"`
	Time         time.Time `json:"time"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus provides pub/sub for gateway events.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]EventHandler
	allHandlers map[uint64]EventHandler
	nextID      uint64
	logger      *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers:    make(map[string]map[uint64]EventHandler),
		allHandlers: make(map[uint64]EventHandler),
		logger:      logger,
	}
}

// On registers a handler for a specific event type.
// Returns an unsubscribe function.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	if eb.handlers[eventType] == nil {
		eb.handlers[eventType] = make(map[uint64]EventHandler)
	}
	eb.handlers[eventType][id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.handlers[eventType], id)
	}
}

// OnAll registers a handler that receives all events.
// Returns an unsubscribe function.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	eb.allHandlers[id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.allHandlers, id)
	}
}

// Emit sends an event to all matching handlers.
// Handlers are called synchronously; a panicking handler is recovered.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.handlers[event.Type])+len(eb.allHandlers))
	for _, h := range eb.handlers[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range eb.allHandlers {
		handlers = append(handlers, h)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
