package converter

import "sync"

// DeviceState is the mutable decoding state owned by one device. The engine
// holds mu for the whole decode of a message from the device.
type DeviceState struct {
	mu   sync.Mutex
	IEEE string

	// Last known metering totals, carried across messages that omit a counter.
	delivered float64
	received  float64

	history dedupHistory
}

// Energy returns the accumulated delivered and received totals.
func (s *DeviceState) Energy() (delivered, received float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered, s.received
}

// StateTable owns the DeviceState of every device seen so far.
type StateTable struct {
	mu      sync.Mutex
	devices map[string]*DeviceState
}

// NewStateTable creates an empty table.
func NewStateTable() *StateTable {
	return &StateTable{devices: make(map[string]*DeviceState)}
}

// Get returns the state of a device, creating it on first use.
func (t *StateTable) Get(ieee string) *DeviceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.devices[ieee]
	if !ok {
		s = &DeviceState{IEEE: ieee}
		t.devices[ieee] = s
	}
	return s
}

// Lookup returns the state of a device without creating it.
func (t *StateTable) Lookup(ieee string) (*DeviceState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.devices[ieee]
	return s, ok
}

// Forget drops the state of a device.
func (t *StateTable) Forget(ieee string) {
	t.mu.Lock()
	delete(t.devices, ieee)
	t.mu.Unlock()
}

// Len returns the number of tracked devices.
func (t *StateTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.devices)
}
