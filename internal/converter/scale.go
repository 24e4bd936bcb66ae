package converter

import (
	"sync"

	"zigbee-energy-gateway/internal/zcl/clusters"
)

// Family is a group of attributes sharing one multiplier/divisor pair.
type Family struct {
	Name       string
	Cluster    uint16
	Multiplier uint16
	Divisor    uint16
}

var (
	FamilyMetering    = Family{"metering", clusters.MeteringID, clusters.MeteringMultiplier, clusters.MeteringDivisor}
	FamilyACPower     = Family{"ac_power", clusters.ElectricalID, clusters.ElectricalACPowerMultiplier, clusters.ElectricalACPowerDivisor}
	FamilyACCurrent   = Family{"ac_current", clusters.ElectricalID, clusters.ElectricalACCurrentMultiplier, clusters.ElectricalACCurrentDivisor}
	FamilyACVoltage   = Family{"ac_voltage", clusters.ElectricalID, clusters.ElectricalACVoltageMultiplier, clusters.ElectricalACVoltageDivisor}
	FamilyACFrequency = Family{"ac_frequency", clusters.ElectricalID, clusters.ElectricalACFrequencyMultiplier, clusters.ElectricalACFrequencyDivisor}
)

// Families lists every known scale family.
var Families = []Family{FamilyMetering, FamilyACPower, FamilyACCurrent, FamilyACVoltage, FamilyACFrequency}

// IsScaleAttribute reports whether attr is a multiplier or divisor of any family.
func IsScaleAttribute(cluster, attr uint16) bool {
	for _, f := range Families {
		if f.Cluster == cluster && (f.Multiplier == attr || f.Divisor == attr) {
			return true
		}
	}
	return false
}

// ScaleFactor converts a raw register into a physical quantity.
type ScaleFactor struct {
	Multiplier float64
	Divisor    float64
}

// Apply scales a raw value.
func (f ScaleFactor) Apply(raw float64) float64 {
	return raw * (f.Multiplier / f.Divisor)
}

// AttributeSource gives access to attribute values a device reported earlier.
type AttributeSource interface {
	Attribute(ieee string, endpoint uint8, cluster, attr uint16) (Value, bool)
}

// AttributeCache is an AttributeSource that also learns new values.
type AttributeCache interface {
	AttributeSource
	SetAttribute(ieee string, endpoint uint8, cluster, attr uint16, v Value)
}

// ResolveFactor looks up the most recent multiplier and divisor of fam for a
// device endpoint. It fails when either is unknown, or when the multiplier or
// divisor is zero.
func ResolveFactor(src AttributeSource, ieee string, endpoint uint8, fam Family) (ScaleFactor, bool) {
	if src == nil {
		return ScaleFactor{}, false
	}
	mv, ok := src.Attribute(ieee, endpoint, fam.Cluster, fam.Multiplier)
	if !ok {
		return ScaleFactor{}, false
	}
	dv, ok := src.Attribute(ieee, endpoint, fam.Cluster, fam.Divisor)
	if !ok {
		return ScaleFactor{}, false
	}
	m, ok := mv.Number()
	if !ok || m == 0 {
		return ScaleFactor{}, false
	}
	d, ok := dv.Number()
	if !ok || d == 0 {
		return ScaleFactor{}, false
	}
	return ScaleFactor{Multiplier: m, Divisor: d}, true
}

type attrKey struct {
	ieee     string
	endpoint uint8
	cluster  uint16
	attr     uint16
}

// MemoryAttributes is an in-memory AttributeCache.
type MemoryAttributes struct {
	mu     sync.RWMutex
	values map[attrKey]Value
}

// NewMemoryAttributes creates an empty cache.
func NewMemoryAttributes() *MemoryAttributes {
	return &MemoryAttributes{values: make(map[attrKey]Value)}
}

func (m *MemoryAttributes) Attribute(ieee string, endpoint uint8, cluster, attr uint16) (Value, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[attrKey{ieee, endpoint, cluster, attr}]
	return v, ok
}

func (m *MemoryAttributes) SetAttribute(ieee string, endpoint uint8, cluster, attr uint16, v Value) {
	m.mu.Lock()
	m.values[attrKey{ieee, endpoint, cluster, attr}] = v
	m.mu.Unlock()
}

// Forget drops every cached value of a device.
func (m *MemoryAttributes) Forget(ieee string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.values {
		if k.ieee == ieee {
			delete(m.values, k)
		}
	}
}
