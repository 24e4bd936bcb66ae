// Package converter decodes raw attribute messages from energy-metering devices
// into calibrated readings.
//
// A Converter handles one cluster. The Engine selects the converters listed in
// a device Profile, serializes work per device and drops retransmitted frames
// before any state changes.
package converter

import (
	"maps"
	"slices"
	"strconv"

	"zigbee-energy-gateway/internal/calibration"
)

// Converter decodes messages of one cluster.
type Converter interface {
	Name() string
	Cluster() uint16
	// Options lists the calibration/precision options the converter honours.
	Options() []calibration.Option
	Convert(ctx *Context, msg Message) Reading
}

// Profile is the decoding-relevant part of a device definition.
type Profile struct {
	Model      string
	Converters []string

	// MultiEndpoint appends the endpoint name to output fields so readings
	// from several endpoints do not overwrite each other.
	MultiEndpoint     bool
	Endpoints         map[string]uint8 // endpoint name -> ID; empty uses the numeric ID
	MultiEndpointSkip []string

	// PublishDuplicates disables duplicate detection for devices that reuse
	// sequence numbers legitimately.
	PublishDuplicates bool
}

// Context is passed to a converter for one message.
type Context struct {
	Profile    Profile
	State      *DeviceState
	Attributes AttributeSource
	Calibrator calibration.Calibrator
	Options    calibration.Options
}

// Factor resolves the scale factor of fam for the message's endpoint.
func (c *Context) Factor(msg Message, fam Family) (ScaleFactor, bool) {
	return ResolveFactor(c.Attributes, msg.IEEE, msg.Endpoint, fam)
}

// Calibrate applies the device's calibration and precision options for field.
func (c *Context) Calibrate(value float64, field string) float64 {
	cal := c.Calibrator
	if cal == nil {
		cal = calibration.Default
	}
	return cal.Calibrate(value, c.Options, field)
}

// FieldName returns name with the endpoint name appended for multi-endpoint
// devices. When the profile names its endpoints and the message's endpoint is
// not among them, name is returned unchanged. Of several names for one
// endpoint the lexically smallest wins.
func (c *Context) FieldName(name string, msg Message) string {
	p := c.Profile
	if !p.MultiEndpoint || slices.Contains(p.MultiEndpointSkip, name) {
		return name
	}
	if len(p.Endpoints) == 0 {
		return name + "_" + strconv.Itoa(int(msg.Endpoint))
	}
	for _, epName := range slices.Sorted(maps.Keys(p.Endpoints)) {
		if p.Endpoints[epName] == msg.Endpoint {
			return name + "_" + epName
		}
	}
	return name
}

// Catalog holds converters by name.
type Catalog struct {
	byName map[string]Converter
	order  []string
}

// NewCatalog creates a catalog of the given converters.
func NewCatalog(convs ...Converter) *Catalog {
	c := &Catalog{byName: make(map[string]Converter)}
	for _, conv := range convs {
		c.Add(conv)
	}
	return c
}

// DefaultCatalog returns a catalog of all built-in converters.
func DefaultCatalog() *Catalog {
	return NewCatalog(Metering{}, NewElectricalMeasurement(), HWVersion{}, LocationDescription{})
}

// Add registers a converter, replacing one with the same name.
func (c *Catalog) Add(conv Converter) {
	if _, ok := c.byName[conv.Name()]; !ok {
		c.order = append(c.order, conv.Name())
	}
	c.byName[conv.Name()] = conv
}

// Get returns a converter by name.
func (c *Catalog) Get(name string) (Converter, bool) {
	conv, ok := c.byName[name]
	return conv, ok
}

// Names returns the registered converter names in registration order.
func (c *Catalog) Names() []string {
	return slices.Clone(c.order)
}

// Options returns the options of the named converters without duplicates.
func (c *Catalog) Options(names []string) []calibration.Option {
	var out []calibration.Option
	for _, name := range names {
		conv, ok := c.byName[name]
		if !ok {
			continue
		}
		for _, o := range conv.Options() {
			if !slices.Contains(out, o) {
				out = append(out, o)
			}
		}
	}
	return out
}
