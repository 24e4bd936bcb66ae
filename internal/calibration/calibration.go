// Package calibration applies user-configured calibration offsets and precision
// rounding to decoded numeric fields.
//
// Options follow the "<field>_calibration" / "<field>_precision" naming used in
// device configuration:
//
//	options:
//	  energy_precision: 3
//	  voltage_calibration: -1.5   # percent for percentual fields
package calibration

import (
	"math"
	"strconv"
	"strings"
)

// Kind identifies what an option controls.
type Kind string

const (
	KindPrecision   Kind = "precision"
	KindCalibration Kind = "calibration"
)

// Mode identifies how a calibration value is applied.
type Mode string

const (
	Absolute   Mode = "absolute"
	Percentual Mode = "percentual"
)

// Option describes one configurable option of an output field.
type Option struct {
	Field string `json:"field"`
	Kind  Kind   `json:"kind"`
	Mode  Mode   `json:"mode,omitempty"`
}

// Key returns the configuration key for the option, e.g. "voltage_precision".
func (o Option) Key() string {
	return o.Field + "_" + string(o.Kind)
}

// Precision returns a precision option for field.
func Precision(field string) Option {
	return Option{Field: field, Kind: KindPrecision}
}

// Calibration returns a calibration option for field.
func Calibration(field string, mode Mode) Option {
	return Option{Field: field, Kind: KindCalibration, Mode: mode}
}

// Options holds per-device option values as loaded from YAML or JSON.
type Options map[string]any

// Float returns the numeric value of key. Strings holding numbers are accepted.
func (o Options) Float(key string) (float64, bool) {
	v, ok := o[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Calibrator turns a scaled value into the value published for field.
type Calibrator interface {
	Calibrate(value float64, opts Options, field string) float64
}

// defaultPrecision holds the number of decimal digits used when a field has no
// "<field>_precision" option.
var defaultPrecision = map[string]int{
	"energy":          2,
	"produced_energy": 2,
	"voltage":         2,
	"current":         2,
	"active_power":    2,
	"power_apparent":  2,
	"power_reactive":  2,
	"ac_frequency":    2,
}

// percentual lists the fields whose calibration is a percentage of the value.
var percentual = map[string]bool{
	"energy":          true,
	"produced_energy": true,
	"voltage":         true,
	"current":         true,
	"active_power":    true,
	"power_apparent":  true,
	"power_reactive":  true,
}

// fallback maps fields to the field whose options apply when they have none of
// their own.
var fallback = map[string]string{
	"produced_energy": "energy",
}

// Service is the default Calibrator.
type Service struct{}

// Default is the calibrator used when none is configured.
var Default Calibrator = Service{}

// Calibrate applies "<field>_calibration" and then rounds to "<field>_precision".
// Phase and total variants (e.g. "voltage_phase_b", "total_active_power") share
// the calibration mode and default precision of their base field.
func (Service) Calibrate(value float64, opts Options, field string) float64 {
	key := field
	if fb, ok := fallback[field]; ok && !hasAny(opts, field) {
		key = fb
	}
	base := baseField(key)

	if offset, ok := opts.Float(key + "_calibration"); ok {
		if percentual[base] {
			value += value * offset / 100
		} else {
			value += offset
		}
	}

	precision, ok := defaultPrecision[base]
	if p, set := opts.Float(key + "_precision"); set {
		precision, ok = int(p), true
	}
	if !ok {
		return value
	}
	return Round(value, precision)
}

// Round rounds value to the given number of decimal digits.
func Round(value float64, digits int) float64 {
	factor := math.Pow(10, float64(digits))
	return math.Round(value*factor) / factor
}

func hasAny(opts Options, field string) bool {
	_, cal := opts[field+"_calibration"]
	_, prec := opts[field+"_precision"]
	return cal || prec
}

// baseField strips phase and total decorations from a field name.
func baseField(field string) string {
	for _, suffix := range []string{"_phase_a", "_phase_b", "_phase_c"} {
		if strings.HasSuffix(field, suffix) {
			field = strings.TrimSuffix(field, suffix)
			break
		}
	}
	return strings.TrimPrefix(field, "total_")
}
