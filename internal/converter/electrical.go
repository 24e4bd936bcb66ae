package converter

import (
	"strconv"

	"zigbee-energy-gateway/internal/calibration"
	"zigbee-energy-gateway/internal/zcl/clusters"
)

type measurement struct {
	attr   uint16
	field  string
	family Family
}

type phase struct {
	offset uint16
	suffix string
}

var phases = []phase{
	{0, ""},
	{clusters.ElectricalPhaseBOffset, "_phase_b"},
	{clusters.ElectricalPhaseCOffset, "_phase_c"},
}

// ElectricalMeasurement decodes instantaneous AC quantities of the Electrical
// Measurement cluster. Each quantity is scaled by the factor of its family;
// quantities whose factor is unknown are skipped.
type ElectricalMeasurement struct {
	measurements []measurement
	powerFactors []measurement
}

// NewElectricalMeasurement builds the converter for single and three-phase
// meters.
func NewElectricalMeasurement() *ElectricalMeasurement {
	e := &ElectricalMeasurement{}
	for _, ph := range phases {
		e.measurements = append(e.measurements,
			measurement{clusters.ElectricalActivePower + ph.offset, "active_power" + ph.suffix, FamilyACPower},
			measurement{clusters.ElectricalApparentPower + ph.offset, "power_apparent" + ph.suffix, FamilyACPower},
			measurement{clusters.ElectricalReactivePower + ph.offset, "power_reactive" + ph.suffix, FamilyACPower},
			measurement{clusters.ElectricalRMSCurrent + ph.offset, "current" + ph.suffix, FamilyACCurrent},
			measurement{clusters.ElectricalRMSVoltage + ph.offset, "voltage" + ph.suffix, FamilyACVoltage},
		)
		e.powerFactors = append(e.powerFactors,
			measurement{attr: clusters.ElectricalPowerFactor + ph.offset, field: "power_factor" + ph.suffix})
	}
	e.measurements = append(e.measurements,
		measurement{clusters.ElectricalTotalActivePower, "total_active_power", FamilyACPower},
		measurement{clusters.ElectricalTotalApparentPower, "total_power_apparent", FamilyACPower},
		measurement{clusters.ElectricalTotalReactivePower, "total_power_reactive", FamilyACPower},
		measurement{clusters.ElectricalACFrequency, "ac_frequency", FamilyACFrequency},
	)
	return e
}

func (*ElectricalMeasurement) Name() string    { return "electrical_measurement" }
func (*ElectricalMeasurement) Cluster() uint16 { return clusters.ElectricalID }

func (e *ElectricalMeasurement) Options() []calibration.Option {
	opts := []calibration.Option{
		calibration.Calibration("active_power", calibration.Percentual),
		calibration.Calibration("current", calibration.Percentual),
		calibration.Calibration("voltage", calibration.Percentual),
	}
	for _, m := range e.measurements {
		opts = append(opts, calibration.Precision(m.field))
	}
	return opts
}

func (e *ElectricalMeasurement) Convert(ctx *Context, msg Message) Reading {
	out := Reading{}
	for _, m := range e.measurements {
		v, ok := msg.Attr(m.attr)
		if !ok {
			continue
		}
		raw, ok := v.Number()
		if !ok {
			continue
		}
		factor, ok := ctx.Factor(msg, m.family)
		if !ok {
			continue
		}
		out[ctx.FieldName(m.field, msg)] = ctx.Calibrate(factor.Apply(raw), m.field)
	}

	if v, ok := msg.Attr(clusters.ElectricalACAlarmsMask); ok {
		if bits, ok := v.Bits(); ok {
			out["Alarm"] = strconv.FormatUint(bits, 2)
		}
	}

	// Power factor has no calibration options.
	for _, pf := range e.powerFactors {
		v, ok := msg.Attr(pf.attr)
		if !ok {
			continue
		}
		if n, ok := v.Number(); ok {
			out[pf.field] = calibration.Round(n, 2)
		}
	}
	return out
}
