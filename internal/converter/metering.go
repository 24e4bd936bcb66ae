package converter

import (
	"zigbee-energy-gateway/internal/calibration"
	"zigbee-energy-gateway/internal/zcl/clusters"
)

// Metering decodes the Metering cluster's summation counters into the
// "energy" (delivered) and "produced_energy" (received) totals.
//
// The last scaled value of each counter is kept in the device state, so a
// message carrying only one counter still reports both totals.
type Metering struct{}

func (Metering) Name() string    { return "metering" }
func (Metering) Cluster() uint16 { return clusters.MeteringID }

func (Metering) Options() []calibration.Option {
	return []calibration.Option{
		calibration.Precision("energy"),
		calibration.Calibration("energy", calibration.Percentual),
		calibration.Precision("produced_energy"),
		calibration.Calibration("produced_energy", calibration.Percentual),
	}
}

func (Metering) Convert(ctx *Context, msg Message) Reading {
	delivered, hasDelivered := counter(msg, clusters.MeteringSummationDelivered)
	received, hasReceived := counter(msg, clusters.MeteringSummationReceived)
	if !hasDelivered && !hasReceived {
		return nil
	}

	factor, ok := ctx.Factor(msg, FamilyMetering)
	if !ok {
		return nil
	}

	st := ctx.State
	if hasDelivered {
		st.delivered = factor.Apply(float64(delivered))
	}
	if hasReceived {
		st.received = factor.Apply(float64(received))
	}

	return Reading{
		"energy":          ctx.Calibrate(st.delivered, "energy"),
		"produced_energy": ctx.Calibrate(st.received, "produced_energy"),
	}
}

func counter(msg Message, attr uint16) (uint64, bool) {
	v, ok := msg.Attr(attr)
	if !ok {
		return 0, false
	}
	return v.Counter()
}
