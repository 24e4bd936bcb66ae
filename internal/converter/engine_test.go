package converter

import (
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"zigbee-energy-gateway/internal/calibration"
	"zigbee-energy-gateway/internal/zcl/clusters"
)

const testIEEE = "00124B0012345678"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func spm01Profile() Profile {
	return Profile{
		Model:      "SPM01X001",
		Converters: []string{"metering", "electrical_measurement", "hw_version", "location_desc"},
	}
}

func meteringMsg(seq uint8, attrs map[uint16]Value) Message {
	return Message{
		Type:       AttributeReport,
		IEEE:       testIEEE,
		Endpoint:   1,
		ClusterID:  clusters.MeteringID,
		Seq:        seq,
		HasSeq:     true,
		Attributes: attrs,
	}
}

func electricalMsg(seq uint8, attrs map[uint16]Value) Message {
	m := meteringMsg(seq, attrs)
	m.ClusterID = clusters.ElectricalID
	return m
}

// newTestEngine returns an engine whose scale factors are all 1/1 (or the
// given divisor) on endpoint 1.
func newTestEngine(t *testing.T, divisor uint64, opts ...EngineOption) *Engine {
	t.Helper()
	attrs := NewMemoryAttributes()
	for _, fam := range Families {
		attrs.SetAttribute(testIEEE, 1, fam.Cluster, fam.Multiplier, Uint(1))
		attrs.SetAttribute(testIEEE, 1, fam.Cluster, fam.Divisor, Uint(divisor))
	}
	return NewEngine(nil, attrs, testLogger(), opts...)
}

func TestDuplicateProcessedOnce(t *testing.T) {
	e := newTestEngine(t, 1)
	msg := meteringMsg(7, map[uint16]Value{clusters.MeteringSummationDelivered: Words(0, 100)})

	out, ok := e.Process(spm01Profile(), msg, nil)
	if !ok || out["energy"] != 100.0 {
		t.Fatalf("first delivery: ok=%v out=%v", ok, out)
	}

	// Same key, different payload: must be ignored entirely.
	dup := meteringMsg(7, map[uint16]Value{clusters.MeteringSummationDelivered: Words(0, 500)})
	if out, ok := e.Process(spm01Profile(), dup, nil); ok || out != nil {
		t.Fatalf("duplicate delivered: ok=%v out=%v", ok, out)
	}
	if d, _, _ := e.Energy(testIEEE); d != 100 {
		t.Errorf("delivered total = %v after duplicate, want 100", d)
	}
}

func TestPublishDuplicatesBypassesGate(t *testing.T) {
	e := newTestEngine(t, 1)
	p := spm01Profile()
	p.PublishDuplicates = true
	msg := meteringMsg(7, map[uint16]Value{clusters.MeteringSummationDelivered: Words(0, 1)})

	for i := 0; i < 2; i++ {
		if _, ok := e.Process(p, msg, nil); !ok {
			t.Fatalf("delivery %d dropped", i)
		}
	}
}

func TestMessageWithoutSeqNeverDuplicate(t *testing.T) {
	e := newTestEngine(t, 1)
	msg := meteringMsg(0, map[uint16]Value{clusters.MeteringSummationDelivered: Words(0, 1)})
	msg.HasSeq = false

	for i := 0; i < 3; i++ {
		if _, ok := e.Process(spm01Profile(), msg, nil); !ok {
			t.Fatalf("delivery %d dropped", i)
		}
	}
}

func TestCounterWords(t *testing.T) {
	tests := []struct {
		name      string
		high, low uint32
		want      float64
	}{
		{"low only", 0, 12345, 12345},
		{"high word", 1, 0, 4294967296},
		{"both words", 2, 5, 2*4294967296 + 5},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, 1)
			msg := meteringMsg(uint8(i), map[uint16]Value{
				clusters.MeteringSummationDelivered: Words(tt.high, tt.low),
			})
			out, _ := e.Process(spm01Profile(), msg, calibration.Options{"energy_precision": 0})
			if out["energy"] != tt.want {
				t.Errorf("energy = %v, want %v", out["energy"], tt.want)
			}
		})
	}
}

func TestAccumulatorCarryOver(t *testing.T) {
	e := newTestEngine(t, 1)

	out, _ := e.Process(spm01Profile(), meteringMsg(1, map[uint16]Value{
		clusters.MeteringSummationDelivered: Words(0, 100),
	}), nil)
	if out["energy"] != 100.0 || out["produced_energy"] != 0.0 {
		t.Fatalf("first message: %v", out)
	}

	out, _ = e.Process(spm01Profile(), meteringMsg(2, map[uint16]Value{
		clusters.MeteringSummationReceived: Words(0, 40),
	}), nil)
	if out["energy"] != 100.0 {
		t.Errorf("energy = %v, want carried-over 100", out["energy"])
	}
	if out["produced_energy"] != 40.0 {
		t.Errorf("produced_energy = %v, want 40", out["produced_energy"])
	}
}

func TestAccumulatorIsolatedPerDevice(t *testing.T) {
	e := newTestEngine(t, 1)
	other := "00124B00AAAAAAAA"
	for _, fam := range Families {
		e.attrs.SetAttribute(other, 1, fam.Cluster, fam.Multiplier, Uint(1))
		e.attrs.SetAttribute(other, 1, fam.Cluster, fam.Divisor, Uint(1))
	}

	e.Process(spm01Profile(), meteringMsg(1, map[uint16]Value{
		clusters.MeteringSummationDelivered: Words(0, 100),
	}), nil)

	msg := meteringMsg(1, map[uint16]Value{clusters.MeteringSummationReceived: Words(0, 5)})
	msg.IEEE = other
	out, ok := e.Process(spm01Profile(), msg, nil)
	if !ok {
		t.Fatal("same seq on another device treated as duplicate")
	}
	if out["energy"] != 0.0 {
		t.Errorf("energy = %v, want 0: totals leaked between devices", out["energy"])
	}
}

func TestMissingScaleFactor(t *testing.T) {
	e := NewEngine(nil, nil, testLogger())

	out, ok := e.Process(spm01Profile(), meteringMsg(1, map[uint16]Value{
		clusters.MeteringSummationDelivered: Words(0, 100),
	}), nil)
	if !ok || len(out) != 0 {
		t.Errorf("metering without factor: ok=%v out=%v", ok, out)
	}

	out, _ = e.Process(spm01Profile(), electricalMsg(2, map[uint16]Value{
		clusters.ElectricalRMSVoltage:   Uint(2301),
		clusters.ElectricalACAlarmsMask: Uint(5),
	}), nil)
	if _, ok := out["voltage"]; ok {
		t.Errorf("voltage decoded without a factor: %v", out)
	}
	if out["Alarm"] != "101" {
		t.Errorf("alarm = %v, want 101", out["Alarm"])
	}
}

func TestAdmitLearnsScaleWithoutProfile(t *testing.T) {
	e := NewEngine(nil, nil, testLogger())

	if !e.Admit(meteringMsg(1, map[uint16]Value{
		clusters.MeteringMultiplier: Uint(1),
		clusters.MeteringDivisor:    Uint(4),
	}), false) {
		t.Fatal("first message rejected")
	}
	if e.Admit(meteringMsg(1, nil), false) {
		t.Error("retransmission admitted")
	}

	msg := meteringMsg(2, map[uint16]Value{clusters.MeteringSummationDelivered: Words(0, 10)})
	if !e.Admit(msg, false) {
		t.Fatal("counter message rejected")
	}
	if out := e.Decode(spm01Profile(), msg, nil); out["energy"] != 2.5 {
		t.Errorf("energy = %v, want 2.5", out["energy"])
	}
}

func TestZeroDivisorIsUnresolved(t *testing.T) {
	e := newTestEngine(t, 0)
	out, _ := e.Process(spm01Profile(), electricalMsg(1, map[uint16]Value{
		clusters.ElectricalRMSVoltage: Uint(2301),
	}), nil)
	for k, v := range out {
		if f, ok := v.(float64); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
			t.Errorf("%s = %v", k, v)
		}
	}
	if _, ok := out["voltage"]; ok {
		t.Errorf("voltage decoded with zero divisor: %v", out)
	}
}

func TestScaleAttributesLearnedFromMessage(t *testing.T) {
	e := NewEngine(nil, nil, testLogger())
	out, _ := e.Process(spm01Profile(), electricalMsg(1, map[uint16]Value{
		clusters.ElectricalACVoltageMultiplier: Uint(1),
		clusters.ElectricalACVoltageDivisor:    Uint(10),
		clusters.ElectricalRMSVoltage:          Uint(2301),
	}), nil)
	if out["voltage"] != 230.1 {
		t.Fatalf("voltage = %v, want 230.1", out["voltage"])
	}

	out, _ = e.Process(spm01Profile(), electricalMsg(2, map[uint16]Value{
		clusters.ElectricalRMSVoltage: Uint(2295),
	}), nil)
	if out["voltage"] != 229.5 {
		t.Errorf("voltage = %v, want 229.5 from cached divisor", out["voltage"])
	}
}

func TestDuplicateDoesNotLearnScale(t *testing.T) {
	e := NewEngine(nil, nil, testLogger())
	e.Process(spm01Profile(), electricalMsg(1, map[uint16]Value{
		clusters.ElectricalACVoltageMultiplier: Uint(1),
		clusters.ElectricalACVoltageDivisor:    Uint(10),
	}), nil)
	e.Process(spm01Profile(), electricalMsg(1, map[uint16]Value{
		clusters.ElectricalACVoltageDivisor: Uint(100),
	}), nil)

	v, _ := e.attrs.Attribute(testIEEE, 1, clusters.ElectricalID, clusters.ElectricalACVoltageDivisor)
	if n, _ := v.Number(); n != 10 {
		t.Errorf("divisor = %v, want 10", n)
	}
}

func TestPhaseSuffixes(t *testing.T) {
	e := newTestEngine(t, 10)
	out, _ := e.Process(spm01Profile(), electricalMsg(1, map[uint16]Value{
		clusters.ElectricalRMSVoltage:                                    Uint(2301),
		clusters.ElectricalRMSVoltage + clusters.ElectricalPhaseBOffset:  Uint(2290),
		clusters.ElectricalRMSVoltage + clusters.ElectricalPhaseCOffset:  Uint(2280),
		clusters.ElectricalActivePower + clusters.ElectricalPhaseBOffset: Int(-150),
		clusters.ElectricalTotalActivePower:                              Int(3000),
	}), nil)

	want := map[string]float64{
		"voltage":              230.1,
		"voltage_phase_b":      229,
		"voltage_phase_c":      228,
		"active_power_phase_b": -15,
		"total_active_power":   300,
	}
	for k, v := range want {
		if out[k] != v {
			t.Errorf("%s = %v, want %v", k, out[k], v)
		}
	}
}

func TestEndpointSuffix(t *testing.T) {
	e := newTestEngine(t, 1)
	for _, fam := range Families {
		e.attrs.SetAttribute(testIEEE, 2, fam.Cluster, fam.Multiplier, Uint(1))
		e.attrs.SetAttribute(testIEEE, 2, fam.Cluster, fam.Divisor, Uint(1))
	}
	p := spm01Profile()
	p.MultiEndpoint = true
	p.Endpoints = map[string]uint8{"l1": 1, "l2": 2}

	a := electricalMsg(1, map[uint16]Value{clusters.ElectricalRMSCurrent: Uint(3), clusters.ElectricalPowerFactor: Int(98)})
	b := electricalMsg(1, map[uint16]Value{clusters.ElectricalRMSCurrent: Uint(4)})
	b.Endpoint = 2

	outA, _ := e.Process(p, a, nil)
	outB, _ := e.Process(p, b, nil)
	if outA["current_l1"] != 3.0 || outB["current_l2"] != 4.0 {
		t.Errorf("got %v and %v", outA, outB)
	}
	if outA["power_factor"] != 98.0 {
		t.Errorf("power_factor suffixed or missing: %v", outA)
	}
}

func TestAlarmBitmask(t *testing.T) {
	tests := []struct {
		raw  Value
		want string
	}{
		{Uint(5), "101"},
		{Uint(0), "0"},
		{Uint(0x8001), "1000000000000001"},
	}
	for i, tt := range tests {
		e := NewEngine(nil, nil, testLogger())
		out, _ := e.Process(spm01Profile(), electricalMsg(uint8(i), map[uint16]Value{
			clusters.ElectricalACAlarmsMask: tt.raw,
		}), nil)
		if out["Alarm"] != tt.want {
			t.Errorf("alarm(%v) = %v, want %q", tt.raw, out["Alarm"], tt.want)
		}
	}
}

func TestPowerFactorIgnoresCalibration(t *testing.T) {
	e := newTestEngine(t, 1)
	out, _ := e.Process(spm01Profile(), electricalMsg(1, map[uint16]Value{
		clusters.ElectricalPowerFactor: Float(0.98765),
	}), calibration.Options{"power_factor_calibration": 10})
	if out["power_factor"] != 0.99 {
		t.Errorf("power_factor = %v, want 0.99", out["power_factor"])
	}
}

func TestCalibrationApplied(t *testing.T) {
	e := newTestEngine(t, 1)
	out, _ := e.Process(spm01Profile(), meteringMsg(1, map[uint16]Value{
		clusters.MeteringSummationDelivered: Words(0, 200),
		clusters.MeteringSummationReceived:  Words(0, 100),
	}), calibration.Options{"energy_calibration": 10, "energy_precision": 1})
	if out["energy"] != 220.0 {
		t.Errorf("energy = %v, want 220", out["energy"])
	}
	if out["produced_energy"] != 110.0 {
		t.Errorf("produced_energy = %v, want 110 via energy options", out["produced_energy"])
	}
	if d, r, _ := e.Energy(testIEEE); d != 200 || r != 100 {
		t.Errorf("state holds calibrated totals: %v %v", d, r)
	}
}

func TestBasicPassThrough(t *testing.T) {
	e := NewEngine(nil, nil, testLogger())
	msg := meteringMsg(1, map[uint16]Value{
		clusters.BasicHWVersion:           Uint(3),
		clusters.BasicLocationDescription: String("garage"),
	})
	msg.ClusterID = clusters.BasicID
	out, _ := e.Process(spm01Profile(), msg, nil)
	if out["hw_version"] != uint64(3) || out["locationDesc"] != "garage" {
		t.Errorf("got %v", out)
	}
}

func TestConvertersOutsideProfileSkipped(t *testing.T) {
	e := newTestEngine(t, 1)
	p := Profile{Model: "x", Converters: []string{"hw_version", "nonexistent"}}
	out, ok := e.Process(p, meteringMsg(1, map[uint16]Value{
		clusters.MeteringSummationDelivered: Words(0, 1),
	}), nil)
	if !ok || len(out) != 0 {
		t.Errorf("ok=%v out=%v", ok, out)
	}
}

func TestDedupWindowExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	e := newTestEngine(t, 1, WithDedup(4, time.Second), WithClock(func() time.Time { return now }))
	msg := meteringMsg(9, map[uint16]Value{clusters.MeteringSummationDelivered: Words(0, 1)})

	e.Process(spm01Profile(), msg, nil)
	if _, ok := e.Process(spm01Profile(), msg, nil); ok {
		t.Fatal("duplicate inside window accepted")
	}
	now = now.Add(2 * time.Second)
	if _, ok := e.Process(spm01Profile(), msg, nil); !ok {
		t.Error("wrapped sequence number rejected after window")
	}
}

func TestForget(t *testing.T) {
	e := newTestEngine(t, 1)
	e.Process(spm01Profile(), meteringMsg(1, map[uint16]Value{
		clusters.MeteringSummationDelivered: Words(0, 1),
	}), nil)
	e.Forget(testIEEE)
	if _, _, ok := e.Energy(testIEEE); ok {
		t.Error("state survived Forget")
	}
	if _, ok := e.attrs.Attribute(testIEEE, 1, clusters.MeteringID, clusters.MeteringDivisor); ok {
		t.Error("scale attributes survived Forget")
	}
}

func TestConcurrentDevices(t *testing.T) {
	e := NewEngine(nil, nil, testLogger())
	var wg sync.WaitGroup
	for d := 0; d < 8; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			ieee := testIEEE[:len(testIEEE)-1] + string(rune('0'+d))
			for seq := 0; seq < 50; seq++ {
				msg := meteringMsg(uint8(seq), map[uint16]Value{
					clusters.MeteringMultiplier:         Uint(1),
					clusters.MeteringDivisor:            Uint(1),
					clusters.MeteringSummationDelivered: Words(0, uint32(seq)),
				})
				msg.IEEE = ieee
				e.Process(spm01Profile(), msg, nil)
			}
		}(d)
	}
	wg.Wait()
	if n := e.states.Len(); n != 8 {
		t.Errorf("tracked %d devices, want 8", n)
	}
}
