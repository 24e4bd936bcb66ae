package clusters

import "zigbee-energy-gateway/internal/zcl"

// Electrical Measurement cluster attribute IDs.
const (
	ElectricalID uint16 = 0x0B04

	ElectricalACFrequency        uint16 = 0x0300
	ElectricalTotalActivePower   uint16 = 0x0304
	ElectricalTotalReactivePower uint16 = 0x0305
	ElectricalTotalApparentPower uint16 = 0x0306

	ElectricalACFrequencyMultiplier uint16 = 0x0400
	ElectricalACFrequencyDivisor    uint16 = 0x0401

	ElectricalRMSVoltage    uint16 = 0x0505
	ElectricalRMSCurrent    uint16 = 0x0508
	ElectricalActivePower   uint16 = 0x050B
	ElectricalReactivePower uint16 = 0x050E
	ElectricalApparentPower uint16 = 0x050F
	ElectricalPowerFactor   uint16 = 0x0510

	ElectricalACVoltageMultiplier uint16 = 0x0600
	ElectricalACVoltageDivisor    uint16 = 0x0601
	ElectricalACCurrentMultiplier uint16 = 0x0602
	ElectricalACCurrentDivisor    uint16 = 0x0603
	ElectricalACPowerMultiplier   uint16 = 0x0604
	ElectricalACPowerDivisor      uint16 = 0x0605

	ElectricalACAlarmsMask uint16 = 0x0800

	// Phase B and C repeat the 0x05xx measurement block at 0x09xx and 0x0Axx.
	ElectricalPhaseBOffset uint16 = 0x0400
	ElectricalPhaseCOffset uint16 = 0x0500
)

var ElectricalMeasurement = zcl.ClusterDef{
	ID:         ElectricalID,
	Name:       "Electrical Measurement",
	Attributes: electricalAttributes(),
}

func electricalAttributes() []zcl.AttributeDef {
	attrs := []zcl.AttributeDef{
		{ID: 0x0000, Name: "MeasurementType", Type: zcl.TypeBitmap32, Access: zcl.AccessRead},
		{ID: ElectricalACFrequency, Name: "ACFrequency", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: ElectricalTotalActivePower, Name: "TotalActivePower", Type: zcl.TypeInt32, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: ElectricalTotalReactivePower, Name: "TotalReactivePower", Type: zcl.TypeInt32, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: ElectricalTotalApparentPower, Name: "TotalApparentPower", Type: zcl.TypeUint32, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: ElectricalACFrequencyMultiplier, Name: "ACFrequencyMultiplier", Type: zcl.TypeUint16, Access: zcl.AccessRead},
		{ID: ElectricalACFrequencyDivisor, Name: "ACFrequencyDivisor", Type: zcl.TypeUint16, Access: zcl.AccessRead},
		{ID: ElectricalACVoltageMultiplier, Name: "ACVoltageMultiplier", Type: zcl.TypeUint16, Access: zcl.AccessRead},
		{ID: ElectricalACVoltageDivisor, Name: "ACVoltageDivisor", Type: zcl.TypeUint16, Access: zcl.AccessRead},
		{ID: ElectricalACCurrentMultiplier, Name: "ACCurrentMultiplier", Type: zcl.TypeUint16, Access: zcl.AccessRead},
		{ID: ElectricalACCurrentDivisor, Name: "ACCurrentDivisor", Type: zcl.TypeUint16, Access: zcl.AccessRead},
		{ID: ElectricalACPowerMultiplier, Name: "ACPowerMultiplier", Type: zcl.TypeUint16, Access: zcl.AccessRead},
		{ID: ElectricalACPowerDivisor, Name: "ACPowerDivisor", Type: zcl.TypeUint16, Access: zcl.AccessRead},
		{ID: ElectricalACAlarmsMask, Name: "ACAlarmsMask", Type: zcl.TypeBitmap16, Access: zcl.AccessRead | zcl.AccessWrite},
	}

	phases := []struct {
		offset uint16
		suffix string
	}{
		{0, ""},
		{ElectricalPhaseBOffset, "PhB"},
		{ElectricalPhaseCOffset, "PhC"},
	}
	for _, ph := range phases {
		attrs = append(attrs,
			zcl.AttributeDef{ID: ElectricalRMSVoltage + ph.offset, Name: "RMSVoltage" + ph.suffix, Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessReport},
			zcl.AttributeDef{ID: ElectricalRMSCurrent + ph.offset, Name: "RMSCurrent" + ph.suffix, Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessReport},
			zcl.AttributeDef{ID: ElectricalActivePower + ph.offset, Name: "ActivePower" + ph.suffix, Type: zcl.TypeInt16, Access: zcl.AccessRead | zcl.AccessReport},
			zcl.AttributeDef{ID: ElectricalReactivePower + ph.offset, Name: "ReactivePower" + ph.suffix, Type: zcl.TypeInt16, Access: zcl.AccessRead | zcl.AccessReport},
			zcl.AttributeDef{ID: ElectricalApparentPower + ph.offset, Name: "ApparentPower" + ph.suffix, Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessReport},
			zcl.AttributeDef{ID: ElectricalPowerFactor + ph.offset, Name: "PowerFactor" + ph.suffix, Type: zcl.TypeInt8, Access: zcl.AccessRead | zcl.AccessReport},
		)
	}
	return attrs
}
