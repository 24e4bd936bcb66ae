package clusters

import "zigbee-energy-gateway/internal/zcl"

// Metering cluster attribute IDs.
const (
	MeteringID                 uint16 = 0x0702
	MeteringSummationDelivered uint16 = 0x0000
	MeteringSummationReceived  uint16 = 0x0001
	MeteringMultiplier         uint16 = 0x0301
	MeteringDivisor            uint16 = 0x0302
)

var Metering = zcl.ClusterDef{
	ID:   MeteringID,
	Name: "Metering",
	Attributes: []zcl.AttributeDef{
		// Reading information set
		{ID: MeteringSummationDelivered, Name: "CurrentSummationDelivered", Type: zcl.TypeUint48, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: MeteringSummationReceived, Name: "CurrentSummationReceived", Type: zcl.TypeUint48, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0002, Name: "CurrentMaxDemandDelivered", Type: zcl.TypeUint48, Access: zcl.AccessRead},
		{ID: 0x0003, Name: "CurrentMaxDemandReceived", Type: zcl.TypeUint48, Access: zcl.AccessRead},
		// Meter status
		{ID: 0x0200, Name: "Status", Type: zcl.TypeBitmap8, Access: zcl.AccessRead},
		// Formatting
		{ID: 0x0300, Name: "UnitOfMeasure", Type: zcl.TypeEnum8, Access: zcl.AccessRead},
		{ID: MeteringMultiplier, Name: "Multiplier", Type: zcl.TypeUint24, Access: zcl.AccessRead},
		{ID: MeteringDivisor, Name: "Divisor", Type: zcl.TypeUint24, Access: zcl.AccessRead},
		{ID: 0x0303, Name: "SummationFormatting", Type: zcl.TypeBitmap8, Access: zcl.AccessRead},
		{ID: 0x0306, Name: "MeteringDeviceType", Type: zcl.TypeBitmap8, Access: zcl.AccessRead},
		// Instantaneous demand
		{ID: 0x0400, Name: "InstantaneousDemand", Type: zcl.TypeInt24, Access: zcl.AccessRead | zcl.AccessReport},
	},
}
