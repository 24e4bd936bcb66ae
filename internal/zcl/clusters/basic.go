package clusters

import "zigbee-energy-gateway/internal/zcl"

// Basic cluster attribute IDs.
const (
	BasicID                  uint16 = 0x0000
	BasicHWVersion           uint16 = 0x0003
	BasicManufacturerName    uint16 = 0x0004
	BasicModelIdentifier     uint16 = 0x0005
	BasicLocationDescription uint16 = 0x0010
)

var Basic = zcl.ClusterDef{
	ID:   BasicID,
	Name: "Basic",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "ZCLVersion", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0001, Name: "ApplicationVersion", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0002, Name: "StackVersion", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: BasicHWVersion, Name: "HWVersion", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: BasicManufacturerName, Name: "ManufacturerName", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
		{ID: BasicModelIdentifier, Name: "ModelIdentifier", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
		{ID: 0x0006, Name: "DateCode", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
		{ID: 0x0007, Name: "PowerSource", Type: zcl.TypeEnum8, Access: zcl.AccessRead},
		{ID: BasicLocationDescription, Name: "LocationDescription", Type: zcl.TypeCharStr, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x4000, Name: "SWBuildID", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
	},
}

// Standard returns the cluster definitions the gateway decodes.
func Standard() []zcl.ClusterDef {
	return []zcl.ClusterDef{Basic, Metering, ElectricalMeasurement}
}
