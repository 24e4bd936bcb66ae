package zcl

// Foundation ZCL command IDs that carry attribute values towards the gateway.
const (
	FoundationReadAttributesResponse uint8 = 0x01
	FoundationReportAttributes       uint8 = 0x0A
)
