package zcl

import (
	"encoding/binary"
	"fmt"
)

// AttributeRecord is one decoded attribute of a Report Attributes or Read
// Attributes Response frame.
type AttributeRecord struct {
	ID     uint16
	Status uint8 // always 0 for reports
	Type   uint8
	Value  interface{}
}

// ParseAttributeRecords decodes the payload of a Report Attributes (0x0A) or
// Read Attributes Response (0x01) command. Read response records with a
// non-success status carry no value. Parsing stops at the first record whose
// type is unsupported, returning the records decoded so far with an error.
func ParseAttributeRecords(cmd uint8, data []byte) ([]AttributeRecord, error) {
	if cmd != FoundationReportAttributes && cmd != FoundationReadAttributesResponse {
		return nil, fmt.Errorf("command 0x%02X carries no attribute records", cmd)
	}

	var records []AttributeRecord
	for len(data) > 0 {
		if len(data) < 2 {
			return records, fmt.Errorf("truncated attribute id")
		}
		rec := AttributeRecord{ID: binary.LittleEndian.Uint16(data)}
		data = data[2:]

		if cmd == FoundationReadAttributesResponse {
			if len(data) < 1 {
				return records, fmt.Errorf("attribute 0x%04X: truncated status", rec.ID)
			}
			rec.Status = data[0]
			data = data[1:]
			if rec.Status != 0 {
				records = append(records, rec)
				continue
			}
		}

		if len(data) < 1 {
			return records, fmt.Errorf("attribute 0x%04X: truncated type", rec.ID)
		}
		rec.Type = data[0]
		data = data[1:]

		val, n, err := DecodeValue(rec.Type, data)
		if err != nil {
			return records, fmt.Errorf("attribute 0x%04X: %w", rec.ID, err)
		}
		rec.Value = val
		data = data[n:]
		records = append(records, rec)
	}
	return records, nil
}
