package zcl

import "testing"

func TestParseReportRecords(t *testing.T) {
	// RMSVoltage (uint16 2301) followed by ACAlarmsMask (map16 5).
	payload := []byte{
		0x05, 0x05, TypeUint16, 0xFD, 0x08,
		0x00, 0x08, TypeBitmap16, 0x05, 0x00,
	}
	recs, err := ParseAttributeRecords(FoundationReportAttributes, payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].ID != 0x0505 || recs[0].Value.(uint64) != 2301 {
		t.Errorf("record 0 = %+v", recs[0])
	}
	if recs[1].ID != 0x0800 || recs[1].Value.(uint64) != 5 {
		t.Errorf("record 1 = %+v", recs[1])
	}
}

func TestParseReadResponseRecords(t *testing.T) {
	payload := []byte{
		0x03, 0x00, 0x00, TypeUint8, 0x02, // HWVersion = 2
		0x10, 0x00, 0x86, // LocationDescription unsupported
		0x05, 0x00, 0x00, TypeCharStr, 0x03, 'S', 'P', 'M',
	}
	recs, err := ParseAttributeRecords(FoundationReadAttributesResponse, payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[1].Status != 0x86 || recs[1].Value != nil {
		t.Errorf("failed record = %+v", recs[1])
	}
	if recs[2].Value.(string) != "SPM" {
		t.Errorf("model = %v", recs[2].Value)
	}
}

func TestParseRecordsErrors(t *testing.T) {
	tests := []struct {
		name string
		cmd  uint8
		data []byte
	}{
		{"wrong command", 0x0B, nil},
		{"truncated id", FoundationReportAttributes, []byte{0x05}},
		{"truncated value", FoundationReportAttributes, []byte{0x05, 0x05, TypeUint16, 0x01}},
		{"unsupported type", FoundationReportAttributes, []byte{0x05, 0x05, 0x48, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseAttributeRecords(tt.cmd, tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}
