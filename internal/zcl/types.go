package zcl

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ZCL data type IDs
const (
	TypeNoData     uint8 = 0x00
	TypeBool       uint8 = 0x10
	TypeBitmap8    uint8 = 0x18
	TypeBitmap16   uint8 = 0x19
	TypeBitmap24   uint8 = 0x1A
	TypeBitmap32   uint8 = 0x1B
	TypeUint8      uint8 = 0x20
	TypeUint16     uint8 = 0x21
	TypeUint24     uint8 = 0x22
	TypeUint32     uint8 = 0x23
	TypeUint40     uint8 = 0x24
	TypeUint48     uint8 = 0x25
	TypeUint56     uint8 = 0x26
	TypeUint64     uint8 = 0x27
	TypeInt8       uint8 = 0x28
	TypeInt16      uint8 = 0x29
	TypeInt24      uint8 = 0x2A
	TypeInt32      uint8 = 0x2B
	TypeInt48      uint8 = 0x2D
	TypeEnum8      uint8 = 0x30
	TypeEnum16     uint8 = 0x31
	TypeFloat32    uint8 = 0x39
	TypeFloat64    uint8 = 0x3A
	TypeOctetStr   uint8 = 0x41
	TypeCharStr    uint8 = 0x42
	TypeOctetStr16 uint8 = 0x43
	TypeCharStr16  uint8 = 0x44
)

// TypeSize returns the fixed size in bytes of a ZCL type, or -1 for variable-length
// and unsupported types.
func TypeSize(typeID uint8) int {
	switch {
	case typeID == TypeNoData:
		return 0
	case typeID == TypeBool, typeID == TypeEnum8:
		return 1
	case typeID == TypeEnum16:
		return 2
	case typeID >= TypeBitmap8 && typeID <= TypeBitmap32:
		return int(typeID-TypeBitmap8) + 1
	case typeID >= TypeUint8 && typeID <= TypeUint64:
		return int(typeID-TypeUint8) + 1
	case typeID >= TypeInt8 && typeID <= 0x2F:
		return int(typeID-TypeInt8) + 1
	case typeID == TypeFloat32:
		return 4
	case typeID == TypeFloat64:
		return 8
	}
	return -1
}

// TypeName returns a human-readable name for a ZCL type.
func TypeName(typeID uint8) string {
	switch {
	case typeID == TypeNoData:
		return "nodata"
	case typeID == TypeBool:
		return "bool"
	case typeID >= TypeBitmap8 && typeID <= TypeBitmap32:
		return fmt.Sprintf("map%d", 8*TypeSize(typeID))
	case typeID >= TypeUint8 && typeID <= TypeUint64:
		return fmt.Sprintf("uint%d", 8*TypeSize(typeID))
	case typeID >= TypeInt8 && typeID <= 0x2F:
		return fmt.Sprintf("int%d", 8*TypeSize(typeID))
	case typeID == TypeEnum8:
		return "enum8"
	case typeID == TypeEnum16:
		return "enum16"
	case typeID == TypeFloat32:
		return "float32"
	case typeID == TypeFloat64:
		return "float64"
	case typeID == TypeOctetStr:
		return "octstr"
	case typeID == TypeCharStr:
		return "string"
	case typeID == TypeOctetStr16:
		return "octstr16"
	case typeID == TypeCharStr16:
		return "string16"
	}
	return fmt.Sprintf("0x%02X", typeID)
}

// DecodeValue decodes a ZCL typed value from raw little-endian bytes, returning the
// Go value and bytes consumed. Unsigned integers and bitmaps of any width decode to
// uint64, signed integers to int64.
func DecodeValue(typeID uint8, data []byte) (interface{}, int, error) {
	switch typeID {
	case TypeOctetStr, TypeCharStr, TypeOctetStr16, TypeCharStr16:
		return decodeVariableValue(typeID, data)
	}

	size := TypeSize(typeID)
	if size == 0 {
		return nil, 0, nil
	}
	if size < 0 {
		return nil, 0, fmt.Errorf("zcl: unsupported type 0x%02X", typeID)
	}
	if len(data) < size {
		return nil, 0, fmt.Errorf("zcl: not enough data for type 0x%02X: need %d, have %d", typeID, size, len(data))
	}

	switch {
	case typeID == TypeBool:
		return data[0] != 0, 1, nil
	case typeID == TypeFloat32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data[:4]))), 4, nil
	case typeID == TypeFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(data[:8])), 8, nil
	case typeID >= TypeInt8 && typeID <= 0x2F:
		v := littleEndian(data[:size])
		shift := uint(64 - 8*size)
		return int64(v<<shift) >> shift, size, nil // sign extend
	}

	// Bitmaps, unsigned integers and enums.
	return littleEndian(data[:size]), size, nil
}

func littleEndian(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func decodeVariableValue(typeID uint8, data []byte) (interface{}, int, error) {
	prefix := 1
	if typeID == TypeOctetStr16 || typeID == TypeCharStr16 {
		prefix = 2
	}
	if len(data) < prefix {
		return nil, 0, fmt.Errorf("zcl: no length prefix for %s", TypeName(typeID))
	}

	var length int
	if prefix == 1 {
		length = int(data[0])
		if length == 0xFF {
			return nil, 1, nil // invalid
		}
	} else {
		length = int(binary.LittleEndian.Uint16(data[:2]))
		if length == 0xFFFF {
			return nil, 2, nil
		}
	}
	if len(data) < prefix+length {
		return nil, 0, fmt.Errorf("zcl: %s truncated: need %d, have %d", TypeName(typeID), length, len(data)-prefix)
	}

	body := data[prefix : prefix+length]
	if typeID == TypeCharStr || typeID == TypeCharStr16 {
		return string(body), prefix + length, nil
	}
	b := make([]byte, length)
	copy(b, body)
	return b, prefix + length, nil
}
