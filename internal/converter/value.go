package converter

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind tags the representation held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindUint
	KindInt
	KindFloat
	KindBool
	KindString
	KindWords // 64-bit counter split in high and low 32-bit words
)

var kindNames = map[Kind]string{
	KindUint:   "uint",
	KindInt:    "int",
	KindFloat:  "float",
	KindBool:   "bool",
	KindString: "string",
	KindWords:  "words",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "invalid"
}

// Value is a raw attribute value as delivered by the transport. The zero Value
// is invalid and never present in a Message.
type Value struct {
	kind Kind
	u    uint64
	i    int64
	f    float64
	s    string
}

// Uint builds an unsigned integer value.
func Uint(v uint64) Value {
	return Value{kind: KindUint, u: v}
}

// Int builds a signed integer value.
func Int(v int64) Value {
	return Value{kind: KindInt, i: v}
}

// Float builds a floating point value.
func Float(v float64) Value {
	return Value{kind: KindFloat, f: v}
}

// Bool builds a boolean value.
func Bool(v bool) Value {
	var u uint64
	if v {
		u = 1
	}
	return Value{kind: KindBool, u: u}
}

// String builds a string value.
func String(v string) Value {
	return Value{kind: KindString, s: v}
}

// Words builds a counter value from its high and low 32-bit words.
func Words(high, low uint32) Value {
	return Value{kind: KindWords, u: uint64(high)<<32 | uint64(low)}
}

// FromAny converts a decoded Go value (as produced by zcl.DecodeValue or
// encoding/json) into a Value.
func FromAny(v any) (Value, error) {
	switch n := v.(type) {
	case Value:
		return n, nil
	case uint8:
		return Uint(uint64(n)), nil
	case uint16:
		return Uint(uint64(n)), nil
	case uint32:
		return Uint(uint64(n)), nil
	case uint64:
		return Uint(n), nil
	case uint:
		return Uint(uint64(n)), nil
	case int8:
		return Int(int64(n)), nil
	case int16:
		return Int(int64(n)), nil
	case int32:
		return Int(int64(n)), nil
	case int64:
		return Int(n), nil
	case int:
		return Int(int64(n)), nil
	case float32:
		return Float(float64(n)), nil
	case float64:
		if n == math.Trunc(n) && n >= 0 && n <= 1<<53 {
			return Uint(uint64(n)), nil
		}
		if n == math.Trunc(n) && n < 0 && n >= -(1<<53) {
			return Int(int64(n)), nil
		}
		return Float(n), nil
	case json.Number:
		if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
			return Uint(u), nil
		}
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return Int(i), nil
		}
		f, err := n.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("number %q: %w", n, err)
		}
		return FromAny(f)
	case bool:
		return Bool(n), nil
	case string:
		return String(n), nil
	case []byte:
		return String(string(n)), nil
	}
	return Value{}, fmt.Errorf("unsupported attribute value %T", v)
}

// Kind returns the representation tag.
func (v Value) Kind() Kind { return v.kind }

// Valid reports whether v holds a value.
func (v Value) Valid() bool { return v.kind != KindInvalid }

// Number returns v as a float64. Strings are not numbers.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case KindUint, KindWords:
		return float64(v.u), true
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	}
	return 0, false
}

// Counter returns v as an unsigned 64-bit counter: high<<32 + low for word
// pairs, or the value itself for non-negative integral scalars.
func (v Value) Counter() (uint64, bool) {
	switch v.kind {
	case KindUint, KindWords:
		return v.u, true
	case KindInt:
		if v.i < 0 {
			return 0, false
		}
		return uint64(v.i), true
	case KindFloat:
		if v.f < 0 || v.f != math.Trunc(v.f) || v.f >= 1<<64 {
			return 0, false
		}
		return uint64(v.f), true
	}
	return 0, false
}

// Bits returns v as a bitmask.
func (v Value) Bits() (uint64, bool) {
	if v.kind == KindFloat {
		return 0, false
	}
	return v.Counter()
}

// Text returns the string held by v.
func (v Value) Text() (string, bool) {
	return v.s, v.kind == KindString
}

// Raw returns the value in its natural Go representation, for pass-through
// fields. Word pairs are returned as [high, low].
func (v Value) Raw() any {
	switch v.kind {
	case KindUint:
		return v.u
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.u != 0
	case KindString:
		return v.s
	case KindWords:
		return [2]uint32{uint32(v.u >> 32), uint32(v.u)}
	}
	return nil
}

func (v Value) String() string {
	return fmt.Sprintf("%s(%v)", v.kind, v.Raw())
}

type valueJSON struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value with its kind so it round-trips through storage.
func (v Value) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(v.Raw())
	if err != nil {
		return nil, err
	}
	return json.Marshal(valueJSON{Kind: v.kind.String(), Value: raw})
}

// UnmarshalJSON decodes a value written by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var vj valueJSON
	if err := json.Unmarshal(data, &vj); err != nil {
		return err
	}
	var err error
	switch vj.Kind {
	case "uint":
		var n uint64
		err = json.Unmarshal(vj.Value, &n)
		*v = Uint(n)
	case "int":
		var n int64
		err = json.Unmarshal(vj.Value, &n)
		*v = Int(n)
	case "float":
		var n float64
		err = json.Unmarshal(vj.Value, &n)
		*v = Float(n)
	case "bool":
		var b bool
		err = json.Unmarshal(vj.Value, &b)
		*v = Bool(b)
	case "string":
		var s string
		err = json.Unmarshal(vj.Value, &s)
		*v = String(s)
	case "words":
		var w [2]uint32
		err = json.Unmarshal(vj.Value, &w)
		*v = Words(w[0], w[1])
	default:
		return fmt.Errorf("unknown value kind %q", vj.Kind)
	}
	return err
}
