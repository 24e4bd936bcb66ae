package converter

import "maps"

// MessageType distinguishes the two ZCL frames that carry attribute values.
// Both are decoded identically.
type MessageType string

const (
	AttributeReport MessageType = "attributeReport"
	ReadResponse    MessageType = "readResponse"
)

// Message is a validated attribute message from one device endpoint and cluster.
type Message struct {
	Type       MessageType
	IEEE       string
	Endpoint   uint8
	ClusterID  uint16
	Seq        uint8 // ZCL transaction sequence number, valid when HasSeq
	HasSeq     bool
	Attributes map[uint16]Value
}

// Attr returns the attribute value with the given ID, if present.
func (m Message) Attr(id uint16) (Value, bool) {
	v, ok := m.Attributes[id]
	return v, ok && v.Valid()
}

// Reading maps output field names to published values. Absent fields are
// omitted keys, never placeholders.
type Reading map[string]any

// Merge copies all fields of other into r, overwriting existing keys.
func (r Reading) Merge(other Reading) {
	maps.Copy(r, other)
}
