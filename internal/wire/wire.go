// Package wire validates attribute messages arriving from the transport and
// turns them into converter.Message values.
//
// A message is a JSON object:
//
//	{
//	  "ieee": "00124B0012345678",
//	  "endpoint": 1,
//	  "cluster": "seMetering",          // name or numeric ID
//	  "type": "attributeReport",        // or "readResponse"
//	  "seq": 17,                        // optional
//	  "attributes": {"CurrentSummationDelivered": [0, 12345]},
//	  "records": [{"id": 1285, "type": 33, "data": "fd08"}],
//	  "payload": "0505 21 fd08"         // raw ZCL command payload, hex
//	}
//
// Attributes are keyed by registry name (case-insensitive) or by hex/decimal ID.
package wire

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"zigbee-energy-gateway/internal/converter"
	"zigbee-energy-gateway/internal/zcl"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid message")

// Envelope is the JSON form of a message.
type Envelope struct {
	IEEE       string                     `json:"ieee"`
	Endpoint   uint8                      `json:"endpoint"`
	Cluster    json.RawMessage            `json:"cluster"`
	Type       converter.MessageType      `json:"type"`
	Seq        *uint8                     `json:"seq,omitempty"`
	Attributes map[string]json.RawMessage `json:"attributes,omitempty"`
	Records    []Record                   `json:"records,omitempty"`
	Payload    string                     `json:"payload,omitempty"`
}

// Record is one typed attribute with its little-endian ZCL encoding.
type Record struct {
	ID   uint16 `json:"id"`
	Type uint8  `json:"type"`
	Data string `json:"data"`
}

// Parser resolves names against a cluster registry.
type Parser struct {
	registry *zcl.Registry
	logger   *slog.Logger
}

// NewParser creates a parser.
func NewParser(registry *zcl.Registry, logger *slog.Logger) *Parser {
	return &Parser{registry: registry, logger: logger.With("component", "wire")}
}

// Registry returns the cluster registry names are resolved against.
func (p *Parser) Registry() *zcl.Registry {
	return p.registry
}

// Parse decodes and validates a JSON message.
func (p *Parser) Parse(data []byte) (converter.Message, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return converter.Message{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return p.Message(env)
}

// Message validates an envelope.
func (p *Parser) Message(env Envelope) (converter.Message, error) {
	ieee, err := NormalizeIEEE(env.IEEE)
	if err != nil {
		return converter.Message{}, err
	}
	if env.Endpoint == 0 {
		return converter.Message{}, fmt.Errorf("%w: endpoint is required", ErrInvalid)
	}
	clusterID, err := p.clusterID(env.Cluster)
	if err != nil {
		return converter.Message{}, err
	}

	msg := converter.Message{
		Type:       env.Type,
		IEEE:       ieee,
		Endpoint:   env.Endpoint,
		ClusterID:  clusterID,
		Attributes: make(map[uint16]converter.Value),
	}
	switch msg.Type {
	case "":
		msg.Type = converter.AttributeReport
	case converter.AttributeReport, converter.ReadResponse:
	default:
		return converter.Message{}, fmt.Errorf("%w: unknown message type %q", ErrInvalid, env.Type)
	}
	if env.Seq != nil {
		msg.Seq, msg.HasSeq = *env.Seq, true
	}

	for name, raw := range env.Attributes {
		id, ok := p.attributeID(clusterID, name)
		if !ok {
			p.logger.Warn("unknown attribute dropped", "ieee", ieee, "cluster", fmt.Sprintf("0x%04X", clusterID), "attr", name)
			continue
		}
		v, err := attributeValue(raw)
		if err != nil {
			return converter.Message{}, fmt.Errorf("%w: attribute %s: %v", ErrInvalid, name, err)
		}
		msg.Attributes[id] = v
	}

	for _, rec := range env.Records {
		b, err := hex.DecodeString(rec.Data)
		if err != nil {
			return converter.Message{}, fmt.Errorf("%w: record 0x%04X: %v", ErrInvalid, rec.ID, err)
		}
		val, _, err := zcl.DecodeValue(rec.Type, b)
		if err != nil {
			return converter.Message{}, fmt.Errorf("%w: record 0x%04X: %v", ErrInvalid, rec.ID, err)
		}
		p.setDecoded(&msg, rec.ID, val)
	}

	if env.Payload != "" {
		if err := p.applyPayload(&msg, env.Payload); err != nil {
			return converter.Message{}, err
		}
	}

	if len(msg.Attributes) == 0 {
		return converter.Message{}, fmt.Errorf("%w: no attributes", ErrInvalid)
	}
	return msg, nil
}

func (p *Parser) applyPayload(msg *converter.Message, payload string) error {
	b, err := hex.DecodeString(strings.ReplaceAll(payload, " ", ""))
	if err != nil {
		return fmt.Errorf("%w: payload: %v", ErrInvalid, err)
	}
	cmd := zcl.FoundationReportAttributes
	if msg.Type == converter.ReadResponse {
		cmd = zcl.FoundationReadAttributesResponse
	}
	recs, err := zcl.ParseAttributeRecords(cmd, b)
	if err != nil {
		return fmt.Errorf("%w: payload: %v", ErrInvalid, err)
	}
	for _, rec := range recs {
		if rec.Status != 0 {
			p.logger.Debug("attribute read failed", "ieee", msg.IEEE,
				"attr", p.registry.AttributeName(msg.ClusterID, rec.ID), "status", rec.Status)
			continue
		}
		p.setDecoded(msg, rec.ID, rec.Value)
	}
	return nil
}

// setDecoded stores a zcl.DecodeValue result. Invalid strings decode to nil
// and are treated as absent.
func (p *Parser) setDecoded(msg *converter.Message, id uint16, val interface{}) {
	if val == nil {
		return
	}
	v, err := converter.FromAny(val)
	if err != nil {
		p.logger.Warn("attribute value dropped", "ieee", msg.IEEE, "attr", fmt.Sprintf("0x%04X", id), "err", err)
		return
	}
	msg.Attributes[id] = v
}

func (p *Parser) clusterID(raw json.RawMessage) (uint16, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("%w: cluster is required", ErrInvalid)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n uint16
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, fmt.Errorf("%w: cluster: %v", ErrInvalid, err)
		}
		return n, nil
	}
	if id, ok := parseID(s); ok {
		return id, nil
	}
	for _, c := range p.registry.All() {
		if clusterNameMatches(c.Name, s) {
			return c.ID, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown cluster %q", ErrInvalid, s)
}

// clusterNameMatches accepts both "Electrical Measurement" and the camel-case
// "haElectricalMeasurement"/"seMetering" spellings used by other gateways.
func clusterNameMatches(name, s string) bool {
	compact := strings.ReplaceAll(name, " ", "")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "gen"), "ha")
	s = strings.TrimPrefix(s, "se")
	return strings.EqualFold(name, s) || strings.EqualFold(compact, s)
}

func (p *Parser) attributeID(clusterID uint16, name string) (uint16, bool) {
	if id, ok := parseID(name); ok {
		return id, true
	}
	if def, ok := p.registry.Attribute(clusterID, name); ok {
		return def.ID, true
	}
	return 0, false
}

func parseID(s string) (uint16, bool) {
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	n, err := strconv.ParseUint(s, base, 16)
	if err != nil {
		return 0, false
	}
	return uint16(n), true
}

// attributeValue decodes a JSON number, string, bool or [high, low] pair.
func attributeValue(raw json.RawMessage) (converter.Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return converter.Value{}, err
	}
	if pair, ok := v.([]any); ok {
		return wordPair(pair)
	}
	return converter.FromAny(v)
}

func wordPair(pair []any) (converter.Value, error) {
	if len(pair) != 2 {
		return converter.Value{}, fmt.Errorf("counter needs [high, low], got %d elements", len(pair))
	}
	var words [2]uint32
	for i, el := range pair {
		n, ok := el.(json.Number)
		if !ok {
			return converter.Value{}, fmt.Errorf("counter word %d is not a number", i)
		}
		u, err := strconv.ParseUint(n.String(), 10, 32)
		if err != nil {
			return converter.Value{}, fmt.Errorf("counter word %d: %w", i, err)
		}
		words[i] = uint32(u)
	}
	return converter.Words(words[0], words[1]), nil
}

// NormalizeIEEE converts an IEEE address to 16 upper-case hex digits without
// prefix.
func NormalizeIEEE(s string) (string, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 16 {
		return "", fmt.Errorf("%w: ieee address %q", ErrInvalid, s)
	}
	if _, err := strconv.ParseUint(s, 16, 64); err != nil {
		return "", fmt.Errorf("%w: ieee address %q", ErrInvalid, s)
	}
	return strings.ToUpper(s), nil
}
