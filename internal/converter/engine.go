package converter

import (
	"log/slog"
	"time"

	"zigbee-energy-gateway/internal/calibration"
)

// Engine turns device messages into readings.
type Engine struct {
	catalog    *Catalog
	states     *StateTable
	attrs      AttributeCache
	gate       Gate
	calibrator calibration.Calibrator
	logger     *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCalibrator replaces the default calibrator.
func WithCalibrator(c calibration.Calibrator) EngineOption {
	return func(e *Engine) { e.calibrator = c }
}

// WithDedup sets the duplicate history size and window.
func WithDedup(size int, window time.Duration) EngineOption {
	return func(e *Engine) {
		e.gate.Size = size
		e.gate.Window = window
	}
}

// WithClock sets the time source of the duplicate window.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.gate.Now = now }
}

// NewEngine creates an engine. A nil catalog selects DefaultCatalog and a nil
// attrs keeps scale attributes in memory only.
func NewEngine(catalog *Catalog, attrs AttributeCache, logger *slog.Logger, opts ...EngineOption) *Engine {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if attrs == nil {
		attrs = NewMemoryAttributes()
	}
	e := &Engine{
		catalog:    catalog,
		states:     NewStateTable(),
		attrs:      attrs,
		calibrator: calibration.Default,
		logger:     logger.With("component", "converter"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Catalog returns the engine's converters.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Process decodes msg for a device described by p. It returns false when the
// message is a retransmission of one already processed; such a message has no
// effect on device state.
func (e *Engine) Process(p Profile, msg Message, opts calibration.Options) (Reading, bool) {
	st := e.states.Get(msg.IEEE)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !e.admit(st, msg, p.PublishDuplicates) {
		return nil, false
	}
	return e.decode(st, p, msg, opts), true
}

// Admit passes msg through the duplicate gate and learns the scale attributes
// it carries. It returns false for a retransmission, which changes nothing.
// Admit does not need a profile, so it serves devices whose model is not yet
// known; an admitted message is then decoded with Decode.
func (e *Engine) Admit(msg Message, publishDuplicates bool) bool {
	st := e.states.Get(msg.IEEE)
	st.mu.Lock()
	defer st.mu.Unlock()
	return e.admit(st, msg, publishDuplicates)
}

// Decode runs the converters of p on a message already admitted.
func (e *Engine) Decode(p Profile, msg Message, opts calibration.Options) Reading {
	st := e.states.Get(msg.IEEE)
	st.mu.Lock()
	defer st.mu.Unlock()
	return e.decode(st, p, msg, opts)
}

func (e *Engine) admit(st *DeviceState, msg Message, publishDuplicates bool) bool {
	if msg.HasSeq && !publishDuplicates {
		key := DedupKey{Endpoint: msg.Endpoint, Cluster: msg.ClusterID, Seq: msg.Seq}
		if e.gate.seen(&st.history, key) {
			e.logger.Debug("duplicate message dropped",
				"ieee", msg.IEEE, "endpoint", msg.Endpoint,
				"cluster", msg.ClusterID, "seq", msg.Seq)
			return false
		}
	}

	// Scale attributes are learned before decoding so a message carrying both
	// a measurement and its divisor decodes in one pass.
	for id, v := range msg.Attributes {
		if v.Valid() && IsScaleAttribute(msg.ClusterID, id) {
			e.attrs.SetAttribute(msg.IEEE, msg.Endpoint, msg.ClusterID, id, v)
		}
	}
	return true
}

func (e *Engine) decode(st *DeviceState, p Profile, msg Message, opts calibration.Options) Reading {
	ctx := &Context{
		Profile:    p,
		State:      st,
		Attributes: e.attrs,
		Calibrator: e.calibrator,
		Options:    opts,
	}
	out := Reading{}
	for _, name := range p.Converters {
		conv, ok := e.catalog.Get(name)
		if !ok {
			e.logger.Warn("unknown converter", "model", p.Model, "converter", name)
			continue
		}
		if conv.Cluster() != msg.ClusterID {
			continue
		}
		out.Merge(conv.Convert(ctx, msg))
	}
	return out
}

// Energy returns the accumulated totals of a device.
func (e *Engine) Energy(ieee string) (delivered, received float64, ok bool) {
	st, ok := e.states.Lookup(ieee)
	if !ok {
		return 0, 0, false
	}
	delivered, received = st.Energy()
	return delivered, received, true
}

// Forget drops all decoding state of a device.
func (e *Engine) Forget(ieee string) {
	e.states.Forget(ieee)
	if f, ok := e.attrs.(interface{ Forget(string) }); ok {
		f.Forget(ieee)
	}
}
