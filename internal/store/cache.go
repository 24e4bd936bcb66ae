package store

import (
	"log/slog"

	"zigbee-energy-gateway/internal/converter"
)

var _ converter.AttributeCache = (*AttributeCache)(nil)

// AttributeCache keeps the scale attributes of every device in memory and
// writes changes through to the store, so scale factors survive restarts.
type AttributeCache struct {
	mem    *converter.MemoryAttributes
	store  Store
	logger *slog.Logger
}

// NewAttributeCache creates a cache preloaded from the store.
func NewAttributeCache(s Store, logger *slog.Logger) (*AttributeCache, error) {
	c := &AttributeCache{
		mem:    converter.NewMemoryAttributes(),
		store:  s,
		logger: logger.With("component", "attr-cache"),
	}
	attrs, err := s.LoadAttributes()
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		c.mem.SetAttribute(a.IEEE, a.Endpoint, a.Cluster, a.ID, a.Value)
	}
	c.logger.Info("attributes loaded", "count", len(attrs))
	return c, nil
}

func (c *AttributeCache) Attribute(ieee string, endpoint uint8, cluster, attr uint16) (converter.Value, bool) {
	return c.mem.Attribute(ieee, endpoint, cluster, attr)
}

// SetAttribute updates the cache. Unchanged values are not rewritten; a failed
// write is logged and the in-memory value is kept.
func (c *AttributeCache) SetAttribute(ieee string, endpoint uint8, cluster, attr uint16, v converter.Value) {
	if old, ok := c.mem.Attribute(ieee, endpoint, cluster, attr); ok && old == v {
		return
	}
	c.mem.SetAttribute(ieee, endpoint, cluster, attr, v)
	err := c.store.SaveAttribute(Attribute{IEEE: ieee, Endpoint: endpoint, Cluster: cluster, ID: attr, Value: v})
	if err != nil {
		c.logger.Error("persist attribute", "err", err, "ieee", ieee, "cluster", cluster, "attr", attr)
	}
}

// Forget drops the in-memory values of a device. Persisted values are removed
// with the device.
func (c *AttributeCache) Forget(ieee string) {
	c.mem.Forget(ieee)
}
