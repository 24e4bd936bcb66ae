// Package devicedb holds the declarative description of supported meters:
// which converters decode them, how endpoints are named and which fields they
// expose.
package devicedb

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"zigbee-energy-gateway/internal/converter"
	"zigbee-energy-gateway/internal/zcl"
)

// Expose describes one published field of a device.
type Expose struct {
	Name        string `json:"name"`
	Unit        string `json:"unit,omitempty"`
	Description string `json:"description,omitempty"`
}

// Definition describes a device model.
type Definition struct {
	Vendor       string   `json:"vendor"`
	Model        string   `json:"model"`
	ZigbeeModels []string `json:"zigbee_models,omitempty"`
	Description  string   `json:"description,omitempty"`
	Converters   []string `json:"converters"`
	Exposes      []Expose `json:"exposes,omitempty"`

	MultiEndpoint     bool             `json:"multi_endpoint,omitempty"`
	Endpoints         map[string]uint8 `json:"endpoints,omitempty"`
	MultiEndpointSkip []string         `json:"multi_endpoint_skip,omitempty"`
	PublishDuplicates bool             `json:"publish_duplicates,omitempty"`
}

// Profile returns the part of the definition the converter engine needs.
func (d *Definition) Profile() converter.Profile {
	return converter.Profile{
		Model:             d.Model,
		Converters:        slices.Clone(d.Converters),
		MultiEndpoint:     d.MultiEndpoint,
		Endpoints:         d.Endpoints,
		MultiEndpointSkip: slices.Clone(d.MultiEndpointSkip),
		PublishDuplicates: d.PublishDuplicates,
	}
}

// ExposeFor returns the exposed field with the given name.
func (d *Definition) ExposeFor(name string) (Expose, bool) {
	for _, e := range d.Exposes {
		if e.Name == name {
			return e, true
		}
	}
	return Expose{}, false
}

// DB holds device definitions keyed by model, with an index of the model
// identifiers devices report in the Basic cluster.
type DB struct {
	mu      sync.RWMutex
	defs    map[string]*Definition
	aliases map[string]string
}

// New creates an empty database.
func New() *DB {
	return &DB{
		defs:    make(map[string]*Definition),
		aliases: make(map[string]string),
	}
}

// NewWithBuiltins creates a database holding the built-in definitions.
func NewWithBuiltins() *DB {
	db := New()
	for _, d := range Builtins() {
		db.Add(d)
	}
	return db
}

// Add inserts a definition, replacing one with the same model.
func (db *DB) Add(def Definition) {
	cp := def
	db.mu.Lock()
	defer db.mu.Unlock()
	db.defs[def.Model] = &cp
	for _, zm := range def.ZigbeeModels {
		db.aliases[zm] = def.Model
	}
}

// Lookup finds a definition by model or by reported zigbee model identifier.
func (db *DB) Lookup(model string) *Definition {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if d, ok := db.defs[model]; ok {
		return d
	}
	if m, ok := db.aliases[model]; ok {
		return db.defs[m]
	}
	return nil
}

// All returns every definition sorted by model.
func (db *DB) All() []*Definition {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]*Definition, 0, len(db.defs))
	for _, d := range db.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// Len returns the number of definitions.
func (db *DB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.defs)
}

// Validate checks that every definition only references known converters
// and names each endpoint once.
func (db *DB) Validate(catalog *converter.Catalog) error {
	for _, d := range db.All() {
		if len(d.Converters) == 0 {
			return fmt.Errorf("model %s: no converters", d.Model)
		}
		for _, name := range d.Converters {
			if _, ok := catalog.Get(name); !ok {
				return fmt.Errorf("model %s: unknown converter %q", d.Model, name)
			}
		}
		named := make(map[uint8]string, len(d.Endpoints))
		for name, id := range d.Endpoints {
			if prev, dup := named[id]; dup {
				return fmt.Errorf("model %s: endpoint %d named both %q and %q", d.Model, id, prev, name)
			}
			named[id] = name
		}
	}
	return nil
}

// deviceFile is the JSON structure for files in the devices directory.
type deviceFile struct {
	Clusters []zcl.ClusterDef `json:"clusters,omitempty"`
	Devices  []Definition     `json:"devices,omitempty"`
}

// LoadDir reads all *.json files from dir, registering custom clusters into the
// ZCL registry and adding definitions to db. Definitions in files override
// built-ins of the same model. A missing or empty directory is not an error.
func LoadDir(db *DB, dir string, registry *zcl.Registry, logger *slog.Logger) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return fmt.Errorf("glob devices dir: %w", err)
	}
	if len(matches) == 0 {
		logger.Info("no device definition files found", "dir", dir)
		return nil
	}

	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		var df deviceFile
		if err := json.Unmarshal(data, &df); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, c := range df.Clusters {
			registry.Register(c)
		}
		for _, d := range df.Devices {
			if d.Model == "" {
				return fmt.Errorf("%s: device without model", path)
			}
			db.Add(d)
		}
		logger.Info("loaded device file", "path", filepath.Base(path),
			"clusters", len(df.Clusters), "devices", len(df.Devices))
	}

	logger.Info("device database loaded", "files", len(matches), "devices", db.Len())
	return nil
}
