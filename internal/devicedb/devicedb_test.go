package devicedb

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"zigbee-energy-gateway/internal/converter"
	"zigbee-energy-gateway/internal/zcl"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBuiltins(t *testing.T) {
	db := NewWithBuiltins()
	if db.Len() != 2 {
		t.Fatalf("len = %d, want 2", db.Len())
	}
	if err := db.Validate(converter.DefaultCatalog()); err != nil {
		t.Fatal(err)
	}

	def := db.Lookup("SPM02X001")
	if def == nil {
		t.Fatal("SPM02X001 not found")
	}
	if def.Vendor != "BITUO TECHNIK" {
		t.Errorf("vendor = %q", def.Vendor)
	}
	if e, ok := def.ExposeFor("total_active_power"); !ok || e.Unit != "kW" {
		t.Errorf("total_active_power expose = %+v, %v", e, ok)
	}
	if _, ok := db.Lookup("SPM01X001").ExposeFor("voltage_phase_b"); ok {
		t.Error("single phase meter exposes phase B")
	}
}

func TestLookupAlias(t *testing.T) {
	db := New()
	db.Add(Definition{Model: "SPM01", ZigbeeModels: []string{"SPM01X001", "SPM01-Z3"}, Converters: []string{"metering"}})

	if db.Lookup("SPM01-Z3") == nil {
		t.Error("alias lookup failed")
	}
	if db.Lookup("unknown") != nil {
		t.Error("expected nil for unknown model")
	}
}

func TestProfileCopiesSlices(t *testing.T) {
	def := Definition{Model: "m", Converters: []string{"metering"}, MultiEndpoint: true}
	p := def.Profile()
	p.Converters[0] = "changed"
	if def.Converters[0] != "metering" {
		t.Error("profile aliases definition converters")
	}
	if !p.MultiEndpoint || p.Model != "m" {
		t.Errorf("profile = %+v", p)
	}
}

func TestValidateUnknownConverter(t *testing.T) {
	db := New()
	db.Add(Definition{Model: "x", Converters: []string{"tuya_magic"}})
	if err := db.Validate(converter.DefaultCatalog()); err == nil {
		t.Error("expected error for unknown converter")
	}
}

func TestValidateEndpointNamedTwice(t *testing.T) {
	db := New()
	db.Add(Definition{
		Model:         "x",
		Converters:    []string{"metering"},
		MultiEndpoint: true,
		Endpoints:     map[string]uint8{"l1": 1, "left": 1},
	})
	if err := db.Validate(converter.DefaultCatalog()); err == nil {
		t.Error("expected error for endpoint 1 named twice")
	}
}

func TestLoadDir(t *testing.T) {
	logger := testLogger()
	registry := zcl.NewRegistry(logger)
	dir := t.TempDir()

	os.WriteFile(filepath.Join(dir, "bituo.json"), []byte(`{
		"clusters": [
			{"id": 65281, "name": "Bituo Private", "attributes": [{"id": 0, "name": "PaySwitch", "type": 16, "access": 3}]}
		],
		"devices": [
			{
				"vendor": "BITUO TECHNIK",
				"model": "SPM01X001",
				"converters": ["metering"],
				"publish_duplicates": true
			},
			{
				"vendor": "BITUO TECHNIK",
				"model": "SPM02X002",
				"zigbee_models": ["SPM02X002-EU"],
				"converters": ["metering", "electrical_measurement"],
				"multi_endpoint": true,
				"endpoints": {"l1": 1, "l2": 2}
			}
		]
	}`), 0644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644)

	db := NewWithBuiltins()
	if err := LoadDir(db, dir, registry, logger); err != nil {
		t.Fatal(err)
	}
	if db.Len() != 3 {
		t.Errorf("len = %d, want 3", db.Len())
	}
	if d := db.Lookup("SPM01X001"); d == nil || !d.PublishDuplicates || len(d.Converters) != 1 {
		t.Errorf("built-in not overridden: %+v", d)
	}
	d := db.Lookup("SPM02X002-EU")
	if d == nil || d.Endpoints["l2"] != 2 {
		t.Fatalf("definition = %+v", d)
	}
	if registry.Get(65281) == nil {
		t.Error("custom cluster not registered")
	}
}

func TestLoadDirMissing(t *testing.T) {
	db := New()
	if err := LoadDir(db, filepath.Join(t.TempDir(), "nope"), zcl.NewRegistry(testLogger()), testLogger()); err != nil {
		t.Fatal(err)
	}
	if db.Len() != 0 {
		t.Errorf("len = %d", db.Len())
	}
}

func TestLoadDirInvalid(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"devices": [{"vendor": "x"}]}`), 0644)
	if err := LoadDir(New(), dir, zcl.NewRegistry(testLogger()), testLogger()); err == nil {
		t.Error("expected error for device without model")
	}

	os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{`), 0644)
	if err := LoadDir(New(), dir, zcl.NewRegistry(testLogger()), testLogger()); err == nil {
		t.Error("expected parse error")
	}
}
