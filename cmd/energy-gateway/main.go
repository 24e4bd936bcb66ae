package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"zigbee-energy-gateway/internal/converter"
	"zigbee-energy-gateway/internal/devicedb"
	"zigbee-energy-gateway/internal/gateway"
	"zigbee-energy-gateway/internal/store"
	"zigbee-energy-gateway/internal/web"
	"zigbee-energy-gateway/internal/wire"
	"zigbee-energy-gateway/internal/zcl"
	"zigbee-energy-gateway/internal/zcl/clusters"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		ClientID    string `yaml:"client_id"`
		TopicPrefix string `yaml:"topic_prefix"`
		Discovery   bool   `yaml:"discovery"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Dedup struct {
		Size   int           `yaml:"size"`
		Window time.Duration `yaml:"window"`
	} `yaml:"dedup"`
	DevicesDir string                          `yaml:"devices_dir"`
	ScriptsDir string                          `yaml:"scripts_dir"`
	Devices    map[string]gateway.DeviceConfig `yaml:"devices"`
}

func (c *Config) validate() error {
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.Dedup.Size < 0 {
		return fmt.Errorf("dedup.size must not be negative, got %d", c.Dedup.Size)
	}
	if c.Dedup.Window < 0 {
		return fmt.Errorf("dedup.window must not be negative, got %s", c.Dedup.Window)
	}
	devices := make(map[string]gateway.DeviceConfig, len(c.Devices))
	for ieee, dc := range c.Devices {
		norm, err := wire.NormalizeIEEE(ieee)
		if err != nil {
			return fmt.Errorf("devices: %w", err)
		}
		if _, dup := devices[norm]; dup {
			return fmt.Errorf("devices: %s listed twice", norm)
		}
		devices[norm] = dc
	}
	c.Devices = devices
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("energy-gateway starting", "version", version)

	registry := zcl.NewRegistry(logger)
	for _, c := range clusters.Standard() {
		registry.Register(c)
	}

	// Built-in meter definitions, overridden or extended by the devices directory.
	deviceDB := devicedb.NewWithBuiltins()
	if err := devicedb.LoadDir(deviceDB, cfg.DevicesDir, registry, logger); err != nil {
		logger.Error("load device definitions", "err", err)
		os.Exit(1)
	}
	catalog := converter.DefaultCatalog()
	if err := deviceDB.Validate(catalog); err != nil {
		logger.Error("invalid device definitions", "err", err)
		os.Exit(1)
	}
	logger.Info("ZCL registry initialized", "clusters", len(registry.All()), "devices", deviceDB.Len())

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	attrs, err := store.NewAttributeCache(db, logger)
	if err != nil {
		logger.Error("load attribute cache", "err", err)
		os.Exit(1)
	}

	engine := converter.NewEngine(catalog, attrs, logger,
		converter.WithDedup(cfg.Dedup.Size, cfg.Dedup.Window))
	events := gateway.NewEventBus(logger)
	gw := gateway.New(db, deviceDB, engine, events, logger)
	if err := gw.SeedDevices(cfg.Devices); err != nil {
		logger.Error("seed devices", "err", err)
		os.Exit(1)
	}

	parser := wire.NewParser(registry, logger)

	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoOpts := initAutomation(gw, cfg, logger)
	webOpts = append(webOpts, autoOpts...)
	webServer := web.NewServer(gw, parser, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(gw, parser, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mqtt.Stop()
	auto.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()

	logger.Info("goodbye")
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "energy-gateway.db"
	}
	if cfg.DevicesDir == "" {
		cfg.DevicesDir = "devices"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "energy-gateway"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "energy-gateway"
	}
	if cfg.Dedup.Size == 0 {
		cfg.Dedup.Size = converter.DefaultDedupHistory
	}
	if cfg.Dedup.Window == 0 {
		cfg.Dedup.Window = converter.DefaultDedupWindow
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
