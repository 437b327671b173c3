package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	General     GeneralConfig     `toml:"general"`
	API         APIConfig         `toml:"api"`
	Collector   CollectorConfig   `toml:"collector"`
	Alerting    AlertingConfig    `toml:"alerting"`
	Autoscale   AutoscaleConfig   `toml:"autoscale"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	Storage     StorageConfig     `toml:"storage"`
	Logging     LoggingConfig     `toml:"logging"`
}

type GeneralConfig struct {
	DataDir string `toml:"data_dir"`
	Fleet   string `toml:"fleet"`
}

type APIConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

type CollectorConfig struct {
	Interval       string        `toml:"interval"`
	Retention      string        `toml:"retention"`
	SourceTimeout  string        `toml:"source_timeout"`
	IntervalD      time.Duration `toml:"-"`
	RetentionD     time.Duration `toml:"-"`
	SourceTimeoutD time.Duration `toml:"-"`
}

type AlertingConfig struct {
	Interval       string        `toml:"interval"`
	NotifyTimeout  string        `toml:"notify_timeout"`
	RulesFile      string        `toml:"rules_file"`
	Notifier       string        `toml:"notifier"` // webhook, log
	IntervalD      time.Duration `toml:"-"`
	NotifyTimeoutD time.Duration `toml:"-"`
}

type AutoscaleConfig struct {
	Interval         string        `toml:"interval"`
	ProviderTimeout  string        `toml:"provider_timeout"`
	Provider         string        `toml:"provider"` // docker, static
	Image            string        `toml:"image"`
	ContainerPort    int           `toml:"container_port"`
	InitialInstances int           `toml:"initial_instances"`
	IntervalD        time.Duration `toml:"-"`
	ProviderTimeoutD time.Duration `toml:"-"`
}

type MaintenanceConfig struct {
	RetentionSweep  string        `toml:"retention_sweep"`
	HistoryMaxAge   string        `toml:"history_max_age"`
	StoreOptimize   string        `toml:"store_optimize"`
	SlowScan        string        `toml:"slow_scan"`
	SlowThresholdMs float64       `toml:"slow_threshold_ms"`
	RetentionSweepD time.Duration `toml:"-"`
	HistoryMaxAgeD  time.Duration `toml:"-"`
	StoreOptimizeD  time.Duration `toml:"-"`
	SlowScanD       time.Duration `toml:"-"`
}

type StorageConfig struct {
	// Backend is sqlite or memory.
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".fleetwatch")

	return &Config{
		General: GeneralConfig{
			DataDir: dataDir,
			Fleet:   "default",
		},
		API: APIConfig{
			ListenAddr: "127.0.0.1:9180",
		},
		Collector: CollectorConfig{
			Interval:      "10s",
			Retention:     "1h",
			SourceTimeout: "3s",
		},
		Alerting: AlertingConfig{
			Interval:      "30s",
			NotifyTimeout: "5s",
			RulesFile:     filepath.Join(dataDir, "rules.yaml"),
			Notifier:      "log",
		},
		Autoscale: AutoscaleConfig{
			Interval:         "60s",
			ProviderTimeout:  "10s",
			Provider:         "static",
			InitialInstances: 1,
		},
		Maintenance: MaintenanceConfig{
			RetentionSweep:  "1h",
			HistoryMaxAge:   "168h",
			StoreOptimize:   "24h",
			SlowScan:        "15m",
			SlowThresholdMs: 1000,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			Path:    filepath.Join(dataDir, "fleetwatch.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func LoadFromFile(path string) (*Config, error) {
	expandedPath, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expand path: %w", err)
	}

	data, err := os.ReadFile(expandedPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("decode TOML: %w", err)
	}
	return cfg, nil
}

func (c *Config) postProcess() error {
	durations := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"collector.interval", c.Collector.Interval, &c.Collector.IntervalD},
		{"collector.retention", c.Collector.Retention, &c.Collector.RetentionD},
		{"collector.source_timeout", c.Collector.SourceTimeout, &c.Collector.SourceTimeoutD},
		{"alerting.interval", c.Alerting.Interval, &c.Alerting.IntervalD},
		{"alerting.notify_timeout", c.Alerting.NotifyTimeout, &c.Alerting.NotifyTimeoutD},
		{"autoscale.interval", c.Autoscale.Interval, &c.Autoscale.IntervalD},
		{"autoscale.provider_timeout", c.Autoscale.ProviderTimeout, &c.Autoscale.ProviderTimeoutD},
		{"maintenance.retention_sweep", c.Maintenance.RetentionSweep, &c.Maintenance.RetentionSweepD},
		{"maintenance.history_max_age", c.Maintenance.HistoryMaxAge, &c.Maintenance.HistoryMaxAgeD},
		{"maintenance.store_optimize", c.Maintenance.StoreOptimize, &c.Maintenance.StoreOptimizeD},
		{"maintenance.slow_scan", c.Maintenance.SlowScan, &c.Maintenance.SlowScanD},
	}

	for _, d := range durations {
		parsed, err := time.ParseDuration(d.src)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	var err error
	c.General.DataDir, err = expandPath(c.General.DataDir)
	if err != nil {
		return fmt.Errorf("expand general.data_dir: %w", err)
	}
	c.Storage.Path, err = expandPath(c.Storage.Path)
	if err != nil {
		return fmt.Errorf("expand storage.path: %w", err)
	}
	c.Alerting.RulesFile, err = expandPath(c.Alerting.RulesFile)
	if err != nil {
		return fmt.Errorf("expand alerting.rules_file: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	for name, d := range map[string]time.Duration{
		"collector.interval":  c.Collector.IntervalD,
		"collector.retention": c.Collector.RetentionD,
		"alerting.interval":   c.Alerting.IntervalD,
		"autoscale.interval":  c.Autoscale.IntervalD,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.Collector.RetentionD < c.Collector.IntervalD {
		return fmt.Errorf("collector.retention (%s) must be at least collector.interval (%s)",
			c.Collector.Retention, c.Collector.Interval)
	}

	switch c.Autoscale.Provider {
	case "docker":
		if c.Autoscale.Image == "" {
			return fmt.Errorf("autoscale.image is required for the docker provider")
		}
	case "static":
	default:
		return fmt.Errorf("invalid autoscale provider: %s (valid: docker, static)", c.Autoscale.Provider)
	}

	switch c.Alerting.Notifier {
	case "webhook", "log":
	default:
		return fmt.Errorf("invalid notifier: %s (valid: webhook, log)", c.Alerting.Notifier)
	}

	switch c.Storage.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("invalid storage backend: %s (valid: sqlite, memory)", c.Storage.Backend)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid logging level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid logging format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLEETWATCH_DATA_DIR"); v != "" {
		cfg.General.DataDir = v
	}
	if v := os.Getenv("FLEETWATCH_FLEET"); v != "" {
		cfg.General.Fleet = v
	}
	if v := os.Getenv("FLEETWATCH_API_LISTEN"); v != "" {
		cfg.API.ListenAddr = v
	}
	if v := os.Getenv("FLEETWATCH_RULES_FILE"); v != "" {
		cfg.Alerting.RulesFile = v
	}
	if v := os.Getenv("FLEETWATCH_NOTIFIER"); v != "" {
		cfg.Alerting.Notifier = v
	}
	if v := os.Getenv("FLEETWATCH_SCALE_PROVIDER"); v != "" {
		cfg.Autoscale.Provider = v
	}
	if v := os.Getenv("FLEETWATCH_SCALE_IMAGE"); v != "" {
		cfg.Autoscale.Image = v
	}
	if v := os.Getenv("FLEETWATCH_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("FLEETWATCH_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("FLEETWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get user home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}
	return path, nil
}

// Load resolves the effective configuration: file (or defaults), then env
// overrides, then duration post-processing and validation.
func Load(configPath string) (*Config, error) {
	var cfg *Config
	var err error

	if configPath != "" {
		cfg, err = LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", configPath, err)
		}
	} else {
		cfg = Default()
	}

	ApplyEnvOverrides(cfg)

	if err := cfg.postProcess(); err != nil {
		return nil, fmt.Errorf("post process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
