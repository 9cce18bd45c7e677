// Package config loads and validates sysmond's runtime configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the immutable, fully-resolved configuration for one agent
// process. It is loaded once at startup and passed by pointer into every
// component constructor; nothing below the config loader reads viper or
// the environment directly.
type Config struct {
	Collection CollectionConfig `mapstructure:"collection"`
	Collectors CollectorsConfig `mapstructure:"collectors"`
	Store      StoreConfig      `mapstructure:"store"`
	Ring       RingConfig       `mapstructure:"ring"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Patterns   PatternsConfig   `mapstructure:"patterns"`
	Training   TrainingConfig   `mapstructure:"training"`
	Logging    LogConfig        `mapstructure:"logging"`
	Privacy    PrivacyConfig    `mapstructure:"privacy"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Resources  ResourcesConfig  `mapstructure:"resources"`
}

// CollectionConfig controls the scheduler's multi-rate clock (spec §4.8, §6.1).
type CollectionConfig struct {
	HighIntervalSec    int     `mapstructure:"high_interval_sec"`
	MediumIntervalSec  int     `mapstructure:"medium_interval_sec"`
	LowIntervalSec     int     `mapstructure:"low_interval_sec"`
	VeryLowIntervalSec int     `mapstructure:"very_low_interval_sec"`
	TickBudgetRatio    float64 `mapstructure:"tick_budget_ratio"`
	TopProcesses       int     `mapstructure:"top_processes"`
}

// CollectorsConfig enumerates which collectors run, including the two
// optional bridge collectors from spec §4.1.
type CollectorsConfig struct {
	Enabled            []string `mapstructure:"enabled"`
	ExternalToolBridge bool     `mapstructure:"external_tool_bridge"`
	PlatformQueryBridge bool    `mapstructure:"platform_query_bridge"`
}

// StoreConfig configures the embedded SQLite store.
type StoreConfig struct {
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
	SizeCapMB     int    `mapstructure:"size_cap_mb"`
}

// RingConfig configures the in-memory ring buffer.
type RingConfig struct {
	Capacity      int `mapstructure:"capacity"`
	SubCapacity   int `mapstructure:"sub_capacity"`
}

// HTTPConfig configures the loopback-only HTTP surface.
type HTTPConfig struct {
	Bind           string        `mapstructure:"bind"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// PatternsConfig configures the baseline/threshold/spike detectors.
type PatternsConfig struct {
	WindowSamples  int                        `mapstructure:"window_samples"`
	SpikeK         float64                    `mapstructure:"spike_k"`
	SustainWindow  int                        `mapstructure:"sustain_window"`
	Thresholds     map[string]ThresholdConfig `mapstructure:"thresholds"`
	AnomalyRetentionDays int                  `mapstructure:"anomaly_retention_days"`
}

// ThresholdConfig is a per-metric warn/critical pair.
type ThresholdConfig struct {
	Warn     float64 `mapstructure:"warn"`
	Critical float64 `mapstructure:"critical"`
}

// TrainingConfig exposes the ML-trainer readiness thresholds (spec §9 open
// question: default to the conservative values).
type TrainingConfig struct {
	MinimumRequired int     `mapstructure:"minimum_required"`
	MinimumHours    float64 `mapstructure:"minimum_hours"`
}

// LogConfig is consumed directly by pkg/logger.New.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	File       string `mapstructure:"file"`
	RotateMB   int    `mapstructure:"rotate_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// PrivacyConfig restricts what the process collector is allowed to record.
type PrivacyConfig struct {
	ProcessNameOnly bool `mapstructure:"process_name_only"`
}

// MetricsConfig controls the internal Prometheus introspection endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ResourcesConfig configures the self-throttle guard (spec §5).
type ResourcesConfig struct {
	MaxResidentMB      int           `mapstructure:"max_resident_mb"`
	MaxCPUPercent      float64       `mapstructure:"max_cpu_percent"`
	OverrunWindow      time.Duration `mapstructure:"overrun_window"`
	ShutdownGrace      time.Duration `mapstructure:"shutdown_grace"`
	DrainBudget        time.Duration `mapstructure:"drain_budget"`
}

// Load reads configuration from an optional YAML file, then environment
// variables (SYSMOND_<SECTION>_<KEY>, "." replaced with "_"), then applies
// defaults for anything still unset, exactly the way the teacher's
// LoadConfig layers viper sources.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("sysmond")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("collection.high_interval_sec", 3)
	v.SetDefault("collection.medium_interval_sec", 15)
	v.SetDefault("collection.low_interval_sec", 60)
	v.SetDefault("collection.very_low_interval_sec", 300)
	v.SetDefault("collection.tick_budget_ratio", 0.8)
	v.SetDefault("collection.top_processes", 15)

	v.SetDefault("collectors.enabled", []string{"cpu", "ram", "gpu", "disk", "network", "process", "context"})
	v.SetDefault("collectors.external_tool_bridge", false)
	v.SetDefault("collectors.platform_query_bridge", false)

	v.SetDefault("store.path", "./data/system_stats.db")
	v.SetDefault("store.retention_days", 90)
	v.SetDefault("store.size_cap_mb", 2048)

	v.SetDefault("ring.capacity", 600)
	v.SetDefault("ring.sub_capacity", 64)

	v.SetDefault("http.bind", "127.0.0.1:8001")
	v.SetDefault("http.request_timeout", "5s")

	v.SetDefault("patterns.window_samples", 720)
	v.SetDefault("patterns.spike_k", 3.0)
	v.SetDefault("patterns.sustain_window", 10)
	v.SetDefault("patterns.anomaly_retention_days", 365)
	v.SetDefault("patterns.thresholds.cpu_percent.warn", 85.0)
	v.SetDefault("patterns.thresholds.cpu_percent.critical", 97.0)
	v.SetDefault("patterns.thresholds.ram_percent.warn", 85.0)
	v.SetDefault("patterns.thresholds.ram_percent.critical", 97.0)
	v.SetDefault("patterns.thresholds.disk_usage_percent.warn", 90.0)
	v.SetDefault("patterns.thresholds.disk_usage_percent.critical", 98.0)

	v.SetDefault("training.minimum_required", 1000)
	v.SetDefault("training.minimum_hours", 12.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.rotate_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", true)

	v.SetDefault("privacy.process_name_only", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("resources.max_resident_mb", 500)
	v.SetDefault("resources.max_cpu_percent", 2.0)
	v.SetDefault("resources.overrun_window", "30s")
	v.SetDefault("resources.shutdown_grace", "10s")
	v.SetDefault("resources.drain_budget", "5s")
}

// Validate checks invariants that are cheap to catch at startup rather than
// at first use deep inside a collector or the store.
func (c *Config) Validate() error {
	if c.Collection.HighIntervalSec <= 0 || c.Collection.MediumIntervalSec <= 0 ||
		c.Collection.LowIntervalSec <= 0 || c.Collection.VeryLowIntervalSec <= 0 {
		return fmt.Errorf("collection intervals must be positive")
	}
	if c.Collection.TickBudgetRatio <= 0 || c.Collection.TickBudgetRatio > 1 {
		return fmt.Errorf("collection.tick_budget_ratio must be in (0, 1]")
	}
	if c.Collection.TopProcesses <= 0 {
		return fmt.Errorf("collection.top_processes must be positive")
	}
	if len(c.Collectors.Enabled) == 0 {
		return fmt.Errorf("collectors.enabled must not be empty")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	if strings.Contains(c.Store.Path, "..") {
		return fmt.Errorf("store.path must not contain '..'")
	}
	if c.Store.RetentionDays <= 0 {
		return fmt.Errorf("store.retention_days must be positive")
	}
	if c.Ring.Capacity <= 0 {
		return fmt.Errorf("ring.capacity must be positive")
	}
	if c.Ring.SubCapacity <= 0 {
		return fmt.Errorf("ring.sub_capacity must be positive")
	}
	if c.HTTP.Bind == "" {
		return fmt.Errorf("http.bind cannot be empty")
	}
	if !strings.HasPrefix(c.HTTP.Bind, "127.0.0.1") && !strings.HasPrefix(c.HTTP.Bind, "localhost") {
		return fmt.Errorf("http.bind must be loopback-only, got %q", c.HTTP.Bind)
	}
	if c.Patterns.WindowSamples <= 0 {
		return fmt.Errorf("patterns.window_samples must be positive")
	}
	if c.Patterns.SpikeK <= 0 {
		return fmt.Errorf("patterns.spike_k must be positive")
	}
	if c.Patterns.SustainWindow <= 0 {
		return fmt.Errorf("patterns.sustain_window must be positive")
	}
	if c.Training.MinimumRequired <= 0 || c.Training.MinimumHours <= 0 {
		return fmt.Errorf("training readiness thresholds must be positive")
	}
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level cannot be empty")
	}
	return nil
}

// TickBudget returns the wall-clock budget a collector gets within a tick
// at the given nominal cadence (spec §4.1/§5: tick_budget = ratio * interval).
func (c *Config) TickBudget(intervalSec int) time.Duration {
	return time.Duration(float64(intervalSec) * c.Collection.TickBudgetRatio * float64(time.Second))
}
