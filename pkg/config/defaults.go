package config

import (
	"strings"

	"github.com/marmos91/moji/pkg/tracker"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Tracker and transport specific defaults are handled by their constructors
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyClientDefaults(&cfg.Client)
	applyTrackerDefaults(&cfg.Tracker)
	applyTransportDefaults(&cfg.Transport)
	applyMetricsDefaults(&cfg.Metrics)
	applyNodeDefaults(&cfg.Node)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// applyClientDefaults sets client defaults.
func applyClientDefaults(cfg *ClientConfig) {
	if cfg.Domain == "" {
		cfg.Domain = "default"
	}
	// StorageClass defaults to empty (tracker default)
}

// applyTrackerDefaults sets tracker defaults.
func applyTrackerDefaults(cfg *TrackerConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}

	// A single local development node
	if len(cfg.Nodes) == 0 {
		cfg.Nodes = []tracker.Node{{DevID: 1, URL: "http://localhost:7500"}}
	}

	// Initialize maps if nil
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	// Apply defaults for all tracker types (for config file generation)
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = "/tmp/moji-tracker"
	}

	// RateLimit defaults to zero (unlimited)
}

// applyTransportDefaults enables the HTTP transport when no transport is configured.
func applyTransportDefaults(cfg *TransportConfig) {
	if cfg.Memory == nil && cfg.HTTP == nil && cfg.S3 == nil && cfg.Minio == nil {
		cfg.HTTP = make(map[string]any)
	}

	if cfg.HTTP != nil {
		if _, ok := cfg.HTTP["timeout"]; !ok {
			cfg.HTTP["timeout"] = "30s"
		}
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyNodeDefaults sets storage node defaults.
func applyNodeDefaults(cfg *NodeConfig) {
	if cfg.Listen == "" {
		cfg.Listen = ":7500"
	}
	if cfg.Root == "" {
		cfg.Root = "/tmp/moji-node"
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
