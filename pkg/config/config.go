package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/marmos91/moji/pkg/tracker"
	memtransport "github.com/marmos91/moji/pkg/transport/memory"
	"github.com/marmos91/moji/pkg/transport/minio"
	"github.com/marmos91/moji/pkg/transport/s3"
)

// Config represents the complete moji configuration.
//
// This structure captures all configurable aspects of the moji client including:
//   - Logging configuration
//   - Default domain and storage class for new file handles
//   - Tracker selection and configuration (tracker-specific)
//   - Transports used to reach storage nodes (one section per URL scheme)
//   - Metrics and the development storage node
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (MOJI_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Tracker Configuration Pattern:
// Each tracker implementation defines its own configuration type and factory function.
// The Config struct contains type-specific sections (e.g., tracker.memory, tracker.badger)
// and only the section matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Client contains defaults for file handles created by the CLI
	Client ClientConfig `mapstructure:"client" yaml:"client"`

	// Tracker specifies the tracker type and type-specific configuration
	Tracker TrackerConfig `mapstructure:"tracker" yaml:"tracker"`

	// Transport configures how storage nodes are reached
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`

	// Metrics controls Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Node configures the development storage node (moji node)
	Node NodeConfig `mapstructure:"node" yaml:"node"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ClientConfig contains defaults for file handles.
type ClientConfig struct {
	// Domain is the namespace keys live in
	Domain string `mapstructure:"domain" yaml:"domain" validate:"required"`

	// StorageClass is the replication policy of new files.
	// Empty means the tracker default, and class changes are refused.
	StorageClass string `mapstructure:"storage_class" yaml:"storage_class"`
}

// TrackerConfig specifies tracker configuration.
//
// The Type field determines which tracker implementation is used.
// Only the corresponding type-specific configuration section is used.
type TrackerConfig struct {
	// Type specifies which tracker implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// Nodes are the storage devices the tracker places replicas on
	Nodes []tracker.Node `mapstructure:"nodes" yaml:"nodes" validate:"required,min=1,dive"`

	// RateLimit throttles requests to the tracker
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// RateLimitConfig throttles tracker requests with a token bucket.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained request rate (0 = unlimited)
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the bucket size (0 = RequestsPerSecond)
	Burst uint `mapstructure:"burst" yaml:"burst"`
}

// TransportConfig enables one transport per section present.
//
// A nil section disables the transport. Storage node URLs must use a scheme
// served by an enabled transport.
type TransportConfig struct {
	// Memory enables the in-process transport (memory://). Content does not
	// outlive the process; useful with the memory tracker only.
	Memory map[string]any `mapstructure:"memory" yaml:"memory,omitempty"`

	// HTTP enables http:// and https:// storage nodes
	HTTP map[string]any `mapstructure:"http" yaml:"http,omitempty"`

	// S3 enables s3://bucket/key destinations
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`

	// Minio enables minio://bucket/key destinations
	Minio map[string]any `mapstructure:"minio" yaml:"minio,omitempty"`
}

// Schemes returns the URL schemes served by the enabled transports, sorted.
func (c *TransportConfig) Schemes() []string {
	var schemes []string
	if c.HTTP != nil {
		schemes = append(schemes, "http", "https")
	}
	if c.Memory != nil {
		schemes = append(schemes, memtransport.Scheme)
	}
	if c.Minio != nil {
		schemes = append(schemes, minio.Scheme)
	}
	if c.S3 != nil {
		schemes = append(schemes, s3.Scheme)
	}
	return schemes
}

// MetricsConfig controls metrics collection.
type MetricsConfig struct {
	// Enabled starts the Prometheus registry and HTTP server
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the metrics HTTP server port
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// NodeConfig configures the development storage node.
type NodeConfig struct {
	// Listen is the address the node listens on
	Listen string `mapstructure:"listen" yaml:"listen" validate:"required"`

	// Root is the directory content is stored in
	Root string `mapstructure:"root" yaml:"root" validate:"required"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (MOJI_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	// Unmarshal into config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// envKeys are bound explicitly so that MOJI_* variables apply even when the
// key is absent from the config file.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"client.domain",
	"client.storage_class",
	"tracker.type",
	"tracker.rate_limit.requests_per_second",
	"tracker.rate_limit.burst",
	"metrics.enabled",
	"metrics.port",
	"node.listen",
	"node.root",
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use MOJI_ prefix and underscores
	// Example: MOJI_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("MOJI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Configure config file search
	if configPath != "" {
		// Use explicitly specified config file
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/moji/config.{yaml,toml}
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml") // Primary format
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// Config file not found is acceptable - use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		// An explicit path that does not exist is reported as a PathError
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "moji")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "moji")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
