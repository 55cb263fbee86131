package config

import (
	"testing"

	"github.com/marmos91/moji/pkg/tracker"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stderr" {
		t.Errorf("Expected default log output 'stderr', got %q", cfg.Logging.Output)
	}
	if cfg.Client.Domain != "default" {
		t.Errorf("Expected default domain 'default', got %q", cfg.Client.Domain)
	}
	if cfg.Client.StorageClass != "" {
		t.Errorf("Expected empty default storage class, got %q", cfg.Client.StorageClass)
	}
	if cfg.Tracker.Type != "badger" {
		t.Errorf("Expected default tracker type 'badger', got %q", cfg.Tracker.Type)
	}
	if cfg.Tracker.Badger["db_path"] != "/tmp/moji-tracker" {
		t.Errorf("Expected default badger db_path, got %v", cfg.Tracker.Badger["db_path"])
	}
	if len(cfg.Tracker.Nodes) != 1 || cfg.Tracker.Nodes[0].URL != "http://localhost:7500" {
		t.Errorf("Expected one local default node, got %+v", cfg.Tracker.Nodes)
	}
	if cfg.Transport.HTTP == nil || cfg.Transport.HTTP["timeout"] != "30s" {
		t.Errorf("Expected HTTP transport with default timeout, got %v", cfg.Transport.HTTP)
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
	if cfg.Node.Listen != ":7500" || cfg.Node.Root != "/tmp/moji-node" {
		t.Errorf("Unexpected node defaults: %+v", cfg.Node)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "warn", Format: "json", Output: "stderr"},
		Client:  ClientConfig{Domain: "images", StorageClass: "cold"},
		Tracker: TrackerConfig{
			Type:   "memory",
			Nodes:  []tracker.Node{{DevID: 4, URL: "memory://n4"}},
			Badger: map[string]any{"db_path": "/data/tracker"},
		},
		Transport: TransportConfig{Memory: map[string]any{}},
		Metrics:   MetricsConfig{Port: 9999},
		Node:      NodeConfig{Listen: ":8000", Root: "/srv"},
	}

	ApplyDefaults(cfg)

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected normalized level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Output != "stderr" {
		t.Errorf("Logging values overwritten: %+v", cfg.Logging)
	}
	if cfg.Client.Domain != "images" || cfg.Client.StorageClass != "cold" {
		t.Errorf("Client values overwritten: %+v", cfg.Client)
	}
	if len(cfg.Tracker.Nodes) != 1 || cfg.Tracker.Nodes[0].DevID != 4 {
		t.Errorf("Nodes overwritten: %+v", cfg.Tracker.Nodes)
	}
	if cfg.Tracker.Badger["db_path"] != "/data/tracker" {
		t.Errorf("db_path overwritten: %v", cfg.Tracker.Badger["db_path"])
	}
	if cfg.Transport.HTTP != nil {
		t.Error("HTTP transport must stay disabled when another transport is configured")
	}
	if cfg.Metrics.Port != 9999 {
		t.Errorf("Metrics port overwritten: %d", cfg.Metrics.Port)
	}
	if cfg.Node.Listen != ":8000" || cfg.Node.Root != "/srv" {
		t.Errorf("Node values overwritten: %+v", cfg.Node)
	}
}

func TestApplyDefaults_HTTPTimeoutPreserved(t *testing.T) {
	cfg := &Config{Transport: TransportConfig{HTTP: map[string]any{"timeout": "5s"}}}

	ApplyDefaults(cfg)

	if cfg.Transport.HTTP["timeout"] != "5s" {
		t.Errorf("Expected explicit timeout preserved, got %v", cfg.Transport.HTTP["timeout"])
	}
}
