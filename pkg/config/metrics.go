package config

import (
	"github.com/marmos91/moji/pkg/metrics"
	"github.com/marmos91/moji/pkg/moji"
	"github.com/marmos91/moji/pkg/transport"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Client is the collector for file operations (nil if disabled)
	Client moji.Metrics

	// Transport is the collector for storage node transfers (nil if disabled)
	Transport transport.Metrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled every field is nil and components keep their
// no-op implementations.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{}
	}

	// Initialize global Prometheus registry
	metrics.InitRegistry()

	return &MetricsResult{
		Server:    metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port}),
		Client:    metrics.NewClientMetrics(),
		Transport: metrics.NewTransportMetrics(),
	}
}
