// Package metrics provides Prometheus metrics collection for the moji client
// and its transports.
//
// Collection is opt-in: until InitRegistry is called the constructors return
// nil and moji and transport fall back to their no-op implementations.
//
// Usage:
//
//	metrics.InitRegistry()
//
//	client := moji.New(tr, transport.Instrument(router, metrics.NewTransportMetrics()),
//		moji.WithMetrics(metrics.NewClientMetrics()))
package metrics

import (
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "moji"

var (
	// registry is written once by InitRegistry and read afterwards
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry with the Go runtime, process and
// build info collectors. Calls after the first are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
			newBuildInfo(),
		)
		registry = reg
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// newBuildInfo exports moji_build_info with the main module version.
func newBuildInfo() prometheus.Collector {
	version := "unknown"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		version = info.Main.Version
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Build information of the running moji binary",
		ConstLabels: prometheus.Labels{"version": version},
	})
	g.Set(1)
	return g
}
