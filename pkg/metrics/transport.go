package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/moji/pkg/transport"
)

// transportMetrics is the Prometheus implementation of transport.Metrics.
type transportMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
}

// NewTransportMetrics creates a new Prometheus-backed transport.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), in which
// case transport.Instrument returns the factory unwrapped.
func NewTransportMetrics() transport.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newTransportMetrics(GetRegistry())
}

func newTransportMetrics(reg prometheus.Registerer) *transportMetrics {
	return &transportMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "moji_transport_operations_total",
				Help: "Total number of storage node operations by operation type and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "moji_transport_operation_duration_seconds",
				Help: "Duration of storage node operations in seconds",
				Buckets: []float64{
					0.01,  // 10ms
					0.025, // 25ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.25,  // 250ms
					0.5,   // 500ms
					1.0,   // 1s
					2.5,   // 2.5s
					5.0,   // 5s
					10.0,  // 10s
					30.0,  // 30s
				},
			},
			[]string{"operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "moji_transport_bytes_transferred_total",
				Help: "Total bytes transferred to and from storage nodes",
			},
			[]string{"operation"}, // read or write
		),
		errorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "moji_transport_errors_total",
				Help: "Total number of storage node operation errors by operation type",
			},
			[]string{"operation"},
		),
	}
}

func (m *transportMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		m.errorsTotal.WithLabelValues(operation).Inc()
	}

	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *transportMetrics) RecordBytes(operation string, bytes int64) {
	m.bytesTransferred.WithLabelValues(operation).Add(float64(bytes))
}
