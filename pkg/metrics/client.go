package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/moji/pkg/moji"
)

// clientMetrics is the Prometheus implementation of moji.Metrics.
type clientMetrics struct {
	commandsTotal       *prometheus.CounterVec
	commandDuration     *prometheus.HistogramVec
	bytesTransferred    *prometheus.CounterVec
	destinationAttempts *prometheus.CounterVec
	lockWait            *prometheus.HistogramVec
}

// NewClientMetrics creates a new Prometheus-backed moji.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// makes moji.WithMetrics keep the client's no-op implementation.
func NewClientMetrics() moji.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newClientMetrics(GetRegistry())
}

func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	return &clientMetrics{
		commandsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "moji_commands_total",
				Help: "Total number of tracker commands by command and status",
			},
			[]string{"command", "status"},
		),
		commandDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "moji_command_duration_seconds",
				Help: "Duration of tracker commands in seconds, transfers included",
				Buckets: []float64{
					0.001, // 1ms
					0.005, // 5ms
					0.01,  // 10ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.5,   // 500ms
					1.0,   // 1s
					5.0,   // 5s
					30.0,  // 30s
				},
			},
			[]string{"command"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "moji_bytes_transferred_total",
				Help: "Total bytes moved by completed file transfers",
			},
			[]string{"direction"}, // read or write
		),
		destinationAttempts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "moji_put_destination_attempts_total",
				Help: "Total number of put attempts against write destinations by outcome",
			},
			[]string{"outcome"},
		),
		lockWait: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "moji_lock_wait_seconds",
				Help: "Time file operations spent waiting for the file lock",
				Buckets: []float64{
					0.0001, // 100us
					0.001,  // 1ms
					0.01,   // 10ms
					0.1,    // 100ms
					1.0,    // 1s
					10.0,   // 10s
				},
			},
			[]string{"mode"},
		),
	}
}

func (m *clientMetrics) ObserveCommand(command string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	m.commandsTotal.WithLabelValues(command, status).Inc()
	m.commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

func (m *clientMetrics) RecordBytes(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

func (m *clientMetrics) RecordDestinationAttempt(outcome string) {
	m.destinationAttempts.WithLabelValues(outcome).Inc()
}

func (m *clientMetrics) ObserveLockWait(mode string, duration time.Duration) {
	m.lockWait.WithLabelValues(mode).Observe(duration.Seconds())
}
