package moji

import "time"

// Metrics provides observability for client operations.
//
// This is optional: a Client created without WithMetrics uses a no-op
// implementation. pkg/metrics provides a Prometheus implementation.
type Metrics interface {
	// ObserveCommand records one executed command ("exists", "put", ...)
	// with its duration and outcome.
	ObserveCommand(command string, duration time.Duration, err error)

	// RecordBytes records bytes moved by a finished transfer.
	// direction is "read" or "write".
	RecordBytes(direction string, bytes int64)

	// RecordDestinationAttempt records one write attempt against a destination.
	// outcome is "success" or "failure".
	RecordDestinationAttempt(outcome string)

	// ObserveLockWait records how long a file operation waited for its lock.
	// mode is "read" or "write".
	ObserveLockWait(mode string, duration time.Duration)
}

// noopMetrics is a default no-op metrics implementation
type noopMetrics struct{}

func (noopMetrics) ObserveCommand(command string, duration time.Duration, err error) {}
func (noopMetrics) RecordBytes(direction string, bytes int64)                        {}
func (noopMetrics) RecordDestinationAttempt(outcome string)                          {}
func (noopMetrics) ObserveLockWait(mode string, duration time.Duration)              {}
