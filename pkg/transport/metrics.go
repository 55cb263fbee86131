package transport

import (
	"context"
	"io"
	"time"

	"github.com/marmos91/moji/pkg/tracker"
)

// Metrics provides observability for transfers.
//
// This is optional: Instrument with a nil Metrics returns the factory unchanged.
// pkg/metrics provides a Prometheus implementation.
type Metrics interface {
	// ObserveOperation records one transport call ("open_read", "open_write",
	// "content_length", "upload_close") with its duration and outcome.
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records bytes moved by a finished download ("read") or upload ("write").
	RecordBytes(operation string, bytes int64)
}

// Instrument wraps f so that every call is reported to m.
func Instrument(f ConnectionFactory, m Metrics) ConnectionFactory {
	if m == nil {
		return f
	}
	return &instrumented{next: f, metrics: m}
}

type instrumented struct {
	next    ConnectionFactory
	metrics Metrics
}

func (i *instrumented) OpenRead(ctx context.Context, dest tracker.Destination) (io.ReadCloser, error) {
	start := time.Now()
	r, err := i.next.OpenRead(ctx, dest)
	i.metrics.ObserveOperation("open_read", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return &metricsReadCloser{ReadCloser: r, metrics: i.metrics}, nil
}

func (i *instrumented) OpenWrite(ctx context.Context, dest tracker.Destination, expectedLength int64) (Upload, error) {
	start := time.Now()
	u, err := i.next.OpenWrite(ctx, dest, expectedLength)
	i.metrics.ObserveOperation("open_write", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return &metricsUpload{Upload: u, metrics: i.metrics}, nil
}

func (i *instrumented) ContentLength(ctx context.Context, dest tracker.Destination) (int64, error) {
	start := time.Now()
	n, err := i.next.ContentLength(ctx, dest)
	i.metrics.ObserveOperation("content_length", time.Since(start), err)
	return n, err
}

// metricsReadCloser wraps an io.ReadCloser to track bytes read
type metricsReadCloser struct {
	io.ReadCloser
	metrics   Metrics
	bytesRead int64
	closed    bool
}

func (m *metricsReadCloser) Read(p []byte) (n int, err error) {
	n, err = m.ReadCloser.Read(p)
	if n > 0 {
		m.bytesRead += int64(n)
	}
	return n, err
}

func (m *metricsReadCloser) Close() error {
	err := m.ReadCloser.Close()
	// Record bytes read regardless of close error
	if !m.closed && m.bytesRead > 0 {
		m.metrics.RecordBytes("read", m.bytesRead)
	}
	m.closed = true
	return err
}

// metricsUpload wraps an Upload to time the commit and count bytes written
type metricsUpload struct {
	Upload
	metrics Metrics
	written int64
	done    bool
}

func (m *metricsUpload) Write(p []byte) (int, error) {
	n, err := m.Upload.Write(p)
	m.written += int64(n)
	return n, err
}

func (m *metricsUpload) Close() error {
	if m.done {
		return m.Upload.Close()
	}
	m.done = true

	start := time.Now()
	err := m.Upload.Close()
	m.metrics.ObserveOperation("upload_close", time.Since(start), err)
	if err == nil {
		m.metrics.RecordBytes("write", m.written)
	}
	return err
}

func (m *metricsUpload) Abort() error {
	m.done = true
	return m.Upload.Abort()
}
