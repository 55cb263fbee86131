package moji

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/marmos91/moji/internal/logger"
	"github.com/marmos91/moji/pkg/tracker"
	"github.com/marmos91/moji/pkg/transport"
)

// inputStream is a download holding the file's read lock.
//
// Close releases the transport first and the lock second. Close is
// idempotent; only the first call does any work.
type inputStream struct {
	body    io.ReadCloser
	guard   *lockGuard
	metrics Metrics

	bytesRead atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newInputStream(body io.ReadCloser, guard *lockGuard, metrics Metrics) *inputStream {
	return &inputStream{body: body, guard: guard, metrics: metrics}
}

func (s *inputStream) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrStreamClosed
	}
	n, err := s.body.Read(p)
	s.bytesRead.Add(int64(n))
	return n, err
}

func (s *inputStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.body.Close()
		s.metrics.RecordBytes("read", s.bytesRead.Load())
		if !s.guard.release() {
			logger.Warn("reader: lock already released")
		}
	})
	return s.closeErr
}

// outputStream is an upload to one destination holding the file's write lock.
//
// Close commits the upload, finalizes the destination with the tracker and
// releases the lock, in that order. The lock is released even when commit or
// finalize fail. A failed Write poisons the stream: Close then aborts the
// upload instead of committing partial content.
type outputStream struct {
	ctx            context.Context
	tracker        tracker.Tracker
	upload         transport.Upload
	dest           tracker.Destination
	domain, key    string
	expectedLength int64
	guard          *lockGuard
	metrics        Metrics

	written   int64
	writeErr  error
	closed    atomic.Bool
	closeOnce sync.Once
}

func (s *outputStream) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrStreamClosed
	}
	if s.writeErr != nil {
		return 0, s.writeErr
	}

	n, err := s.upload.Write(p)
	s.written += int64(n)
	if err != nil {
		s.writeErr = err
	}
	return n, err
}

// Close completes the upload. A second Close returns nil.
func (s *outputStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		defer func() {
			if !s.guard.release() {
				logger.Warn("writer: lock already released")
			}
		}()
		err = s.commit()
	})
	return err
}

func (s *outputStream) commit() error {
	if s.writeErr != nil {
		_ = s.upload.Abort()
		return s.closeError(fmt.Errorf("upload aborted after write failure: %w", s.writeErr))
	}

	if s.expectedLength >= 0 && s.written != s.expectedLength {
		_ = s.upload.Abort()
		return s.closeError(fmt.Errorf("%w: expected %d, written %d", ErrLengthMismatch, s.expectedLength, s.written))
	}

	if err := s.upload.Close(); err != nil {
		return s.closeError(err)
	}

	if err := s.tracker.Finalize(s.ctx, s.domain, s.key, s.dest, s.written); err != nil {
		return s.closeError(err)
	}

	s.metrics.RecordBytes("write", s.written)
	logger.Debug("writer: domain=%s,key=%s: stored %d bytes on %s", s.domain, s.key, s.written, s.dest)
	return nil
}

func (s *outputStream) closeError(err error) error {
	return &OpError{Op: "writer.close", Domain: s.domain, Key: s.key, Err: err}
}
