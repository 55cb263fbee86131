// Package testing provides a contract test suite for transport.ConnectionFactory
// implementations.
//
// Usage:
//
//	func TestHTTPTransport(t *testing.T) {
//		suite := transporttesting.TransportTestSuite{
//			NewTransport: func(t *testing.T) transport.ConnectionFactory { ... },
//			Destination:  func(t *testing.T, name string) tracker.Destination { ... },
//		}
//		suite.Run(t)
//	}
package testing

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/moji/pkg/tracker"
	"github.com/marmos91/moji/pkg/transport"
)

// TransportTestSuite runs the shared ConnectionFactory behavior tests.
type TransportTestSuite struct {
	// NewTransport creates a fresh transport for one test.
	NewTransport func(t *testing.T) transport.ConnectionFactory

	// Destination returns a destination unique to name that the transport can serve.
	Destination func(t *testing.T, name string) tracker.Destination

	// Unreachable returns a destination on a node f cannot reach. When nil
	// the unreachable-node tests are skipped.
	Unreachable func(t *testing.T, f transport.ConnectionFactory) tracker.Destination

	// SkipLengthCheck disables the expected-length mismatch test for
	// transports that cannot detect it on their own.
	SkipLengthCheck bool
}

// Run executes all transport contract tests.
func (s *TransportTestSuite) Run(t *testing.T) {
	t.Run("WriteThenRead", s.testWriteThenRead)
	t.Run("WriteUnknownLength", s.testWriteUnknownLength)
	t.Run("WriteEmpty", s.testWriteEmpty)
	t.Run("Overwrite", s.testOverwrite)
	t.Run("ContentLength", s.testContentLength)
	t.Run("ReadMissing", s.testReadMissing)
	t.Run("ContentLengthMissing", s.testContentLengthMissing)
	t.Run("AbortDiscards", s.testAbortDiscards)
	t.Run("CloseIsIdempotent", s.testCloseIsIdempotent)
	t.Run("CancelledContext", s.testCancelledContext)
	if !s.SkipLengthCheck {
		t.Run("LengthMismatch", s.testLengthMismatch)
	}
	t.Run("OpenWriteUnreachable", s.testOpenWriteUnreachable)
	t.Run("OpenReadUnreachable", s.testOpenReadUnreachable)
}

// ============================================================================
// Helpers
// ============================================================================

func upload(t *testing.T, f transport.ConnectionFactory, dest tracker.Destination, data []byte, expectedLength int64) {
	t.Helper()
	up, err := f.OpenWrite(t.Context(), dest, expectedLength)
	require.NoError(t, err)
	_, err = up.Write(data)
	require.NoError(t, err)
	require.NoError(t, up.Close())
}

func download(t *testing.T, f transport.ConnectionFactory, dest tracker.Destination) []byte {
	t.Helper()
	r, err := f.OpenRead(t.Context(), dest)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

// ============================================================================
// Tests
// ============================================================================

func (s *TransportTestSuite) testWriteThenRead(t *testing.T) {
	f := s.NewTransport(t)
	dest := s.Destination(t, "write-then-read")
	data := []byte("hello moji")

	upload(t, f, dest, data, int64(len(data)))

	assert.Equal(t, data, download(t, f, dest))
}

func (s *TransportTestSuite) testWriteUnknownLength(t *testing.T) {
	f := s.NewTransport(t)
	dest := s.Destination(t, "unknown-length")
	data := bytes.Repeat([]byte("0123456789"), 10000)

	up, err := f.OpenWrite(t.Context(), dest, -1)
	require.NoError(t, err)
	for i := 0; i < len(data); i += 4096 {
		end := min(i+4096, len(data))
		_, err := up.Write(data[i:end])
		require.NoError(t, err)
	}
	require.NoError(t, up.Close())

	assert.Equal(t, data, download(t, f, dest))
}

func (s *TransportTestSuite) testWriteEmpty(t *testing.T) {
	f := s.NewTransport(t)
	dest := s.Destination(t, "empty")

	up, err := f.OpenWrite(t.Context(), dest, 0)
	require.NoError(t, err)
	require.NoError(t, up.Close())

	size, err := f.ContentLength(t.Context(), dest)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func (s *TransportTestSuite) testOverwrite(t *testing.T) {
	f := s.NewTransport(t)
	dest := s.Destination(t, "overwrite")

	upload(t, f, dest, []byte("first version"), -1)
	upload(t, f, dest, []byte("second"), -1)

	assert.Equal(t, []byte("second"), download(t, f, dest))
}

func (s *TransportTestSuite) testContentLength(t *testing.T) {
	f := s.NewTransport(t)
	dest := s.Destination(t, "content-length")
	data := bytes.Repeat([]byte("x"), 1234)

	upload(t, f, dest, data, int64(len(data)))

	size, err := f.ContentLength(t.Context(), dest)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), size)
}

func (s *TransportTestSuite) testReadMissing(t *testing.T) {
	f := s.NewTransport(t)
	dest := s.Destination(t, "missing")

	_, err := f.OpenRead(t.Context(), dest)
	assert.ErrorIs(t, err, transport.ErrNotFound)
}

func (s *TransportTestSuite) testContentLengthMissing(t *testing.T) {
	f := s.NewTransport(t)
	dest := s.Destination(t, "missing-length")

	_, err := f.ContentLength(t.Context(), dest)
	assert.ErrorIs(t, err, transport.ErrNotFound)
}

func (s *TransportTestSuite) testAbortDiscards(t *testing.T) {
	f := s.NewTransport(t)
	dest := s.Destination(t, "abort")

	up, err := f.OpenWrite(t.Context(), dest, -1)
	require.NoError(t, err)
	_, err = up.Write([]byte("never committed"))
	require.NoError(t, err)
	require.NoError(t, up.Abort())

	_, err = f.OpenRead(t.Context(), dest)
	assert.ErrorIs(t, err, transport.ErrNotFound)
}

func (s *TransportTestSuite) testCloseIsIdempotent(t *testing.T) {
	f := s.NewTransport(t)
	dest := s.Destination(t, "close-twice")

	up, err := f.OpenWrite(t.Context(), dest, 3)
	require.NoError(t, err)
	_, err = up.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, up.Close())
	assert.NoError(t, up.Close())
	assert.NoError(t, up.Abort())

	r, err := f.OpenRead(t.Context(), dest)
	require.NoError(t, err)
	require.NoError(t, r.Close())
}

func (s *TransportTestSuite) testCancelledContext(t *testing.T) {
	f := s.NewTransport(t)
	dest := s.Destination(t, "cancelled")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := f.OpenWrite(ctx, dest, -1)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = f.OpenRead(ctx, dest)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = f.ContentLength(ctx, dest)
	assert.ErrorIs(t, err, context.Canceled)
}

func (s *TransportTestSuite) testLengthMismatch(t *testing.T) {
	f := s.NewTransport(t)
	dest := s.Destination(t, "mismatch")

	up, err := f.OpenWrite(t.Context(), dest, 10)
	require.NoError(t, err)
	_, _ = up.Write([]byte("short"))
	assert.Error(t, up.Close())

	_, err = f.OpenRead(t.Context(), dest)
	assert.ErrorIs(t, err, transport.ErrNotFound)
}

// testOpenWriteUnreachable checks that OpenWrite itself reports an unreachable
// node, for known and unknown lengths.
func (s *TransportTestSuite) testOpenWriteUnreachable(t *testing.T) {
	if s.Unreachable == nil {
		t.Skip("transport has no unreachable destination")
	}
	f := s.NewTransport(t)
	dest := s.Unreachable(t, f)

	for _, length := range []int64{-1, 4} {
		up, err := f.OpenWrite(t.Context(), dest, length)
		assert.ErrorIs(t, err, transport.ErrUnavailable, "expected length %d", length)
		if up != nil {
			_ = up.Abort()
		}
	}
}

func (s *TransportTestSuite) testOpenReadUnreachable(t *testing.T) {
	if s.Unreachable == nil {
		t.Skip("transport has no unreachable destination")
	}
	f := s.NewTransport(t)
	dest := s.Unreachable(t, f)

	r, err := f.OpenRead(t.Context(), dest)
	assert.ErrorIs(t, err, transport.ErrUnavailable)
	if r != nil {
		_ = r.Close()
	}

	_, err = f.ContentLength(t.Context(), dest)
	assert.ErrorIs(t, err, transport.ErrUnavailable)
}
