package moji

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/moji/internal/ratelimiter"
	"github.com/marmos91/moji/pkg/tracker"
	memtransport "github.com/marmos91/moji/pkg/transport/memory"
)

func TestClient_List(t *testing.T) {
	fx := newFixture(t)
	for _, key := range []string{"photos/b", "photos/a", "videos/a", "photos/c"} {
		fx.mustPut(t, key, []byte(key))
	}

	t.Run("Prefix", func(t *testing.T) {
		keys, err := fx.client.List(t.Context(), testDomain, "photos/", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"photos/a", "photos/b", "photos/c"}, keys)
	})

	t.Run("Limit", func(t *testing.T) {
		keys, err := fx.client.List(t.Context(), testDomain, "", 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"photos/a", "photos/b"}, keys)
	})

	t.Run("OtherDomain", func(t *testing.T) {
		keys, err := fx.client.List(t.Context(), "empty", "", 0)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func TestClient_ListUnsupported(t *testing.T) {
	c := New(emptyDestinationsTracker{}, memtransport.NewMemoryTransport())

	_, err := c.List(t.Context(), testDomain, "", 0)
	assert.ErrorIs(t, err, ErrListUnsupported)
}

func TestClient_ListTrackerClosed(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.client.Close())

	_, err := fx.client.List(t.Context(), testDomain, "p", 0)
	require.ErrorIs(t, err, tracker.ErrClosed)

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "list", opErr.Op)
	assert.Equal(t, "p", opErr.Key)
}

func TestClient_FileMakesNoTrackerCalls(t *testing.T) {
	fx := newFixture(t)

	f := fx.client.File(testDomain, "missing", "")
	assert.Equal(t, "missing", f.Key())
	assert.Equal(t, "", f.StorageClass())
	assert.Equal(t, int64(0), fx.tracker.calls.Load())
}

func TestClient_HandlesAreIndependent(t *testing.T) {
	fx := newFixture(t)
	fx.mustPut(t, "k1", []byte("data"))
	a := fx.file("k1")
	b := fx.file("k1")

	require.NoError(t, a.Rename(t.Context(), "k2"))
	assert.Equal(t, "k2", a.Key())
	assert.Equal(t, "k1", b.Key(), "other handles keep their own identity")
}

// countingLimiter counts Wait calls and fails once exhausted.
type countingLimiter struct {
	waits atomic.Int64
	max   int64
}

var errLimited = errors.New("rate limited")

func (l *countingLimiter) Wait(ctx context.Context) error {
	if l.waits.Add(1) > l.max {
		return errLimited
	}
	return nil
}

func TestClient_RateLimiter(t *testing.T) {
	limiter := &countingLimiter{max: 2}
	fx := newFixture(t, WithRateLimiter(limiter))
	f := fx.file("k1")

	require.NoError(t, f.Put(t.Context(), []byte("data")))
	_, err := f.Exists(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(2), limiter.waits.Load())

	calls := fx.tracker.calls.Load()
	_, err = f.Exists(t.Context())
	require.ErrorIs(t, err, errLimited)
	assert.Equal(t, calls, fx.tracker.calls.Load(), "tracker not contacted when throttled")

	done := async(func() { _ = f.Delete(context.Background()) })
	requireCompletes(t, done, "lock released after a throttled command")
}

func TestClient_TokenBucketLimiter(t *testing.T) {
	fx := newFixture(t, WithRateLimiter(ratelimiter.New(1000, 10)))
	f := fx.file("k1")

	require.NoError(t, f.Put(t.Context(), []byte("data")))
	exists, err := f.Exists(t.Context())
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestClient_LimiterHonoursCancellation(t *testing.T) {
	// A single token: the second command has to wait for a refill.
	fx := newFixture(t, WithRateLimiter(ratelimiter.New(1, 1)))
	f := fx.file("k1")

	_, err := f.Exists(t.Context())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = f.Exists(ctx)
	assert.Error(t, err)
}

func TestClient_WithNilMetrics(t *testing.T) {
	fx := newFixture(t, WithMetrics(nil))
	assert.IsType(t, noopMetrics{}, fx.client.metrics)

	require.NoError(t, fx.file("k1").Put(t.Context(), []byte("data")))
}

func TestClient_CommandMetrics(t *testing.T) {
	m := newRecordingMetrics()
	fx := newFixture(t, WithMetrics(m))
	f := fx.file("k1")

	_, err := f.Length(t.Context())
	require.Error(t, err)
	require.NoError(t, f.Put(t.Context(), []byte("abc")))

	r, err := f.Reader(t.Context())
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, _ := r.Read(buf)
	assert.Equal(t, 3, n)
	require.NoError(t, r.Close())

	assert.Equal(t, 1, m.commands["length"])
	assert.Equal(t, 1, m.failed["length"])
	assert.Equal(t, 1, m.commands["put"])
	assert.Equal(t, 1, m.commands["reader"])
	assert.Equal(t, int64(3), m.bytes["read"])
}
