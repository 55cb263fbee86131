package moji

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/moji/pkg/tracker"
	"github.com/marmos91/moji/pkg/tracker/memory"
	memtransport "github.com/marmos91/moji/pkg/transport/memory"
)

func TestPut_FirstDestination(t *testing.T) {
	fx := newFixture(t)

	require.NoError(t, fx.file("k1").Put(t.Context(), []byte("data")))

	attempts := fx.transport.WriteAttempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, "memory://node1/dev1/0000000001.fid", attempts[0])

	stored, ok := fx.transport.Load(attempts[0])
	require.True(t, ok)
	assert.Equal(t, []byte("data"), stored)
}

func TestPut_FallsBackToLastDestination(t *testing.T) {
	fx := newFixture(t)
	fx.transport.FailOpenWrite("memory://node1/", errors.New("node1 refused"))
	fx.transport.FailOpenWrite("memory://node2/", errors.New("node2 refused"))
	f := fx.file("k1")

	require.NoError(t, f.Put(t.Context(), []byte("payload")))

	assert.Equal(t, []string{
		"memory://node1/dev1/0000000001.fid",
		"memory://node2/dev2/0000000001.fid",
		"memory://node3/dev3/0000000001.fid",
	}, fx.transport.WriteAttempts())
	assert.LessOrEqual(t, fx.transport.MaxOpenUploads(), 1, "at most one upload open at any time")
	assert.Equal(t, 0, fx.transport.OpenUploads())

	paths, err := f.Paths(t.Context())
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "node3", paths[0].Host, "finalized on the destination actually written")

	length, err := f.Length(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(7), length)
}

func TestPut_WriteAndCommitFailuresFallBack(t *testing.T) {
	fx := newFixture(t)
	fx.transport.FailWrite("memory://node1/", errors.New("broken pipe"))
	fx.transport.FailCommit("memory://node2/", errors.New("checksum mismatch"))

	require.NoError(t, fx.file("k1").Put(t.Context(), []byte("payload")))

	assert.Len(t, fx.transport.WriteAttempts(), 3)
	assert.LessOrEqual(t, fx.transport.MaxOpenUploads(), 1)
	assert.Equal(t, 0, fx.transport.OpenUploads(), "failed uploads are closed")

	_, ok := fx.transport.Load("memory://node1/dev1/0000000001.fid")
	assert.False(t, ok)
	_, ok = fx.transport.Load("memory://node2/dev2/0000000001.fid")
	assert.False(t, ok)
}

func TestPut_AllDestinationsFailReturnsLastError(t *testing.T) {
	fx := newFixture(t)
	err1 := errors.New("node1 refused")
	err2 := errors.New("node2 refused")
	err3 := errors.New("node3 refused")
	fx.transport.FailOpenWrite("memory://node1/", err1)
	fx.transport.FailOpenWrite("memory://node2/", err2)
	fx.transport.FailOpenWrite("memory://node3/", err3)
	f := fx.file("k1")

	err := f.Put(t.Context(), []byte("payload"))
	require.Error(t, err)
	assert.ErrorIs(t, err, err3, "last error wins")
	assert.NotErrorIs(t, err, err1)
	assert.NotErrorIs(t, err, err2)

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "put", opErr.Op)

	done := async(func() { _, _ = f.Exists(t.Context()) })
	requireCompletes(t, done, "lock released after failed put")
}

func TestPut_NoDestinations(t *testing.T) {
	mt, err := memory.NewMemoryTracker(memory.MemoryTrackerConfig{})
	require.NoError(t, err)
	tr := memtransport.NewMemoryTransport()
	c := New(mt, tr)
	f := c.File(testDomain, "k1", "")

	err = f.Put(t.Context(), []byte("data"))
	assert.ErrorIs(t, err, tracker.ErrNoDestinations)
	assert.Empty(t, tr.WriteAttempts())

	_, err = f.Writer(t.Context())
	assert.ErrorIs(t, err, tracker.ErrNoDestinations)
}

func TestPut_EmptyListFromTracker(t *testing.T) {
	tr := memtransport.NewMemoryTransport()
	c := New(emptyDestinationsTracker{}, tr)

	err := c.File(testDomain, "k1", "").Put(t.Context(), []byte("data"))
	assert.ErrorIs(t, err, tracker.ErrNoDestinations)
}

func TestPut_CancelledContextStopsRetrying(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(t.Context())
	fx.transport.FailOpenWrite("memory://node1/", errors.New("node1 refused"))

	cancelling := &cancelOnWriteDestinations{countingTracker: fx.tracker, cancel: cancel}
	c := New(cancelling, fx.transport)

	err := c.File(testDomain, "k1", testClass).Put(ctx, []byte("data"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fx.transport.WriteAttempts(), "no destination is attempted once cancelled")
}

func TestPut_Overwrite(t *testing.T) {
	fx := newFixture(t)
	f := fx.file("k1")

	require.NoError(t, f.Put(t.Context(), []byte("first")))
	require.NoError(t, f.Put(t.Context(), []byte("second version")))

	length, err := f.Length(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(len("second version")), length)
}

func TestPut_RecordsMetrics(t *testing.T) {
	m := newRecordingMetrics()
	fx := newFixture(t, WithMetrics(m))
	fx.transport.FailOpenWrite("memory://node1/", errors.New("refused"))

	require.NoError(t, fx.file("k1").Put(t.Context(), []byte("data")))

	assert.Equal(t, 1, m.attempts["failure"])
	assert.Equal(t, 1, m.attempts["success"])
	assert.Equal(t, int64(4), m.bytes["write"])
	assert.Equal(t, 1, m.commands["put"])
	assert.Equal(t, 1, m.waits["write"])
}

// emptyDestinationsTracker returns an empty destination list without error.
type emptyDestinationsTracker struct {
	tracker.Tracker
}

func (emptyDestinationsTracker) WriteDestinations(ctx context.Context, domain, key, storageClass string, expectedLength int64) ([]tracker.Destination, error) {
	return nil, nil
}

// cancelOnWriteDestinations cancels the caller's context right after the
// destinations were resolved.
type cancelOnWriteDestinations struct {
	*countingTracker
	cancel context.CancelFunc
}

func (t *cancelOnWriteDestinations) WriteDestinations(ctx context.Context, domain, key, storageClass string, expectedLength int64) ([]tracker.Destination, error) {
	dests, err := t.countingTracker.WriteDestinations(ctx, domain, key, storageClass, expectedLength)
	t.cancel()
	return dests, err
}
