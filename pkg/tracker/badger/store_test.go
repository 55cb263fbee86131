package badger

import (
	"context"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/moji/pkg/tracker"
	trackertesting "github.com/marmos91/moji/pkg/tracker/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerTracker(t *testing.T) {
	suite := &trackertesting.TrackerTestSuite{
		NewTracker: func(t *testing.T, nodes []tracker.Node) tracker.Tracker {
			tr, err := NewBadgerTracker(context.Background(), BadgerTrackerConfig{
				DBPath: t.TempDir(),
				Nodes:  nodes,
			})
			require.NoError(t, err)
			return tr
		},
	}
	suite.Run(t)
}

func TestBadgerTracker_InMemory(t *testing.T) {
	tr, err := NewBadgerTracker(context.Background(), BadgerTrackerConfig{
		InMemory: true,
		Nodes:    []tracker.Node{{DevID: 1, URL: "memory://a"}},
	})
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()

	dests, err := tr.WriteDestinations(context.Background(), "d", "k", "", 3)
	require.NoError(t, err)
	require.NoError(t, tr.Finalize(context.Background(), "d", "k", dests[0], 3))

	exists, err := tr.Exists(context.Background(), "d", "k")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestBadgerTracker_RequiresPath(t *testing.T) {
	_, err := NewBadgerTracker(context.Background(), BadgerTrackerConfig{})
	assert.Error(t, err)
}

func TestBadgerTracker_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	nodes := []tracker.Node{{DevID: 1, URL: "memory://a"}}
	ctx := context.Background()

	tr, err := NewBadgerTracker(ctx, BadgerTrackerConfig{DBPath: dir, Nodes: nodes})
	require.NoError(t, err)

	dests, err := tr.WriteDestinations(ctx, "d", "k", "cold", 9)
	require.NoError(t, err)
	require.NoError(t, tr.Finalize(ctx, "d", "k", dests[0], 9))
	require.NoError(t, tr.Close())

	// Close is idempotent
	require.NoError(t, tr.Close())

	reopened, err := NewBadgerTracker(ctx, BadgerTrackerConfig{DBPath: dir, Nodes: nodes})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	attrs, err := reopened.Attributes(ctx, "d", "k")
	require.NoError(t, err)
	assert.Equal(t, "cold", attrs.StorageClass)
	assert.Equal(t, int64(9), attrs.Length)

	// fids keep increasing after reopen
	next, err := reopened.WriteDestinations(ctx, "d", "k2", "", 1)
	require.NoError(t, err)
	assert.Greater(t, next[0].FID, dests[0].FID)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, []byte("k:d\x00key"), fileKey("d", "key"))
	assert.Equal(t, []byte("k:d\x00"), domainPrefix("d"))
	assert.Len(t, pendingKey(7), len(prefixPending)+8)
	assert.Equal(t, int64(7), fidFromPendingKey(pendingKey(7)))
}

// pendingOpens lists the fids of every pending open with its expiry.
func pendingOpens(t *testing.T, tr *BadgerTracker) map[int64]uint64 {
	t.Helper()
	opens := make(map[int64]uint64)
	err := tr.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefixPending)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			opens[fidFromPendingKey(it.Item().Key())] = it.Item().ExpiresAt()
		}
		return nil
	})
	require.NoError(t, err)
	return opens
}

func TestBadgerTracker_PendingOpens(t *testing.T) {
	ctx := context.Background()
	tr, err := NewBadgerTracker(ctx, BadgerTrackerConfig{
		InMemory:   true,
		Nodes:      []tracker.Node{{DevID: 1, URL: "memory://a"}},
		PendingTTL: 10 * time.Minute,
	})
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()

	abandoned, err := tr.WriteDestinations(ctx, "d", "k", "", 4)
	require.NoError(t, err)

	opens := pendingOpens(t, tr)
	require.Contains(t, opens, abandoned[0].FID)
	expiresAt := time.Unix(int64(opens[abandoned[0].FID]), 0)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), expiresAt, time.Minute)

	retry, err := tr.WriteDestinations(ctx, "d", "k", "", 4)
	require.NoError(t, err)
	require.NoError(t, tr.Finalize(ctx, "d", "k", retry[0], 4))

	assert.Empty(t, pendingOpens(t, tr), "finalize must drop older opens of the key")
}
