package memory

import (
	"testing"
	"time"

	"github.com/marmos91/moji/pkg/tracker"
	trackertesting "github.com/marmos91/moji/pkg/tracker/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTracker(t *testing.T) {
	suite := &trackertesting.TrackerTestSuite{
		NewTracker: func(t *testing.T, nodes []tracker.Node) tracker.Tracker {
			tr, err := NewMemoryTracker(MemoryTrackerConfig{Nodes: nodes})
			require.NoError(t, err)
			return tr
		},
	}
	suite.Run(t)
}

func TestMemoryTracker_InvalidNodes(t *testing.T) {
	_, err := NewMemoryTracker(MemoryTrackerConfig{
		Nodes: []tracker.Node{{DevID: 1, URL: "memory://a"}, {DevID: 1, URL: "memory://b"}},
	})
	assert.Error(t, err)
}

func TestMemoryTracker_PendingCount(t *testing.T) {
	tr, err := NewMemoryTracker(MemoryTrackerConfig{
		Nodes: []tracker.Node{{DevID: 1, URL: "memory://a"}},
	})
	require.NoError(t, err)

	dests, err := tr.WriteDestinations(t.Context(), "d", "k", "", -1)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.PendingCount())

	require.NoError(t, tr.Finalize(t.Context(), "d", "k", dests[0], 0))
	assert.Equal(t, 0, tr.PendingCount())
}

func TestMemoryTracker_FailedWriteDoesNotLeakPendingOpen(t *testing.T) {
	tr, err := NewMemoryTracker(MemoryTrackerConfig{
		Nodes: []tracker.Node{{DevID: 1, URL: "memory://a"}, {DevID: 2, URL: "memory://b"}},
	})
	require.NoError(t, err)

	// Put that failed on every destination: never finalized
	_, err = tr.WriteDestinations(t.Context(), "d", "k", "", 4)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.PendingCount())

	dests, err := tr.WriteDestinations(t.Context(), "d", "k", "", 4)
	require.NoError(t, err)
	require.NoError(t, tr.Finalize(t.Context(), "d", "k", dests[0], 4))
	assert.Equal(t, 0, tr.PendingCount())
}

func TestMemoryTracker_PendingOpensExpire(t *testing.T) {
	tr, err := NewMemoryTracker(MemoryTrackerConfig{
		Nodes:      []tracker.Node{{DevID: 1, URL: "memory://a"}},
		PendingTTL: time.Millisecond,
	})
	require.NoError(t, err)

	_, err = tr.WriteDestinations(t.Context(), "d", "abandoned", "", -1)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = tr.WriteDestinations(t.Context(), "d", "fresh", "", -1)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.PendingCount(), "expired open must be dropped")
}
