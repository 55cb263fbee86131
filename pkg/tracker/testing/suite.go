package testing

import (
	"context"
	"testing"

	"github.com/marmos91/moji/pkg/tracker"
	"github.com/stretchr/testify/require"
)

// TrackerTestSuite is a contract test suite for tracker.Tracker implementations.
// It tests the interface contract, not implementation details, making it reusable
// across implementations (memory, badger).
//
// Usage:
//
//	func TestMyTracker(t *testing.T) {
//	    suite := &trackertesting.TrackerTestSuite{
//	        NewTracker: func(t *testing.T, nodes []tracker.Node) tracker.Tracker {
//	            return mytracker.New(nodes)
//	        },
//	    }
//	    suite.Run(t)
//	}
type TrackerTestSuite struct {
	// NewTracker creates a fresh, empty tracker allocating write destinations
	// on nodes. Each test gets its own instance.
	NewTracker func(t *testing.T, nodes []tracker.Node) tracker.Tracker
}

// Run executes all tests in the suite.
func (suite *TrackerTestSuite) Run(t *testing.T) {
	t.Run("Lifecycle", suite.RunLifecycleTests)
	t.Run("Rename", suite.RunRenameTests)
	t.Run("Metadata", suite.RunMetadataTests)
}

const testDomain = "testdomain"

func testContext() context.Context {
	return context.Background()
}

func testNodes() []tracker.Node {
	return []tracker.Node{
		{DevID: 1, URL: "memory://node1"},
		{DevID: 2, URL: "memory://node2"},
	}
}

// newTracker creates a tracker over testNodes and closes it when the test ends.
func (suite *TrackerTestSuite) newTracker(t *testing.T) tracker.Tracker {
	t.Helper()

	tr := suite.NewTracker(t, testNodes())
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// mustCreate opens and finalizes key on the first write destination.
func mustCreate(t *testing.T, tr tracker.Tracker, key, class string, size int64) tracker.Destination {
	t.Helper()

	dests, err := tr.WriteDestinations(testContext(), testDomain, key, class, size)
	require.NoError(t, err)
	require.NotEmpty(t, dests)

	require.NoError(t, tr.Finalize(testContext(), testDomain, key, dests[0], size))
	return dests[0]
}
