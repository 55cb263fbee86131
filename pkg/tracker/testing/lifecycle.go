package testing

import (
	"context"
	"testing"

	"github.com/marmos91/moji/pkg/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunLifecycleTests covers open/finalize/read/delete.
func (suite *TrackerTestSuite) RunLifecycleTests(t *testing.T) {
	t.Run("Exists_Unknown", suite.testExistsUnknown)
	t.Run("WriteDestinations_OrderedPerNode", suite.testWriteDestinations)
	t.Run("WriteDestinations_NoNodes", suite.testWriteDestinationsNoNodes)
	t.Run("Finalize_MakesKeyVisible", suite.testFinalize)
	t.Run("Finalize_UnknownFID", suite.testFinalizeUnknownFID)
	t.Run("Finalize_Overwrite", suite.testFinalizeOverwrite)
	t.Run("Finalize_DropsOlderOpens", suite.testFinalizeDropsOlderOpens)
	t.Run("ReadDestinations_Unknown", suite.testReadDestinationsUnknown)
	t.Run("Delete", suite.testDelete)
	t.Run("Delete_Unknown", suite.testDeleteUnknown)
	t.Run("InvalidKey", suite.testInvalidKey)
	t.Run("Closed", suite.testClosed)
	t.Run("CancelledContext", suite.testCancelledContext)
}

func (suite *TrackerTestSuite) testExistsUnknown(t *testing.T) {
	tr := suite.newTracker(t)

	exists, err := tr.Exists(testContext(), testDomain, "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func (suite *TrackerTestSuite) testWriteDestinations(t *testing.T) {
	tr := suite.newTracker(t)

	dests, err := tr.WriteDestinations(testContext(), testDomain, "k", "", 10)
	require.NoError(t, err)
	require.Len(t, dests, 2)

	assert.NotEqual(t, dests[0].DevID, dests[1].DevID)
	assert.Equal(t, dests[0].FID, dests[1].FID)
	assert.Positive(t, dests[0].FID)
	for _, d := range dests {
		assert.NotEmpty(t, d.URL)
	}

	// An open alone does not create the key
	exists, err := tr.Exists(testContext(), testDomain, "k")
	require.NoError(t, err)
	assert.False(t, exists)

	// Each open gets its own fid
	again, err := tr.WriteDestinations(testContext(), testDomain, "k", "", 10)
	require.NoError(t, err)
	assert.NotEqual(t, dests[0].FID, again[0].FID)
}

func (suite *TrackerTestSuite) testWriteDestinationsNoNodes(t *testing.T) {
	tr := suite.NewTracker(t, nil)
	t.Cleanup(func() { _ = tr.Close() })

	_, err := tr.WriteDestinations(testContext(), testDomain, "k", "", -1)
	assert.ErrorIs(t, err, tracker.ErrNoDestinations)
}

func (suite *TrackerTestSuite) testFinalize(t *testing.T) {
	tr := suite.newTracker(t)

	dests, err := tr.WriteDestinations(testContext(), testDomain, "k", "hot", 5)
	require.NoError(t, err)

	// Commit the second candidate: the record must point at it
	require.NoError(t, tr.Finalize(testContext(), testDomain, "k", dests[1], 5))

	exists, err := tr.Exists(testContext(), testDomain, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	reads, err := tr.ReadDestinations(testContext(), testDomain, "k")
	require.NoError(t, err)
	require.Len(t, reads, 1)
	assert.Equal(t, dests[1], reads[0])

	// A finalized open cannot be finalized again
	err = tr.Finalize(testContext(), testDomain, "k", dests[0], 5)
	assert.ErrorIs(t, err, tracker.ErrUnknownFID)
}

func (suite *TrackerTestSuite) testFinalizeUnknownFID(t *testing.T) {
	tr := suite.newTracker(t)

	dests, err := tr.WriteDestinations(testContext(), testDomain, "k", "", 1)
	require.NoError(t, err)

	// fid opened for another key
	err = tr.Finalize(testContext(), testDomain, "other", dests[0], 1)
	assert.ErrorIs(t, err, tracker.ErrUnknownFID)

	bogus := dests[0]
	bogus.FID += 1000
	err = tr.Finalize(testContext(), testDomain, "k", bogus, 1)
	assert.ErrorIs(t, err, tracker.ErrUnknownFID)
}

func (suite *TrackerTestSuite) testFinalizeOverwrite(t *testing.T) {
	tr := suite.newTracker(t)

	first := mustCreate(t, tr, "k", "", 3)
	second := mustCreate(t, tr, "k", "", 7)
	assert.NotEqual(t, first.FID, second.FID)

	attrs, err := tr.Attributes(testContext(), testDomain, "k")
	require.NoError(t, err)
	assert.Equal(t, second.FID, attrs.FID)
	assert.Equal(t, int64(7), attrs.Length)
}

func (suite *TrackerTestSuite) testReadDestinationsUnknown(t *testing.T) {
	tr := suite.newTracker(t)

	_, err := tr.ReadDestinations(testContext(), testDomain, "missing")
	assert.ErrorIs(t, err, tracker.ErrKeyNotFound)
}

func (suite *TrackerTestSuite) testDelete(t *testing.T) {
	tr := suite.newTracker(t)
	mustCreate(t, tr, "k", "", 1)

	require.NoError(t, tr.Delete(testContext(), testDomain, "k"))

	exists, err := tr.Exists(testContext(), testDomain, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func (suite *TrackerTestSuite) testDeleteUnknown(t *testing.T) {
	tr := suite.newTracker(t)

	err := tr.Delete(testContext(), testDomain, "missing")
	assert.ErrorIs(t, err, tracker.ErrKeyNotFound)
}

func (suite *TrackerTestSuite) testInvalidKey(t *testing.T) {
	tr := suite.newTracker(t)

	_, err := tr.Exists(testContext(), testDomain, "")
	assert.ErrorIs(t, err, tracker.ErrInvalidKey)

	_, err = tr.WriteDestinations(testContext(), "", "k", "", 1)
	assert.ErrorIs(t, err, tracker.ErrInvalidKey)
}

func (suite *TrackerTestSuite) testClosed(t *testing.T) {
	tr := suite.NewTracker(t, testNodes())
	require.NoError(t, tr.Close())

	_, err := tr.Exists(testContext(), testDomain, "k")
	assert.ErrorIs(t, err, tracker.ErrClosed)
}

func (suite *TrackerTestSuite) testCancelledContext(t *testing.T) {
	tr := suite.newTracker(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Exists(ctx, testDomain, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func (suite *TrackerTestSuite) testFinalizeDropsOlderOpens(t *testing.T) {
	tr := suite.newTracker(t)

	// An abandoned write, then a retry of the same key
	abandoned, err := tr.WriteDestinations(testContext(), testDomain, "k", "", 3)
	require.NoError(t, err)
	other, err := tr.WriteDestinations(testContext(), testDomain, "other", "", 3)
	require.NoError(t, err)
	retry, err := tr.WriteDestinations(testContext(), testDomain, "k", "", 3)
	require.NoError(t, err)

	require.NoError(t, tr.Finalize(testContext(), testDomain, "k", retry[0], 3))

	err = tr.Finalize(testContext(), testDomain, "k", abandoned[0], 3)
	assert.ErrorIs(t, err, tracker.ErrUnknownFID)

	// Opens of other keys are untouched
	require.NoError(t, tr.Finalize(testContext(), testDomain, "other", other[0], 3))

	attrs, err := tr.Attributes(testContext(), testDomain, "k")
	require.NoError(t, err)
	assert.Equal(t, retry[0].FID, attrs.FID)
}
