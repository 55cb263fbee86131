package testing

import (
	"errors"
	"testing"

	"github.com/marmos91/moji/pkg/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunRenameTests covers key reassignment.
func (suite *TrackerTestSuite) RunRenameTests(t *testing.T) {
	t.Run("Rename_Success", suite.testRenameSuccess)
	t.Run("Rename_Collision", suite.testRenameCollision)
	t.Run("Rename_UnknownSource", suite.testRenameUnknownSource)
}

func (suite *TrackerTestSuite) testRenameSuccess(t *testing.T) {
	tr := suite.newTracker(t)
	dest := mustCreate(t, tr, "old", "", 4)

	require.NoError(t, tr.Rename(testContext(), testDomain, "old", "new"))

	exists, err := tr.Exists(testContext(), testDomain, "old")
	require.NoError(t, err)
	assert.False(t, exists)

	attrs, err := tr.Attributes(testContext(), testDomain, "new")
	require.NoError(t, err)
	assert.Equal(t, "new", attrs.Key)
	assert.Equal(t, dest.FID, attrs.FID)
}

func (suite *TrackerTestSuite) testRenameCollision(t *testing.T) {
	tr := suite.newTracker(t)
	mustCreate(t, tr, "k1", "", 1)
	mustCreate(t, tr, "k2", "", 2)

	err := tr.Rename(testContext(), testDomain, "k1", "k2")
	require.Error(t, err)
	assert.ErrorIs(t, err, tracker.ErrKeyExists)

	var kerr *tracker.KeyExistsError
	require.True(t, errors.As(err, &kerr))
	assert.Equal(t, testDomain, kerr.Domain)
	assert.Equal(t, "k2", kerr.Key)

	// Both keys are untouched
	a1, err := tr.Attributes(testContext(), testDomain, "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), a1.Length)
	a2, err := tr.Attributes(testContext(), testDomain, "k2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), a2.Length)
}

func (suite *TrackerTestSuite) testRenameUnknownSource(t *testing.T) {
	tr := suite.newTracker(t)

	err := tr.Rename(testContext(), testDomain, "missing", "new")
	assert.ErrorIs(t, err, tracker.ErrKeyNotFound)
}
