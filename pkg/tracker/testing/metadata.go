package testing

import (
	"testing"

	"github.com/marmos91/moji/pkg/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunMetadataTests covers attributes, paths, storage class and listing.
func (suite *TrackerTestSuite) RunMetadataTests(t *testing.T) {
	t.Run("Attributes", suite.testAttributes)
	t.Run("Attributes_Unknown", suite.testAttributesUnknown)
	t.Run("Paths", suite.testPaths)
	t.Run("UpdateStorageClass", suite.testUpdateStorageClass)
	t.Run("UpdateStorageClass_Unknown", suite.testUpdateStorageClassUnknown)
	t.Run("ListKeys", suite.testListKeys)
}

func (suite *TrackerTestSuite) testAttributes(t *testing.T) {
	tr := suite.newTracker(t)
	dest := mustCreate(t, tr, "k", "archive", 42)

	attrs, err := tr.Attributes(testContext(), testDomain, "k")
	require.NoError(t, err)
	assert.Equal(t, &tracker.Attributes{
		Domain:       testDomain,
		Key:          "k",
		StorageClass: "archive",
		Length:       42,
		DeviceCount:  1,
		FID:          dest.FID,
	}, attrs)
}

func (suite *TrackerTestSuite) testAttributesUnknown(t *testing.T) {
	tr := suite.newTracker(t)

	_, err := tr.Attributes(testContext(), testDomain, "missing")
	assert.ErrorIs(t, err, tracker.ErrKeyNotFound)
}

func (suite *TrackerTestSuite) testPaths(t *testing.T) {
	tr := suite.newTracker(t)
	dest := mustCreate(t, tr, "k", "", 1)

	paths, err := tr.Paths(testContext(), testDomain, "k")
	require.NoError(t, err)
	assert.Equal(t, []string{dest.URL}, paths)

	_, err = tr.Paths(testContext(), testDomain, "missing")
	assert.ErrorIs(t, err, tracker.ErrKeyNotFound)
}

func (suite *TrackerTestSuite) testUpdateStorageClass(t *testing.T) {
	tr := suite.newTracker(t)
	mustCreate(t, tr, "k", "hot", 1)

	require.NoError(t, tr.UpdateStorageClass(testContext(), testDomain, "k", "cold"))

	attrs, err := tr.Attributes(testContext(), testDomain, "k")
	require.NoError(t, err)
	assert.Equal(t, "cold", attrs.StorageClass)
}

func (suite *TrackerTestSuite) testUpdateStorageClassUnknown(t *testing.T) {
	tr := suite.newTracker(t)

	err := tr.UpdateStorageClass(testContext(), testDomain, "missing", "cold")
	assert.ErrorIs(t, err, tracker.ErrKeyNotFound)
}

func (suite *TrackerTestSuite) testListKeys(t *testing.T) {
	tr := suite.newTracker(t)
	lister, ok := tr.(tracker.KeyLister)
	if !ok {
		t.Skip("Tracker does not implement KeyLister")
	}

	for _, k := range []string{"img/b", "img/a", "doc/x", "img/c"} {
		mustCreate(t, tr, k, "", 1)
	}

	keys, err := lister.ListKeys(testContext(), testDomain, "img/", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"img/a", "img/b", "img/c"}, keys)

	keys, err = lister.ListKeys(testContext(), testDomain, "img/", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"img/a", "img/b"}, keys)

	keys, err = lister.ListKeys(testContext(), "otherdomain", "", 0)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
