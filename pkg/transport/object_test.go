package transport

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/moji/pkg/tracker"
)

func TestSplitObjectURL(t *testing.T) {
	bucket, key, err := SplitObjectURL("s3://moji-data/dev1/0000000042.fid", "s3")
	require.NoError(t, err)
	assert.Equal(t, "moji-data", bucket)
	assert.Equal(t, "dev1/0000000042.fid", key)

	tests := []struct {
		name string
		raw  string
	}{
		{"wrong scheme", "http://bucket/key"},
		{"no bucket", "s3:///key"},
		{"no key", "s3://bucket/"},
		{"malformed", "s3://bucket/%zz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := SplitObjectURL(tt.raw, "s3")
			assert.ErrorIs(t, err, ErrInvalidDestination)
		})
	}
}

func TestRouter(t *testing.T) {
	r := NewRouter()
	r.Register(&stubFactory{}, "HTTP", "https")

	assert.Equal(t, []string{"http", "https"}, r.Schemes())

	_, err := r.ContentLength(t.Context(), destination("ftp://node/x"))
	assert.ErrorIs(t, err, ErrUnsupportedScheme)

	_, err = r.OpenRead(t.Context(), destination("http://node/%zz"))
	assert.ErrorIs(t, err, ErrInvalidDestination)

	size, err := r.ContentLength(t.Context(), destination("Http://node/x"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), size)
}

type stubFactory struct{}

func (stubFactory) OpenRead(ctx context.Context, dest tracker.Destination) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("content")), nil
}

func (stubFactory) OpenWrite(ctx context.Context, dest tracker.Destination, expectedLength int64) (Upload, error) {
	return nil, ErrRejected
}

func (stubFactory) ContentLength(ctx context.Context, dest tracker.Destination) (int64, error) {
	return 7, nil
}

func destination(url string) tracker.Destination {
	return tracker.Destination{URL: url, DevID: 1, FID: 1}
}
