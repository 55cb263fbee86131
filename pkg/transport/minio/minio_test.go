package minio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/moji/pkg/tracker"
	"github.com/marmos91/moji/pkg/transport"
)

func TestNewMinioTransport(t *testing.T) {
	_, err := NewMinioTransport(MinioTransportConfig{})
	assert.Error(t, err)

	tr, err := NewMinioTransport(MinioTransportConfig{
		Endpoint:        "localhost:9000",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
	})
	require.NoError(t, err)
	assert.NotNil(t, tr.Client())
}

func TestMinioTransport_InvalidDestination(t *testing.T) {
	tr, err := NewMinioTransport(MinioTransportConfig{Endpoint: "localhost:9000"})
	require.NoError(t, err)

	dest := tracker.Destination{URL: "s3://bucket/key"}

	_, err = tr.OpenRead(t.Context(), dest)
	assert.ErrorIs(t, err, transport.ErrInvalidDestination)
	_, err = tr.OpenWrite(t.Context(), dest, -1)
	assert.ErrorIs(t, err, transport.ErrInvalidDestination)
	_, err = tr.ContentLength(t.Context(), dest)
	assert.ErrorIs(t, err, transport.ErrInvalidDestination)
}

func TestTranslateError(t *testing.T) {
	ctx := t.Context()

	err := translateError(ctx, "GetObject", "minio://b/k", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404})
	assert.ErrorIs(t, err, transport.ErrNotFound)

	err = translateError(ctx, "PutObject", "minio://b/k", minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403})
	assert.ErrorIs(t, err, transport.ErrRejected)

	err = translateError(ctx, "PutObject", "minio://b/k", errors.New("dial tcp: connection refused"))
	assert.ErrorIs(t, err, transport.ErrUnavailable)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = translateError(cancelled, "PutObject", "minio://b/k", errors.New("request aborted"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMinioTransport_OpenWriteChecksBucket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method != http.MethodHead:
			t.Errorf("unexpected %s %s after a failed bucket check", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusInternalServerError)
		case strings.HasPrefix(r.URL.Path, "/locked"):
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	tr, err := NewMinioTransport(MinioTransportConfig{
		Endpoint:        strings.TrimPrefix(srv.URL, "http://"),
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		Region:          "us-east-1",
	})
	require.NoError(t, err)

	_, err = tr.OpenWrite(t.Context(), tracker.Destination{URL: "minio://missing/dev1/1.fid"}, -1)
	assert.ErrorIs(t, err, transport.ErrNotFound)

	_, err = tr.OpenWrite(t.Context(), tracker.Destination{URL: "minio://locked/dev1/1.fid"}, 4)
	assert.ErrorIs(t, err, transport.ErrRejected)
}
