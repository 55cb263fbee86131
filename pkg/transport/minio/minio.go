// Package minio implements transport.ConnectionFactory on MinIO object storage.
//
// Destinations use the form "minio://<bucket>/<object key>". The endpoint and
// credentials come from configuration, so one transport serves every bucket
// on that MinIO deployment.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/marmos91/moji/internal/logger"
	"github.com/marmos91/moji/pkg/tracker"
	"github.com/marmos91/moji/pkg/transport"
)

// Scheme is the URL scheme served by MinioTransport.
const Scheme = "minio"

var errAborted = errors.New("upload aborted")

// MinioTransportConfig configures the MinIO transport.
type MinioTransportConfig struct {
	// Endpoint is the MinIO host and port, without scheme (e.g. "localhost:9000").
	Endpoint string

	AccessKeyID     string
	SecretAccessKey string

	// UseSSL selects https.
	UseSSL bool

	// Region is optional; MinIO ignores it unless configured with one.
	Region string
}

// MinioTransport transfers content to and from MinIO objects.
//
// Thread Safety:
// Safe for concurrent use; minio.Client is safe for concurrent use.
type MinioTransport struct {
	client *minio.Client
}

// NewMinioTransport creates a MinIO transport. No request is made until the
// first transfer.
func NewMinioTransport(cfg MinioTransportConfig) (*MinioTransport, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio transport: endpoint is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio transport: failed to create client: %w", err)
	}

	return &MinioTransport{client: client}, nil
}

// Client returns the underlying MinIO client.
func (t *MinioTransport) Client() *minio.Client {
	return t.client
}

// translateError maps MinIO error responses to transport errors.
func translateError(ctx context.Context, op, url string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s %s: %w", op, url, ctxErr)
	}

	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", op, url, transport.ErrNotFound)
	case resp.StatusCode != 0:
		return fmt.Errorf("%s %s: %w: %s", op, url, transport.ErrRejected, resp.Code)
	default:
		return fmt.Errorf("%s %s: %w: %v", op, url, transport.ErrUnavailable, err)
	}
}

func (t *MinioTransport) OpenRead(ctx context.Context, dest tracker.Destination) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bucket, key, err := transport.SplitObjectURL(dest.URL, Scheme)
	if err != nil {
		return nil, err
	}

	obj, err := t.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateError(ctx, "GetObject", dest.URL, err)
	}

	// GetObject is lazy; Stat issues the request so a missing object fails here
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, translateError(ctx, "GetObject", dest.URL, err)
	}

	return obj, nil
}

func (t *MinioTransport) ContentLength(ctx context.Context, dest tracker.Destination) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	bucket, key, err := transport.SplitObjectURL(dest.URL, Scheme)
	if err != nil {
		return 0, err
	}

	info, err := t.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, translateError(ctx, "StatObject", dest.URL, err)
	}
	return info.Size, nil
}

// OpenWrite checks the bucket before starting the PutObject call, so an
// unreachable deployment or a missing bucket fails here rather than on Close.
func (t *MinioTransport) OpenWrite(ctx context.Context, dest tracker.Destination, expectedLength int64) (transport.Upload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bucket, key, err := transport.SplitObjectURL(dest.URL, Scheme)
	if err != nil {
		return nil, err
	}

	exists, err := t.client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, translateError(ctx, "BucketExists", dest.URL, err)
	}
	if !exists {
		return nil, fmt.Errorf("BucketExists %s: %w: no bucket %q", dest.URL, transport.ErrNotFound, bucket)
	}

	putCtx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()

	u := &minioUpload{
		url:            dest.URL,
		expectedLength: expectedLength,
		pw:             pw,
		cancel:         cancel,
		done:           make(chan error, 1),
	}

	go func() {
		_, err := t.client.PutObject(putCtx, bucket, key, pr, expectedLength, minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		})
		if err != nil {
			err = translateError(putCtx, "PutObject", dest.URL, err)
			_ = pr.CloseWithError(err)
		} else {
			_ = pr.Close()
		}
		u.done <- err
	}()

	logger.Debug("minio transport: PutObject %s started (expected length %d)", dest.URL, expectedLength)
	return u, nil
}

// minioUpload streams written bytes into an in-flight PutObject call.
type minioUpload struct {
	url            string
	expectedLength int64
	written        int64

	pw     *io.PipeWriter
	cancel context.CancelFunc
	done   chan error

	finishOnce sync.Once
}

func (u *minioUpload) Write(p []byte) (int, error) {
	if u.expectedLength >= 0 && u.written+int64(len(p)) > u.expectedLength {
		return 0, fmt.Errorf("PutObject %s: %w (expected %d bytes)", u.url, transport.ErrShortWrite, u.expectedLength)
	}

	n, err := u.pw.Write(p)
	u.written += int64(n)
	return n, err
}

func (u *minioUpload) Close() error {
	var err error
	u.finishOnce.Do(func() { err = u.commit() })
	return err
}

func (u *minioUpload) commit() error {
	if u.expectedLength >= 0 && u.written != u.expectedLength {
		u.abort()
		return fmt.Errorf("PutObject %s: %w (expected %d, got %d)",
			u.url, transport.ErrShortWrite, u.expectedLength, u.written)
	}

	_ = u.pw.Close()
	err := <-u.done
	u.cancel()
	return err
}

func (u *minioUpload) Abort() error {
	u.finishOnce.Do(u.abort)
	return nil
}

func (u *minioUpload) abort() {
	_ = u.pw.CloseWithError(errAborted)
	u.cancel()
	<-u.done
}
