// Package s3 implements transport.ConnectionFactory on Amazon S3 or any
// S3-compatible object store.
//
// Destinations use the form "s3://<bucket>/<object key>". Uploads buffer
// written bytes up to PartSize; content that fits in one part is stored with a
// single PutObject, larger content is streamed as a multipart upload with one
// part in memory at a time.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/moji/pkg/tracker"
	"github.com/marmos91/moji/pkg/transport"
)

// Scheme is the URL scheme served by S3Transport.
const Scheme = "s3"

const (
	// minPartSize is the smallest multipart part S3 accepts (except the last one).
	minPartSize = 5 * 1024 * 1024

	abortTimeout = 30 * time.Second
)

// Client is the subset of *s3.Client used by the transport.
type Client interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// S3TransportConfig configures the S3 transport.
type S3TransportConfig struct {
	// Client is the S3 client (required).
	Client Client

	// PartSize is the multipart part size in bytes.
	// Default: 10MB, minimum 5MB
	PartSize int64
}

// S3Transport transfers content to and from S3 objects.
//
// Thread Safety:
// Safe for concurrent use. Each upload owns its own buffer.
type S3Transport struct {
	client   Client
	partSize int64
}

// NewS3Transport creates an S3 transport.
func NewS3Transport(cfg S3TransportConfig) (*S3Transport, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("s3 transport: client is required")
	}

	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = 10 * 1024 * 1024
	}
	if partSize < minPartSize {
		return nil, fmt.Errorf("s3 transport: part size must be at least %d bytes", minPartSize)
	}

	return &S3Transport{client: cfg.Client, partSize: partSize}, nil
}

// isNotFound reports whether err is an S3 missing-object or missing-bucket
// error. GetObject returns NoSuchKey; HeadObject and HeadBucket have no body
// and return NotFound.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) || errors.As(err, &notFound)
}

func wrapError(ctx context.Context, op, url string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s %s: %w", op, url, ctxErr)
	}
	if isNotFound(err) {
		return fmt.Errorf("%s %s: %w", op, url, transport.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w: %v", op, url, transport.ErrUnavailable, err)
}

func (t *S3Transport) OpenRead(ctx context.Context, dest tracker.Destination) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bucket, key, err := transport.SplitObjectURL(dest.URL, Scheme)
	if err != nil {
		return nil, err
	}

	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapError(ctx, "GetObject", dest.URL, err)
	}
	return out.Body, nil
}

func (t *S3Transport) ContentLength(ctx context.Context, dest tracker.Destination) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	bucket, key, err := transport.SplitObjectURL(dest.URL, Scheme)
	if err != nil {
		return 0, err
	}

	out, err := t.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, wrapError(ctx, "HeadObject", dest.URL, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// OpenWrite checks that the bucket is reachable before returning the upload,
// so an unreachable or missing bucket fails here rather than on Close.
func (t *S3Transport) OpenWrite(ctx context.Context, dest tracker.Destination, expectedLength int64) (transport.Upload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bucket, key, err := transport.SplitObjectURL(dest.URL, Scheme)
	if err != nil {
		return nil, err
	}

	if _, err := t.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, wrapError(ctx, "HeadBucket", dest.URL, err)
	}

	return &s3Upload{
		client:         t.client,
		ctx:            ctx,
		url:            dest.URL,
		bucket:         bucket,
		key:            key,
		partSize:       t.partSize,
		expectedLength: expectedLength,
	}, nil
}

// s3Upload implements transport.Upload. It automatically switches to a
// multipart upload once more than one part has been written.
type s3Upload struct {
	client         Client
	ctx            context.Context
	url            string
	bucket         string
	key            string
	partSize       int64
	expectedLength int64

	buffer     []byte
	uploadID   string
	parts      []types.CompletedPart
	totalBytes int64
	err        error
	done       bool
}

func (u *s3Upload) Write(p []byte) (int, error) {
	if u.done {
		return 0, fmt.Errorf("PutObject %s: upload already finished", u.url)
	}
	if u.err != nil {
		return 0, u.err
	}
	if u.expectedLength >= 0 && u.totalBytes+int64(len(p)) > u.expectedLength {
		return 0, fmt.Errorf("PutObject %s: %w (expected %d bytes)", u.url, transport.ErrShortWrite, u.expectedLength)
	}

	u.buffer = append(u.buffer, p...)
	u.totalBytes += int64(len(p))

	for int64(len(u.buffer)) > u.partSize {
		if err := u.uploadPart(u.buffer[:u.partSize]); err != nil {
			u.err = err
			return len(p), err
		}
		u.buffer = append(u.buffer[:0], u.buffer[u.partSize:]...)
	}

	return len(p), nil
}

func (u *s3Upload) uploadPart(data []byte) error {
	// Start multipart upload on first part
	if u.uploadID == "" {
		out, err := u.client.CreateMultipartUpload(u.ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(u.bucket),
			Key:    aws.String(u.key),
		})
		if err != nil {
			return wrapError(u.ctx, "CreateMultipartUpload", u.url, err)
		}
		u.uploadID = aws.ToString(out.UploadId)
	}

	partNum := int32(len(u.parts) + 1)
	out, err := u.client.UploadPart(u.ctx, &s3.UploadPartInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(u.key),
		UploadId:      aws.String(u.uploadID),
		PartNumber:    aws.Int32(partNum),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return wrapError(u.ctx, "UploadPart", u.url, err)
	}

	u.parts = append(u.parts, types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(partNum),
	})
	return nil
}

func (u *s3Upload) Close() error {
	if u.done {
		return nil
	}
	u.done = true

	if u.err != nil {
		u.abortMultipart()
		return u.err
	}
	if u.expectedLength >= 0 && u.totalBytes != u.expectedLength {
		u.abortMultipart()
		return fmt.Errorf("PutObject %s: %w (expected %d, got %d)",
			u.url, transport.ErrShortWrite, u.expectedLength, u.totalBytes)
	}

	// If we never started a multipart upload, use simple PutObject
	if u.uploadID == "" {
		_, err := u.client.PutObject(u.ctx, &s3.PutObjectInput{
			Bucket:        aws.String(u.bucket),
			Key:           aws.String(u.key),
			Body:          bytes.NewReader(u.buffer),
			ContentLength: aws.Int64(int64(len(u.buffer))),
		})
		if err != nil {
			return wrapError(u.ctx, "PutObject", u.url, err)
		}
		return nil
	}

	if len(u.buffer) > 0 {
		if err := u.uploadPart(u.buffer); err != nil {
			u.abortMultipart()
			return err
		}
	}

	_, err := u.client.CompleteMultipartUpload(u.ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(u.bucket),
		Key:             aws.String(u.key),
		UploadId:        aws.String(u.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: u.parts},
	})
	if err != nil {
		u.abortMultipart()
		return wrapError(u.ctx, "CompleteMultipartUpload", u.url, err)
	}
	return nil
}

func (u *s3Upload) Abort() error {
	if u.done {
		return nil
	}
	u.done = true
	u.abortMultipart()
	return nil
}

// abortMultipart discards uploaded parts, even when the upload context is
// already cancelled.
func (u *s3Upload) abortMultipart() {
	u.buffer = nil
	if u.uploadID == "" {
		return
	}

	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(u.ctx), abortTimeout)
	defer cancel()
	_, _ = u.client.AbortMultipartUpload(abortCtx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.bucket),
		Key:      aws.String(u.key),
		UploadId: aws.String(u.uploadID),
	})
}
