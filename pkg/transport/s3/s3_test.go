package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/moji/pkg/tracker"
	"github.com/marmos91/moji/pkg/transport"
	transporttesting "github.com/marmos91/moji/pkg/transport/testing"
)

const (
	offlineBucket = "moji-offline"
	missingBucket = "moji-missing"
)

// fakeClient is an in-memory S3 implementing the Client subset.
type fakeClient struct {
	mu       sync.Mutex
	objects  map[string][]byte
	uploads  map[string]map[int32][]byte
	nextID   int
	aborted  int
	puts     int
	putError error

	// offline buckets fail every request as if the endpoint were down
	offline map[string]bool
	heads   int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		objects: make(map[string][]byte),
		uploads: make(map[string]map[int32][]byte),
		offline: make(map[string]bool),
	}
}

func objectKey(bucket, key *string) string {
	return aws.ToString(bucket) + "/" + aws.ToString(key)
}

// reachLocked returns the network error for an offline bucket.
func (f *fakeClient) reachLocked(bucket *string) error {
	if f.offline[aws.ToString(bucket)] {
		return fmt.Errorf("dial tcp %s.s3.local:443: connect: connection refused", aws.ToString(bucket))
	}
	return nil
}

func (f *fakeClient) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heads++
	if err := f.reachLocked(in.Bucket); err != nil {
		return nil, err
	}
	if aws.ToString(in.Bucket) == missingBucket {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeClient) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reachLocked(in.Bucket); err != nil {
		return nil, err
	}
	data, ok := f.objects[objectKey(in.Bucket, in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeClient) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reachLocked(in.Bucket); err != nil {
		return nil, err
	}
	data, ok := f.objects[objectKey(in.Bucket, in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.putError != nil {
		return nil, f.putError
	}
	f.objects[objectKey(in.Bucket, in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeClient) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.uploads[id] = make(map[int32][]byte)
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeClient) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	parts, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}
	parts[aws.ToInt32(in.PartNumber)] = data
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", aws.ToInt32(in.PartNumber)))}, nil
}

func (f *fakeClient) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}
	nums := make([]int32, 0, len(parts))
	for n := range parts {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })

	var buf bytes.Buffer
	for _, n := range nums {
		buf.Write(parts[n])
	}
	f.objects[objectKey(in.Bucket, in.Key)] = buf.Bytes()
	delete(f.uploads, aws.ToString(in.UploadId))
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeClient) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uploads, aws.ToString(in.UploadId))
	f.aborted++
	return &s3.AbortMultipartUploadOutput{}, nil
}

func newTransport(t *testing.T, client Client) *S3Transport {
	t.Helper()
	tr, err := NewS3Transport(S3TransportConfig{Client: client, PartSize: minPartSize})
	require.NoError(t, err)
	return tr
}

func TestS3Transport(t *testing.T) {
	suite := transporttesting.TransportTestSuite{
		NewTransport: func(t *testing.T) transport.ConnectionFactory {
			client := newFakeClient()
			client.offline[offlineBucket] = true
			return newTransport(t, client)
		},
		Destination: func(t *testing.T, name string) tracker.Destination {
			return tracker.Destination{URL: "s3://moji-test/dev1/" + name + ".fid", DevID: 1, FID: 1}
		},
		Unreachable: func(t *testing.T, _ transport.ConnectionFactory) tracker.Destination {
			return tracker.Destination{URL: "s3://" + offlineBucket + "/dev1/1.fid", DevID: 1, FID: 1}
		},
	}
	suite.Run(t)
}

func TestS3Transport_Config(t *testing.T) {
	_, err := NewS3Transport(S3TransportConfig{})
	assert.Error(t, err)

	_, err = NewS3Transport(S3TransportConfig{Client: newFakeClient(), PartSize: 1024})
	assert.Error(t, err)
}

func TestS3Transport_Multipart(t *testing.T) {
	client := newFakeClient()
	tr := newTransport(t, client)
	dest := tracker.Destination{URL: "s3://moji-test/dev1/big.fid"}

	data := bytes.Repeat([]byte("0123456789abcdef"), (2*minPartSize+1234)/16)

	up, err := tr.OpenWrite(t.Context(), dest, -1)
	require.NoError(t, err)
	for i := 0; i < len(data); i += 1 << 20 {
		_, err := up.Write(data[i:min(i+1<<20, len(data))])
		require.NoError(t, err)
	}
	require.NoError(t, up.Close())

	assert.Equal(t, 0, client.puts, "multipart content must not use PutObject")
	stored := client.objects["moji-test/dev1/big.fid"]
	assert.Equal(t, data, stored)
}

func TestS3Transport_MultipartAbort(t *testing.T) {
	client := newFakeClient()
	tr := newTransport(t, client)
	dest := tracker.Destination{URL: "s3://moji-test/dev1/aborted.fid"}

	up, err := tr.OpenWrite(t.Context(), dest, -1)
	require.NoError(t, err)
	_, err = up.Write(make([]byte, minPartSize+1))
	require.NoError(t, err)
	require.NoError(t, up.Abort())

	assert.Equal(t, 1, client.aborted)
	assert.Empty(t, client.uploads)
	_, err = tr.ContentLength(t.Context(), dest)
	assert.ErrorIs(t, err, transport.ErrNotFound)
}

func TestS3Transport_PutFailure(t *testing.T) {
	client := newFakeClient()
	client.putError = fmt.Errorf("service unavailable")
	tr := newTransport(t, client)

	up, err := tr.OpenWrite(t.Context(), tracker.Destination{URL: "s3://moji-test/x"}, 1)
	require.NoError(t, err)
	_, err = up.Write([]byte("x"))
	require.NoError(t, err)
	assert.ErrorIs(t, up.Close(), transport.ErrUnavailable)
}

func TestS3Transport_InvalidDestination(t *testing.T) {
	tr := newTransport(t, newFakeClient())

	_, err := tr.OpenWrite(t.Context(), tracker.Destination{URL: "http://node/x"}, -1)
	assert.ErrorIs(t, err, transport.ErrInvalidDestination)
}

func TestS3Transport_OpenWriteChecksBucket(t *testing.T) {
	client := newFakeClient()
	tr := newTransport(t, client)

	_, err := tr.OpenWrite(t.Context(), tracker.Destination{URL: "s3://" + missingBucket + "/x"}, -1)
	assert.ErrorIs(t, err, transport.ErrNotFound)

	client.offline["moji-test"] = true
	_, err = tr.OpenWrite(t.Context(), tracker.Destination{URL: "s3://moji-test/x"}, -1)
	assert.ErrorIs(t, err, transport.ErrUnavailable)

	assert.Equal(t, 2, client.heads)
	assert.Equal(t, 0, client.puts, "no object request after a failed bucket check")
}
