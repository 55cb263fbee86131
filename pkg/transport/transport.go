// Package transport defines how moji moves bytes to and from storage nodes.
//
// A ConnectionFactory opens one transfer against one tracker.Destination.
// Implementations are selected by the destination URL scheme:
//   - http, https: pkg/transport/http (plain storage nodes, see pkg/node)
//   - s3: pkg/transport/s3 (Amazon S3 or compatible object storage)
//   - minio: pkg/transport/minio (MinIO object storage)
//   - memory: pkg/transport/memory (tests and development)
//
// Router combines several factories behind one ConnectionFactory.
package transport

import (
	"context"
	"io"

	"github.com/marmos91/moji/pkg/tracker"
)

// Upload is an in-progress write to one destination.
//
// Bytes written are forwarded to the storage node. Close commits the
// transfer and reports whether the node accepted it; Abort discards it.
// After either call the upload is finished and further calls are no-ops
// returning nil.
type Upload interface {
	io.Writer

	// Close completes the transfer and waits for the node's verdict.
	Close() error

	// Abort cancels the transfer without committing it.
	Abort() error
}

// ConnectionFactory opens transfers to storage nodes.
//
// All methods block until the node answered or ctx is done, and must be safe
// for concurrent use.
type ConnectionFactory interface {
	// OpenRead starts a download of dest. The caller must close the reader.
	OpenRead(ctx context.Context, dest tracker.Destination) (io.ReadCloser, error)

	// OpenWrite starts an upload to dest. expectedLength is the number of
	// bytes that will be written, or -1 when unknown. OpenWrite returns once
	// the node accepted the transfer.
	OpenWrite(ctx context.Context, dest tracker.Destination, expectedLength int64) (Upload, error)

	// ContentLength returns the size of the content stored at dest.
	ContentLength(ctx context.Context, dest tracker.Destination) (int64, error)
}
