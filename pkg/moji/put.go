package moji

import (
	"context"

	"github.com/marmos91/moji/internal/logger"
	"github.com/marmos91/moji/pkg/tracker"
	"github.com/marmos91/moji/pkg/transport"
)

// putCommand stores a whole buffer, trying each write destination in order
// until one accepts it.
//
// Retry Policy:
//   - Each attempt opens an upload, writes every byte, commits the upload and
//     finalizes the destination with the tracker
//   - A failed attempt is aborted and closed before the next one starts, so
//     at most one upload is open at any time
//   - The first successful attempt ends the command
//   - When every destination failed, the error of the LAST attempt is
//     returned; earlier errors are only logged
//   - A cancelled context ends the loop with the context error
type putCommand struct {
	domain, key, storageClass string
	data                      []byte
	connections               transport.ConnectionFactory
	metrics                   Metrics

	// destination is the destination the data was finalized on
	destination tracker.Destination
}

func (c *putCommand) name() string { return "put" }

func (c *putCommand) execute(ctx context.Context, t tracker.Tracker) error {
	size := int64(len(c.data))

	dests, err := t.WriteDestinations(ctx, c.domain, c.key, c.storageClass, size)
	if err != nil {
		return err
	}
	if len(dests) == 0 {
		return tracker.ErrNoDestinations
	}

	var lastErr error
	for i, dest := range dests {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.attempt(ctx, t, dest, size); err != nil {
			c.metrics.RecordDestinationAttempt("failure")
			logger.Debug("put(): domain=%s,key=%s: destination %d/%d %s failed: %v",
				c.domain, c.key, i+1, len(dests), dest, err)
			lastErr = err
			continue
		}

		c.metrics.RecordDestinationAttempt("success")
		c.metrics.RecordBytes("write", size)
		c.destination = dest
		logger.Debug("put(): domain=%s,key=%s: stored %d bytes on %s", c.domain, c.key, size, dest)
		return nil
	}

	return lastErr
}

// attempt writes the buffer to one destination. The upload is finished
// (committed or aborted) when attempt returns.
func (c *putCommand) attempt(ctx context.Context, t tracker.Tracker, dest tracker.Destination, size int64) error {
	upload, err := c.connections.OpenWrite(ctx, dest, size)
	if err != nil {
		return err
	}

	if _, err := upload.Write(c.data); err != nil {
		_ = upload.Abort()
		return err
	}

	if err := upload.Close(); err != nil {
		return err
	}

	return t.Finalize(ctx, c.domain, c.key, dest, size)
}
