package moji

import (
	"context"
	"fmt"
	"net/url"

	"github.com/marmos91/moji/pkg/tracker"
	"github.com/marmos91/moji/pkg/transport"
)

// command is one logical operation against the tracker.
//
// execute runs exactly once. On success it fills the command's result fields;
// on failure they stay zero and the error is returned unchanged. Commands
// never take file locks: the File decides the lock mode and holds it around
// Client.execute.
type command interface {
	name() string
	execute(ctx context.Context, t tracker.Tracker) error
}

// firstDestination returns the preferred destination of dests.
func firstDestination(dests []tracker.Destination) (tracker.Destination, error) {
	if len(dests) == 0 {
		return tracker.Destination{}, tracker.ErrNoDestinations
	}
	return dests[0], nil
}

type existsCommand struct {
	domain, key string

	exists bool
}

func (c *existsCommand) name() string { return "exists" }

func (c *existsCommand) execute(ctx context.Context, t tracker.Tracker) error {
	exists, err := t.Exists(ctx, c.domain, c.key)
	if err != nil {
		return err
	}
	c.exists = exists
	return nil
}

type lengthCommand struct {
	domain, key string
	connections transport.ConnectionFactory

	length int64
}

func (c *lengthCommand) name() string { return "length" }

func (c *lengthCommand) execute(ctx context.Context, t tracker.Tracker) error {
	dests, err := t.ReadDestinations(ctx, c.domain, c.key)
	if err != nil {
		return err
	}
	dest, err := firstDestination(dests)
	if err != nil {
		return err
	}

	length, err := c.connections.ContentLength(ctx, dest)
	if err != nil {
		return err
	}
	c.length = length
	return nil
}

type deleteCommand struct {
	domain, key string
}

func (c *deleteCommand) name() string { return "delete" }

func (c *deleteCommand) execute(ctx context.Context, t tracker.Tracker) error {
	return t.Delete(ctx, c.domain, c.key)
}

type renameCommand struct {
	domain, key, newKey string
}

func (c *renameCommand) name() string { return "rename" }

func (c *renameCommand) execute(ctx context.Context, t tracker.Tracker) error {
	return t.Rename(ctx, c.domain, c.key, c.newKey)
}

type updateStorageClassCommand struct {
	domain, key, storageClass string
}

func (c *updateStorageClassCommand) name() string { return "updateStorageClass" }

func (c *updateStorageClassCommand) execute(ctx context.Context, t tracker.Tracker) error {
	return t.UpdateStorageClass(ctx, c.domain, c.key, c.storageClass)
}

type attributesCommand struct {
	domain, key string

	attributes *tracker.Attributes
}

func (c *attributesCommand) name() string { return "attributes" }

func (c *attributesCommand) execute(ctx context.Context, t tracker.Tracker) error {
	attrs, err := t.Attributes(ctx, c.domain, c.key)
	if err != nil {
		return err
	}
	c.attributes = attrs
	return nil
}

type pathsCommand struct {
	domain, key string

	paths []*url.URL
}

func (c *pathsCommand) name() string { return "paths" }

func (c *pathsCommand) execute(ctx context.Context, t tracker.Tracker) error {
	raw, err := t.Paths(ctx, c.domain, c.key)
	if err != nil {
		return err
	}

	paths := make([]*url.URL, 0, len(raw))
	for _, p := range raw {
		u, err := url.Parse(p)
		if err != nil {
			return fmt.Errorf("tracker returned malformed path %q: %w", p, err)
		}
		paths = append(paths, u)
	}
	c.paths = paths
	return nil
}

type listCommand struct {
	domain, prefix string
	limit          int

	keys []string
}

func (c *listCommand) name() string { return "list" }

func (c *listCommand) execute(ctx context.Context, t tracker.Tracker) error {
	lister, ok := t.(tracker.KeyLister)
	if !ok {
		return ErrListUnsupported
	}
	keys, err := lister.ListKeys(ctx, c.domain, c.prefix, c.limit)
	if err != nil {
		return err
	}
	c.keys = keys
	return nil
}

// readerCommand resolves the read destinations and opens a download from the
// preferred one. The resulting stream owns guard.
type readerCommand struct {
	domain, key string
	connections transport.ConnectionFactory
	metrics     Metrics
	guard       *lockGuard

	stream *inputStream
}

func (c *readerCommand) name() string { return "reader" }

func (c *readerCommand) execute(ctx context.Context, t tracker.Tracker) error {
	dests, err := t.ReadDestinations(ctx, c.domain, c.key)
	if err != nil {
		return err
	}
	dest, err := firstDestination(dests)
	if err != nil {
		return err
	}

	body, err := c.connections.OpenRead(ctx, dest)
	if err != nil {
		return err
	}

	c.stream = newInputStream(body, c.guard, c.metrics)
	return nil
}

// writerCommand resolves write destinations and opens an upload to the
// preferred one only. Bytes cannot be replayed to another destination once
// the caller starts writing, so there is no fallback.
type writerCommand struct {
	domain, key, storageClass string
	expectedLength            int64
	connections               transport.ConnectionFactory
	metrics                   Metrics
	guard                     *lockGuard

	stream *outputStream
}

func (c *writerCommand) name() string { return "writer" }

func (c *writerCommand) execute(ctx context.Context, t tracker.Tracker) error {
	dests, err := t.WriteDestinations(ctx, c.domain, c.key, c.storageClass, c.expectedLength)
	if err != nil {
		return err
	}
	dest, err := firstDestination(dests)
	if err != nil {
		return err
	}

	upload, err := c.connections.OpenWrite(ctx, dest, c.expectedLength)
	if err != nil {
		return err
	}

	c.stream = &outputStream{
		ctx:            ctx,
		tracker:        t,
		upload:         upload,
		dest:           dest,
		domain:         c.domain,
		key:            c.key,
		expectedLength: c.expectedLength,
		guard:          c.guard,
		metrics:        c.metrics,
	}
	return nil
}
