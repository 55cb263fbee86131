// Package moji is a client for a tracker-based replicated file store.
//
// Each logical file is identified by a (domain, key) pair. A Tracker maps the
// pair to the storage nodes holding its replicas, and a ConnectionFactory
// moves the bytes. The client ties both together behind File handles:
//
//	c := moji.New(tr, connections)
//	f := c.File("images", "cat.jpg", "default")
//
//	if err := f.Put(ctx, data); err != nil { ... }
//
//	r, err := f.Reader(ctx)
//	if err != nil { ... }
//	defer r.Close()
//
// Locking:
//
// Every File owns a read-write lock. Exists, Length, Attributes, Paths and
// Reader take it shared; Delete, Rename, ModifyStorageClass, Put and Writer
// take it exclusively. Streams returned by Reader and Writer keep holding the
// lock until they are closed, so a stream that is never closed blocks every
// conflicting operation on that File forever. Always close streams.
//
// Different File values never share a lock, even when they name the same key.
package moji

import (
	"context"
	"time"

	"github.com/marmos91/moji/internal/logger"
	"github.com/marmos91/moji/pkg/tracker"
	"github.com/marmos91/moji/pkg/transport"
)

// Limiter throttles tracker requests. *ratelimiter.RateLimiter implements it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics makes the client report to m. A nil m disables metrics.
func WithMetrics(m Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithRateLimiter makes every command wait for l before contacting the tracker.
func WithRateLimiter(l Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// Client creates File handles bound to one tracker and one connection factory.
//
// Thread Safety:
// Safe for concurrent use.
type Client struct {
	tracker     tracker.Tracker
	connections transport.ConnectionFactory
	metrics     Metrics
	limiter     Limiter
}

// New creates a client.
//
// Parameters:
//   - t: Tracker resolving keys to destinations
//   - connections: Factory opening transfers to storage nodes
//   - opts: Optional metrics and rate limiting
func New(t tracker.Tracker, connections transport.ConnectionFactory, opts ...Option) *Client {
	c := &Client{
		tracker:     t,
		connections: connections,
		metrics:     noopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// File returns a handle for key in domain. storageClass may be empty, in
// which case the tracker default applies and ModifyStorageClass is refused.
//
// No tracker call is made; the key does not need to exist yet.
func (c *Client) File(domain, key, storageClass string) *File {
	return &File{
		client:       c,
		domain:       domain,
		key:          key,
		storageClass: storageClass,
	}
}

// List returns up to limit keys of domain starting with prefix.
// Returns ErrListUnsupported if the tracker cannot enumerate keys.
func (c *Client) List(ctx context.Context, domain, prefix string, limit int) ([]string, error) {
	if _, ok := c.tracker.(tracker.KeyLister); !ok {
		return nil, ErrListUnsupported
	}

	cmd := &listCommand{domain: domain, prefix: prefix, limit: limit}
	if err := c.execute(ctx, cmd); err != nil {
		return nil, &OpError{Op: cmd.name(), Domain: domain, Key: prefix, Err: err}
	}
	return cmd.keys, nil
}

// Close closes the tracker.
func (c *Client) Close() error {
	return c.tracker.Close()
}

// execute runs cmd against the tracker and returns its error unchanged.
func (c *Client) execute(ctx context.Context, cmd command) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	start := time.Now()
	err := cmd.execute(ctx, c.tracker)
	duration := time.Since(start)

	c.metrics.ObserveCommand(cmd.name(), duration, err)
	if err != nil {
		logger.Debug("%s() failed after %s: %v", cmd.name(), duration, err)
	}
	return err
}
