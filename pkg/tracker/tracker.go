// Package tracker defines the tracking-service capability used by moji clients.
//
// A tracker maps a (domain, key) pair to the storage-node locations holding
// the file's replicas and manages the key's lifecycle metadata (creation,
// rename, deletion, storage class). The moji core treats a Tracker as a black
// box that either returns or fails; any timeout policy lives in the
// implementation or in the context passed to each call.
//
// Implementations:
//   - pkg/tracker/memory: in-process tracker (tests, development, single node)
//   - pkg/tracker/badger: persistent tracker backed by BadgerDB
//
// Write protocol:
//
//	dests, err := t.WriteDestinations(ctx, domain, key, class, size)
//	// upload bytes to one of dests ...
//	err = t.Finalize(ctx, domain, key, dests[i], written)
//
// A key only becomes visible to Exists/ReadDestinations once Finalize has
// committed one of the destinations returned by WriteDestinations.
package tracker

import (
	"context"
	"fmt"
)

// Destination is one physical storage-node location for a file.
//
// Destination lists are ordered by priority: the first entry is preferred.
type Destination struct {
	// URL locates the replica on a storage node (http://, s3://, minio://, memory://)
	URL string `json:"url"`

	// DevID identifies the storage device holding the replica
	DevID int64 `json:"dev_id"`

	// FID is the tracker file id the location belongs to.
	// For write destinations it identifies the pending open to finalize.
	FID int64 `json:"fid"`
}

func (d Destination) String() string {
	return fmt.Sprintf("dev%d:%s", d.DevID, d.URL)
}

// Attributes describes a committed file as reported by the tracker.
type Attributes struct {
	Domain       string `json:"domain"`
	Key          string `json:"key"`
	StorageClass string `json:"storage_class"`
	Length       int64  `json:"length"`
	DeviceCount  int    `json:"device_count"`
	FID          int64  `json:"fid"`
}

// Tracker is the tracking-service capability consumed by the moji core.
//
// All methods must be safe for concurrent use by multiple goroutines.
type Tracker interface {
	// Exists reports whether key is known in domain.
	Exists(ctx context.Context, domain, key string) (bool, error)

	// ReadDestinations returns the replicas of a committed key in priority order.
	// Returns ErrKeyNotFound for unknown keys.
	ReadDestinations(ctx context.Context, domain, key string) ([]Destination, error)

	// WriteDestinations opens a new version of key and returns candidate
	// locations to upload it to, in priority order. expectedLength is -1
	// when unknown. Returns ErrNoDestinations when no node can take the file.
	WriteDestinations(ctx context.Context, domain, key, storageClass string, expectedLength int64) ([]Destination, error)

	// Finalize commits an upload of size bytes to dest, making it the current
	// content of key. dest must come from WriteDestinations for the same key.
	Finalize(ctx context.Context, domain, key string, dest Destination, size int64) error

	// Delete removes key from domain. Returns ErrKeyNotFound for unknown keys.
	Delete(ctx context.Context, domain, key string) error

	// Rename atomically reassigns fromKey to toKey.
	// Returns a *KeyExistsError when toKey is already taken.
	Rename(ctx context.Context, domain, fromKey, toKey string) error

	// UpdateStorageClass changes the replication policy of key.
	UpdateStorageClass(ctx context.Context, domain, key, storageClass string) error

	// Attributes returns metadata about key.
	Attributes(ctx context.Context, domain, key string) (*Attributes, error)

	// Paths returns the raw replica URLs of key.
	Paths(ctx context.Context, domain, key string) ([]string, error)

	// Close releases resources. Further calls fail with ErrClosed.
	Close() error
}

// KeyLister is implemented by trackers that can enumerate the keys of a domain.
type KeyLister interface {
	// ListKeys returns up to limit keys of domain starting with prefix, in
	// lexical order. limit <= 0 means no limit.
	ListKeys(ctx context.Context, domain, prefix string, limit int) ([]string, error)
}
