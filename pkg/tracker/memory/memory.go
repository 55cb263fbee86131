package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/moji/pkg/tracker"
)

// MemoryTracker implements tracker.Tracker with in-process state.
//
// It is designed for:
//   - Testing and development
//   - Single-process deployments where tracker state may be lost on restart
//
// Characteristics:
//   - Volatile: all keys are lost when the process exits
//   - Thread-safe: protected by a RWMutex
//   - Replication: a finalized file lives on the single device it was
//     written to (no background replication)
type MemoryTracker struct {
	mu        sync.RWMutex
	placement *tracker.Placement

	// files maps domain -> key -> committed record
	files map[string]map[string]*tracker.FileRecord

	// pending maps fid -> open write awaiting Finalize
	pending map[int64]tracker.PendingOpen

	pendingTTL time.Duration

	nextFID int64
	closed  bool
}

// MemoryTrackerConfig contains configuration for the in-memory tracker.
type MemoryTrackerConfig struct {
	// Nodes are the storage devices write destinations are allocated on
	Nodes []tracker.Node `mapstructure:"nodes"`

	// PendingTTL is how long an unfinalized write is remembered
	// (default: tracker.DefaultPendingTTL)
	PendingTTL time.Duration `mapstructure:"pending_ttl"`
}

// NewMemoryTracker creates an empty in-memory tracker.
func NewMemoryTracker(cfg MemoryTrackerConfig) (*MemoryTracker, error) {
	placement, err := tracker.NewPlacement(cfg.Nodes)
	if err != nil {
		return nil, fmt.Errorf("invalid memory tracker config: %w", err)
	}

	ttl := cfg.PendingTTL
	if ttl <= 0 {
		ttl = tracker.DefaultPendingTTL
	}

	return &MemoryTracker{
		placement:  placement,
		pendingTTL: ttl,
		files:      make(map[string]map[string]*tracker.FileRecord),
		pending:    make(map[int64]tracker.PendingOpen),
	}, nil
}

// lookupLocked returns the record for key. Caller must hold mu.
func (t *MemoryTracker) lookupLocked(domain, key string) (*tracker.FileRecord, error) {
	rec, ok := t.files[domain][key]
	if !ok {
		return nil, fmt.Errorf("domain=%s,key=%s: %w", domain, key, tracker.ErrKeyNotFound)
	}
	return rec, nil
}

// precheckLocked validates the call before any state is touched. Caller must hold mu.
func (t *MemoryTracker) precheckLocked(ctx context.Context, domain, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.closed {
		return tracker.ErrClosed
	}
	return tracker.ValidateKey(domain, key)
}

func (t *MemoryTracker) Exists(ctx context.Context, domain, key string) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.precheckLocked(ctx, domain, key); err != nil {
		return false, err
	}

	_, ok := t.files[domain][key]
	return ok, nil
}

func (t *MemoryTracker) ReadDestinations(ctx context.Context, domain, key string) ([]tracker.Destination, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.precheckLocked(ctx, domain, key); err != nil {
		return nil, err
	}

	rec, err := t.lookupLocked(domain, key)
	if err != nil {
		return nil, err
	}
	return rec.ReadDestinations(t.placement), nil
}

func (t *MemoryTracker) WriteDestinations(ctx context.Context, domain, key, storageClass string, expectedLength int64) ([]tracker.Destination, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.precheckLocked(ctx, domain, key); err != nil {
		return nil, err
	}

	t.nextFID++
	fid := t.nextFID

	dests := t.placement.Destinations(fid)
	if len(dests) == 0 {
		return nil, fmt.Errorf("domain=%s,key=%s,storageClass=%s: %w",
			domain, key, storageClass, tracker.ErrNoDestinations)
	}

	now := time.Now()
	t.expirePendingLocked(now)
	t.pending[fid] = tracker.PendingOpen{Domain: domain, Key: key, StorageClass: storageClass, Opened: now}
	return dests, nil
}

// expirePendingLocked forgets opens older than the pending TTL. Caller must hold mu.
func (t *MemoryTracker) expirePendingLocked(now time.Time) {
	for fid, open := range t.pending {
		if open.Expired(now, t.pendingTTL) {
			delete(t.pending, fid)
		}
	}
}

func (t *MemoryTracker) Finalize(ctx context.Context, domain, key string, dest tracker.Destination, size int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.precheckLocked(ctx, domain, key); err != nil {
		return err
	}

	open, ok := t.pending[dest.FID]
	if !ok || open.Domain != domain || open.Key != key {
		return fmt.Errorf("domain=%s,key=%s,fid=%d: %w", domain, key, dest.FID, tracker.ErrUnknownFID)
	}
	if _, ok := t.placement.Node(dest.DevID); !ok {
		return fmt.Errorf("domain=%s,key=%s: unknown device %d", domain, key, dest.DevID)
	}

	delete(t.pending, dest.FID)
	for fid, other := range t.pending {
		if tracker.Supersedes(domain, key, dest.FID, other, fid) {
			delete(t.pending, fid)
		}
	}

	if t.files[domain] == nil {
		t.files[domain] = make(map[string]*tracker.FileRecord)
	}
	t.files[domain][key] = &tracker.FileRecord{
		FID:          dest.FID,
		StorageClass: open.StorageClass,
		Length:       size,
		Devices:      []int64{dest.DevID},
	}
	return nil
}

func (t *MemoryTracker) Delete(ctx context.Context, domain, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.precheckLocked(ctx, domain, key); err != nil {
		return err
	}
	if _, err := t.lookupLocked(domain, key); err != nil {
		return err
	}

	delete(t.files[domain], key)
	return nil
}

func (t *MemoryTracker) Rename(ctx context.Context, domain, fromKey, toKey string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.precheckLocked(ctx, domain, fromKey); err != nil {
		return err
	}
	if err := tracker.ValidateKey(domain, toKey); err != nil {
		return err
	}

	rec, err := t.lookupLocked(domain, fromKey)
	if err != nil {
		return err
	}
	if _, taken := t.files[domain][toKey]; taken {
		return &tracker.KeyExistsError{Domain: domain, Key: toKey}
	}

	delete(t.files[domain], fromKey)
	t.files[domain][toKey] = rec
	return nil
}

func (t *MemoryTracker) UpdateStorageClass(ctx context.Context, domain, key, storageClass string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.precheckLocked(ctx, domain, key); err != nil {
		return err
	}

	rec, err := t.lookupLocked(domain, key)
	if err != nil {
		return err
	}
	rec.StorageClass = storageClass
	return nil
}

func (t *MemoryTracker) Attributes(ctx context.Context, domain, key string) (*tracker.Attributes, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.precheckLocked(ctx, domain, key); err != nil {
		return nil, err
	}

	rec, err := t.lookupLocked(domain, key)
	if err != nil {
		return nil, err
	}
	return rec.Attributes(domain, key), nil
}

func (t *MemoryTracker) Paths(ctx context.Context, domain, key string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.precheckLocked(ctx, domain, key); err != nil {
		return nil, err
	}

	rec, err := t.lookupLocked(domain, key)
	if err != nil {
		return nil, err
	}
	return rec.Paths(t.placement), nil
}

// ListKeys returns up to limit keys of domain starting with prefix, in
// lexical order. limit <= 0 means no limit.
func (t *MemoryTracker) ListKeys(ctx context.Context, domain, prefix string, limit int) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.closed {
		return nil, tracker.ErrClosed
	}

	keys := make([]string, 0)
	for k := range t.files[domain] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

// PendingCount returns the number of writes opened but not finalized.
func (t *MemoryTracker) PendingCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pending)
}

func (t *MemoryTracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	return nil
}
