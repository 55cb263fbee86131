package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/moji/internal/logger"
	"github.com/marmos91/moji/pkg/tracker"
)

// maxConflictRetries bounds how often a transaction is retried after
// badger.ErrConflict before the error is returned to the caller.
const maxConflictRetries = 5

// BadgerTracker implements tracker.Tracker with state persisted in BadgerDB.
//
// It provides the same semantics as the in-memory tracker but survives
// restarts, which makes it suitable for single-host deployments and for the
// CLI (whose process lifetime is a single command).
//
// Thread Safety:
// BadgerDB transactions are serializable; concurrent updates touching the same
// keys are retried on badger.ErrConflict.
type BadgerTracker struct {
	db         *badger.DB
	seq        *badger.Sequence
	placement  *tracker.Placement
	pendingTTL time.Duration
	closed     atomic.Bool
}

// BadgerTrackerConfig contains configuration for the BadgerDB tracker.
type BadgerTrackerConfig struct {
	// DBPath is the directory where BadgerDB stores its files
	DBPath string `mapstructure:"db_path"`

	// InMemory keeps the database in memory (tests only)
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`

	// Nodes are the storage devices write destinations are allocated on
	Nodes []tracker.Node `mapstructure:"nodes"`

	// PendingTTL is how long an unfinalized write is kept before BadgerDB
	// expires it (default: tracker.DefaultPendingTTL)
	PendingTTL time.Duration `mapstructure:"pending_ttl"`
}

// NewBadgerTracker opens (or creates) the database and returns a tracker over it.
func NewBadgerTracker(ctx context.Context, cfg BadgerTrackerConfig) (*BadgerTracker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.DBPath == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger tracker: db_path is required")
	}

	placement, err := tracker.NewPlacement(cfg.Nodes)
	if err != nil {
		return nil, fmt.Errorf("invalid badger tracker config: %w", err)
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.DBPath)
	}

	// Tracker records are small JSON documents
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	seq, err := db.GetSequence([]byte(keyFIDSeq), 64)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open fid sequence: %w", err)
	}

	pendingTTL := cfg.PendingTTL
	if pendingTTL <= 0 {
		pendingTTL = tracker.DefaultPendingTTL
	}

	return &BadgerTracker{
		db:         db,
		seq:        seq,
		placement:  placement,
		pendingTTL: pendingTTL,
	}, nil
}

func (t *BadgerTracker) precheck(ctx context.Context, domain, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.closed.Load() {
		return tracker.ErrClosed
	}
	return tracker.ValidateKey(domain, key)
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (t *BadgerTracker) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = t.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		logger.Debug("badger tracker: transaction conflict, retrying (attempt %d)", attempt+1)
	}
	return err
}

func getJSON(txn *badger.Txn, k []byte, v any) error {
	item, err := txn.Get(k)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(k, data)
}

func setJSONWithTTL(txn *badger.Txn, k []byte, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.SetEntry(badger.NewEntry(k, data).WithTTL(ttl))
}

// deleteSupersededOpens removes pending opens of domain/key older than fid.
func deleteSupersededOpens(txn *badger.Txn, domain, key string, fid int64) error {
	var stale [][]byte

	it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefixPending), PrefetchValues: true})
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		var open tracker.PendingOpen
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &open)
		}); err != nil {
			it.Close()
			return err
		}
		otherFID := fidFromPendingKey(item.Key())
		if tracker.Supersedes(domain, key, fid, open, otherFID) {
			stale = append(stale, item.KeyCopy(nil))
		}
	}
	it.Close()

	for _, k := range stale {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// getRecord loads the committed record of key, mapping a missing entry to
// tracker.ErrKeyNotFound.
func getRecord(txn *badger.Txn, domain, key string) (*tracker.FileRecord, error) {
	var rec tracker.FileRecord
	if err := getJSON(txn, fileKey(domain, key), &rec); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("domain=%s,key=%s: %w", domain, key, tracker.ErrKeyNotFound)
		}
		return nil, fmt.Errorf("failed to load domain=%s,key=%s: %w", domain, key, err)
	}
	return &rec, nil
}

func (t *BadgerTracker) Exists(ctx context.Context, domain, key string) (bool, error) {
	if err := t.precheck(ctx, domain, key); err != nil {
		return false, err
	}

	exists := false
	err := t.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(fileKey(domain, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

func (t *BadgerTracker) ReadDestinations(ctx context.Context, domain, key string) ([]tracker.Destination, error) {
	if err := t.precheck(ctx, domain, key); err != nil {
		return nil, err
	}

	var dests []tracker.Destination
	err := t.db.View(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, domain, key)
		if err != nil {
			return err
		}
		dests = rec.ReadDestinations(t.placement)
		return nil
	})
	return dests, err
}

func (t *BadgerTracker) WriteDestinations(ctx context.Context, domain, key, storageClass string, expectedLength int64) ([]tracker.Destination, error) {
	if err := t.precheck(ctx, domain, key); err != nil {
		return nil, err
	}

	next, err := t.seq.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate fid: %w", err)
	}
	fid := int64(next) + 1

	dests := t.placement.Destinations(fid)
	if len(dests) == 0 {
		return nil, fmt.Errorf("domain=%s,key=%s,storageClass=%s: %w",
			domain, key, storageClass, tracker.ErrNoDestinations)
	}

	err = t.update(func(txn *badger.Txn) error {
		return setJSONWithTTL(txn, pendingKey(fid), tracker.PendingOpen{
			Domain:       domain,
			Key:          key,
			StorageClass: storageClass,
			Opened:       time.Now(),
		}, t.pendingTTL)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record open for domain=%s,key=%s: %w", domain, key, err)
	}

	return dests, nil
}

func (t *BadgerTracker) Finalize(ctx context.Context, domain, key string, dest tracker.Destination, size int64) error {
	if err := t.precheck(ctx, domain, key); err != nil {
		return err
	}
	if _, ok := t.placement.Node(dest.DevID); !ok {
		return fmt.Errorf("domain=%s,key=%s: unknown device %d", domain, key, dest.DevID)
	}

	return t.update(func(txn *badger.Txn) error {
		var open tracker.PendingOpen
		if err := getJSON(txn, pendingKey(dest.FID), &open); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("domain=%s,key=%s,fid=%d: %w", domain, key, dest.FID, tracker.ErrUnknownFID)
			}
			return err
		}
		if open.Domain != domain || open.Key != key {
			return fmt.Errorf("domain=%s,key=%s,fid=%d: %w", domain, key, dest.FID, tracker.ErrUnknownFID)
		}

		if err := txn.Delete(pendingKey(dest.FID)); err != nil {
			return err
		}
		if err := deleteSupersededOpens(txn, domain, key, dest.FID); err != nil {
			return err
		}
		return setJSON(txn, fileKey(domain, key), tracker.FileRecord{
			FID:          dest.FID,
			StorageClass: open.StorageClass,
			Length:       size,
			Devices:      []int64{dest.DevID},
		})
	})
}

func (t *BadgerTracker) Delete(ctx context.Context, domain, key string) error {
	if err := t.precheck(ctx, domain, key); err != nil {
		return err
	}

	return t.update(func(txn *badger.Txn) error {
		if _, err := getRecord(txn, domain, key); err != nil {
			return err
		}
		return txn.Delete(fileKey(domain, key))
	})
}

func (t *BadgerTracker) Rename(ctx context.Context, domain, fromKey, toKey string) error {
	if err := t.precheck(ctx, domain, fromKey); err != nil {
		return err
	}
	if err := tracker.ValidateKey(domain, toKey); err != nil {
		return err
	}

	return t.update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, domain, fromKey)
		if err != nil {
			return err
		}

		_, err = txn.Get(fileKey(domain, toKey))
		if err == nil {
			return &tracker.KeyExistsError{Domain: domain, Key: toKey}
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Delete(fileKey(domain, fromKey)); err != nil {
			return err
		}
		return setJSON(txn, fileKey(domain, toKey), rec)
	})
}

func (t *BadgerTracker) UpdateStorageClass(ctx context.Context, domain, key, storageClass string) error {
	if err := t.precheck(ctx, domain, key); err != nil {
		return err
	}

	return t.update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, domain, key)
		if err != nil {
			return err
		}
		rec.StorageClass = storageClass
		return setJSON(txn, fileKey(domain, key), rec)
	})
}

func (t *BadgerTracker) Attributes(ctx context.Context, domain, key string) (*tracker.Attributes, error) {
	if err := t.precheck(ctx, domain, key); err != nil {
		return nil, err
	}

	var attrs *tracker.Attributes
	err := t.db.View(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, domain, key)
		if err != nil {
			return err
		}
		attrs = rec.Attributes(domain, key)
		return nil
	})
	return attrs, err
}

func (t *BadgerTracker) Paths(ctx context.Context, domain, key string) ([]string, error) {
	if err := t.precheck(ctx, domain, key); err != nil {
		return nil, err
	}

	var paths []string
	err := t.db.View(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, domain, key)
		if err != nil {
			return err
		}
		paths = rec.Paths(t.placement)
		return nil
	})
	return paths, err
}

// ListKeys returns up to limit keys of domain starting with prefix, in
// lexical order. limit <= 0 means no limit.
func (t *BadgerTracker) ListKeys(ctx context.Context, domain, prefix string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.closed.Load() {
		return nil, tracker.ErrClosed
	}

	base := domainPrefix(domain)
	seek := append(append([]byte(nil), base...), prefix...)

	var keys []string
	err := t.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(seek); it.Next() {
			if limit > 0 && len(keys) >= limit {
				break
			}
			k := string(it.Item().Key()[len(base):])
			if !strings.HasPrefix(k, prefix) {
				break
			}
			keys = append(keys, k)
		}
		return nil
	})
	return keys, err
}

// Close releases the fid sequence and closes the database.
func (t *BadgerTracker) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := t.seq.Release(); err != nil {
		logger.Warn("badger tracker: failed to release fid sequence: %v", err)
	}
	return t.db.Close()
}
