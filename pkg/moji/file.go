package moji

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/marmos91/moji/internal/logger"
	"github.com/marmos91/moji/pkg/tracker"
)

// copyBufferSize is the buffer used by CopyToFile.
const copyBufferSize = 256 * 1024

// File is a handle for one (domain, key) in the store.
//
// All operations are serialized through the handle's read-write lock (see the
// package documentation). Rename and ModifyStorageClass update the handle in
// place; subsequent operations use the new identity.
//
// Thread Safety:
// Safe for concurrent use. Streams returned by Reader and Writer must be
// closed, otherwise conflicting operations on this File block forever.
type File struct {
	client *Client
	domain string

	// lock guards every operation on the file. key and storageClass are only
	// mutated while it is held for writing.
	lock sync.RWMutex

	// idMu lets the accessors read the identity without taking lock.
	idMu         sync.RWMutex
	key          string
	storageClass string
}

// Domain returns the file's domain.
func (f *File) Domain() string {
	return f.domain
}

// Key returns the file's current key.
func (f *File) Key() string {
	f.idMu.RLock()
	defer f.idMu.RUnlock()
	return f.key
}

// StorageClass returns the file's current storage class.
func (f *File) StorageClass() string {
	f.idMu.RLock()
	defer f.idMu.RUnlock()
	return f.storageClass
}

func (f *File) String() string {
	f.idMu.RLock()
	defer f.idMu.RUnlock()
	return fmt.Sprintf("domain=%s,key=%s,class=%s", f.domain, f.key, f.storageClass)
}

// setKey and setStorageClass must be called with the write lock held.
func (f *File) setKey(key string) {
	f.idMu.Lock()
	f.key = key
	f.idMu.Unlock()
}

func (f *File) setStorageClass(storageClass string) {
	f.idMu.Lock()
	f.storageClass = storageClass
	f.idMu.Unlock()
}

// opError wraps err for the File boundary. Must be called with the lock held.
func (f *File) opError(op string, err error) error {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return err
	}
	return &OpError{Op: op, Domain: f.domain, Key: f.key, Err: err}
}

// ============================================================================
// Shared-lock operations
// ============================================================================

// Exists reports whether the key is known to the tracker.
func (f *File) Exists(ctx context.Context) (bool, error) {
	guard := f.acquire(readLock)
	defer guard.release()

	logger.Debug("exists(): %s", f)
	cmd := &existsCommand{domain: f.domain, key: f.key}
	if err := f.client.execute(ctx, cmd); err != nil {
		return false, f.opError(cmd.name(), err)
	}
	return cmd.exists, nil
}

// Length returns the content length as reported by the preferred replica.
func (f *File) Length(ctx context.Context) (int64, error) {
	guard := f.acquire(readLock)
	defer guard.release()

	logger.Debug("length(): %s", f)
	cmd := &lengthCommand{domain: f.domain, key: f.key, connections: f.client.connections}
	if err := f.client.execute(ctx, cmd); err != nil {
		return 0, f.opError(cmd.name(), err)
	}
	return cmd.length, nil
}

// Attributes returns the tracker's metadata for the file.
func (f *File) Attributes(ctx context.Context) (*tracker.Attributes, error) {
	guard := f.acquire(readLock)
	defer guard.release()

	logger.Debug("attributes(): %s", f)
	cmd := &attributesCommand{domain: f.domain, key: f.key}
	if err := f.client.execute(ctx, cmd); err != nil {
		return nil, f.opError(cmd.name(), err)
	}
	return cmd.attributes, nil
}

// Paths returns the replica URLs known to the tracker. No transfer is made.
func (f *File) Paths(ctx context.Context) ([]*url.URL, error) {
	guard := f.acquire(readLock)
	defer guard.release()

	logger.Debug("paths(): %s", f)
	cmd := &pathsCommand{domain: f.domain, key: f.key}
	if err := f.client.execute(ctx, cmd); err != nil {
		return nil, f.opError(cmd.name(), err)
	}
	return cmd.paths, nil
}

// Reader opens the file's content for reading from the preferred replica.
//
// The read lock is taken before the replicas are resolved and is owned by the
// returned stream until it is closed. If Reader fails, the lock has already
// been released and the File remains usable. A stream that is never closed
// blocks writers on this File indefinitely.
//
// ctx governs the download for the lifetime of the stream.
func (f *File) Reader(ctx context.Context) (io.ReadCloser, error) {
	guard := f.acquire(readLock)
	transferred := false
	defer func() {
		if !transferred {
			guard.release()
		}
	}()

	logger.Debug("reader(): %s", f)
	cmd := &readerCommand{
		domain:      f.domain,
		key:         f.key,
		connections: f.client.connections,
		metrics:     f.client.metrics,
		guard:       guard,
	}
	if err := f.client.execute(ctx, cmd); err != nil {
		return nil, f.opError(cmd.name(), err)
	}

	transferred = true
	return cmd.stream, nil
}

// CopyToFile downloads the content into the local file at path.
//
// The content is written to a temporary file in the same directory and
// renamed over path once complete, so path never holds partial content.
func (f *File) CopyToFile(ctx context.Context, path string) (err error) {
	r, err := f.Reader(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := r.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	copyErr := func(e error) error {
		return &OpError{Op: "copyToFile", Domain: f.domain, Key: f.Key(), Err: e}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".moji-*")
	if err != nil {
		return copyErr(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriterSize(tmp, copyBufferSize)
	n, err := io.Copy(w, r)
	if err != nil {
		return copyErr(err)
	}
	if err := w.Flush(); err != nil {
		return copyErr(err)
	}
	if err := tmp.Close(); err != nil {
		return copyErr(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return copyErr(err)
	}
	committed = true

	logger.Debug("copyToFile(): %s: %d bytes to %s", f, n, path)
	return nil
}

// ============================================================================
// Exclusive-lock operations
// ============================================================================

// Delete removes the key from the tracker. The handle keeps its key; reusing
// it afterwards operates on a key that no longer exists.
func (f *File) Delete(ctx context.Context) error {
	guard := f.acquire(writeLock)
	defer guard.release()

	logger.Debug("delete(): %s", f)
	cmd := &deleteCommand{domain: f.domain, key: f.key}
	if err := f.client.execute(ctx, cmd); err != nil {
		return f.opError(cmd.name(), err)
	}
	return nil
}

// Rename atomically moves the file to newKey and updates the handle.
//
// If newKey is taken the error unwraps to a *tracker.KeyExistsError naming
// the domain and newKey. The handle's key is unchanged on failure.
func (f *File) Rename(ctx context.Context, newKey string) error {
	if newKey == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}

	guard := f.acquire(writeLock)
	defer guard.release()

	logger.Debug("rename(): %s -> %s", f, newKey)
	cmd := &renameCommand{domain: f.domain, key: f.key, newKey: newKey}
	if err := f.client.execute(ctx, cmd); err != nil {
		return f.opError(cmd.name(), err)
	}

	f.setKey(newKey)
	return nil
}

// ModifyStorageClass changes the file's replication policy.
//
// Returns ErrNoStorageClass without contacting the tracker if the handle was
// created without a storage class.
func (f *File) ModifyStorageClass(ctx context.Context, storageClass string) error {
	if f.StorageClass() == "" {
		return ErrNoStorageClass
	}
	if storageClass == "" {
		return fmt.Errorf("%w: empty storage class", ErrInvalidArgument)
	}

	guard := f.acquire(writeLock)
	defer guard.release()

	logger.Debug("modifyStorageClass(): %s -> %s", f, storageClass)
	cmd := &updateStorageClassCommand{domain: f.domain, key: f.key, storageClass: storageClass}
	if err := f.client.execute(ctx, cmd); err != nil {
		return f.opError(cmd.name(), err)
	}

	f.setStorageClass(storageClass)
	return nil
}

// Put stores data as the file's content.
//
// The tracker's write destinations are tried in order until one accepts the
// whole buffer. If all fail, the error of the last destination is returned.
// The write lock is held for the whole call.
func (f *File) Put(ctx context.Context, data []byte) error {
	guard := f.acquire(writeLock)
	defer guard.release()

	logger.Debug("put(): %s (%d bytes)", f, len(data))
	cmd := &putCommand{
		domain:       f.domain,
		key:          f.key,
		storageClass: f.storageClass,
		data:         data,
		connections:  f.client.connections,
		metrics:      f.client.metrics,
	}
	if err := f.client.execute(ctx, cmd); err != nil {
		return f.opError(cmd.name(), err)
	}
	return nil
}

// Writer opens an upload to the preferred write destination.
//
// Unlike Put, only the first destination is tried. The write lock is owned by
// the returned stream until it is closed; Close commits the upload and
// finalizes it with the tracker. If Writer fails the lock has already been
// released.
//
// ctx governs the upload and the finalization for the lifetime of the stream.
func (f *File) Writer(ctx context.Context) (io.WriteCloser, error) {
	return f.SizedWriter(ctx, -1)
}

// SizedWriter is like Writer for content of a known size. The size is
// announced to the tracker and the storage node, and Close fails with
// ErrLengthMismatch if a different number of bytes was written.
func (f *File) SizedWriter(ctx context.Context, size int64) (io.WriteCloser, error) {
	if size < -1 {
		return nil, fmt.Errorf("%w: negative size %d", ErrInvalidArgument, size)
	}

	guard := f.acquire(writeLock)
	transferred := false
	defer func() {
		if !transferred {
			guard.release()
		}
	}()

	logger.Debug("writer(): %s (expected length %d)", f, size)
	cmd := &writerCommand{
		domain:         f.domain,
		key:            f.key,
		storageClass:   f.storageClass,
		expectedLength: size,
		connections:    f.client.connections,
		metrics:        f.client.metrics,
		guard:          guard,
	}
	if err := f.client.execute(ctx, cmd); err != nil {
		return nil, f.opError(cmd.name(), err)
	}

	transferred = true
	return cmd.stream, nil
}
