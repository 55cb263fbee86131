// Package node implements a minimal moji storage node.
//
// A storage node serves the http destinations handed out by a tracker. Each
// destination path (for example "/dev1/0000000042.fid") maps to one file below
// the node root directory. The node speaks plain HTTP:
//
//	GET    /<path>  download content
//	HEAD   /<path>  content length
//	PUT    /<path>  upload content (committed atomically on completion)
//	DELETE /<path>  remove content
//
// The node is intended for development and tests; it performs no replication
// and trusts its tracker.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates no content is stored at the requested path.
	ErrNotFound = errors.New("content not found")

	// ErrInvalidPath indicates a path that escapes the node root or names no file.
	ErrInvalidPath = errors.New("invalid content path")

	// ErrLengthMismatch indicates an upload whose size differs from the announced length.
	ErrLengthMismatch = errors.New("uploaded length does not match announced length")
)

// tempPrefix marks in-flight uploads. Files carrying it are never served.
const tempPrefix = ".upload-"

// Store keeps node content on the local filesystem.
//
// Uploads are written to a uniquely named temporary file next to their final
// location and renamed into place only once complete, so readers never observe
// partial content.
//
// Thread Safety:
// Concurrent uploads to the same path are safe; the last rename wins.
type Store struct {
	root string
}

// NewStore creates a store rooted at root, creating the directory if needed.
//
// Parameters:
//   - ctx: Context for cancellation
//   - root: Directory holding node content
//
// Returns:
//   - *Store: Initialized store
//   - error: Returns error if the directory cannot be created or ctx is cancelled
func NewStore(ctx context.Context, root string) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if root == "" {
		return nil, fmt.Errorf("node root directory is required")
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create node root: %w", err)
	}

	return &Store{root: root}, nil
}

// Root returns the node root directory.
func (s *Store) Root() string {
	return s.root
}

// resolve maps a request path to a file below the root.
//
// The path is cleaned as an absolute slash path first, so ".." segments can
// never climb above the root.
func (s *Store) resolve(name string) (string, error) {
	clean := path.Clean("/" + name)
	if clean == "/" || strings.HasPrefix(path.Base(clean), tempPrefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Open opens the content at name for reading.
//
// Returns:
//   - *os.File: Open file; the caller must close it
//   - int64: Content length
//   - error: ErrNotFound if nothing is stored at name
func (s *Store) Open(ctx context.Context, name string) (*os.File, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	p, err := s.resolve(name)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, 0, fmt.Errorf("failed to open content: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("failed to stat content: %w", err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	return f, info.Size(), nil
}

// Size returns the length of the content at name.
func (s *Store) Size(ctx context.Context, name string) (int64, error) {
	f, size, err := s.Open(ctx, name)
	if err != nil {
		return 0, err
	}
	_ = f.Close()
	return size, nil
}

// Put stores everything read from r at name.
//
// The content only becomes visible once r reached EOF without error and, when
// expectedLength is not negative, exactly expectedLength bytes were read.
// Otherwise the temporary file is removed and nothing changes at name.
//
// Parameters:
//   - ctx: Context for cancellation, checked between chunks
//   - name: Destination path
//   - r: Content source
//   - expectedLength: Announced length, or -1 when unknown
//
// Returns:
//   - int64: Bytes stored
//   - error: Returns error on I/O failure, length mismatch, or cancellation
func (s *Store) Put(ctx context.Context, name string, r io.Reader, expectedLength int64) (int64, error) {
	// ========================================================================
	// Step 1: Validate and prepare the target directory
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p, err := s.resolve(name)
	if err != nil {
		return 0, err
	}

	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create content directory: %w", err)
	}

	// ========================================================================
	// Step 2: Stream into a temporary file
	// ========================================================================

	tmpPath := filepath.Join(dir, tempPrefix+uuid.NewString())
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	n, err := copyWithContext(ctx, tmp, r)
	if err != nil {
		return n, err
	}
	if expectedLength >= 0 && n != expectedLength {
		return n, fmt.Errorf("%w: announced %d, received %d", ErrLengthMismatch, expectedLength, n)
	}

	// ========================================================================
	// Step 3: Commit by renaming into place
	// ========================================================================

	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, p); err != nil {
		_ = os.Remove(tmpPath)
		committed = true
		return n, fmt.Errorf("failed to commit content: %w", err)
	}
	committed = true

	return n, nil
}

// Delete removes the content at name.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := s.resolve(name)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to delete content: %w", err)
	}
	return nil
}

// copyWithContext copies in 1MB chunks, checking ctx between chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	const chunkSize = 1 * 1024 * 1024

	buf := make([]byte, chunkSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, fmt.Errorf("failed to write content chunk: %w", err)
			}
			total += int64(n)
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, fmt.Errorf("failed to read upload: %w", readErr)
		}
	}
}
