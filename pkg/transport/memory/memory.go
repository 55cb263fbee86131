package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/marmos91/moji/pkg/tracker"
	"github.com/marmos91/moji/pkg/transport"
)

// Scheme is the URL scheme served by MemoryTransport.
const Scheme = "memory"

// MemoryTransport implements transport.ConnectionFactory with in-memory storage nodes.
//
// Content is keyed by destination URL. The transport is designed for tests
// and development and supports fault injection by URL prefix, so a fault can
// target one destination or a whole node ("memory://node1/"):
//   - FailOpenRead / FailOpenWrite: the open call fails
//   - FailWrite: writes to an upload fail
//   - FailCommit: closing an upload fails
//
// It also tracks how many uploads and downloads are open at any moment, so
// tests can assert that failed attempts release their transports.
//
// Thread Safety:
// All operations are protected by a mutex.
type MemoryTransport struct {
	mu sync.Mutex

	// objects stores committed content keyed by destination URL
	objects map[string][]byte

	failOpenRead  map[string]error
	failOpenWrite map[string]error
	failWrite     map[string]error
	failCommit    map[string]error

	openUploads    int
	maxOpenUploads int
	openReads      int
	writeAttempts  []string
}

// NewMemoryTransport creates an empty transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		objects:       make(map[string][]byte),
		failOpenRead:  make(map[string]error),
		failOpenWrite: make(map[string]error),
		failWrite:     make(map[string]error),
		failCommit:    make(map[string]error),
	}
}

// ============================================================================
// Fault injection and inspection
// ============================================================================

// Store seeds content at url.
func (m *MemoryTransport) Store(url string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[url] = append([]byte(nil), data...)
}

// Load returns the content committed at url.
func (m *MemoryTransport) Load(url string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[url]
	return append([]byte(nil), data...), ok
}

// FailOpenRead makes OpenRead and ContentLength of URLs starting with prefix
// fail with err. A nil err clears the fault.
func (m *MemoryTransport) FailOpenRead(prefix string, err error) {
	m.setFault(m.failOpenRead, prefix, err)
}

// FailOpenWrite makes OpenWrite of URLs starting with prefix fail with err.
// A nil err clears the fault.
func (m *MemoryTransport) FailOpenWrite(prefix string, err error) {
	m.setFault(m.failOpenWrite, prefix, err)
}

// FailWrite makes writes to uploads of URLs starting with prefix fail with err.
func (m *MemoryTransport) FailWrite(prefix string, err error) {
	m.setFault(m.failWrite, prefix, err)
}

// FailCommit makes closing uploads of URLs starting with prefix fail with err.
func (m *MemoryTransport) FailCommit(prefix string, err error) {
	m.setFault(m.failCommit, prefix, err)
}

func (m *MemoryTransport) setFault(faults map[string]error, prefix string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(faults, prefix)
		return
	}
	faults[prefix] = err
}

// faultLocked returns the fault registered for the longest prefix of url.
func faultLocked(faults map[string]error, url string) error {
	var match string
	var fault error
	for prefix, err := range faults {
		if strings.HasPrefix(url, prefix) && len(prefix) >= len(match) {
			match, fault = prefix, err
		}
	}
	return fault
}

// OpenUploads returns the number of uploads currently open.
func (m *MemoryTransport) OpenUploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openUploads
}

// MaxOpenUploads returns the highest number of simultaneously open uploads seen.
func (m *MemoryTransport) MaxOpenUploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxOpenUploads
}

// OpenReads returns the number of downloads currently open.
func (m *MemoryTransport) OpenReads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openReads
}

// WriteAttempts returns the URLs passed to OpenWrite, in call order.
func (m *MemoryTransport) WriteAttempts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.writeAttempts...)
}

// ============================================================================
// ConnectionFactory implementation
// ============================================================================

func (m *MemoryTransport) OpenRead(ctx context.Context, dest tracker.Destination) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := faultLocked(m.failOpenRead, dest.URL); err != nil {
		return nil, fmt.Errorf("GET %s: %w", dest.URL, err)
	}

	data, ok := m.objects[dest.URL]
	if !ok {
		return nil, fmt.Errorf("GET %s: %w", dest.URL, transport.ErrNotFound)
	}

	m.openReads++
	return &memoryReader{
		Reader:    bytes.NewReader(append([]byte(nil), data...)),
		transport: m,
	}, nil
}

func (m *MemoryTransport) OpenWrite(ctx context.Context, dest tracker.Destination, expectedLength int64) (transport.Upload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeAttempts = append(m.writeAttempts, dest.URL)

	if err := faultLocked(m.failOpenWrite, dest.URL); err != nil {
		return nil, fmt.Errorf("PUT %s: %w", dest.URL, err)
	}

	m.openUploads++
	if m.openUploads > m.maxOpenUploads {
		m.maxOpenUploads = m.openUploads
	}

	return &memoryUpload{
		transport:      m,
		url:            dest.URL,
		expectedLength: expectedLength,
	}, nil
}

func (m *MemoryTransport) ContentLength(ctx context.Context, dest tracker.Destination) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := faultLocked(m.failOpenRead, dest.URL); err != nil {
		return 0, fmt.Errorf("HEAD %s: %w", dest.URL, err)
	}

	data, ok := m.objects[dest.URL]
	if !ok {
		return 0, fmt.Errorf("HEAD %s: %w", dest.URL, transport.ErrNotFound)
	}
	return int64(len(data)), nil
}

// memoryReader decrements the open read count on close.
type memoryReader struct {
	*bytes.Reader
	transport *MemoryTransport
	once      sync.Once
}

func (r *memoryReader) Close() error {
	r.once.Do(func() {
		r.transport.mu.Lock()
		r.transport.openReads--
		r.transport.mu.Unlock()
	})
	return nil
}

// memoryUpload buffers written bytes and commits them on Close.
type memoryUpload struct {
	transport      *MemoryTransport
	url            string
	expectedLength int64
	buf            bytes.Buffer
	done           bool
}

func (u *memoryUpload) Write(p []byte) (int, error) {
	if u.done {
		return 0, fmt.Errorf("PUT %s: upload already finished", u.url)
	}

	u.transport.mu.Lock()
	err := faultLocked(u.transport.failWrite, u.url)
	u.transport.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("PUT %s: %w", u.url, err)
	}

	return u.buf.Write(p)
}

// finish marks the upload done and releases its slot. Reports false if it
// was already finished.
func (u *memoryUpload) finish() bool {
	if u.done {
		return false
	}
	u.done = true

	u.transport.mu.Lock()
	u.transport.openUploads--
	u.transport.mu.Unlock()
	return true
}

func (u *memoryUpload) Close() error {
	if !u.finish() {
		return nil
	}

	if u.expectedLength >= 0 && int64(u.buf.Len()) != u.expectedLength {
		return fmt.Errorf("PUT %s: %w (expected %d, got %d)",
			u.url, transport.ErrShortWrite, u.expectedLength, u.buf.Len())
	}

	u.transport.mu.Lock()
	defer u.transport.mu.Unlock()

	if err := faultLocked(u.transport.failCommit, u.url); err != nil {
		return fmt.Errorf("PUT %s: %w", u.url, err)
	}
	u.transport.objects[u.url] = append([]byte(nil), u.buf.Bytes()...)
	return nil
}

func (u *memoryUpload) Abort() error {
	u.finish()
	return nil
}
