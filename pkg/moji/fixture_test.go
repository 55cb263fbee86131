package moji

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/moji/pkg/tracker"
	"github.com/marmos91/moji/pkg/tracker/memory"
	memtransport "github.com/marmos91/moji/pkg/transport/memory"
)

const (
	testDomain = "testdomain"
	testClass  = "default"

	// blockTimeout is how long a test waits before concluding an operation is blocked.
	blockTimeout = 100 * time.Millisecond
)

var testNodes = []tracker.Node{
	{DevID: 1, URL: "memory://node1"},
	{DevID: 2, URL: "memory://node2"},
	{DevID: 3, URL: "memory://node3"},
}

// countingTracker wraps the memory tracker, counts calls, and returns write
// destinations ordered by device id so tests can target them.
type countingTracker struct {
	*memory.MemoryTracker
	calls atomic.Int64
}

func (t *countingTracker) Exists(ctx context.Context, domain, key string) (bool, error) {
	t.calls.Add(1)
	return t.MemoryTracker.Exists(ctx, domain, key)
}

func (t *countingTracker) ReadDestinations(ctx context.Context, domain, key string) ([]tracker.Destination, error) {
	t.calls.Add(1)
	return t.MemoryTracker.ReadDestinations(ctx, domain, key)
}

func (t *countingTracker) WriteDestinations(ctx context.Context, domain, key, storageClass string, expectedLength int64) ([]tracker.Destination, error) {
	t.calls.Add(1)
	dests, err := t.MemoryTracker.WriteDestinations(ctx, domain, key, storageClass, expectedLength)
	sort.Slice(dests, func(i, j int) bool { return dests[i].DevID < dests[j].DevID })
	return dests, err
}

func (t *countingTracker) Finalize(ctx context.Context, domain, key string, dest tracker.Destination, size int64) error {
	t.calls.Add(1)
	return t.MemoryTracker.Finalize(ctx, domain, key, dest, size)
}

func (t *countingTracker) Delete(ctx context.Context, domain, key string) error {
	t.calls.Add(1)
	return t.MemoryTracker.Delete(ctx, domain, key)
}

func (t *countingTracker) Rename(ctx context.Context, domain, fromKey, toKey string) error {
	t.calls.Add(1)
	return t.MemoryTracker.Rename(ctx, domain, fromKey, toKey)
}

func (t *countingTracker) UpdateStorageClass(ctx context.Context, domain, key, storageClass string) error {
	t.calls.Add(1)
	return t.MemoryTracker.UpdateStorageClass(ctx, domain, key, storageClass)
}

func (t *countingTracker) Attributes(ctx context.Context, domain, key string) (*tracker.Attributes, error) {
	t.calls.Add(1)
	return t.MemoryTracker.Attributes(ctx, domain, key)
}

func (t *countingTracker) Paths(ctx context.Context, domain, key string) ([]string, error) {
	t.calls.Add(1)
	return t.MemoryTracker.Paths(ctx, domain, key)
}

type fixture struct {
	tracker   *countingTracker
	transport *memtransport.MemoryTransport
	client    *Client
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	mt, err := memory.NewMemoryTracker(memory.MemoryTrackerConfig{Nodes: testNodes})
	require.NoError(t, err)

	f := &fixture{
		tracker:   &countingTracker{MemoryTracker: mt},
		transport: memtransport.NewMemoryTransport(),
	}
	f.client = New(f.tracker, f.transport, opts...)
	t.Cleanup(func() { _ = f.client.Close() })
	return f
}

// file returns a handle for key with the default test class.
func (f *fixture) file(key string) *File {
	return f.client.File(testDomain, key, testClass)
}

// mustPut stores data at key through a separate handle.
func (f *fixture) mustPut(t *testing.T, key string, data []byte) {
	t.Helper()
	require.NoError(t, f.file(key).Put(t.Context(), data))
}

// async runs fn in a goroutine and returns a channel closed when it returns.
func async(fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	return done
}

func requireBlocked(t *testing.T, done <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-done:
		t.Fatalf("operation completed but should be blocked: %s", msg)
	case <-time.After(blockTimeout):
	}
}

func requireCompletes(t *testing.T, done <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("operation did not complete: %s", msg)
	}
}

// recordingMetrics is a Metrics implementation that records every call.
type recordingMetrics struct {
	mu       sync.Mutex
	commands map[string]int
	failed   map[string]int
	bytes    map[string]int64
	attempts map[string]int
	waits    map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		commands: make(map[string]int),
		failed:   make(map[string]int),
		bytes:    make(map[string]int64),
		attempts: make(map[string]int),
		waits:    make(map[string]int),
	}
}

func (m *recordingMetrics) ObserveCommand(command string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[command]++
	if err != nil {
		m.failed[command]++
	}
}

func (m *recordingMetrics) RecordBytes(direction string, bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes[direction] += bytes
}

func (m *recordingMetrics) RecordDestinationAttempt(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[outcome]++
}

func (m *recordingMetrics) ObserveLockWait(mode string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waits[mode]++
}
