package moji

import (
	"sync"
	"time"
)

type lockMode int

const (
	readLock lockMode = iota
	writeLock
)

func (m lockMode) String() string {
	if m == writeLock {
		return "write"
	}
	return "read"
}

// lockGuard owns one acquisition of a file lock.
//
// Exactly one party owns a guard at a time: the File operation that acquired
// it, or the stream it was handed to. release is safe to call any number of
// times from any goroutine; only the first call unlocks.
type lockGuard struct {
	once   sync.Once
	unlock func()
}

// release unlocks the file and reports whether this call did so.
func (g *lockGuard) release() bool {
	released := false
	g.once.Do(func() {
		g.unlock()
		released = true
	})
	return released
}

// acquire blocks until the file lock is held in the given mode.
//
// Acquisition is not cancellable: a leaked stream blocks conflicting
// acquisitions on the same file forever.
func (f *File) acquire(mode lockMode) *lockGuard {
	start := time.Now()

	var unlock func()
	if mode == writeLock {
		f.lock.Lock()
		unlock = f.lock.Unlock
	} else {
		f.lock.RLock()
		unlock = f.lock.RUnlock
	}

	f.client.metrics.ObserveLockWait(mode.String(), time.Since(start))
	return &lockGuard{unlock: unlock}
}
