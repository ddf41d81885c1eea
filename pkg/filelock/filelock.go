// Package filelock provides advisory, cross-process mutual exclusion for the
// memory files (spec §5: "an advisory file lock (flock-equivalent) on
// observations.md serializes every mutation and every read that verifies the
// audit chain"). It extends the teacher's in-process sync.Mutex idiom
// (pkg/artifacts/store.go, pkg/capabilities/blob_store.go) with a real
// flock(2) so the guarantee holds across separate processes sharing one
// memory/ directory.
package filelock

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Lock is an advisory lock backed by a sidecar "<path>.lock" file, safe for
// concurrent use by goroutines of one process. It is not re-entrant: a
// second Acquire on the same Lock blocks until Release.
type Lock struct {
	path string
	mu   sync.Mutex // serializes concurrent goroutines in this process
	file *os.File   // held while locked
}

// New returns a Lock guarding the given resource path. The resource itself is
// not opened; a separate "<path>.lock" file is created/used for the flock.
func New(path string) *Lock {
	return &Lock{path: path + ".lock"}
}

// Acquire blocks until the exclusive lock is held. Release must be called
// exactly once per successful Acquire.
func (l *Lock) Acquire() error {
	l.mu.Lock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("filelock: open %s: %w", l.path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		_ = f.Close()
		l.mu.Unlock()
		return fmt.Errorf("filelock: flock %s: %w", l.path, err)
	}

	l.file = f
	return nil
}

// Release unlocks and closes the sidecar file.
func (l *Lock) Release() error {
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("filelock: unlock %s: %w", l.path, err)
	}
	if closeErr != nil {
		return fmt.Errorf("filelock: close %s: %w", l.path, closeErr)
	}
	return nil
}

// With runs fn while holding the lock, always releasing afterward.
func (l *Lock) With(fn func() error) error {
	if err := l.Acquire(); err != nil {
		return err
	}
	defer func() { _ = l.Release() }()
	return fn()
}
