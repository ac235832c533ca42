package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/Aman-CERP/indexhost/internal/errors"
)

// heldLocks tracks write locks held by this process. flock alone cannot
// detect a second lock attempt from the same process on every platform.
var heldLocks = struct {
	sync.Mutex
	paths map[string]bool
}{paths: make(map[string]bool)}

// writeLock is the exclusive, cross-process write lock of one store.
type writeLock struct {
	path  string
	flock *flock.Flock

	mu     sync.Mutex
	locked bool
}

func newWriteLock(root string) *writeLock {
	path := filepath.Join(root, lockFile)
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return &writeLock{path: path, flock: flock.New(path)}
}

// TryLock acquires the lock without blocking. A lock held by another
// writer, in this process or another, fails with ErrWriteLockContention.
func (l *writeLock) TryLock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locked {
		return errors.WriteLockContention(filepath.Dir(l.path), nil)
	}

	heldLocks.Lock()
	defer heldLocks.Unlock()
	if heldLocks.paths[l.path] {
		return errors.WriteLockContention(filepath.Dir(l.path), nil)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire write lock: %w", err)
	}
	if !acquired {
		return errors.WriteLockContention(filepath.Dir(l.path), nil)
	}

	heldLocks.paths[l.path] = true
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call on an unlocked writeLock.
func (l *writeLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.locked {
		return nil
	}
	l.locked = false

	heldLocks.Lock()
	delete(heldLocks.paths, l.path)
	heldLocks.Unlock()

	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release write lock: %w", err)
	}
	return nil
}
