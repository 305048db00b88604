// Package maintenance serializes operations that walk and mutate the local
// episode cache. Device sync and cache cleanup both move or delete files the
// other one inspects, so at most one of them runs at a time.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrBusy indicates another maintenance operation holds the lock.
var ErrBusy = errors.New("another maintenance operation is in progress")

const retryInterval = 100 * time.Millisecond

// Lock guards cache maintenance with a file lock so that concurrent daemon
// jobs and CLI invocations against the same data directory exclude each other.
type Lock struct {
	path string
}

// NewLock creates a lock rooted in the given data directory.
func NewLock(dataDir string) *Lock {
	return &Lock{path: filepath.Join(dataDir, "maintenance.lock")}
}

// Acquire takes the lock, blocking until it is available or the context ends.
// The returned release function must be called exactly once.
func (l *Lock) Acquire(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure lock directory: %w", err)
	}

	fl := flock.New(l.path)
	ok, err := fl.TryLockContext(ctx, retryInterval)
	if err != nil {
		return nil, fmt.Errorf("acquire maintenance lock: %w", err)
	}
	if !ok {
		return nil, ErrBusy
	}
	return func() { _ = fl.Unlock() }, nil
}

// TryAcquire takes the lock only if it is immediately available.
func (l *Lock) TryAcquire() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure lock directory: %w", err)
	}

	fl := flock.New(l.path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire maintenance lock: %w", err)
	}
	if !ok {
		return nil, ErrBusy
	}
	return func() { _ = fl.Unlock() }, nil
}
