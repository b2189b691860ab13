package lock

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout indicates a lock could not be acquired within its timeout.
var ErrTimeout = errors.New("lock acquisition timed out")

// DefaultTimeout is the acquisition timeout used when a caller passes zero.
const DefaultTimeout = 30 * time.Second

// Handle represents a held lock. Release is idempotent: releasing an
// already-released handle is a no-op.
type Handle interface {
	// Path returns the scope path this handle locks.
	Path() string

	// Release releases the lock. Safe to call more than once.
	Release() error
}

// Manager provides exclusive per-path locks.
type Manager interface {
	// Acquire blocks cooperatively until the lock for path is held or the
	// timeout elapses, in which case it returns ErrTimeout. A zero timeout
	// selects DefaultTimeout.
	Acquire(ctx context.Context, path string, timeout time.Duration) (Handle, error)

	// IsLocked reports whether a lock is currently held for path. Advisory
	// only: a lock may be acquired immediately after this returns false, so
	// callers must use it exclusively for diagnostics.
	IsLocked(path string) bool
}

// Disabled is a Manager that performs no locking. Used for read-only
// inspection tools and single-writer scenarios where the caller accepts
// last-writer-wins semantics.
type Disabled struct{}

// NewDisabled creates a no-op lock manager.
func NewDisabled() *Disabled {
	return &Disabled{}
}

// Acquire returns a no-op handle without any contention check.
func (d *Disabled) Acquire(_ context.Context, path string, _ time.Duration) (Handle, error) {
	return noopHandle{path: path}, nil
}

// IsLocked always reports false.
func (d *Disabled) IsLocked(string) bool {
	return false
}

type noopHandle struct {
	path string
}

func (h noopHandle) Path() string   { return h.path }
func (h noopHandle) Release() error { return nil }
