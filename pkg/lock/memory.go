package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryManager implements Manager with an in-process mutex table keyed by
// path. It provides no cross-process safety.
type MemoryManager struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewMemoryManager creates an in-memory lock manager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		locks: make(map[string]chan struct{}),
	}
}

// Acquire blocks until the path lock is free or the timeout elapses.
func (m *MemoryManager) Acquire(ctx context.Context, path string, timeout time.Duration) (Handle, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		m.mu.Lock()
		held, ok := m.locks[path]
		if !ok {
			released := make(chan struct{})
			m.locks[path] = released
			m.mu.Unlock()
			return &memoryHandle{mgr: m, path: path, released: released}, nil
		}
		m.mu.Unlock()

		// Wait for the current holder to release, then race to acquire.
		select {
		case <-held:
		case <-deadline.C:
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// IsLocked reports whether the path lock is currently held.
func (m *MemoryManager) IsLocked(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.locks[path]
	return held
}

type memoryHandle struct {
	mgr      *MemoryManager
	path     string
	released chan struct{}
	once     sync.Once
}

func (h *memoryHandle) Path() string {
	return h.path
}

func (h *memoryHandle) Release() error {
	h.once.Do(func() {
		h.mgr.mu.Lock()
		delete(h.mgr.locks, h.path)
		h.mgr.mu.Unlock()
		close(h.released)
	})
	return nil
}
