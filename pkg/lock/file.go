package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// pollInterval is the fallback polling cadence while waiting for a lock
// release that fsnotify might have missed.
const pollInterval = 100 * time.Millisecond

// lockInfo is persisted inside each lock file for diagnostics and stale-lock
// detection.
type lockInfo struct {
	Path       string    `json:"path"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// FileManager implements Manager with exclusive lock files on the local
// filesystem, so two processes on the same host cannot mutate the same scope
// concurrently.
type FileManager struct {
	lockDir string
	logger  zerolog.Logger
}

// FileManagerConfig holds file lock manager configuration.
type FileManagerConfig struct {
	// LockDir is the directory holding lock files.
	LockDir string

	// Logger is the parent logger; the manager derives a component logger.
	Logger zerolog.Logger
}

// NewFileManager creates a file-based lock manager, creating LockDir if
// needed.
func NewFileManager(cfg FileManagerConfig) (*FileManager, error) {
	if cfg.LockDir == "" {
		return nil, fmt.Errorf("lock directory is required")
	}
	if err := os.MkdirAll(cfg.LockDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &FileManager{
		lockDir: cfg.LockDir,
		logger:  cfg.Logger.With().Str("component", "lock-manager").Logger(),
	}, nil
}

// lockFile maps a scope path to its lock file location. The name embeds a
// hash so the mapping is injective regardless of path contents.
func (m *FileManager) lockFile(path string) string {
	sum := sha256.Sum256([]byte(path))
	return filepath.Join(m.lockDir, hex.EncodeToString(sum[:8])+".lock")
}

// Acquire blocks until the lock file can be created exclusively or the
// timeout elapses. Stale locks left by dead processes are reclaimed.
func (m *FileManager) Acquire(ctx context.Context, path string, timeout time.Duration) (Handle, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	file := m.lockFile(path)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	// Watch the lock directory so a release wakes us immediately. Polling
	// remains as a fallback for missed events.
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if addErr := watcher.Add(m.lockDir); addErr != nil {
			_ = watcher.Close()
			watcher = nil
		}
	} else {
		watcher = nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		ok, tryErr := m.tryAcquire(path, file)
		if tryErr != nil {
			return nil, tryErr
		}
		if ok {
			m.logger.Debug().Str("path", path).Msg("Lock acquired")
			return &fileHandle{mgr: m, path: path, file: file}, nil
		}

		var events <-chan fsnotify.Event
		if watcher != nil {
			events = watcher.Events
		}
		select {
		case <-events:
		case <-ticker.C:
		case <-deadline.C:
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// tryAcquire attempts one exclusive creation of the lock file, reclaiming it
// first if the recorded holder process is gone.
func (m *FileManager) tryAcquire(path, file string) (bool, error) {
	f, err := os.OpenFile(file, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if !os.IsExist(err) {
			return false, fmt.Errorf("failed to create lock file: %w", err)
		}
		if m.reclaimStale(path, file) {
			return false, nil // retry on the next iteration
		}
		return false, nil
	}

	info := lockInfo{Path: path, PID: os.Getpid(), AcquiredAt: time.Now().UTC()}
	data, _ := json.Marshal(info)
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(file)
		return false, fmt.Errorf("failed to write lock info: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(file)
		return false, fmt.Errorf("failed to close lock file: %w", err)
	}
	return true, nil
}

// reclaimStale removes the lock file if its holder process no longer exists.
// Returns true if the file was removed.
func (m *FileManager) reclaimStale(path, file string) bool {
	data, err := os.ReadFile(file)
	if err != nil {
		return false
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil || info.PID == 0 {
		return false
	}
	if info.PID == os.Getpid() || processAlive(info.PID) {
		return false
	}
	if err := os.Remove(file); err != nil {
		return false
	}
	m.logger.Warn().
		Str("path", path).
		Int("pid", info.PID).
		Msg("Reclaimed stale lock from dead process")
	return true
}

// IsLocked reports whether a lock file exists for the path. Advisory only.
func (m *FileManager) IsLocked(path string) bool {
	_, err := os.Stat(m.lockFile(path))
	return err == nil
}

// processAlive reports whether a process with the given pid exists.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

type fileHandle struct {
	mgr  *FileManager
	path string
	file string
	once sync.Once
}

func (h *fileHandle) Path() string {
	return h.path
}

func (h *fileHandle) Release() error {
	var err error
	h.once.Do(func() {
		if rmErr := os.Remove(h.file); rmErr != nil && !os.IsNotExist(rmErr) {
			err = fmt.Errorf("failed to remove lock file: %w", rmErr)
			return
		}
		h.mgr.logger.Debug().Str("path", h.path).Msg("Lock released")
	})
	return err
}
