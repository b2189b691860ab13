package lock

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func setupFileManager(t *testing.T) *FileManager {
	t.Helper()
	mgr, err := NewFileManager(FileManagerConfig{
		LockDir: t.TempDir(),
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("failed to create file manager: %v", err)
	}
	return mgr
}

// managers returns each Manager implementation that actually locks, so the
// shared contract tests run against both.
func managers(t *testing.T) map[string]Manager {
	t.Helper()
	return map[string]Manager{
		"memory": NewMemoryManager(),
		"file":   setupFileManager(t),
	}
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	for name, mgr := range managers(t) {
		t.Run(name, func(t *testing.T) {
			handle, err := mgr.Acquire(ctx, "acme/prod", time.Second)
			if err != nil {
				t.Fatalf("failed to acquire: %v", err)
			}
			if handle.Path() != "acme/prod" {
				t.Errorf("expected handle path acme/prod, got %s", handle.Path())
			}
			if !mgr.IsLocked("acme/prod") {
				t.Error("expected path to report locked")
			}
			if mgr.IsLocked("acme/staging") {
				t.Error("unrelated path must not report locked")
			}

			if err := handle.Release(); err != nil {
				t.Fatalf("failed to release: %v", err)
			}
			if mgr.IsLocked("acme/prod") {
				t.Error("expected path to report unlocked after release")
			}

			// Release is idempotent.
			if err := handle.Release(); err != nil {
				t.Errorf("second release must be a no-op: %v", err)
			}
		})
	}
}

func TestAcquireTimesOutWhileHeld(t *testing.T) {
	ctx := context.Background()
	for name, mgr := range managers(t) {
		t.Run(name, func(t *testing.T) {
			handle, err := mgr.Acquire(ctx, "acme/prod", time.Second)
			if err != nil {
				t.Fatalf("failed to acquire: %v", err)
			}
			defer handle.Release()

			start := time.Now()
			_, err = mgr.Acquire(ctx, "acme/prod", 150*time.Millisecond)
			if !errors.Is(err, ErrTimeout) {
				t.Fatalf("expected ErrTimeout, got %v", err)
			}
			if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
				t.Errorf("timed out too early: %v", elapsed)
			}
		})
	}
}

func TestAcquireWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	for name, mgr := range managers(t) {
		t.Run(name, func(t *testing.T) {
			handle, err := mgr.Acquire(ctx, "acme/prod", time.Second)
			if err != nil {
				t.Fatalf("failed to acquire: %v", err)
			}

			go func() {
				time.Sleep(50 * time.Millisecond)
				_ = handle.Release()
			}()

			second, err := mgr.Acquire(ctx, "acme/prod", 5*time.Second)
			if err != nil {
				t.Fatalf("expected acquisition after release, got %v", err)
			}
			_ = second.Release()
		})
	}
}

func TestAcquireRespectsContext(t *testing.T) {
	for name, mgr := range managers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			handle, err := mgr.Acquire(ctx, "acme/prod", time.Second)
			if err != nil {
				t.Fatalf("failed to acquire: %v", err)
			}
			defer handle.Release()

			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			if _, err := mgr.Acquire(cancelled, "acme/prod", 5*time.Second); !errors.Is(err, context.Canceled) {
				t.Fatalf("expected context.Canceled, got %v", err)
			}
		})
	}
}

func TestMutualExclusion(t *testing.T) {
	ctx := context.Background()
	mgr := NewMemoryManager()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	enter := func() {
		mu.Lock()
		inside++
		if inside > maxSeen {
			maxSeen = inside
		}
		mu.Unlock()
	}
	leave := func() {
		mu.Lock()
		inside--
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				handle, err := mgr.Acquire(ctx, "acme/prod", 10*time.Second)
				if err != nil {
					t.Errorf("acquire failed: %v", err)
					return
				}
				enter()
				time.Sleep(time.Millisecond)
				leave()
				_ = handle.Release()
			}
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("critical section held by %d goroutines at once", maxSeen)
	}
}

func TestMemoryManagerIndependentPaths(t *testing.T) {
	ctx := context.Background()
	mgr := NewMemoryManager()

	a, err := mgr.Acquire(ctx, "acme/prod", time.Second)
	if err != nil {
		t.Fatalf("failed to acquire first path: %v", err)
	}
	defer a.Release()

	// A different path must not contend.
	b, err := mgr.Acquire(ctx, "acme/staging", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("independent path blocked: %v", err)
	}
	_ = b.Release()
}

func TestFileManagerReclaimsStaleLock(t *testing.T) {
	ctx := context.Background()
	mgr := setupFileManager(t)

	// Plant a lock file recorded by a process id that cannot exist.
	file := mgr.lockFile("acme/prod")
	info := lockInfo{Path: "acme/prod", PID: 1 << 30, AcquiredAt: time.Now().UTC()}
	data, _ := json.Marshal(info)
	if err := os.WriteFile(file, data, 0o644); err != nil {
		t.Fatalf("failed to plant stale lock: %v", err)
	}

	handle, err := mgr.Acquire(ctx, "acme/prod", 2*time.Second)
	if err != nil {
		t.Fatalf("expected stale lock to be reclaimed, got %v", err)
	}
	_ = handle.Release()
}

func TestFileManagerLockFileContents(t *testing.T) {
	ctx := context.Background()
	mgr := setupFileManager(t)

	handle, err := mgr.Acquire(ctx, "acme/prod", time.Second)
	if err != nil {
		t.Fatalf("failed to acquire: %v", err)
	}
	defer handle.Release()

	data, err := os.ReadFile(mgr.lockFile("acme/prod"))
	if err != nil {
		t.Fatalf("failed to read lock file: %v", err)
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("lock file is not valid JSON: %v", err)
	}
	if info.PID != os.Getpid() {
		t.Errorf("expected holder pid %d, got %d", os.Getpid(), info.PID)
	}
	if info.Path != "acme/prod" {
		t.Errorf("expected recorded path acme/prod, got %s", info.Path)
	}
}

func TestDisabledManagerNeverBlocks(t *testing.T) {
	ctx := context.Background()
	mgr := NewDisabled()

	first, err := mgr.Acquire(ctx, "acme/prod", time.Millisecond)
	if err != nil {
		t.Fatalf("disabled acquire failed: %v", err)
	}
	second, err := mgr.Acquire(ctx, "acme/prod", time.Millisecond)
	if err != nil {
		t.Fatalf("disabled acquire must never contend: %v", err)
	}
	if mgr.IsLocked("acme/prod") {
		t.Error("disabled manager must never report locked")
	}
	_ = first.Release()
	_ = second.Release()
}
