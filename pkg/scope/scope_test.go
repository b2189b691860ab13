package scope

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/scopekeeper/pkg/lock"
	"github.com/openfroyo/scopekeeper/pkg/state"
)

func setupTestScope(t *testing.T, path string) (*Scope, *state.FileStore) {
	t.Helper()
	store, err := state.NewFileStore(state.FileStoreConfig{
		BaseDir: t.TempDir(),
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	sc, err := New(path, store, lock.NewMemoryManager(), zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create scope: %v", err)
	}
	return sc, store
}

func record(id, typ string) state.ResourceRecord {
	return state.ResourceRecord{ID: id, Type: typ, Name: id}
}

func TestScopeNewValidation(t *testing.T) {
	store, err := state.NewFileStore(state.FileStoreConfig{BaseDir: t.TempDir(), Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if _, err := New("acme//prod", store, nil, zerolog.Nop()); !IsConfig(err) {
		t.Errorf("expected config error for bad path, got %v", err)
	}
	if _, err := New("acme/prod", nil, nil, zerolog.Nop()); !IsConfig(err) {
		t.Errorf("expected config error for nil store, got %v", err)
	}
	// A nil lock manager falls back to disabled locking.
	sc, err := New("acme/prod", store, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("nil lock manager must be accepted: %v", err)
	}
	if sc.State() != StateUninitialized {
		t.Errorf("expected uninitialized state, got %s", sc.State())
	}
}

func TestScopeInitializeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sc, _ := setupTestScope(t, "acme/prod")

	if err := sc.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	if sc.State() != StateInitialized {
		t.Fatalf("expected initialized state, got %s", sc.State())
	}
	if err := sc.AddResource(ctx, record("db-main", "database")); err != nil {
		t.Fatalf("failed to add resource: %v", err)
	}

	// Initializing again must not discard existing resources.
	if err := sc.Initialize(ctx); err != nil {
		t.Fatalf("second initialize failed: %v", err)
	}
	resources, err := sc.Resources(ctx)
	if err != nil {
		t.Fatalf("failed to list resources: %v", err)
	}
	if len(resources) != 1 {
		t.Errorf("expected 1 resource after re-initialize, got %d", len(resources))
	}
}

func TestScopeOperationsBeforeInitialize(t *testing.T) {
	ctx := context.Background()
	sc, _ := setupTestScope(t, "acme/prod")

	if err := sc.AddResource(ctx, record("db-main", "database")); !IsScopeNotFound(err) {
		t.Errorf("expected scope-not-found, got %v", err)
	}
	if _, err := sc.Resources(ctx); !IsScopeNotFound(err) {
		t.Errorf("expected scope-not-found, got %v", err)
	}
	exists, err := sc.Exists(ctx)
	if err != nil {
		t.Fatalf("exists check failed: %v", err)
	}
	if exists {
		t.Error("scope must not exist before initialize")
	}
}

func TestScopeDuplicateResource(t *testing.T) {
	ctx := context.Background()
	sc, _ := setupTestScope(t, "acme/prod")
	if err := sc.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}

	if err := sc.AddResource(ctx, record("db-main", "database")); err != nil {
		t.Fatalf("failed to add resource: %v", err)
	}
	err := sc.AddResource(ctx, record("db-main", "database"))
	if !IsDuplicateResource(err) {
		t.Fatalf("expected duplicate-resource error, got %v", err)
	}

	// The failed add must not clobber the original record.
	resources, err := sc.Resources(ctx)
	if err != nil {
		t.Fatalf("failed to list resources: %v", err)
	}
	if len(resources) != 1 {
		t.Errorf("expected 1 resource, got %d", len(resources))
	}

	if err := sc.AddResource(ctx, record("", "database")); !IsConfig(err) {
		t.Errorf("expected config error for empty id, got %v", err)
	}
}

func TestScopeRemoveResourceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sc, _ := setupTestScope(t, "acme/prod")
	if err := sc.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	if err := sc.AddResource(ctx, record("db-main", "database")); err != nil {
		t.Fatalf("failed to add resource: %v", err)
	}

	if err := sc.RemoveResource(ctx, "db-main"); err != nil {
		t.Fatalf("failed to remove resource: %v", err)
	}
	if err := sc.RemoveResource(ctx, "db-main"); err != nil {
		t.Fatalf("removing an absent resource must be a no-op: %v", err)
	}
}

func TestScopeResourcesSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	sc, _ := setupTestScope(t, "acme/prod")
	if err := sc.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	if err := sc.AddResource(ctx, record("db-main", "database")); err != nil {
		t.Fatalf("failed to add resource: %v", err)
	}

	snapshot, err := sc.Resources(ctx)
	if err != nil {
		t.Fatalf("failed to list resources: %v", err)
	}
	delete(snapshot, "db-main")
	snapshot["rogue"] = record("rogue", "bucket")

	persisted, err := sc.Resources(ctx)
	if err != nil {
		t.Fatalf("failed to re-list resources: %v", err)
	}
	if len(persisted) != 1 {
		t.Errorf("mutating a snapshot leaked into persisted state: %v", persisted)
	}
	if _, ok := persisted["db-main"]; !ok {
		t.Error("expected db-main to survive snapshot mutation")
	}
}

func TestScopeNestedRegistration(t *testing.T) {
	ctx := context.Background()
	sc, _ := setupTestScope(t, "acme/prod")
	if err := sc.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}

	if err := sc.RegisterNestedScope(ctx, "worker"); err != nil {
		t.Fatalf("failed to register child: %v", err)
	}
	if err := sc.RegisterNestedScope(ctx, "worker"); err != nil {
		t.Fatalf("re-registering must be a no-op: %v", err)
	}
	if err := sc.RegisterNestedScope(ctx, "api"); err != nil {
		t.Fatalf("failed to register second child: %v", err)
	}
	if err := sc.RegisterNestedScope(ctx, "a/b"); !IsConfig(err) {
		t.Errorf("expected config error for multi-segment child name, got %v", err)
	}

	names, err := sc.NestedScopes(ctx)
	if err != nil {
		t.Fatalf("failed to list children: %v", err)
	}
	if len(names) != 2 || names[0] != "api" || names[1] != "worker" {
		t.Errorf("expected [api worker], got %v", names)
	}

	child, err := sc.Child("worker")
	if err != nil {
		t.Fatalf("failed to build child handle: %v", err)
	}
	if child.Path() != "acme/prod/worker" {
		t.Errorf("expected child path acme/prod/worker, got %s", child.Path())
	}

	if err := sc.UnregisterNestedScope(ctx, "worker"); err != nil {
		t.Fatalf("failed to unregister child: %v", err)
	}
	if err := sc.UnregisterNestedScope(ctx, "worker"); err != nil {
		t.Fatalf("unregistering an absent child must be a no-op: %v", err)
	}
	names, err = sc.NestedScopes(ctx)
	if err != nil {
		t.Fatalf("failed to re-list children: %v", err)
	}
	if len(names) != 1 || names[0] != "api" {
		t.Errorf("expected [api], got %v", names)
	}
}

func TestScopeFindOrphanedResources(t *testing.T) {
	ctx := context.Background()
	sc, _ := setupTestScope(t, "acme/prod")
	if err := sc.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	for _, id := range []string{"db-main", "cache", "bucket-logs"} {
		if err := sc.AddResource(ctx, record(id, "generic")); err != nil {
			t.Fatalf("failed to add %s: %v", id, err)
		}
	}

	desired := map[string]bool{"db-main": true}
	orphans, err := sc.FindOrphanedResources(ctx, func(rec state.ResourceRecord) bool {
		return desired[rec.ID]
	})
	if err != nil {
		t.Fatalf("failed to find orphans: %v", err)
	}
	if len(orphans) != 2 || orphans[0] != "bucket-logs" || orphans[1] != "cache" {
		t.Errorf("expected [bucket-logs cache], got %v", orphans)
	}

	// A nil predicate means nothing is desired.
	orphans, err = sc.FindOrphanedResources(ctx, nil)
	if err != nil {
		t.Fatalf("failed to find orphans with nil predicate: %v", err)
	}
	if len(orphans) != 3 {
		t.Errorf("expected all 3 resources orphaned, got %v", orphans)
	}
}

func TestScopeStats(t *testing.T) {
	ctx := context.Background()
	sc, _ := setupTestScope(t, "acme/prod")
	if err := sc.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	if err := sc.AddResource(ctx, record("db-main", "database")); err != nil {
		t.Fatalf("failed to add resource: %v", err)
	}
	if err := sc.RegisterNestedScope(ctx, "worker"); err != nil {
		t.Fatalf("failed to register child: %v", err)
	}

	stats, err := sc.Stats(ctx)
	if err != nil {
		t.Fatalf("failed to read stats: %v", err)
	}
	if stats.Path != "acme/prod" {
		t.Errorf("expected path acme/prod, got %s", stats.Path)
	}
	if stats.State != StateInitialized {
		t.Errorf("expected initialized, got %s", stats.State)
	}
	if stats.ResourceCount != 1 || stats.NestedScopeCount != 1 {
		t.Errorf("expected 1 resource and 1 child, got %d/%d", stats.ResourceCount, stats.NestedScopeCount)
	}
	if stats.StateBytes == 0 {
		t.Error("expected a non-zero document size")
	}
	if stats.Locked {
		t.Error("expected unlocked")
	}
	if stats.LastUpdated.IsZero() {
		t.Error("expected last-updated timestamp")
	}
}

func TestScopeLifecycle(t *testing.T) {
	ctx := context.Background()
	sc, store := setupTestScope(t, "acme/prod")
	if err := sc.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}

	sc.BeginFinalize()
	if sc.State() != StateFinalizing {
		t.Fatalf("expected finalizing, got %s", sc.State())
	}
	// Partial progress may still be recorded while finalizing.
	if err := sc.AddResource(ctx, record("db-main", "database")); err != nil {
		t.Fatalf("mutation while finalizing failed: %v", err)
	}

	if err := sc.Destroy(ctx); err != nil {
		t.Fatalf("failed to destroy: %v", err)
	}
	if sc.State() != StateDestroyed {
		t.Fatalf("expected destroyed, got %s", sc.State())
	}
	exists, err := store.Exists(ctx, "acme/prod")
	if err != nil {
		t.Fatalf("exists check failed: %v", err)
	}
	if exists {
		t.Error("expected document gone after destroy")
	}

	// Destroy is idempotent and the instance refuses further reads.
	if err := sc.Destroy(ctx); err != nil {
		t.Fatalf("second destroy must be a no-op: %v", err)
	}
	if _, err := sc.Resources(ctx); !IsScopeNotFound(err) {
		t.Errorf("expected scope-not-found after destroy, got %v", err)
	}
}

func TestScopeInitializeRevivesFinalizedPath(t *testing.T) {
	ctx := context.Background()
	sc, _ := setupTestScope(t, "acme/prod")
	if err := sc.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	if err := sc.Destroy(ctx); err != nil {
		t.Fatalf("failed to destroy: %v", err)
	}

	if err := sc.Initialize(ctx); err != nil {
		t.Fatalf("failed to revive: %v", err)
	}
	if sc.State() != StateInitialized {
		t.Errorf("expected initialized after revival, got %s", sc.State())
	}
	resources, err := sc.Resources(ctx)
	if err != nil {
		t.Fatalf("failed to list resources: %v", err)
	}
	if len(resources) != 0 {
		t.Errorf("revived scope must start empty, got %v", resources)
	}
}

func TestScopeCorruptDocument(t *testing.T) {
	ctx := context.Background()
	sc, store := setupTestScope(t, "acme/prod")
	if err := sc.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}

	file := filepath.Join(store.BaseDir(), "acme", "prod", state.DocumentFile)
	if err := os.WriteFile(file, []byte("{broken"), 0o644); err != nil {
		t.Fatalf("failed to corrupt document: %v", err)
	}

	if _, err := sc.Resources(ctx); !IsStateCorruption(err) {
		t.Errorf("expected state-corruption error, got %v", err)
	}
	if err := sc.Initialize(ctx); !IsStateCorruption(err) {
		t.Errorf("initialize must refuse a corrupt document, got %v", err)
	}
}

func TestScopeLockTimeout(t *testing.T) {
	ctx := context.Background()
	store, err := state.NewFileStore(state.FileStoreConfig{BaseDir: t.TempDir(), Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	locks := lock.NewMemoryManager()
	sc, err := New("acme/prod", store, locks, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create scope: %v", err)
	}
	if err := sc.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}

	held, err := locks.Acquire(ctx, "acme/prod", time.Second)
	if err != nil {
		t.Fatalf("failed to pre-acquire lock: %v", err)
	}
	defer held.Release()

	short, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	err = sc.AddResource(short, record("db-main", "database"))
	if !IsLockTimeout(err) && !errors.Is(err, context.DeadlineExceeded) {
		// The mutation lock timeout is longer than the context, so the
		// context fires first.
		t.Fatalf("expected lock contention failure, got %v", err)
	}
}

func TestScopeMetadataUpdates(t *testing.T) {
	ctx := context.Background()
	sc, _ := setupTestScope(t, "acme/prod")
	if err := sc.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}

	if err := sc.UpdateMetadata(ctx, func(meta *state.Metadata) {
		meta.Environment = "production"
		meta.IsEphemeral = true
	}); err != nil {
		t.Fatalf("failed to update metadata: %v", err)
	}

	meta, err := sc.Metadata(ctx)
	if err != nil {
		t.Fatalf("failed to read metadata: %v", err)
	}
	if meta.Environment != "production" || !meta.IsEphemeral {
		t.Errorf("unexpected metadata: %+v", meta)
	}
	if meta.LastUpdated.Before(meta.CreatedAt) {
		t.Error("last-updated must not precede created-at")
	}
}

func TestScopeUpdateMetadataTakesLock(t *testing.T) {
	ctx := context.Background()
	store, err := state.NewFileStore(state.FileStoreConfig{BaseDir: t.TempDir(), Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	locks := lock.NewMemoryManager()
	sc, err := New("acme/prod", store, locks, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create scope: %v", err)
	}
	if err := sc.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}

	held, err := locks.Acquire(ctx, "acme/prod", time.Second)
	if err != nil {
		t.Fatalf("failed to pre-acquire lock: %v", err)
	}
	defer held.Release()

	short, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	err = sc.UpdateMetadata(short, func(meta *state.Metadata) {
		meta.Environment = "production"
	})
	if !IsLockTimeout(err) && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected lock contention failure, got %v", err)
	}

	meta, err := sc.Metadata(ctx)
	if err != nil {
		t.Fatalf("failed to read metadata: %v", err)
	}
	if meta.Environment != "" {
		t.Error("blocked metadata update must not be applied")
	}
}
