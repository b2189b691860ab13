package scope

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/scopekeeper/pkg/lock"
	"github.com/openfroyo/scopekeeper/pkg/state"
)

// State is the lifecycle state of a scope instance.
type State string

const (
	// StateUninitialized means no persisted document has been observed yet.
	StateUninitialized State = "uninitialized"

	// StateInitialized means the persisted document exists and mutation is
	// permitted.
	StateInitialized State = "initialized"

	// StateFinalizing means teardown is in progress; mutation is still
	// permitted so the engine can record partial progress.
	StateFinalizing State = "finalizing"

	// StateDestroyed is terminal: the persisted document has been removed.
	StateDestroyed State = "destroyed"
)

// mutationLockTimeout bounds the lock wait for a single read-modify-write.
const mutationLockTimeout = 10 * time.Second

// Scope is one node in the ownership hierarchy. All persistence goes through
// the state store; all cross-process coordination goes through the lock
// manager. Two Scope instances pointed at the same path coordinate
// exclusively via locking; there is no in-memory cross-instance state.
type Scope struct {
	path   string
	store  state.Store
	locks  lock.Manager
	logger zerolog.Logger

	mu sync.Mutex
	st State
}

// Stats is a read-only diagnostic view of a scope for inspection tooling.
type Stats struct {
	Path             string    `json:"path"`
	State            State     `json:"state"`
	ResourceCount    int       `json:"resource_count"`
	NestedScopeCount int       `json:"nested_scope_count"`
	StateBytes       int       `json:"state_bytes"`
	Locked           bool      `json:"locked"`
	LastUpdated      time.Time `json:"last_updated"`
}

// New creates a scope handle for a path. No I/O happens until an operation is
// invoked; use Initialize to create the persisted document.
func New(path string, store state.Store, locks lock.Manager, logger zerolog.Logger) (*Scope, error) {
	if _, err := state.SplitPath(path); err != nil {
		return nil, NewConfigError("invalid scope path", err)
	}
	if store == nil {
		return nil, NewConfigError("state store is required", nil)
	}
	if locks == nil {
		locks = lock.NewDisabled()
	}
	return &Scope{
		path:   path,
		store:  store,
		locks:  locks,
		logger: logger.With().Str("component", "scope").Str("path", path).Logger(),
		st:     StateUninitialized,
	}, nil
}

// Path returns the slash-delimited scope path.
func (s *Scope) Path() string {
	return s.path
}

// State returns the lifecycle state last observed by this instance.
func (s *Scope) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

func (s *Scope) setState(st State) {
	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
}

// Initialize creates the persisted document if absent and is a no-op if it
// already exists. An existing document that cannot be parsed yields a
// state-corruption error. Initialize may also be used to explicitly revive a
// path that was previously finalized.
func (s *Scope) Initialize(ctx context.Context) error {
	handle, err := s.locks.Acquire(ctx, s.path, mutationLockTimeout)
	if err != nil {
		return s.mapLockErr(err)
	}
	defer handle.Release()

	_, err = s.store.Read(ctx, s.path)
	switch {
	case err == nil:
		s.setState(StateInitialized)
		return nil
	case errors.Is(err, state.ErrCorrupt):
		return NewStateCorruptionError(s.path, err)
	case errors.Is(err, state.ErrNotFound):
		// fall through to create
	default:
		return err
	}

	now := time.Now().UTC()
	doc := &state.Document{
		Path:      s.path,
		Resources: make(map[string]state.ResourceRecord),
		Metadata: state.Metadata{
			CreatedAt:   now,
			LastUpdated: now,
		},
	}
	if err := s.store.Write(ctx, s.path, doc); err != nil {
		return err
	}
	s.setState(StateInitialized)
	s.logger.Info().Msg("Scope initialized")
	return nil
}

// load reads the current document, mapping store errors to the scope error
// taxonomy and refusing operations against a destroyed instance.
func (s *Scope) load(ctx context.Context) (*state.Document, error) {
	if s.State() == StateDestroyed {
		return nil, NewScopeNotFoundError(s.path)
	}
	doc, err := s.store.Read(ctx, s.path)
	if err != nil {
		switch {
		case errors.Is(err, state.ErrNotFound):
			return nil, NewScopeNotFoundError(s.path)
		case errors.Is(err, state.ErrCorrupt):
			return nil, NewStateCorruptionError(s.path, err)
		default:
			return nil, err
		}
	}
	return doc, nil
}

// mutate performs a locked read-modify-write of the scope document.
func (s *Scope) mutate(ctx context.Context, fn func(doc *state.Document) error) error {
	handle, err := s.locks.Acquire(ctx, s.path, mutationLockTimeout)
	if err != nil {
		return s.mapLockErr(err)
	}
	defer handle.Release()

	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	doc.Metadata.LastUpdated = time.Now().UTC()
	doc.Metadata.LastActivity = doc.Metadata.LastUpdated
	return s.store.Write(ctx, s.path, doc)
}

func (s *Scope) mapLockErr(err error) error {
	if errors.Is(err, lock.ErrTimeout) {
		return NewLockTimeoutError(s.path, err)
	}
	return err
}

// AddResource records a resource in the scope. Fails with a
// duplicate-resource error if the id is already present.
func (s *Scope) AddResource(ctx context.Context, rec state.ResourceRecord) error {
	if rec.ID == "" {
		return NewConfigError("resource id is required", nil)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return s.mutate(ctx, func(doc *state.Document) error {
		if _, exists := doc.Resources[rec.ID]; exists {
			return NewDuplicateResourceError(s.path, rec.ID)
		}
		doc.Resources[rec.ID] = rec
		return nil
	})
}

// RemoveResource removes a resource record from the scope. Removing an id
// that is not present is a no-op.
func (s *Scope) RemoveResource(ctx context.Context, id string) error {
	return s.mutate(ctx, func(doc *state.Document) error {
		delete(doc.Resources, id)
		return nil
	})
}

// Resources returns a snapshot copy of the scope's resource records.
// Mutating the returned map never affects persisted state.
func (s *Scope) Resources(ctx context.Context) (map[string]state.ResourceRecord, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Clone().Resources, nil
}

// RegisterNestedScope registers name as an immediate child. Idempotent.
func (s *Scope) RegisterNestedScope(ctx context.Context, name string) error {
	if _, err := state.SplitPath(name); err != nil || state.ParentPath(name) != "" {
		return NewConfigError("nested scope name must be a single path segment", err)
	}
	return s.mutate(ctx, func(doc *state.Document) error {
		if doc.HasNestedScope(name) {
			return nil
		}
		doc.NestedScopes = append(doc.NestedScopes, name)
		sort.Strings(doc.NestedScopes)
		return nil
	})
}

// UnregisterNestedScope removes a child registration. Idempotent.
func (s *Scope) UnregisterNestedScope(ctx context.Context, name string) error {
	return s.mutate(ctx, func(doc *state.Document) error {
		kept := doc.NestedScopes[:0]
		for _, n := range doc.NestedScopes {
			if n != name {
				kept = append(kept, n)
			}
		}
		doc.NestedScopes = kept
		return nil
	})
}

// NestedScopes returns the registered immediate child names, sorted.
func (s *Scope) NestedScopes(ctx context.Context) ([]string, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	names := append([]string(nil), doc.NestedScopes...)
	sort.Strings(names)
	return names, nil
}

// Child returns a scope handle for a registered or prospective child.
func (s *Scope) Child(name string) (*Scope, error) {
	return New(state.JoinPath(s.path, name), s.store, s.locks, s.logger)
}

// FindOrphanedResources returns ids of resources the supplied predicate no
// longer wants, sorted. The notion of "desired" comes entirely from the
// caller; this scope only compares it against what it currently owns.
func (s *Scope) FindOrphanedResources(ctx context.Context, desired func(rec state.ResourceRecord) bool) ([]string, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	var orphans []string
	for id, rec := range doc.Resources {
		if desired == nil || !desired(rec) {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	return orphans, nil
}

// Snapshot returns a deep copy of the persisted document.
func (s *Scope) Snapshot(ctx context.Context) (*state.Document, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Clone(), nil
}

// UpdateMetadata performs a locked update of the scope's advisory metadata.
func (s *Scope) UpdateMetadata(ctx context.Context, fn func(meta *state.Metadata)) error {
	return s.mutate(ctx, func(doc *state.Document) error {
		fn(&doc.Metadata)
		return nil
	})
}

// Metadata returns the scope's advisory metadata.
func (s *Scope) Metadata(ctx context.Context) (state.Metadata, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return state.Metadata{}, err
	}
	return doc.Metadata, nil
}

// Stats returns a diagnostic view of the scope. The lock status is advisory
// and may be stale by the time the caller reads it.
func (s *Scope) Stats(ctx context.Context) (Stats, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return Stats{}, err
	}
	encoded, _ := json.Marshal(doc)
	return Stats{
		Path:             s.path,
		State:            s.State(),
		ResourceCount:    len(doc.Resources),
		NestedScopeCount: len(doc.NestedScopes),
		StateBytes:       len(encoded),
		Locked:           s.locks.IsLocked(s.path),
		LastUpdated:      doc.Metadata.LastUpdated,
	}, nil
}

// Exists reports whether the scope's persisted document exists. Callers use
// this to distinguish "never created" from "already torn down": a destroyed
// instance reports false without touching the store.
func (s *Scope) Exists(ctx context.Context) (bool, error) {
	if s.State() == StateDestroyed {
		return false, nil
	}
	return s.store.Exists(ctx, s.path)
}

// Update performs an unlocked read-modify-write of the scope document. The
// caller must already hold the scope lock; the finalization engine uses this
// to record partial teardown progress under its own lock.
func (s *Scope) Update(ctx context.Context, fn func(doc *state.Document) error) error {
	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	doc.Metadata.LastUpdated = time.Now().UTC()
	doc.Metadata.LastActivity = doc.Metadata.LastUpdated
	return s.store.Write(ctx, s.path, doc)
}

// BeginFinalize marks the scope as finalizing. Mutation remains permitted so
// teardown can record partial progress.
func (s *Scope) BeginFinalize() {
	s.setState(StateFinalizing)
}

// Destroy removes the persisted document and marks the instance destroyed.
// The caller must hold the scope lock. Destroying an already-absent document
// is a no-op.
func (s *Scope) Destroy(ctx context.Context) error {
	err := s.store.Delete(ctx, s.path)
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return err
	}
	s.setState(StateDestroyed)
	s.logger.Info().Msg("Scope state removed")
	return nil
}
