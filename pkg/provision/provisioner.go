package provision

import (
	"context"
	"fmt"
	"sync"
)

// Provisioner creates and deletes infrastructure resources by type and id.
type Provisioner interface {
	// Create provisions a resource. Attributes carry provider-specific
	// settings the provisioner understands.
	Create(ctx context.Context, resourceType, id string, attributes map[string]string) error

	// Delete destroys a resource. Deleting a resource that no longer exists
	// should be treated as success by implementations that can tell.
	Delete(ctx context.Context, resourceType, id string) error
}

// Fake is an in-memory Provisioner for tests and dry wiring. Deletion
// failures can be injected per resource id.
type Fake struct {
	mu        sync.Mutex
	resources map[string]map[string]string // key: type/id -> attributes
	failures  map[string]int               // id -> remaining Delete failures (-1 = always)
	deletes   []string                     // ids in deletion-attempt order
}

// NewFake creates an empty fake provisioner.
func NewFake() *Fake {
	return &Fake{
		resources: make(map[string]map[string]string),
		failures:  make(map[string]int),
	}
}

func key(resourceType, id string) string {
	return resourceType + "/" + id
}

// Create records the resource.
func (f *Fake) Create(_ context.Context, resourceType, id string, attributes map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources[key(resourceType, id)] = attributes
	return nil
}

// Delete removes the resource, honoring any injected failures first.
func (f *Fake) Delete(_ context.Context, resourceType, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)

	remaining, ok := f.failures[id]
	if ok && remaining != 0 {
		if remaining > 0 {
			f.failures[id] = remaining - 1
		}
		return fmt.Errorf("injected deletion failure for %s", id)
	}
	delete(f.resources, key(resourceType, id))
	return nil
}

// FailDeleteTimes makes the next n Delete calls for id fail.
func (f *Fake) FailDeleteTimes(id string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[id] = n
}

// FailDeleteAlways makes every Delete call for id fail.
func (f *Fake) FailDeleteAlways(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[id] = -1
}

// Exists reports whether a resource is currently held by the fake.
func (f *Fake) Exists(resourceType, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.resources[key(resourceType, id)]
	return ok
}

// DeleteAttempts returns the ids passed to Delete, in order.
func (f *Fake) DeleteAttempts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}
