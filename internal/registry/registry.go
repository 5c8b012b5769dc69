package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrInstanceNotFound indicates the instance UUID doesn't exist
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrDuplicateInstance indicates the UUID is already claimed by another directory
	ErrDuplicateInstance = errors.New("duplicate instance")
)

// Registry is the in-memory set of admitted instances, keyed by UUID.
//
// Writes come from a single owner (the scan reconciliation step or the
// daemon's create/remove handlers, which the daemon serialises). The lock
// only keeps concurrent readers consistent with that writer.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*Instance
}

// New creates an empty Registry
func New() *Registry {
	return &Registry{instances: make(map[string]*Instance)}
}

// Insert adds inst to the registry.
//
// An instance whose UUID is already present with the same directory replaces
// the existing entry, so rescanning an unchanged root is idempotent. A UUID
// claimed by a different directory is rejected with ErrDuplicateInstance and
// the registry is left unchanged.
func (r *Registry) Insert(inst *Instance) error {
	if inst == nil || inst.UUID == "" {
		return fmt.Errorf("%w: missing uuid", ErrInvalidIdentity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.instances[inst.UUID]; ok && existing.Path() != inst.Path() {
		return fmt.Errorf("%w: uuid=%s already registered at %s", ErrDuplicateInstance, inst.UUID, existing.Path())
	}
	r.instances[inst.UUID] = inst
	return nil
}

// Get returns the instance with the given UUID
func (r *Registry) Get(id string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.instances[id]
	return inst, ok
}

// Contains reports whether an instance with the given UUID is registered
func (r *Registry) Contains(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Remove unregisters an instance. The instance directory is not touched.
func (r *Registry) Remove(id string) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	delete(r.instances, id)
	return inst, nil
}

// Len returns the number of registered instances
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// List returns all registered instances sorted by name then UUID
func (r *Registry) List() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		instances = append(instances, inst)
	}

	sortInstances(instances)
	return instances
}

func sortInstances(instances []*Instance) {
	sort.Slice(instances, func(i, j int) bool {
		if instances[i].Name == instances[j].Name {
			return instances[i].UUID < instances[j].UUID
		}
		return instances[i].Name < instances[j].Name
	})
}
