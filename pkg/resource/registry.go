package resource

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAlreadyBound is returned when an instance's resources are bound twice.
var ErrAlreadyBound = errors.New("resources already bound")

type binding struct {
	componentID string
	key         string
}

// Registry binds the resource sets of instances for the duration of their invocations.
type Registry struct {
	mu       sync.RWMutex
	bindings map[binding]Set
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[binding]Set),
	}
}

// Bind registers the resources of an instance.
// Returns ErrAlreadyBound if the instance is already bound.
func (r *Registry) Bind(componentID, key string, s Set) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := binding{componentID, key}
	if _, exists := r.bindings[b]; exists {
		return fmt.Errorf("%w: %s/%s", ErrAlreadyBound, componentID, key)
	}
	r.bindings[b] = s
	return nil
}

// Unbind removes the binding of an instance. Unbinding twice is a no-op.
func (r *Registry) Unbind(componentID, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bindings, binding{componentID, key})
}

// Lookup returns the bound resources of an instance.
func (r *Registry) Lookup(componentID, key string) (Set, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.bindings[binding{componentID, key}]
	return s, ok
}

// Len returns the number of bound instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}
