package resource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/stateful/pkg/domain"
)

// Tracked is a reference-counted resource handle.
type Tracked struct {
	factoryID string
	res       domain.Resource

	mu   sync.Mutex
	refs int
}

// Track wraps a freshly opened resource with a reference count of one.
func Track(factoryID string, r domain.Resource) *Tracked {
	return &Tracked{factoryID: factoryID, res: r, refs: 1}
}

// FactoryID returns the id of the factory that opened the resource.
func (t *Tracked) FactoryID() string { return t.factoryID }

// Resource returns the underlying handle.
func (t *Tracked) Resource() domain.Resource { return t.res }

// Refs returns the current reference count.
func (t *Tracked) Refs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refs
}

// Retain increments the reference count.
func (t *Tracked) Retain() *Tracked {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refs++
	return t
}

// Release decrements the reference count and closes the resource when it reaches zero.
func (t *Tracked) Release() error {
	t.mu.Lock()
	t.refs--
	last := t.refs == 0
	t.mu.Unlock()

	if !last {
		return nil
	}
	if err := t.res.Close(); err != nil {
		return fmt.Errorf("close %s: %w", t.factoryID, err)
	}
	return nil
}

// Set holds the extended resources of one instance, keyed by factory id.
type Set map[string]*Tracked

// Open builds the resource set of a new instance. For each factory, a
// resource of the parent set is inherited (retained) when present; otherwise
// the factory opens a new one. On failure, everything acquired is released.
func Open(ctx context.Context, factories []domain.ResourceFactory, parent Set) (Set, error) {
	if len(factories) == 0 {
		return nil, nil
	}
	set := make(Set, len(factories))
	for _, f := range factories {
		if inherited, ok := parent[f.ID()]; ok {
			set[f.ID()] = inherited.Retain()
			continue
		}
		r, err := f.Open(ctx)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("open %s: %w", f.ID(), err), set.Release())
		}
		set[f.ID()] = Track(f.ID(), r)
	}
	return set, nil
}

// Get returns the resource opened by the given factory.
func (s Set) Get(factoryID string) (domain.Resource, bool) {
	t, ok := s[factoryID]
	if !ok {
		return nil, false
	}
	return t.Resource(), true
}

// IDs returns the factory ids in the set, sorted.
func (s Set) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Release releases every resource of the set.
func (s Set) Release() error {
	var errs []error
	for _, t := range s {
		if err := t.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type setKey struct{}

// WithSet returns a context carrying the resources of the running invocation.
func WithSet(ctx context.Context, s Set) context.Context {
	return context.WithValue(ctx, setKey{}, s)
}

// FromContext returns the resources of the running invocation, if any.
func FromContext(ctx context.Context) Set {
	s, _ := ctx.Value(setKey{}).(Set)
	return s
}
