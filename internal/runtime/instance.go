package runtime

import (
	"sync"

	"github.com/aretw0/stateful/pkg/domain"
	"github.com/aretw0/stateful/pkg/ports"
	"github.com/aretw0/stateful/pkg/resource"
)

// Instance is the container's record of one live bean.
type Instance struct {
	Key  string
	Bean any

	dep *deployment

	// mu guards every field below.
	mu         sync.Mutex
	inUse      bool
	checkedOut bool
	discarded  bool
	// epoch changes whenever the instance changes hands.
	epoch uint64
	tx    ports.Transaction
	// userTx is the bean-managed transaction left open by the previous invocation.
	userTx    ports.Transaction
	resources resource.Set

	// exclusive is only ever taken with TryLock.
	exclusive sync.Mutex
}

func newInstance(key string, dep *deployment, bean any, resources resource.Set) *Instance {
	return &Instance{
		Key:       key,
		Bean:      bean,
		dep:       dep,
		resources: resources,
	}
}

// ComponentID returns the id of the instance's component type.
func (i *Instance) ComponentID() string {
	return i.dep.ct.ID
}

// InUse reports whether an invocation or callback currently holds the instance.
func (i *Instance) InUse() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.inUse
}

// Transaction returns the transaction the instance is enrolled in, or nil.
func (i *Instance) Transaction() ports.Transaction {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.tx
}

// Discarded reports whether the instance was destroyed.
func (i *Instance) Discarded() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.discarded
}

// Resources returns the instance's extended resources.
func (i *Instance) Resources() resource.Set {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.resources
}

func (i *Instance) component() *domain.ComponentType {
	return i.dep.ct
}

// sameTx compares transactions by identity.
func sameTx(a, b ports.Transaction) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b || a.ID() == b.ID()
}
