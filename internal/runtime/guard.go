package runtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aretw0/stateful/internal/logging"
	"github.com/aretw0/stateful/pkg/cache"
	"github.com/aretw0/stateful/pkg/domain"
	"github.com/aretw0/stateful/pkg/ports"
)

// checkInRetry is how long Obtain waits for a release that is moving an
// instance from the checked-out set into the cache.
const checkInRetry = time.Millisecond

// Lease is one invocation's hold on an instance.
type Lease struct {
	inst      *Instance
	epoch     uint64
	exclusive bool
	reentrant bool
}

// Instance returns the leased instance.
func (l *Lease) Instance() *Instance { return l.inst }

// Exclusive reports whether the lease holds the instance's exclusive lock.
func (l *Lease) Exclusive() bool { return l.exclusive }

// Guard enforces single-threaded access to instances and owns the set of
// instances currently checked out of the cache.
type Guard struct {
	cache  *cache.Cache[*Instance]
	logger *slog.Logger

	checkedOut sync.Map // key -> *Instance
	flight     singleflight.Group
}

// NewGuard creates a Guard over c.
func NewGuard(c *cache.Cache[*Instance], logger *slog.Logger) *Guard {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Guard{cache: c, logger: logger}
}

// Track registers a freshly created instance: it enters the checked-out set
// and the cache, in use and bound to tx.
func (g *Guard) Track(inst *Instance, tx ports.Transaction) (*Lease, error) {
	inst.mu.Lock()
	inst.checkedOut = true
	inst.inUse = true
	inst.tx = tx
	inst.epoch++
	l := &Lease{inst: inst, epoch: inst.epoch}
	inst.mu.Unlock()

	g.checkedOut.Store(inst.Key, inst)
	if err := g.cache.Add(inst.Key, inst); err != nil {
		g.checkedOut.CompareAndDelete(inst.Key, inst)
		return nil, err
	}
	return l, nil
}

// lookup finds the instance for key, checking it out of the cache (and
// activating it) when it is not already checked out. fresh reports whether
// this call did the checkout.
func (g *Guard) lookup(ctx context.Context, key string) (inst *Instance, fresh bool, err error) {
	for {
		if v, ok := g.checkedOut.Load(key); ok {
			return v.(*Instance), false, nil
		}

		// Callers sharing the flight must not inherit the first one's cancellation.
		v, err, shared := g.flight.Do(key, func() (any, error) {
			if v, ok := g.checkedOut.Load(key); ok {
				return v, nil
			}
			inst, err := g.cache.CheckOut(context.WithoutCancel(ctx), key)
			if err != nil {
				return nil, err
			}
			inst.mu.Lock()
			inst.checkedOut = true
			inst.mu.Unlock()
			g.checkedOut.Store(key, inst)
			return inst, nil
		})
		if errors.Is(err, cache.ErrCheckedOut) {
			select {
			case <-ctx.Done():
				return nil, false, ctx.Err()
			case <-time.After(checkInRetry):
			}
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return v.(*Instance), !shared, nil
	}
}

// Obtain acquires the instance for key on behalf of an operation running in tx.
//
// An instance already in use only admits the transaction synchronization
// callbacks; anything else fails with ErrConcurrentAccess. An instance bound
// to another transaction is only admitted if its exclusive lock is free.
// Otherwise the instance is bound to tx (when unbound) and marked in use.
func (g *Guard) Obtain(ctx context.Context, componentID, key string, op domain.Operation, tx ports.Transaction) (*Lease, error) {
	if key == "" {
		return nil, domain.NewApplicationError(domain.ErrInstanceNotFound)
	}
	for {
		inst, fresh, err := g.lookup(ctx, key)
		if errors.Is(err, cache.ErrNotFound) {
			return nil, domain.NewApplicationError(domain.ErrInstanceNotFound)
		}
		if err != nil {
			return nil, err
		}

		inst.mu.Lock()
		if !inst.checkedOut {
			// Released or discarded between lookup and lock.
			discarded := inst.discarded
			inst.mu.Unlock()
			if discarded {
				return nil, domain.NewApplicationError(domain.ErrInstanceNotFound)
			}
			continue
		}

		if inst.dep.ct.ID != componentID {
			inst.mu.Unlock()
			if fresh {
				g.Release(ctx, inst)
			}
			return nil, domain.NewApplicationError(domain.ErrInstanceNotFound)
		}

		if inst.inUse {
			inst.mu.Unlock()
			if op.IsSynchronizationCallback() {
				return &Lease{inst: inst, reentrant: true}, nil
			}
			return nil, domain.NewApplicationError(domain.ErrConcurrentAccess)
		}

		exclusive := false
		if inst.tx != nil {
			if !sameTx(inst.tx, tx) {
				if !inst.exclusive.TryLock() {
					inst.mu.Unlock()
					return nil, domain.NewApplicationError(domain.ErrCrossTransaction)
				}
				exclusive = true
			}
		} else {
			inst.tx = tx
		}

		inst.inUse = true
		inst.epoch++
		l := &Lease{inst: inst, epoch: inst.epoch, exclusive: exclusive}
		inst.mu.Unlock()
		return l, nil
	}
}

// Leave ends the invocation that holds l. Unless a completion callback
// already released the instance, it goes back to idle and, when bound to no
// transaction, into the cache.
func (g *Guard) Leave(ctx context.Context, l *Lease) {
	if l == nil || l.reentrant {
		return
	}
	g.release(ctx, l.inst, l)
	if l.exclusive {
		l.exclusive = false
		l.inst.exclusive.Unlock()
	}
}

// Release marks the instance idle and, when it is bound to no transaction,
// checks it back into the cache. Instances of undeployed components are
// discarded instead.
func (g *Guard) Release(ctx context.Context, inst *Instance) {
	g.release(ctx, inst, nil)
}

// release is Release limited, when l is set, to the invocation holding l.
func (g *Guard) release(ctx context.Context, inst *Instance, l *Lease) {
	inst.mu.Lock()
	if inst.discarded || (l != nil && inst.epoch != l.epoch) {
		inst.mu.Unlock()
		return
	}
	if inst.dep.destroyed.Load() {
		inst.mu.Unlock()
		g.Discard(ctx, inst)
		return
	}
	defer inst.mu.Unlock()

	inst.inUse = false
	inst.epoch++
	if inst.tx != nil || inst.userTx != nil || !inst.checkedOut {
		return
	}

	inst.checkedOut = false
	g.checkedOut.CompareAndDelete(inst.Key, inst)
	if err := g.cache.CheckIn(ctx, inst.Key); err != nil {
		g.logger.Warn("Failed to check instance into cache", "key", inst.Key, "err", err)
	}
}

// Discard destroys the instance: it leaves the checked-out set and the cache,
// its extended resources are released and an open bean-managed transaction is
// rolled back. It reports false when the instance was already discarded.
func (g *Guard) Discard(ctx context.Context, inst *Instance) bool {
	inst.mu.Lock()
	if inst.discarded {
		inst.mu.Unlock()
		return false
	}
	inst.discarded = true
	inst.checkedOut = false
	inst.inUse = false
	inst.epoch++
	resources := inst.resources
	inst.resources = nil
	userTx := inst.userTx
	inst.userTx = nil
	inst.mu.Unlock()

	g.checkedOut.CompareAndDelete(inst.Key, inst)
	if err := g.cache.Remove(ctx, inst.Key); err != nil && !errors.Is(err, cache.ErrNotFound) {
		g.logger.Warn("Failed to remove instance from cache", "key", inst.Key, "err", err)
	}
	if err := resources.Release(); err != nil {
		g.logger.Warn("Failed to release extended resources", "key", inst.Key, "err", err)
	}
	if userTx != nil {
		if err := userTx.Rollback(context.WithoutCancel(ctx)); err != nil {
			g.logger.Warn("Failed to roll back bean-managed transaction", "key", inst.Key, "tx", userTx.ID(), "err", err)
		}
	}
	return true
}

// Enrolled reports whether key names a checked-out instance bound to a transaction.
func (g *Guard) Enrolled(key string) bool {
	v, ok := g.checkedOut.Load(key)
	if !ok {
		return false
	}
	return v.(*Instance).Transaction() != nil
}

// CheckedOut returns the number of checked-out instances.
func (g *Guard) CheckedOut() int {
	n := 0
	g.checkedOut.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
