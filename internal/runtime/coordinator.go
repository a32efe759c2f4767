package runtime

import (
	"context"
	"sync"

	"github.com/aretw0/stateful/pkg/domain"
	"github.com/aretw0/stateful/pkg/ports"
)

type coordinatorKey struct{}

type registration struct {
	inst    *Instance
	enabled bool
}

// coordinator delivers the synchronization callbacks of one transaction to
// every instance enrolled in it, and releases those instances once the
// transaction completes.
type coordinator struct {
	c      *Container
	policy *Policy

	mu    sync.Mutex
	order []*registration
	byKey map[string]*registration
}

// registerSynchronization enrolls inst with the coordinator of the policy,
// creating the coordinator on first use. Callbacks are enabled for
// synchronized components running in an active transaction, except while
// they are being created.
func (c *Container) registerSynchronization(ctx context.Context, p *Policy, inst *Instance, op domain.Operation) error {
	co, _ := p.Resource(coordinatorKey{}).(*coordinator)
	if co == nil {
		co = &coordinator{c: c, policy: p, byKey: make(map[string]*registration)}
		if err := p.RegisterSynchronization(co); err != nil {
			return err
		}
		p.PutResource(coordinatorKey{}, co)
	}
	enable := op != domain.OpCreate &&
		inst.component().Callbacks.SessionSynchronized() &&
		p.IsTransactionActive()
	return co.register(ctx, inst, enable)
}

// register is idempotent per key. AfterBegin runs on the first enabled registration.
func (co *coordinator) register(ctx context.Context, inst *Instance, enable bool) error {
	co.mu.Lock()
	r, ok := co.byKey[inst.Key]
	if !ok {
		r = &registration{inst: inst}
		co.byKey[inst.Key] = r
		co.order = append(co.order, r)
	}
	was := r.enabled
	r.enabled = enable
	co.mu.Unlock()

	if was || !enable {
		return nil
	}
	cb := inst.component().Callbacks
	if cb.AfterBegin == nil {
		return nil
	}
	return co.c.callback(ctx, inst, domain.OpAfterBegin, cb.AfterBegin)
}

func (co *coordinator) registrations() []registration {
	co.mu.Lock()
	defer co.mu.Unlock()
	out := make([]registration, len(co.order))
	for i, r := range co.order {
		out[i] = *r
	}
	return out
}

// BeforeCompletion runs in registration order and stops as soon as the
// transaction is rollback-only. A failing instance is discarded and its error,
// translated, is returned.
func (co *coordinator) BeforeCompletion(ctx context.Context) error {
	for _, r := range co.registrations() {
		if co.policy.RollbackOnly() {
			return nil
		}
		if !r.enabled || r.inst.Discarded() {
			continue
		}
		cb := r.inst.component().Callbacks
		if cb.BeforeCompletion == nil {
			continue
		}

		inst := r.inst
		inst.mu.Lock()
		wasInUse := inst.inUse
		inst.inUse = true
		inst.mu.Unlock()

		err := co.c.callback(ctx, inst, domain.OpBeforeCompletion, cb.BeforeCompletion)

		inst.mu.Lock()
		if !inst.discarded {
			inst.inUse = wasInUse
		}
		inst.mu.Unlock()

		if err != nil {
			return co.c.fail(ctx, co.policy, inst, domain.OpBeforeCompletion, err)
		}
	}
	return nil
}

// AfterCompletion runs for every registered instance whatever happened to the
// others: enabled instances are told the outcome, then every instance is
// unbound from the transaction and released. An instance another invocation
// is still using stays checked out; that invocation releases it when it
// leaves. The first failure is returned.
func (co *coordinator) AfterCompletion(ctx context.Context, status ports.TxStatus) error {
	committed := status == ports.StatusCommitted
	var first error
	for _, r := range co.registrations() {
		inst := r.inst
		inst.mu.Lock()
		if inst.discarded {
			inst.mu.Unlock()
			continue
		}
		wasInUse := inst.inUse
		inst.inUse = true
		inst.mu.Unlock()

		if cb := inst.component().Callbacks; r.enabled && cb.AfterCompletion != nil {
			fn := func(ctx context.Context, bean any) error {
				return cb.AfterCompletion(ctx, bean, committed)
			}
			if err := co.c.callback(ctx, inst, domain.OpAfterCompletion, fn); err != nil {
				// The outcome is settled; only the instance is lost.
				co.c.guard.Discard(ctx, inst)
				rtErr := co.c.systemError(domain.OpAfterCompletion, inst, err)
				if first == nil {
					first = rtErr
				}
				continue
			}
		}

		inst.mu.Lock()
		if sameTx(inst.tx, co.policy.tx) {
			inst.tx = nil
		}
		inst.mu.Unlock()
		if wasInUse {
			continue
		}
		co.c.guard.Release(ctx, inst)
	}
	return first
}
