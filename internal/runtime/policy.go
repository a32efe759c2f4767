package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/stateful/internal/logging"
	"github.com/aretw0/stateful/pkg/domain"
	"github.com/aretw0/stateful/pkg/ports"
)

// PolicyResolver turns a transaction attribute into the transaction
// demarcation of one invocation.
type PolicyResolver struct {
	tm     ports.TransactionManager
	logger *slog.Logger
}

// NewPolicyResolver creates a PolicyResolver over tm.
func NewPolicyResolver(tm ports.TransactionManager, logger *slog.Logger) *PolicyResolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &PolicyResolver{tm: tm, logger: logger}
}

// Policy is the transaction environment of one invocation. It is not safe for
// use by more than one invocation.
type Policy struct {
	attr   domain.TransactionAttribute
	tm     ports.TransactionManager
	logger *slog.Logger

	tx        ports.Transaction
	began     bool
	suspended ports.Transaction

	// Used when the invocation runs without a transaction.
	mu           sync.Mutex
	rollbackOnly bool
	resources    map[any]any
	syncs        []ports.Synchronization
	ended        bool
}

// Begin resolves attr against the transaction carried by ctx. The returned
// context carries the transaction the invocation runs in, if any.
func (r *PolicyResolver) Begin(ctx context.Context, attr domain.TransactionAttribute) (context.Context, *Policy, error) {
	p := &Policy{attr: attr, tm: r.tm, logger: r.logger}
	caller := r.tm.Current(ctx)

	switch attr {
	case domain.TxRequired:
		if caller != nil {
			p.tx = caller
			return ctx, p, nil
		}
		return p.begin(ctx)

	case domain.TxRequiresNew:
		if caller != nil {
			ctx, p.suspended = r.tm.Suspend(ctx)
		}
		return p.begin(ctx)

	case domain.TxSupports:
		p.tx = caller
		return ctx, p, nil

	case domain.TxNotSupported, domain.TxBeanManaged:
		if caller != nil {
			ctx, p.suspended = r.tm.Suspend(ctx)
		}
		return ctx, p, nil

	case domain.TxMandatory:
		if caller == nil {
			return ctx, nil, &domain.TransactionError{Attribute: attr, Err: domain.ErrTransactionRequired}
		}
		p.tx = caller
		return ctx, p, nil

	case domain.TxNever:
		if caller != nil {
			return ctx, nil, &domain.TransactionError{Attribute: attr, Err: domain.ErrTransactionNotAllowed}
		}
		return ctx, p, nil
	}
	return ctx, nil, &domain.TransactionError{Attribute: attr, Err: fmt.Errorf("unknown transaction attribute %d", int(attr))}
}

func (p *Policy) begin(ctx context.Context) (context.Context, *Policy, error) {
	ctx, tx, err := p.tm.Begin(ctx)
	if err != nil {
		return ctx, nil, &domain.TransactionError{Attribute: p.attr, Err: err}
	}
	p.tx = tx
	p.began = true
	p.logger.Debug("Transaction started", "tx", tx.ID(), "attribute", p.attr)
	return ctx, p, nil
}

// Attribute returns the attribute the policy was resolved from.
func (p *Policy) Attribute() domain.TransactionAttribute { return p.attr }

// Transaction returns the transaction the invocation runs in, or nil.
func (p *Policy) Transaction() ports.Transaction { return p.tx }

// Suspended returns the caller transaction suspended for the invocation, or nil.
func (p *Policy) Suspended() ports.Transaction { return p.suspended }

// Began reports whether the policy started its own transaction.
func (p *Policy) Began() bool { return p.began }

// IsTransactionActive reports whether the invocation runs in an active transaction.
func (p *Policy) IsTransactionActive() bool {
	return p.tx != nil && p.tx.Status() == ports.StatusActive
}

// SetRollbackOnly marks the transaction (or the non-transactional unit of work) rollback-only.
func (p *Policy) SetRollbackOnly() {
	if p.tx != nil {
		p.tx.SetRollbackOnly()
		return
	}
	p.mu.Lock()
	p.rollbackOnly = true
	p.mu.Unlock()
}

// RollbackOnly reports whether SetRollbackOnly was called.
func (p *Policy) RollbackOnly() bool {
	if p.tx != nil {
		return p.tx.RollbackOnly()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rollbackOnly
}

// Resource returns a value stored with PutResource.
func (p *Policy) Resource(key any) any {
	if p.tx != nil {
		return p.tx.Resource(key)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resources[key]
}

// PutResource stores a value for the lifetime of the transaction or invocation.
func (p *Policy) PutResource(key, value any) {
	if p.tx != nil {
		p.tx.PutResource(key, value)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resources == nil {
		p.resources = make(map[any]any)
	}
	p.resources[key] = value
}

// RegisterSynchronization registers s with the transaction. Without a
// transaction, s runs when End is called, as if a transaction had committed.
func (p *Policy) RegisterSynchronization(s ports.Synchronization) error {
	if p.tx != nil {
		return p.tx.RegisterSynchronization(s)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ended {
		return domain.ErrTransactionInactive
	}
	p.syncs = append(p.syncs, s)
	return nil
}

// End completes the invocation: a transaction begun by the policy is committed,
// or rolled back when it is rollback-only. Synchronizations registered without
// a transaction are fired. A suspended caller transaction stays bound to the
// caller's own context.
func (p *Policy) End(ctx context.Context) error {
	switch {
	case p.began:
		if p.tx.RollbackOnly() {
			p.logger.Debug("Rolling back transaction", "tx", p.tx.ID())
			return p.tx.Rollback(ctx)
		}
		return p.tx.Commit(ctx)
	case p.tx == nil:
		return p.fire(ctx)
	}
	return nil
}

func (p *Policy) fire(ctx context.Context) error {
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return nil
	}
	p.ended = true
	syncs := p.syncs
	p.mu.Unlock()

	var first error
	for _, s := range syncs {
		if err := s.BeforeCompletion(ctx); err != nil {
			first = err
			break
		}
	}
	for _, s := range syncs {
		if err := s.AfterCompletion(ctx, ports.StatusCommitted); err != nil && first == nil {
			first = err
		}
	}
	return first
}
