package ports

import "context"

// TxStatus is the state of a transaction.
type TxStatus int

const (
	StatusActive TxStatus = iota
	StatusMarkedRollback
	StatusCommitting
	StatusCommitted
	StatusRolledBack
)

func (s TxStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusMarkedRollback:
		return "marked-rollback"
	case StatusCommitting:
		return "committing"
	case StatusCommitted:
		return "committed"
	case StatusRolledBack:
		return "rolled-back"
	default:
		return "unknown"
	}
}

// Synchronization receives the completion events of a transaction.
type Synchronization interface {
	// BeforeCompletion runs before the commit decision. An error forces rollback.
	BeforeCompletion(ctx context.Context) error
	// AfterCompletion runs once the outcome is known.
	AfterCompletion(ctx context.Context, status TxStatus) error
}

// Transaction is a handle on one transaction.
type Transaction interface {
	ID() string
	Status() TxStatus
	SetRollbackOnly()
	RollbackOnly() bool

	// RegisterSynchronization adds s; synchronizations run in registration order.
	RegisterSynchronization(s Synchronization) error

	// Resource and PutResource hold per-transaction values keyed by type.
	Resource(key any) any
	PutResource(key, value any)

	// Commit completes the transaction. If the transaction is rollback-only or
	// a BeforeCompletion fails, it rolls back and returns domain.ErrRolledBack.
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionManager demarcates transactions. The current transaction travels
// in the context.
type TransactionManager interface {
	// Begin starts a transaction and returns a context carrying it.
	Begin(ctx context.Context) (context.Context, Transaction, error)

	// Current returns the transaction carried by ctx, or nil.
	Current(ctx context.Context) Transaction

	// Suspend detaches the current transaction from ctx.
	Suspend(ctx context.Context) (context.Context, Transaction)

	// Resume attaches tx to ctx. A nil tx is a no-op.
	Resume(ctx context.Context, tx Transaction) (context.Context, error)
}
