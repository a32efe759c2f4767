package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/stateful/internal/logging"
	"github.com/aretw0/stateful/pkg/domain"
	"github.com/aretw0/stateful/pkg/ports"
	"github.com/google/uuid"
)

// ErrNestedTransaction is returned by Begin when ctx already carries a transaction.
var ErrNestedTransaction = errors.New("nested transactions are not supported")

type txKey struct{}

// TransactionManager is a local, single-resource ports.TransactionManager.
// Transactions travel in the context.
type TransactionManager struct {
	logger *slog.Logger
}

// TxOption configures the TransactionManager.
type TxOption func(*TransactionManager)

// WithTxLogger sets the logger used for completion failures.
func WithTxLogger(l *slog.Logger) TxOption {
	return func(m *TransactionManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewTransactionManager creates a TransactionManager.
func NewTransactionManager(opts ...TxOption) *TransactionManager {
	m := &TransactionManager{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin starts a transaction and binds it to the returned context.
func (m *TransactionManager) Begin(ctx context.Context) (context.Context, ports.Transaction, error) {
	if m.Current(ctx) != nil {
		return ctx, nil, ErrNestedTransaction
	}
	tx := &Transaction{
		id:        uuid.NewString(),
		status:    ports.StatusActive,
		resources: make(map[any]any),
		logger:    m.logger,
	}
	return context.WithValue(ctx, txKey{}, tx), tx, nil
}

// Current returns the transaction bound to ctx, or nil.
func (m *TransactionManager) Current(ctx context.Context) ports.Transaction {
	tx, _ := ctx.Value(txKey{}).(*Transaction)
	if tx == nil {
		return nil
	}
	return tx
}

// Suspend unbinds the current transaction.
func (m *TransactionManager) Suspend(ctx context.Context) (context.Context, ports.Transaction) {
	tx := m.Current(ctx)
	if tx == nil {
		return ctx, nil
	}
	return context.WithValue(ctx, txKey{}, (*Transaction)(nil)), tx
}

// Resume binds tx to ctx.
func (m *TransactionManager) Resume(ctx context.Context, tx ports.Transaction) (context.Context, error) {
	if tx == nil {
		return ctx, nil
	}
	local, ok := tx.(*Transaction)
	if !ok {
		return ctx, fmt.Errorf("cannot resume foreign transaction %s", tx.ID())
	}
	if m.Current(ctx) != nil {
		return ctx, ErrNestedTransaction
	}
	return context.WithValue(ctx, txKey{}, local), nil
}

// Transaction is an in-memory ports.Transaction.
type Transaction struct {
	id     string
	logger *slog.Logger

	mu        sync.Mutex
	status    ports.TxStatus
	syncs     []ports.Synchronization
	resources map[any]any
}

func (t *Transaction) ID() string { return t.id }

func (t *Transaction) Status() ports.TxStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Transaction) SetRollbackOnly() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == ports.StatusActive || t.status == ports.StatusCommitting {
		t.status = ports.StatusMarkedRollback
	}
}

func (t *Transaction) RollbackOnly() bool {
	return t.Status() == ports.StatusMarkedRollback
}

func (t *Transaction) RegisterSynchronization(s ports.Synchronization) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.status {
	case ports.StatusActive, ports.StatusMarkedRollback, ports.StatusCommitting:
		t.syncs = append(t.syncs, s)
		return nil
	default:
		return fmt.Errorf("%w: %s", domain.ErrTransactionInactive, t.status)
	}
}

func (t *Transaction) Resource(key any) any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resources[key]
}

func (t *Transaction) PutResource(key, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resources[key] = value
}

// sync returns the i-th synchronization. Synchronizations may register more
// while completion runs, so the slice is re-read on every step.
func (t *Transaction) sync(i int) (ports.Synchronization, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.syncs) {
		return nil, false
	}
	return t.syncs[i], true
}

// Commit runs BeforeCompletion on every synchronization, then commits, or
// rolls back when the transaction is rollback-only or a BeforeCompletion
// failed. AfterCompletion always runs for every synchronization.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	switch t.status {
	case ports.StatusActive:
		t.status = ports.StatusCommitting
	case ports.StatusMarkedRollback:
	default:
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrTransactionInactive, t.status)
	}
	t.mu.Unlock()

	var cause error
	if !t.RollbackOnly() {
		for i := 0; ; i++ {
			s, ok := t.sync(i)
			if !ok {
				break
			}
			if err := s.BeforeCompletion(ctx); err != nil {
				cause = err
				t.SetRollbackOnly()
				break
			}
		}
	}

	t.mu.Lock()
	rollback := t.status == ports.StatusMarkedRollback
	if rollback {
		t.status = ports.StatusRolledBack
	} else {
		t.status = ports.StatusCommitted
	}
	status := t.status
	t.mu.Unlock()

	afterErr := t.afterCompletion(ctx, status)
	if rollback {
		if cause == nil {
			return errors.Join(domain.ErrRolledBack, afterErr)
		}
		return errors.Join(fmt.Errorf("%w: %w", domain.ErrRolledBack, cause), afterErr)
	}
	return afterErr
}

// Rollback rolls the transaction back and runs AfterCompletion on every synchronization.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	switch t.status {
	case ports.StatusActive, ports.StatusMarkedRollback:
		t.status = ports.StatusRolledBack
	default:
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrTransactionInactive, t.status)
	}
	t.mu.Unlock()
	return t.afterCompletion(ctx, ports.StatusRolledBack)
}

func (t *Transaction) afterCompletion(ctx context.Context, status ports.TxStatus) error {
	var first error
	for i := 0; ; i++ {
		s, ok := t.sync(i)
		if !ok {
			break
		}
		if err := s.AfterCompletion(ctx, status); err != nil {
			t.logger.Error("AfterCompletion failed", "tx", t.id, "err", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
