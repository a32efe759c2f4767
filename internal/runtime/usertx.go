package runtime

import (
	"context"
	"errors"
	"sync"

	"github.com/aretw0/stateful/pkg/domain"
	"github.com/aretw0/stateful/pkg/ports"
)

// ErrUserTransactionActive is returned by UserTransaction.Begin while a
// transaction is already open.
var ErrUserTransactionActive = errors.New("bean-managed transaction already active")

type userTxKey struct{}

// UserTransaction lets a bean-managed component demarcate its own transaction.
// A transaction left open when a method returns stays with the instance and
// is resumed on its next invocation.
type UserTransaction struct {
	tm ports.TransactionManager

	mu sync.Mutex
	tx ports.Transaction
}

// UserTransactionFrom returns the UserTransaction of the running bean-managed invocation.
func UserTransactionFrom(ctx context.Context) (*UserTransaction, bool) {
	u, ok := ctx.Value(userTxKey{}).(*UserTransaction)
	return u, ok
}

func withUserTransaction(ctx context.Context, u *UserTransaction) context.Context {
	return context.WithValue(ctx, userTxKey{}, u)
}

// Begin starts a transaction. Work that must run in it uses the returned context.
func (u *UserTransaction) Begin(ctx context.Context) (context.Context, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.tx != nil {
		return ctx, ErrUserTransactionActive
	}
	ctx, tx, err := u.tm.Begin(ctx)
	if err != nil {
		return ctx, err
	}
	u.tx = tx
	return ctx, nil
}

// Commit commits the open transaction.
func (u *UserTransaction) Commit(ctx context.Context) error {
	tx, err := u.take()
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Rollback rolls the open transaction back.
func (u *UserTransaction) Rollback(ctx context.Context) error {
	tx, err := u.take()
	if err != nil {
		return err
	}
	return tx.Rollback(ctx)
}

// SetRollbackOnly marks the open transaction rollback-only.
func (u *UserTransaction) SetRollbackOnly() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.tx == nil {
		return domain.ErrTransactionInactive
	}
	u.tx.SetRollbackOnly()
	return nil
}

// Transaction returns the open transaction, or nil.
func (u *UserTransaction) Transaction() ports.Transaction {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.tx
}

func (u *UserTransaction) take() (ports.Transaction, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.tx == nil {
		return nil, domain.ErrTransactionInactive
	}
	tx := u.tx
	u.tx = nil
	return tx, nil
}

// detach returns the transaction still open at the end of an invocation.
func (u *UserTransaction) detach() ports.Transaction {
	u.mu.Lock()
	defer u.mu.Unlock()
	tx := u.tx
	u.tx = nil
	if tx == nil {
		return nil
	}
	switch tx.Status() {
	case ports.StatusActive, ports.StatusMarkedRollback:
		return tx
	}
	return nil
}
