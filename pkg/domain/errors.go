package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrInstanceNotFound is returned when a key names no live instance (never created, removed or timed out).
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrConcurrentAccess is returned when an instance already in use is invoked again.
	ErrConcurrentAccess = errors.New("concurrent calls not allowed")

	// ErrCrossTransaction is returned when a transaction-bound instance is invoked from another transaction.
	ErrCrossTransaction = errors.New("instance is in a transaction and cannot be invoked outside that transaction")

	// ErrUnauthorized is returned when the authorizer denies the call.
	ErrUnauthorized = errors.New("unauthorized access by principal denied")

	// ErrRemoveInTransaction is returned when removing an instance enrolled in a transaction is forbidden.
	ErrRemoveInTransaction = errors.New("an instance enrolled in a transaction can not be removed")

	// ErrMethodNotFound is returned for a method the component does not expose.
	ErrMethodNotFound = errors.New("method not found")

	ErrAlreadyDeployed = errors.New("component already deployed")
	ErrNotDeployed     = errors.New("component not deployed")
	ErrEmptyKey        = errors.New("instance key is empty")

	// ErrSnapshotNotFound is returned when a passivation store has no snapshot for a key.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	ErrTransactionRequired   = errors.New("transaction required")
	ErrTransactionNotAllowed = errors.New("transaction not allowed")
	ErrRolledBack            = errors.New("transaction rolled back")
	ErrTransactionInactive   = errors.New("transaction is not active")

	// ErrSystem matches every error the container translated from a system failure.
	ErrSystem = errors.New("system failure")
)

// ApplicationError is a business-level failure. It reaches the caller unchanged
// and never discards the instance.
type ApplicationError struct {
	Err error
	// Rollback marks the current transaction rollback-only.
	Rollback bool
}

// NewApplicationError wraps err as an application error.
func NewApplicationError(err error) *ApplicationError {
	return &ApplicationError{Err: err}
}

// NewRollbackError wraps err as an application error that forces rollback.
func NewRollbackError(err error) *ApplicationError {
	return &ApplicationError{Err: err, Rollback: true}
}

func (e *ApplicationError) Error() string {
	if e.Err == nil {
		return "application error"
	}
	return e.Err.Error()
}

func (e *ApplicationError) Unwrap() error { return e.Err }

// RuntimeError is what callers see of a system failure. The cause is logged
// under the correlation Ref and deliberately not exposed.
type RuntimeError struct {
	Op  string
	Ref string
}

// NewRuntimeError creates a RuntimeError with a fresh correlation reference.
func NewRuntimeError(op string) *RuntimeError {
	return &RuntimeError{Op: op, Ref: uuid.NewString()[:8]}
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: unexpected system error (ref %s)", e.Op, e.Ref)
}

func (e *RuntimeError) Is(target error) bool { return target == ErrSystem }

// TransactionError is a system-level failure of transaction demarcation.
type TransactionError struct {
	Attribute TransactionAttribute
	Err       error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction policy %s: %v", e.Attribute, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

func (e *TransactionError) Is(target error) bool { return target == ErrSystem }
