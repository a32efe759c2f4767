package domain

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// MethodFunc implements a bean method. Bean is the instance created by ComponentType.New.
type MethodFunc func(ctx context.Context, bean any, args []any) (any, error)

// CallbackFunc implements a lifecycle callback.
type CallbackFunc func(ctx context.Context, bean any) error

// Callbacks is the optional lifecycle capability of a component.
// A nil *Callbacks means the component takes no lifecycle callbacks at all.
type Callbacks struct {
	AfterBegin       CallbackFunc
	BeforeCompletion CallbackFunc
	AfterCompletion  func(ctx context.Context, bean any, committed bool) error

	Activate   CallbackFunc
	Passivate  CallbackFunc
	PreDestroy CallbackFunc
}

// SessionSynchronized reports whether the component takes transaction synchronization callbacks.
func (c *Callbacks) SessionSynchronized() bool {
	return c != nil && (c.AfterBegin != nil || c.BeforeCompletion != nil || c.AfterCompletion != nil)
}

// ExceptionType is the container's classification of an invocation error.
type ExceptionType int

const (
	ExceptionSystem ExceptionType = iota
	ExceptionApplication
	// ExceptionApplicationRollback propagates unchanged but marks the transaction rollback-only.
	ExceptionApplicationRollback
)

func (t ExceptionType) String() string {
	switch t {
	case ExceptionApplication:
		return "application"
	case ExceptionApplicationRollback:
		return "application-rollback"
	default:
		return "system"
	}
}

// Resource is an extended resource handle (e.g. an extended persistence context).
type Resource interface {
	Close() error
}

// ResourceFactory opens extended resources for new instances.
type ResourceFactory interface {
	ID() string
	Open(ctx context.Context) (Resource, error)
}

// ComponentType is the static, deployment-resolved description of a stateful component.
// It is shared by all of its instances and must not be mutated after Deploy.
type ComponentType struct {
	ID   string
	Name string

	TransactionType TransactionType

	// Interfaces lists the method names exposed through each client view.
	Interfaces map[InterfaceType][]string

	// RemoveMethods names the bean's remove methods. A business view method
	// with one of these names is dispatched as a remove.
	RemoveMethods []string

	// Methods holds the bean implementation of every invocable method,
	// including legacy create initializers and remove methods.
	Methods map[string]MethodFunc

	// TransactionAttributes by method name; missing names use DefaultTransactionAttribute.
	TransactionAttributes       map[string]TransactionAttribute
	DefaultTransactionAttribute TransactionAttribute

	Callbacks *Callbacks

	// New instantiates a bean. Beans must round-trip through encoding/json to be passivated.
	New func() any

	ExtendedResources []ResourceFactory

	// RetainIfException keeps the instance alive when the named business remove method fails.
	RetainIfException map[string]bool

	// ForbidRemoveInTransaction rejects removes through component views while
	// the instance is enrolled in a transaction.
	ForbidRemoveInTransaction bool

	// Classify overrides the default error classification.
	Classify func(error) ExceptionType
}

// DisplayName returns Name, falling back to ID.
func (c *ComponentType) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// Validate checks the fields the container relies on.
func (c *ComponentType) Validate() error {
	if c == nil {
		return errors.New("component type is nil")
	}
	if c.ID == "" {
		return errors.New("component type id is required")
	}
	if c.New == nil {
		return fmt.Errorf("component %s: New is required", c.ID)
	}
	return nil
}

// TransactionAttribute resolves the transaction policy of a method.
func (c *ComponentType) TransactionAttribute(m Method) TransactionAttribute {
	if c.TransactionType == BeanManaged {
		return TxBeanManaged
	}
	if attr, ok := c.TransactionAttributes[m.Name]; ok {
		return attr
	}
	return c.DefaultTransactionAttribute
}

// MethodKind classifies m: creates through homes, removes through homes and
// component views or a business view's remove methods, and business methods.
func (c *ComponentType) MethodKind(m Method) MethodKind {
	switch {
	case m.Interface.IsHome() && IsCreateName(m.Name):
		return KindCreate
	case m.Interface.IsHome() || m.Interface.IsComponent():
		if m.Name == RemoveMethodName {
			return KindRemove
		}
	case m.Interface.IsBusiness():
		if slices.Contains(c.RemoveMethods, m.Name) {
			return KindRemove
		}
	}
	return KindBusiness
}

// ExceptionType classifies err for this component.
func (c *ComponentType) ExceptionType(err error) ExceptionType {
	if c.Classify != nil {
		return c.Classify(err)
	}
	return ClassifyError(err)
}

// ClassifyError is the default classification: *ApplicationError values are
// application errors, everything else is a system error.
func ClassifyError(err error) ExceptionType {
	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		if appErr.Rollback {
			return ExceptionApplicationRollback
		}
		return ExceptionApplication
	}
	return ExceptionSystem
}

// Invocation is one call handed to the interceptor engine.
type Invocation struct {
	ComponentID string
	Key         string
	Method      Method
	Operation   Operation
	Bean        any
	Args        []any
	// Target is the bean implementation resolved by the container.
	Target MethodFunc
}
