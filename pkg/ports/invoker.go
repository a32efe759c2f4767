package ports

import (
	"context"
	"time"

	"github.com/aretw0/stateful/pkg/domain"
)

// Invoker runs an invocation through the interceptor chain and the bean.
type Invoker interface {
	Invoke(ctx context.Context, inv *domain.Invocation) (any, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, inv *domain.Invocation) (any, error)

func (f InvokerFunc) Invoke(ctx context.Context, inv *domain.Invocation) (any, error) {
	return f(ctx, inv)
}

// Monitor is the monitoring registration hook. Calls are fire-and-forget:
// the container logs failures and carries on.
type Monitor interface {
	Register(name string) error
	Unregister(name string) error
}

// InvocationObserver is notified after every completed invocation.
type InvocationObserver interface {
	ObserveInvocation(componentID string, op domain.Operation, method string, elapsed time.Duration, err error)
}
