package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/stateful/pkg/domain"
)

// DirectInvoker calls the bean implementation with no interceptors.
type DirectInvoker struct{}

func (DirectInvoker) Invoke(ctx context.Context, inv *domain.Invocation) (any, error) {
	if inv.Target == nil {
		return nil, nil
	}
	return inv.Target(ctx, inv.Bean, inv.Args)
}

// invoke hands one call on inst to the invoker. A panic in bean code is
// returned as an error, which classifies as a system failure.
func (c *Container) invoke(ctx context.Context, inst *Instance, op domain.Operation, m domain.Method, target domain.MethodFunc, args []any) (out any, err error) {
	inv := &domain.Invocation{
		ComponentID: inst.ComponentID(),
		Key:         inst.Key,
		Method:      m,
		Operation:   op,
		Bean:        inst.Bean,
		Args:        args,
		Target:      target,
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic in %s %s: %v", op, m.Name, r)
		}
		if c.observer != nil {
			c.observer.ObserveInvocation(inv.ComponentID, op, m.Name, time.Since(start), err)
		}
	}()
	return c.invoker.Invoke(ctx, inv)
}

// callback runs a lifecycle callback through the invoker.
func (c *Container) callback(ctx context.Context, inst *Instance, op domain.Operation, fn domain.CallbackFunc) error {
	target := func(ctx context.Context, bean any, _ []any) (any, error) {
		return nil, fn(ctx, bean)
	}
	_, err := c.invoke(ctx, inst, op, domain.Method{Name: op.String()}, target, nil)
	return err
}
