package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/aretw0/stateful/internal/logging"
	"github.com/aretw0/stateful/pkg/adapters/memory"
	"github.com/aretw0/stateful/pkg/cache"
	"github.com/aretw0/stateful/pkg/domain"
	"github.com/aretw0/stateful/pkg/ports"
	"github.com/aretw0/stateful/pkg/resource"
	"github.com/aretw0/stateful/pkg/snapshot"
)

// Container manages the instances of deployed stateful components.
type Container struct {
	logger     *slog.Logger
	tm         ports.TransactionManager
	authorizer ports.Authorizer
	invoker    ports.Invoker
	monitor    ports.Monitor
	observer   ports.InvocationObserver
	snapshots  *snapshot.Manager
	cacheCfg   cache.Config
	cacheOpts  []cache.Option

	policies  *PolicyResolver
	cache     *cache.Cache[*Instance]
	guard     *Guard
	resources *resource.Registry

	// deployments is replaced copy-on-write under mu and read without locking.
	mu          sync.Mutex
	deployments atomic.Pointer[map[string]*deployment]
}

// NewContainer creates a Container. Without options it keeps snapshots in
// memory and uses the in-memory transaction manager.
func NewContainer(opts ...Option) (*Container, error) {
	c := &Container{
		logger:     logging.NewNop(),
		authorizer: ports.AllowAll,
		invoker:    DirectInvoker{},
		cacheCfg:   cache.DefaultConfig(),
		resources:  resource.NewRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tm == nil {
		c.tm = memory.NewTransactionManager(memory.WithTxLogger(c.logger))
	}
	if c.snapshots == nil {
		c.snapshots = snapshot.NewManager(memory.NewStore(), snapshot.WithLogger(c.logger))
	}

	cacheOpts := append([]cache.Option{cache.WithLogger(c.logger)}, c.cacheOpts...)
	instances, err := cache.New[*Instance](c.cacheCfg, &snapshotPassivator{c: c}, &cacheListener{c: c}, cacheOpts...)
	if err != nil {
		return nil, err
	}
	c.cache = instances
	c.guard = NewGuard(instances, c.logger)
	c.policies = NewPolicyResolver(c.tm, c.logger)

	empty := make(map[string]*deployment)
	c.deployments.Store(&empty)
	return c, nil
}

// Start runs the background timeout sweep until ctx is done or Close is called.
func (c *Container) Start(ctx context.Context) {
	c.cache.Start(ctx)
}

// Close stops background work.
func (c *Container) Close() error {
	return c.cache.Close()
}

// TransactionManager returns the transaction manager the container demarcates with.
func (c *Container) TransactionManager() ports.TransactionManager { return c.tm }

// Snapshots returns the snapshot manager used for passivation.
func (c *Container) Snapshots() *snapshot.Manager { return c.snapshots }

// Resources returns the registry of resources bound to running invocations.
func (c *Container) Resources() *resource.Registry { return c.resources }

// Guard returns the concurrency guard.
func (c *Container) Guard() *Guard { return c.guard }

// Stats returns the instance cache statistics.
func (c *Container) Stats() cache.Stats { return c.cache.Stats() }

// Status reports where the instance for key currently lives.
func (c *Container) Status(key string) cache.Status { return c.cache.Status(key) }

// Sweep removes timed-out instances now.
func (c *Container) Sweep(ctx context.Context) int { return c.cache.Sweep(ctx) }

func (c *Container) deployment(id string) (*deployment, bool) {
	d, ok := (*c.deployments.Load())[id]
	return d, ok
}

// Deployed returns the ids of the deployed component types.
func (c *Container) Deployed() []string {
	current := *c.deployments.Load()
	ids := make([]string, 0, len(current))
	for id := range current {
		ids = append(ids, id)
	}
	return ids
}

// Deploy makes a component type invocable.
func (c *Container) Deploy(ct *domain.ComponentType) error {
	if err := ct.Validate(); err != nil {
		return err
	}
	dep, err := newDeployment(ct)
	if err != nil {
		return err
	}

	c.mu.Lock()
	current := *c.deployments.Load()
	if _, ok := current[ct.ID]; ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrAlreadyDeployed, ct.ID)
	}
	next := maps.Clone(current)
	next[ct.ID] = dep
	c.deployments.Store(&next)
	c.mu.Unlock()

	if c.monitor != nil {
		if err := c.monitor.Register(ct.ID); err != nil {
			c.logger.Warn("Monitoring registration failed", "component", ct.ID, "err", err)
		}
	}
	c.logger.Info("Deployed component", "component", ct.DisplayName(), "methods", len(dep.kinds))
	return nil
}

// Undeploy purges every idle or passivated instance of the component from the
// cache and unregisters it. Instances checked out at that moment are
// discarded when they are released.
func (c *Container) Undeploy(ctx context.Context, id string) error {
	c.mu.Lock()
	dep, ok := (*c.deployments.Load())[id]
	if !ok || dep.destroyed.Load() {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrNotDeployed, id)
	}
	dep.destroyed.Store(true)
	c.mu.Unlock()

	removed, purgeErr := c.cache.RemoveAll(ctx, func(_ string, inst *Instance) bool {
		return inst.dep == dep
	})
	for _, inst := range removed {
		if err := inst.resources.Release(); err != nil {
			c.logger.Warn("Failed to release resources of undeployed instance", "key", inst.Key, "err", err)
		}
	}

	c.mu.Lock()
	next := maps.Clone(*c.deployments.Load())
	delete(next, id)
	c.deployments.Store(&next)
	c.mu.Unlock()

	if c.monitor != nil {
		if err := c.monitor.Unregister(id); err != nil {
			c.logger.Warn("Monitoring unregistration failed", "component", id, "err", err)
		}
	}
	c.logger.Info("Undeployed component", "component", dep.ct.DisplayName(), "purged", len(removed))
	return purgeErr
}

// Invoke dispatches a call. For a create the result is the new instance key.
func (c *Container) Invoke(ctx context.Context, componentID, key string, m domain.Method, args []any) (any, error) {
	dep, ok := c.deployment(componentID)
	if !ok || dep.destroyed.Load() {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotDeployed, componentID)
	}
	kind, ok := dep.kind(m)
	if !ok {
		return nil, domain.NewApplicationError(fmt.Errorf("%w: %s", domain.ErrMethodNotFound, m))
	}
	if !c.authorizer.IsAuthorized(ctx, componentID, m) {
		return nil, domain.NewApplicationError(domain.ErrUnauthorized)
	}

	switch kind {
	case domain.KindCreate:
		key, err := c.create(ctx, dep, m, args)
		if err != nil {
			return nil, err
		}
		return key, nil
	case domain.KindRemove:
		return c.remove(ctx, dep, key, m, args)
	default:
		return c.business(ctx, dep, key, m, args)
	}
}

func (c *Container) create(ctx context.Context, dep *deployment, m domain.Method, args []any) (key string, err error) {
	ct := dep.ct
	key = domain.NewInstanceKey()

	resources, err := resource.Open(ctx, ct.ExtendedResources, resource.FromContext(ctx))
	if err != nil {
		rtErr := domain.NewRuntimeError(domain.OpCreate.String())
		c.logger.Error("Failed to open extended resources", "ref", rtErr.Ref, "component", ct.ID, "err", err)
		return "", rtErr
	}

	pctx, policy, err := c.policies.Begin(ctx, ct.TransactionAttribute(m))
	if err != nil {
		if relErr := resources.Release(); relErr != nil {
			c.logger.Warn("Failed to release extended resources", "component", ct.ID, "err", relErr)
		}
		return "", err
	}
	ctx = pctx

	var lease *Lease
	defer func() {
		err = c.finish(pctx, policy, lease, err)
		if err != nil {
			key = ""
		}
	}()

	inst := newInstance(key, dep, ct.New(), resources)
	lease, err = c.guard.Track(inst, policy.Transaction())
	if err != nil {
		c.guard.Discard(ctx, inst)
		return "", c.systemError(domain.OpCreate, inst, err)
	}

	if err := c.registerSynchronization(ctx, policy, inst, domain.OpCreate); err != nil {
		return "", c.fail(ctx, policy, inst, domain.OpCreate, err)
	}

	ctx, ut, err := c.enterUserTransaction(ctx, inst)
	if err != nil {
		return "", c.fail(ctx, policy, inst, domain.OpCreate, err)
	}
	defer c.leaveUserTransaction(ctx, inst, ut)

	if m.Interface.IsBusinessHome() {
		c.logger.Debug("Created instance", "component", ct.ID, "key", key)
		return key, nil
	}
	init := ct.Methods[m.Name]
	if init == nil {
		c.logger.Debug("Created instance", "component", ct.ID, "key", key)
		return key, nil
	}

	ctx, unbind, err := c.bindResources(ctx, inst)
	if err != nil {
		return "", c.fail(ctx, policy, inst, domain.OpCreate, err)
	}
	defer unbind()

	if _, err := c.invoke(ctx, inst, domain.OpCreate, m, init, args); err != nil {
		err = c.handleError(ctx, policy, inst, domain.OpCreate, err)
		// A half-built instance never survives.
		c.guard.Discard(ctx, inst)
		return "", err
	}
	c.logger.Debug("Created instance", "component", ct.ID, "key", key)
	return key, nil
}

func (c *Container) remove(ctx context.Context, dep *deployment, key string, m domain.Method, args []any) (result any, err error) {
	ct := dep.ct

	if m.Interface.IsComponent() && ct.ForbidRemoveInTransaction && c.guard.Enrolled(key) {
		return nil, domain.NewApplicationError(domain.ErrRemoveInTransaction)
	}

	pctx, policy, err := c.policies.Begin(ctx, ct.TransactionAttribute(m))
	if err != nil {
		return nil, err
	}
	ctx = pctx

	var lease *Lease
	defer func() { err = c.finish(pctx, policy, lease, err) }()

	lease, err = c.obtain(ctx, dep, key, domain.OpRemove, policy.Transaction())
	if err != nil {
		return nil, err
	}
	inst := lease.Instance()

	ctx, ut, err := c.enterUserTransaction(ctx, inst)
	if err != nil {
		return nil, c.fail(ctx, policy, inst, domain.OpRemove, err)
	}
	defer c.leaveUserTransaction(ctx, inst, ut)

	ctx, unbind, err := c.bindResources(ctx, inst)
	if err != nil {
		return nil, c.fail(ctx, policy, inst, domain.OpRemove, err)
	}
	defer unbind()

	if err := c.registerSynchronization(ctx, policy, inst, domain.OpRemove); err != nil {
		return nil, c.fail(ctx, policy, inst, domain.OpRemove, err)
	}

	// Home removes identify the instance by their arguments; the bean gets none.
	if m.Interface.IsHome() {
		args = nil
	}

	retain := false
	result, err = c.invoke(ctx, inst, domain.OpRemove, m, ct.Methods[m.Name], args)
	if err != nil {
		system := ct.ExceptionType(err) == domain.ExceptionSystem
		if m.Interface.IsBusiness() {
			retain = !system && ct.RetainIfException[m.Name]
			err = c.handleError(ctx, policy, inst, domain.OpRemove, err)
		} else {
			err = c.handleError(ctx, policy, inst, domain.OpRemove, err)
			if !system {
				c.logger.Debug("Ignoring application error of component remove", "key", key, "err", err)
				err = nil
			}
		}
		if system {
			return nil, err
		}
	}

	if retain {
		return result, err
	}

	if cb := ct.Callbacks; cb != nil && cb.PreDestroy != nil {
		if cbErr := c.callback(ctx, inst, domain.OpPreDestroy, cb.PreDestroy); cbErr != nil {
			c.logger.Error("PreDestroy callback of removed instance failed", "component", ct.ID, "key", key, "err", cbErr)
		}
	}
	c.guard.Discard(ctx, inst)
	c.logger.Debug("Removed instance", "component", ct.ID, "key", key)
	return result, err
}

func (c *Container) business(ctx context.Context, dep *deployment, key string, m domain.Method, args []any) (result any, err error) {
	ct := dep.ct

	pctx, policy, err := c.policies.Begin(ctx, ct.TransactionAttribute(m))
	if err != nil {
		return nil, err
	}
	ctx = pctx

	var lease *Lease
	defer func() { err = c.finish(pctx, policy, lease, err) }()

	lease, err = c.obtain(ctx, dep, key, domain.OpBusiness, policy.Transaction())
	if err != nil {
		return nil, err
	}
	inst := lease.Instance()

	ctx, ut, err := c.enterUserTransaction(ctx, inst)
	if err != nil {
		return nil, c.fail(ctx, policy, inst, domain.OpBusiness, err)
	}
	defer c.leaveUserTransaction(ctx, inst, ut)

	ctx, unbind, err := c.bindResources(ctx, inst)
	if err != nil {
		return nil, c.fail(ctx, policy, inst, domain.OpBusiness, err)
	}
	defer unbind()

	if err := c.registerSynchronization(ctx, policy, inst, domain.OpBusiness); err != nil {
		return nil, c.fail(ctx, policy, inst, domain.OpBusiness, err)
	}

	result, err = c.invoke(ctx, inst, domain.OpBusiness, m, ct.Methods[m.Name], args)
	if err != nil {
		return nil, c.handleError(ctx, policy, inst, domain.OpBusiness, err)
	}
	return result, nil
}

// obtain leases the instance for key, translating activation failures into
// system errors.
func (c *Container) obtain(ctx context.Context, dep *deployment, key string, op domain.Operation, tx ports.Transaction) (*Lease, error) {
	lease, err := c.guard.Obtain(ctx, dep.ct.ID, key, op, tx)
	if err == nil {
		return lease, nil
	}
	var appErr *domain.ApplicationError
	if errors.As(err, &appErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	rtErr := domain.NewRuntimeError(op.String())
	c.logger.Error("Failed to obtain instance", "ref", rtErr.Ref, "component", dep.ct.ID, "key", key, "err", err)
	return nil, rtErr
}

// finish ends the policy and the lease. An invocation error takes precedence
// over a completion error.
func (c *Container) finish(ctx context.Context, p *Policy, lease *Lease, err error) error {
	endErr := p.End(ctx)
	c.guard.Leave(ctx, lease)
	if endErr == nil {
		return err
	}
	if err != nil {
		c.logger.Warn("Transaction completion failed after invocation error", "attribute", p.Attribute(), "err", endErr)
		return err
	}
	var rtErr *domain.RuntimeError
	if errors.As(endErr, &rtErr) {
		return rtErr
	}
	rtErr = domain.NewRuntimeError("complete")
	c.logger.Error("Transaction completion failed", "ref", rtErr.Ref, "attribute", p.Attribute(), "err", endErr)
	return rtErr
}

// handleError applies the error taxonomy to a failed invocation.
func (c *Container) handleError(ctx context.Context, p *Policy, inst *Instance, op domain.Operation, err error) error {
	switch inst.component().ExceptionType(err) {
	case domain.ExceptionApplication:
		return err
	case domain.ExceptionApplicationRollback:
		p.SetRollbackOnly()
		return err
	default:
		return c.fail(ctx, p, inst, op, err)
	}
}

// fail handles a system failure: the transaction is marked rollback-only,
// the instance discarded, and the caller gets an opaque error.
func (c *Container) fail(ctx context.Context, p *Policy, inst *Instance, op domain.Operation, cause error) error {
	p.SetRollbackOnly()
	c.guard.Discard(ctx, inst)
	return c.systemError(op, inst, cause)
}

func (c *Container) systemError(op domain.Operation, inst *Instance, cause error) *domain.RuntimeError {
	rtErr := domain.NewRuntimeError(op.String())
	c.logger.Error("System failure",
		"ref", rtErr.Ref,
		"op", op.String(),
		"component", inst.ComponentID(),
		"key", inst.Key,
		"err", cause,
	)
	return rtErr
}

// bindResources exposes the instance's extended resources to the invocation.
func (c *Container) bindResources(ctx context.Context, inst *Instance) (context.Context, func(), error) {
	set := inst.Resources()
	if len(set) == 0 {
		return ctx, func() {}, nil
	}
	if err := c.resources.Bind(inst.ComponentID(), inst.Key, set); err != nil {
		return ctx, func() {}, err
	}
	return resource.WithSet(ctx, set), func() { c.resources.Unbind(inst.ComponentID(), inst.Key) }, nil
}

// enterUserTransaction resumes the bean-managed transaction the instance left
// open, and exposes a UserTransaction to the bean.
func (c *Container) enterUserTransaction(ctx context.Context, inst *Instance) (context.Context, *UserTransaction, error) {
	if inst.component().TransactionType != domain.BeanManaged {
		return ctx, nil, nil
	}
	inst.mu.Lock()
	tx := inst.userTx
	inst.userTx = nil
	inst.mu.Unlock()

	if tx != nil {
		resumed, err := c.tm.Resume(ctx, tx)
		if err != nil {
			return ctx, nil, fmt.Errorf("resume bean-managed transaction %s: %w", tx.ID(), err)
		}
		ctx = resumed
	}
	ut := &UserTransaction{tm: c.tm, tx: tx}
	return withUserTransaction(ctx, ut), ut, nil
}

// leaveUserTransaction keeps a transaction the bean left open with the
// instance, to be resumed on its next invocation.
func (c *Container) leaveUserTransaction(ctx context.Context, inst *Instance, ut *UserTransaction) {
	if ut == nil {
		return
	}
	tx := ut.detach()
	if tx == nil {
		return
	}
	inst.mu.Lock()
	if !inst.discarded {
		inst.userTx = tx
		tx = nil
	}
	inst.mu.Unlock()
	if tx != nil {
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("Failed to roll back bean-managed transaction", "key", inst.Key, "tx", tx.ID(), "err", err)
		}
	}
}
