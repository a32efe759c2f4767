package stateful

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aretw0/stateful/internal/runtime"
	"github.com/aretw0/stateful/pkg/adapters/memory"
	"github.com/aretw0/stateful/pkg/cache"
	"github.com/aretw0/stateful/pkg/domain"
	"github.com/aretw0/stateful/pkg/observability"
	"github.com/aretw0/stateful/pkg/persistence/middleware"
	"github.com/aretw0/stateful/pkg/ports"
	"github.com/aretw0/stateful/pkg/snapshot"
)

// Aliases for the types a host needs to describe its components.
type (
	ComponentType = domain.ComponentType
	Callbacks     = domain.Callbacks
	Method        = domain.Method
	MethodFunc    = domain.MethodFunc
)

// UserTransactionFrom returns the UserTransaction of a running bean-managed invocation.
func UserTransactionFrom(ctx context.Context) (*runtime.UserTransaction, bool) {
	return runtime.UserTransactionFrom(ctx)
}

// Container is the high-level entry point of the library.
// It wraps the internal runtime and provides a simplified API for hosts.
type Container struct {
	runtime *runtime.Container
	metrics *observability.Metrics
	logger  *slog.Logger
	Name    string

	store       ports.PassivationStore
	middlewares []middleware.Middleware
	locker      ports.DistributedLocker
	cacheCfg    *cache.Config
	tm          ports.TransactionManager
	authorizer  ports.Authorizer
	invoker     ports.Invoker
}

// New initializes a Container. Without options, snapshots are kept in memory
// and transactions are local to the process.
func New(opts ...Option) (*Container, error) {
	c := &Container{}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if c.Name != "" {
		c.logger = c.logger.With("container", c.Name)
	}

	store := c.store
	if store == nil {
		store = memory.NewStore()
	}
	store = middleware.Chain(store, c.middlewares...)

	snapOpts := []snapshot.Option{snapshot.WithLogger(c.logger)}
	if c.locker != nil {
		snapOpts = append(snapOpts, snapshot.WithLocker(c.locker))
	}

	runtimeOpts := []runtime.Option{
		runtime.WithLogger(c.logger),
		runtime.WithSnapshots(snapshot.NewManager(store, snapOpts...)),
	}
	if c.cacheCfg != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithCacheConfig(*c.cacheCfg))
	}
	if c.tm != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithTransactionManager(c.tm))
	}
	if c.authorizer != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithAuthorizer(c.authorizer))
	}
	if c.invoker != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithInvoker(c.invoker))
	}
	if c.metrics != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithMonitor(c.metrics), runtime.WithObserver(c.metrics))
	}

	rt, err := runtime.NewContainer(runtimeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize container: %w", err)
	}
	c.runtime = rt

	if c.metrics != nil {
		if err := c.metrics.WatchCache(rt.Stats); err != nil {
			return nil, fmt.Errorf("failed to export cache metrics: %w", err)
		}
	}
	return c, nil
}

// Start runs background work (the idle timeout sweep) until ctx is done or Close is called.
func (c *Container) Start(ctx context.Context) {
	c.runtime.Start(ctx)
}

// Close stops background work.
func (c *Container) Close() error {
	return c.runtime.Close()
}

// Deploy makes a component type invocable.
func (c *Container) Deploy(ct *ComponentType) error {
	return c.runtime.Deploy(ct)
}

// Undeploy purges the instances of a component type and makes it uninvocable.
func (c *Container) Undeploy(ctx context.Context, componentID string) error {
	return c.runtime.Undeploy(ctx, componentID)
}

// Deployed returns the ids of the deployed component types.
func (c *Container) Deployed() []string {
	return c.runtime.Deployed()
}

// Invoke dispatches a call through any client view. For a create the result is the new key.
func (c *Container) Invoke(ctx context.Context, componentID, key string, m Method, args ...any) (any, error) {
	return c.runtime.Invoke(ctx, componentID, key, m, args)
}

// Create creates an instance through the business local home and returns its key.
func (c *Container) Create(ctx context.Context, componentID string) (string, error) {
	v, err := c.runtime.Invoke(ctx, componentID, "", domain.Method{Interface: domain.InterfaceBusinessLocalHome, Name: "create"}, nil)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Call invokes a business method through the business local view.
// Calling one of the component's remove methods destroys the instance.
func (c *Container) Call(ctx context.Context, componentID, key, method string, args ...any) (any, error) {
	return c.runtime.Invoke(ctx, componentID, key, domain.Method{Interface: domain.InterfaceBusinessLocal, Name: method}, args)
}

// Remove destroys an instance through its local component view.
func (c *Container) Remove(ctx context.Context, componentID, key string) error {
	_, err := c.runtime.Invoke(ctx, componentID, key, domain.Method{Interface: domain.InterfaceLocal, Name: domain.RemoveMethodName}, nil)
	return err
}

// Status reports where the instance for key currently lives.
func (c *Container) Status(key string) cache.Status {
	return c.runtime.Status(key)
}

// Stats returns the instance cache statistics.
func (c *Container) Stats() cache.Stats {
	return c.runtime.Stats()
}

// Snapshots returns the snapshot manager used for passivation.
func (c *Container) Snapshots() *snapshot.Manager {
	return c.runtime.Snapshots()
}

// TransactionManager returns the transaction manager callers begin transactions with.
func (c *Container) TransactionManager() ports.TransactionManager {
	return c.runtime.TransactionManager()
}

// Metrics returns the metrics configured with WithMetrics, or nil.
func (c *Container) Metrics() *observability.Metrics {
	return c.metrics
}

// Logger returns the container's logger.
func (c *Container) Logger() *slog.Logger {
	return c.logger
}
