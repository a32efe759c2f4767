package stateful

import (
	"log/slog"

	"github.com/aretw0/stateful/pkg/cache"
	"github.com/aretw0/stateful/pkg/observability"
	"github.com/aretw0/stateful/pkg/persistence/middleware"
	"github.com/aretw0/stateful/pkg/ports"
)

// Option defines a functional option for configuring the Container.
type Option func(*Container)

// WithLogger sets a custom structured logger for the container.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Container) {
		c.logger = logger
	}
}

// WithName labels the container's log lines.
func WithName(name string) Option {
	return func(c *Container) {
		c.Name = name
	}
}

// WithStore sets the passivation store (default: in memory).
func WithStore(store ports.PassivationStore) Option {
	return func(c *Container) {
		c.store = store
	}
}

// WithStoreMiddleware wraps the passivation store, e.g. with encryption.
// The first middleware is the outermost.
func WithStoreMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Container) {
		c.middlewares = append(c.middlewares, mws...)
	}
}

// WithLocker serializes snapshot access across processes sharing a store.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(c *Container) {
		c.locker = locker
	}
}

// WithCacheConfig bounds the instance cache.
func WithCacheConfig(cfg cache.Config) Option {
	return func(c *Container) {
		c.cacheCfg = &cfg
	}
}

// WithTransactionManager replaces the in-memory transaction manager.
func WithTransactionManager(tm ports.TransactionManager) Option {
	return func(c *Container) {
		c.tm = tm
	}
}

// WithAuthorizer sets the yes/no access check run before every call.
func WithAuthorizer(a ports.Authorizer) Option {
	return func(c *Container) {
		c.authorizer = a
	}
}

// WithInvoker sets the interceptor engine the bean methods run through.
func WithInvoker(inv ports.Invoker) Option {
	return func(c *Container) {
		c.invoker = inv
	}
}

// WithMetrics registers deployments and invocations with m and exports the
// cache statistics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Container) {
		c.metrics = m
	}
}
