package runtime

import (
	"log/slog"

	"github.com/aretw0/stateful/pkg/cache"
	"github.com/aretw0/stateful/pkg/ports"
	"github.com/aretw0/stateful/pkg/snapshot"
)

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTransactionManager sets the transaction manager. The default is the in-memory one.
func WithTransactionManager(tm ports.TransactionManager) Option {
	return func(c *Container) {
		c.tm = tm
	}
}

// WithAuthorizer sets the authorizer. The default allows every call.
func WithAuthorizer(a ports.Authorizer) Option {
	return func(c *Container) {
		c.authorizer = a
	}
}

// WithInvoker sets the interceptor engine. The default is DirectInvoker.
func WithInvoker(inv ports.Invoker) Option {
	return func(c *Container) {
		c.invoker = inv
	}
}

// WithMonitor sets the monitoring registration hook.
func WithMonitor(m ports.Monitor) Option {
	return func(c *Container) {
		c.monitor = m
	}
}

// WithObserver sets the invocation observer.
func WithObserver(o ports.InvocationObserver) Option {
	return func(c *Container) {
		c.observer = o
	}
}

// WithSnapshots sets the snapshot manager used for passivation.
func WithSnapshots(m *snapshot.Manager) Option {
	return func(c *Container) {
		c.snapshots = m
	}
}

// WithCacheConfig sets the instance cache configuration.
func WithCacheConfig(cfg cache.Config) Option {
	return func(c *Container) {
		c.cacheCfg = cfg
	}
}

// WithCacheOptions passes options through to the instance cache.
func WithCacheOptions(opts ...cache.Option) Option {
	return func(c *Container) {
		c.cacheOpts = append(c.cacheOpts, opts...)
	}
}
