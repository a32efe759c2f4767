/*
Package stateful manages the instances of stateful, conversational server-side
components.

A component type describes a bean: its client views, its methods, its
transaction attributes and its lifecycle callbacks. The Container creates an
instance per client session and hands back a key; every later call names that
key. The container guarantees that an instance only ever runs one call at a
time, binds it to the transaction it was first used in, delivers the
afterBegin, beforeCompletion and afterCompletion callbacks of that transaction,
and passivates idle instances to a PassivationStore when the cache is full.

# Errors

Application errors (values wrapped with domain.NewApplicationError, and the
container's own ErrConcurrentAccess, ErrCrossTransaction, ErrInstanceNotFound,
ErrUnauthorized and ErrRemoveInTransaction) reach the caller unchanged. Any
other error returned or panicked by bean code is a system failure: the
instance is discarded, the transaction is marked rollback-only and the caller
receives an opaque *domain.RuntimeError whose Ref appears in the logs next to
the cause.

# Usage

	c, err := stateful.New(stateful.WithCacheConfig(cache.Config{Capacity: 100}))
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	if err := c.Deploy(cartComponent()); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	key, _ := c.Create(ctx, "cart")
	_, _ = c.Call(ctx, "cart", key, "add", "apple")

	// Calls made in a transaction keep the instance bound to it until it completes.
	txCtx, tx, _ := c.TransactionManager().Begin(ctx)
	_, _ = c.Call(txCtx, "cart", key, "checkout")
	_ = tx.Commit(txCtx)
*/
package stateful
