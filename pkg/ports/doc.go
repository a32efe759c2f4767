/*
Package ports defines the boundary interfaces of the stateful container.

The container core depends only on these interfaces; adapters under
pkg/adapters provide the concrete implementations.

# Key Interfaces

  - PassivationStore: persists snapshots of passivated instances.
  - TransactionManager / Transaction: begin, suspend, resume and complete transactions carried by a context.
  - Authorizer: the yes/no security decision consulted before every call.
  - Invoker: the interceptor engine that runs bean methods and callbacks.
  - Monitor / InvocationObserver: fire-and-forget registration and metrics hooks.
  - DistributedLocker: cross-process locking used while activating snapshots.
*/
package ports
