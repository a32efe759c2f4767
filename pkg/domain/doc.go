/*
Package domain contains the core domain models of the stateful container.

It defines the static description of a deployable component, the vocabulary of
an invocation (methods, interface families, operations, transaction
attributes), the passivated form of an instance and the error taxonomy shared
by every layer. This package is kept pure and free of external dependencies
like I/O or persistence, following Hexagonal Architecture principles.

# Key Entities

  - ComponentType: Static, read-only metadata of a deployed component (methods, callbacks, transaction attributes).
  - Method: The identity of an invoked method (interface family + name).
  - Operation: What the container is doing with an instance (create, business, completion callbacks, ...).
  - Snapshot: The serialized form of a passivated instance.
  - ApplicationError / RuntimeError: The two halves of the error taxonomy.
*/
package domain
