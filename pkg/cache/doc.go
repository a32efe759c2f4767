/*
Package cache implements the bounded instance cache of the stateful container.

Every entry is in exactly one state: checked out (in use by the container),
idle (resident and eligible for passivation), or passivated (serialized by a
Passivator and evicted from memory). When more than Config.Capacity entries
are idle, the least recently used ones are passivated. CheckOut transparently
activates a passivated entry. A background sweep removes entries that have
been idle for longer than Config.IdleTimeout.

All bookkeeping is serialized by a single mutex. Passivation and activation
I/O run outside of it; a concurrent CheckOut of an entry in transit waits for
the transfer to finish.
*/
package cache
