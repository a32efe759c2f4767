/*
Package snapshot orchestrates access to passivated instance snapshots.

It serializes operations per instance key inside the process and, when a
DistributedLocker is configured, across container replicas sharing the same
PassivationStore, so that a snapshot is never activated twice.
*/
package snapshot
