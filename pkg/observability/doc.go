/*
Package observability exposes the stateful container to Prometheus.

Metrics implements the container's monitoring hook (component registration),
observes every invocation, and collects the instance cache statistics.
*/
package observability
