// Package resource tracks the extended resources of stateful instances.
//
// An extended resource (for example a persistence context) lives as long as
// the instance that opened it. Instances created from inside another
// instance's invocation inherit the caller's resources instead of opening new
// ones, so a resource is reference counted and closed when its last holder
// is destroyed.
package resource
