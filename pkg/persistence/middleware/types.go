package middleware

import "github.com/aretw0/stateful/pkg/ports"

// Middleware allows wrapping a PassivationStore to add behavior.
type Middleware func(ports.PassivationStore) ports.PassivationStore

// Chain applies middlewares so that the first one is the outermost.
func Chain(store ports.PassivationStore, mws ...Middleware) ports.PassivationStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
