// Package middleware decorates a ports.ProgressStore with data protection.
//
// Middlewares only transform answers and payloads. Step counters, states and
// event ids pass through untouched, so the conditional writes of the wrapped
// store keep their exact semantics.
package middleware

import "github.com/aretw0/stepwise/pkg/ports"

// Middleware allows wrapping a ProgressStore to add behavior.
type Middleware func(ports.ProgressStore) ports.ProgressStore

// Chain applies middlewares so that the first one is the outermost.
func Chain(store ports.ProgressStore, mws ...Middleware) ports.ProgressStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
