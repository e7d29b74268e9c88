// Package eventz provides a type-keyed, in-process event bus with
// synchronous dispatch and a generic debounce framework for coalescing
// event bursts into single handler invocations.
//
// The package was built for interactive applications (the motivating case
// is a text editor) where independent subsystems react to state changes
// without being statically wired together: producers publish structured
// events and registered handlers react, either inline on the dispatch path
// or through a debounced background worker.
//
// Basic Usage:
//
//	// Define an event payload. The payload type is the event identity -
//	// no string keys, no collisions between distinct types.
//	type DocumentChanged struct {
//		Path string
//	}
//
//	// Register handlers during startup.
//	eventz.Register(func(ctx context.Context, ev DocumentChanged) error {
//		return invalidateHighlights(ev.Path)
//	})
//
//	// Seal the registry once startup wiring is complete. Registration
//	// after this point panics - a late subscription is a wiring bug.
//	eventz.Finalize()
//
//	// Publish from anywhere. Handlers run synchronously, in
//	// registration order, on the caller's goroutine.
//	eventz.Dispatch(ctx, DocumentChanged{Path: "main.go"})
//
// Debounced Hooks:
//
//	// React to a burst of events once, shortly after it quiets.
//	hook := eventz.Debounce(20*time.Millisecond, func(ctx context.Context, ev DocumentChanged) error {
//		return recomputeDiagnostics(ctx, ev.Path)
//	})
//	defer hook.Close()
//
//	eventz.Register(func(ctx context.Context, ev DocumentChanged) error {
//		hook.Emit(ev) // never blocks, regardless of worker state
//		return nil
//	})
//
// Failure Semantics:
//
// A handler returning an error or panicking is logged with identifying
// context and never halts delivery to the remaining handlers, never
// reaches the producer, and never wedges a debounce worker. The two
// programming errors - registering after Finalize and a payload type
// mismatch inside the registry - panic instead, because they signal a
// wiring bug rather than a runtime condition.
package eventz

import (
	"context"
	"sync"
)

// Global state for the process-wide registry. Most applications have
// exactly one bus wired during startup; library code and tests that need
// isolation create their own Registry with NewRegistry.
var (
	globalOnce     sync.Once
	globalRegistry *Registry
)

// Global returns the process-wide registry, creating it on first use.
func Global() *Registry {
	globalOnce.Do(func() {
		globalRegistry = NewRegistry()
	})
	return globalRegistry
}

// Register binds fn to the payload type E on the process-wide registry.
// The handler name for log context is derived from the function symbol;
// use RegisterNamed to pick one explicitly.
//
// Panics with ErrRegistryFinalized if called after Finalize.
func Register[E any](fn func(context.Context, E) error) {
	RegisterNamedOn(Global(), funcName(fn), fn)
}

// RegisterNamed binds fn to the payload type E on the process-wide
// registry under an explicit handler name.
func RegisterNamed[E any](name string, fn func(context.Context, E) error) {
	RegisterNamedOn(Global(), name, fn)
}

// Dispatch publishes event on the process-wide registry. Handlers run
// synchronously on the calling goroutine, in registration order. Zero
// registered handlers is a normal outcome, not an error.
func Dispatch[E any](ctx context.Context, event E) {
	DispatchOn(Global(), ctx, event)
}

// Finalize seals the process-wide registry. Call once startup wiring is
// complete; afterwards lookups run without taking any lock.
func Finalize() {
	Global().Finalize()
}
