package eventz

import "errors"

// Programming Errors
//
// These are used as panic values. They signal wiring bugs in the host
// application, not runtime conditions, and are deliberately loud.

// ErrRegistryFinalized is the panic value when a handler is registered
// after Finalize. The registry is written once during startup and read
// forever after; a late registration would silently never fire under a
// lock-elided lookup, so it fails fast instead.
var ErrRegistryFinalized = errors.New("registry is finalized")

// ErrKindMismatch is the panic value when a stored handler receives a
// payload of the wrong dynamic type. The generic registration wrappers
// make this unreachable from the public API; seeing it means the
// type-erased plumbing itself is broken.
var ErrKindMismatch = errors.New("event kind mismatch")

// ErrNilHandler is the panic value when a nil handler function is
// registered or a nil Debouncer is passed to NewHook.
var ErrNilHandler = errors.New("nil handler")

// Handler Execution Errors
//
// These are recoverable at the bus level: logged, counted, never
// propagated to the producer.

// ErrHandlerPanicked classifies a handler panic recovered during dispatch
// or a debounce flush. It is reported to metrics and logs; delivery to
// the remaining handlers continues.
var ErrHandlerPanicked = errors.New("handler panicked during execution")
