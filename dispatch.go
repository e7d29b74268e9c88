package eventz

import (
	"context"
	"errors"
	"reflect"
	"runtime/debug"
)

// DispatchOn publishes event on r. Each handler registered for E runs
// synchronously on the calling goroutine, in registration order, with
// the same payload value. The payload is treated as immutable; handlers
// must not mutate it.
//
// A handler returning an error or panicking is logged with handler and
// kind context and delivery continues with the next handler. Nothing
// propagates back to the producer. Handlers on this path are expected
// to be cheap - typically forwarding into a debounce Hook - not to
// perform I/O inline.
func DispatchOn[E any](r *Registry, ctx context.Context, event E) {
	kind := kindOf[E]()
	entries := r.lookup(kind)
	if len(entries) == 0 {
		// Zero listeners is a normal outcome.
		return
	}

	r.metrics.RecordDispatch(ctx, kind.String(), len(entries))
	for i := range entries {
		r.invoke(ctx, kind, &entries[i], event)
	}
}

// invoke runs one handler with panic isolation. A kind mismatch panic
// is re-raised: it is a bug in the erasure plumbing, not a handler
// failure, and must not be swallowed into a log line.
func (r *Registry) invoke(ctx context.Context, kind reflect.Type, entry *handlerEntry, event any) {
	start := r.clock.Now()
	defer func() {
		if rec := recover(); rec != nil {
			if err, ok := rec.(error); ok && errors.Is(err, ErrKindMismatch) {
				panic(rec)
			}
			r.logger.Error("event handler panicked",
				"handler", entry.name,
				"id", entry.id,
				"kind", kind.String(),
				"panic", rec,
				"stack", string(debug.Stack()))
			r.metrics.RecordHandler(ctx, kind.String(), entry.name, r.clock.Now().Sub(start), ErrHandlerPanicked)
		}
	}()

	err := entry.call(ctx, event)
	if err != nil {
		r.logger.Error("event handler failed",
			"handler", entry.name,
			"id", entry.id,
			"kind", kind.String(),
			"error", err)
	}
	r.metrics.RecordHandler(ctx, kind.String(), entry.name, r.clock.Now().Sub(start), err)
}
