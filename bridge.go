package eventz

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/charmbracelet/log"
)

// Block drives one unit of asynchronous work to completion from a
// synchronous call site, for use on the dispatch path where a handler
// body needs to await something without owning a goroutine of its own.
//
// fn runs on a fresh goroutine; the calling goroutine blocks until fn
// returns or ctx is done, whichever happens first. When ctx wins, the
// ctx error is returned and fn is left to finish in the background with
// its result discarded. fn must not itself wait on progress from the
// calling goroutine - that deadlock is the caller's responsibility to
// avoid, not something Block can detect.
func Block[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}

	// Buffered so an abandoned fn can still deliver and exit.
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				var zero T
				ch <- result{zero, fmt.Errorf("%w: %v", ErrHandlerPanicked, rec)}
			}
		}()
		value, err := fn(ctx)
		ch <- result{value, err}
	}()

	select {
	case res := <-ch:
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Go spawns fn on its own goroutine with panic recovery and failure
// logging, so a background helper that dies does so loudly in the logs
// instead of silently taking its subsystem with it.
func Go(name string, fn func() error) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("background task panicked",
					"task", name,
					"panic", rec,
					"stack", string(debug.Stack()))
			}
		}()
		if err := fn(); err != nil {
			log.Error("background task failed",
				"task", name,
				"error", err)
		}
	}()
}

// Send forwards event into ch from the synchronous path, blocking until
// the consumer accepts it or ctx is done. For subsystems that keep
// their own channels instead of a debounce Hook.
func Send[E any](ctx context.Context, ch chan<- E, event E) error {
	select {
	case ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendBlocking forwards event into ch with no cancellation, blocking
// until the consumer accepts it. Use only where the consumer is known
// to be draining.
func SendBlocking[E any](ch chan<- E, event E) {
	ch <- event
}
