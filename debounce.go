package eventz

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/zoobzio/clockz"
)

// Debouncer is the per-hook coalescing policy driven by a Hook worker.
//
// The worker owns the timing machinery; the Debouncer owns the pending
// payload and decides when a burst is over. Implementations are only
// ever called from the single worker goroutine, so they need no
// internal synchronization.
type Debouncer[E any] interface {
	// Coalesce folds the newest event into pending state and returns
	// the next deadline. deadline is the currently armed deadline, or
	// the zero time when the worker is idle. Returning the zero time
	// leaves the worker idle, discarding nothing - the implementation
	// keeps whatever state it wants.
	Coalesce(event E, deadline, now time.Time) time.Time

	// Flush runs the debounced work once the deadline passes with no
	// new events. The returned delay re-arms the worker to flush again
	// after that much quiet time (periodic follow-up); zero returns the
	// worker to idle. A non-nil error is logged and the worker returns
	// to idle regardless of the returned delay; an implementation that
	// wants to retry after failure returns its retry delay with a nil
	// error instead.
	Flush(ctx context.Context) (time.Duration, error)
}

// HookOption configures a Hook during creation.
type HookOption func(*hookConfig)

// hookConfig holds internal configuration for hook creation.
type hookConfig struct {
	name    string
	clock   clockz.Clock
	logger  *log.Logger
	metrics MetricsRecorder
}

// WithHookName sets the hook name used in logs and metrics.
// Default is "debounce".
func WithHookName(name string) HookOption {
	return func(c *hookConfig) {
		c.name = name
	}
}

// WithHookClock sets the clock implementation for deadline timing.
// Default is clockz.RealClock for production use.
// Use clockz.FakeClock for deterministic testing.
func WithHookClock(clock clockz.Clock) HookOption {
	return func(c *hookConfig) {
		c.clock = clock
	}
}

// WithHookLogger sets the logger used to report flush failures.
// Default is log.Default().
func WithHookLogger(logger *log.Logger) HookOption {
	return func(c *hookConfig) {
		c.logger = logger
	}
}

// WithHookMetrics sets the metrics recorder for emit/flush counters.
// Default is NoopMetrics.
func WithHookMetrics(rec MetricsRecorder) HookOption {
	return func(c *hookConfig) {
		c.metrics = rec
	}
}

// Hook is the producer-facing handle of a debounce worker.
//
// A Hook turns a stream of one event type into coalesced, time-bounded
// invocations of its Debouncer: a burst of Emit calls yields one Flush
// shortly after the burst quiets, instead of one invocation per raw
// event. Producers on the dispatch hot path call Emit; the worker runs
// on its own goroutine for the lifetime of the hook.
type Hook[E any] struct {
	name    string
	clock   clockz.Clock
	logger  *log.Logger
	metrics MetricsRecorder

	debouncer Debouncer[E]

	// Intake is a mutex-guarded slice rather than a buffered channel so
	// Emit can never block and never reject, whatever the worker is
	// doing. Bursts are self-limited by the debounce deadline, so the
	// queue stays small in practice.
	mu     sync.Mutex
	intake []E
	closed bool

	wake    chan struct{} // capacity 1, non-blocking signal
	closeCh chan struct{}
	done    chan struct{}
}

// NewHook spawns a debounce worker driving d and returns its handle.
//
// The worker goroutine lives until Close. Panics with ErrNilHandler if
// d is nil.
//
// Example:
//
//	hook := eventz.NewHook[SaveRequest](&autoSaver{interval: 3 * time.Second})
//	defer hook.Close()
func NewHook[E any](d Debouncer[E], opts ...HookOption) *Hook[E] {
	if d == nil {
		panic(ErrNilHandler)
	}

	cfg := hookConfig{
		name:    "debounce",
		clock:   clockz.RealClock,
		logger:  log.Default(),
		metrics: NoopMetrics{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &Hook[E]{
		name:      cfg.name,
		clock:     cfg.clock,
		logger:    cfg.logger,
		metrics:   cfg.metrics,
		debouncer: d,
		wake:      make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

// Emit hands event to the worker. It never blocks and never fails:
// events are always accepted and coalesced regardless of worker state,
// including mid-flush. Emit after Close is a no-op.
func (h *Hook[E]) Emit(event E) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.intake = append(h.intake, event)
	h.mu.Unlock()

	h.metrics.RecordEmit(context.Background(), h.name)

	select {
	case h.wake <- struct{}{}:
	default:
		// Worker already has a wakeup pending; it drains the whole
		// intake queue per wakeup.
	}
}

// Close stops the worker and waits for it to exit. Idempotent.
//
// Closing is the only cancellation signal a hook has. Events emitted
// but not yet flushed are dropped: close means "stop reacting", and a
// flush the caller no longer wants is worse than a missing one. An
// in-flight Flush is allowed to finish before Close returns.
func (h *Hook[E]) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		<-h.done
		return
	}
	h.closed = true
	h.mu.Unlock()

	close(h.closeCh)
	<-h.done
}

// drain takes the accumulated intake queue, leaving it empty.
func (h *Hook[E]) drain() []E {
	h.mu.Lock()
	defer h.mu.Unlock()
	events := h.intake
	h.intake = nil
	return events
}

// run is the worker loop: a race between "next inbound event" and
// "deadline elapsed", waking on whichever resolves first. It never
// busy-waits and never runs two Flush invocations concurrently.
func (h *Hook[E]) run() {
	defer close(h.done)

	var deadline time.Time
	for {
		// Arm the deadline timer only while pending. An idle worker
		// sleeps solely on intake and close.
		var timerC <-chan time.Time
		if !deadline.IsZero() {
			wait := deadline.Sub(h.clock.Now())
			if wait <= 0 {
				// The deadline passed while we were coalescing or
				// flushing. Late intake still wins over the flush.
				if pending := h.drain(); len(pending) != 0 {
					for _, event := range pending {
						deadline = h.coalesce(event, deadline)
					}
					continue
				}
				deadline = h.flush()
				continue
			}
			timerC = h.clock.After(wait)
		}

		select {
		case <-h.closeCh:
			return
		case <-h.wake:
			for _, event := range h.drain() {
				deadline = h.coalesce(event, deadline)
			}
		case <-timerC:
			// Events may have raced the timer through the intake
			// queue; they win over the flush.
			if pending := h.drain(); len(pending) != 0 {
				for _, event := range pending {
					deadline = h.coalesce(event, deadline)
				}
				continue
			}
			deadline = h.flush()
		}
	}
}

// coalesce folds one event into the debouncer with panic isolation.
// A panicking policy drops the deadline back to idle.
func (h *Hook[E]) coalesce(event E, deadline time.Time) (next time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			next = time.Time{}
			h.logger.Error("debounce coalesce panicked",
				"hook", h.name,
				"panic", rec,
				"stack", string(debug.Stack()))
		}
	}()
	return h.debouncer.Coalesce(event, deadline, h.clock.Now())
}

// flush runs one debounced cycle and returns the next deadline. A
// failed cycle - error or panic - is logged and the worker returns to
// idle; it never wedges the worker or reaches any producer.
func (h *Hook[E]) flush() time.Time {
	ctx := context.Background()
	start := h.clock.Now()

	delay, err := h.flushSafely(ctx)
	h.metrics.RecordFlush(ctx, h.name, h.clock.Now().Sub(start), err)

	if err != nil {
		h.logger.Error("debounced flush failed",
			"hook", h.name,
			"error", err)
		return time.Time{}
	}
	if delay > 0 {
		return h.clock.Now().Add(delay)
	}
	return time.Time{}
}

// flushSafely invokes Flush with panic recovery.
func (h *Hook[E]) flushSafely(ctx context.Context) (delay time.Duration, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			delay = 0
			err = ErrHandlerPanicked
			h.logger.Error("debounced flush panicked",
				"hook", h.name,
				"panic", rec,
				"stack", string(debug.Stack()))
		}
	}()
	return h.debouncer.Flush(ctx)
}

// trailing is the stock coalescing policy: keep the newest payload and
// reset the full window on every event, optionally capped at maxWait
// from the burst's first event.
type trailing[E any] struct {
	window  time.Duration
	maxWait time.Duration // zero means no cap
	first   time.Time     // start of the current burst
	pending E
	fn      func(context.Context, E) error
}

func (t *trailing[E]) Coalesce(event E, deadline, now time.Time) time.Time {
	t.pending = event
	if deadline.IsZero() {
		t.first = now
	}
	next := now.Add(t.window)
	if t.maxWait > 0 {
		if limit := t.first.Add(t.maxWait); next.After(limit) {
			next = limit
		}
	}
	return next
}

func (t *trailing[E]) Flush(ctx context.Context) (time.Duration, error) {
	return 0, t.fn(ctx, t.pending)
}

// Debounce spawns a trailing-debounce hook: every Emit replaces the
// pending payload with the newest and resets the window, and once the
// window passes with no new event, flush runs exactly once with that
// newest payload.
//
//	hook := eventz.Debounce(20*time.Millisecond, func(ctx context.Context, ev DocumentChanged) error {
//		return recomputeDiagnostics(ctx, ev.Path)
//	})
func Debounce[E any](window time.Duration, flush func(context.Context, E) error, opts ...HookOption) *Hook[E] {
	if flush == nil {
		panic(ErrNilHandler)
	}
	return NewHook[E](&trailing[E]{window: window, fn: flush}, opts...)
}

// DebounceMaxWait is Debounce with an upper bound: however fast events
// keep arriving, flush runs no later than maxWait after the burst's
// first event.
func DebounceMaxWait[E any](window, maxWait time.Duration, flush func(context.Context, E) error, opts ...HookOption) *Hook[E] {
	if flush == nil {
		panic(ErrNilHandler)
	}
	return NewHook[E](&trailing[E]{window: window, maxWait: maxWait, fn: flush}, opts...)
}
