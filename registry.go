package eventz

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
)

// Option configures a Registry during creation.
type Option func(*Registry)

// WithLogger sets the logger used to report handler failures.
// Default is log.Default().
func WithLogger(logger *log.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics recorder for dispatch observability.
// Default is NoopMetrics. Pass NewMetricsRecorder() to export through
// the global OpenTelemetry meter provider.
func WithMetrics(rec MetricsRecorder) Option {
	return func(r *Registry) {
		r.metrics = rec
	}
}

// WithClock sets the clock implementation for handler latency
// measurement. Default is clockz.RealClock.
func WithClock(clock clockz.Clock) Option {
	return func(r *Registry) {
		r.clock = clock
	}
}

// handlerEntry is one type-erased handler bound to a single event kind.
// The call wrapper re-asserts the payload type before invoking the
// user function; a failed assertion panics with ErrKindMismatch.
type handlerEntry struct {
	id   string
	name string
	call func(ctx context.Context, event any) error
}

// Registry maps an event kind (the payload's reflect.Type) to its
// ordered handler list.
//
// The registry is written during a startup window and read forever
// after: handlers are appended under the write lock, and once Finalize
// marks the write phase over, lookups skip the lock entirely. That
// write-once/read-forever shape is what keeps the dispatch hot path
// free of any contention between producer goroutines.
//
// There is no unregistration. A registry lives for the process
// lifetime and needs no teardown.
type Registry struct {
	mu       sync.RWMutex
	handlers map[reflect.Type][]handlerEntry

	// finalized flips exactly once, under mu. The atomic load on the
	// read path pairs with the store in Finalize to publish the map.
	finalized atomic.Bool

	clock   clockz.Clock
	logger  *log.Logger
	metrics MetricsRecorder
}

// NewRegistry creates an empty registry in its write phase.
//
// Example:
//
//	reg := eventz.NewRegistry(
//		eventz.WithLogger(logger),
//		eventz.WithMetrics(eventz.NewMetricsRecorder()),
//	)
//	eventz.RegisterOn(reg, onDocumentChanged)
//	reg.Finalize()
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		handlers: make(map[reflect.Type][]handlerEntry),
		clock:    clockz.RealClock,
		logger:   log.Default(),
		metrics:  NoopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// kindOf returns the registry key for payload type E. reflect.Type
// identity is stable for the process lifetime and distinct payload
// shapes never collide.
func kindOf[E any]() reflect.Type {
	return reflect.TypeOf((*E)(nil)).Elem()
}

// RegisterOn binds fn to the payload type E on r. Handlers for the same
// kind run in registration order. The handler name for log context is
// derived from the function symbol.
//
// Panics with ErrRegistryFinalized if r has been finalized and with
// ErrNilHandler if fn is nil.
func RegisterOn[E any](r *Registry, fn func(context.Context, E) error) {
	RegisterNamedOn(r, funcName(fn), fn)
}

// RegisterNamedOn binds fn to the payload type E on r under an explicit
// handler name. The name appears in failure logs and metrics; pick
// something a human can find, like "lsp.completion".
func RegisterNamedOn[E any](r *Registry, name string, fn func(context.Context, E) error) {
	if fn == nil {
		panic(fmt.Errorf("%w: register for %s", ErrNilHandler, kindOf[E]()))
	}

	kind := kindOf[E]()
	entry := handlerEntry{
		id:   uuid.NewString(),
		name: name,
		call: func(ctx context.Context, event any) error {
			payload, ok := event.(E)
			if !ok {
				panic(fmt.Errorf("%w: handler %q bound to %s received %T",
					ErrKindMismatch, name, kind, event))
			}
			return fn(ctx, payload)
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized.Load() {
		panic(fmt.Errorf("%w: cannot register %q for %s", ErrRegistryFinalized, name, kind))
	}

	r.handlers[kind] = append(r.handlers[kind], entry)
}

// Finalize marks the write-to-read-only transition. Idempotent. After
// Finalize the handler map is immutable, lookups stop taking the read
// lock, and further registration panics.
func (r *Registry) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalized.Store(true)
}

// Finalized reports whether the registry has left its write phase.
func (r *Registry) Finalized() bool {
	return r.finalized.Load()
}

// Len returns the total number of registered handlers across all kinds.
func (r *Registry) Len() int {
	if r.finalized.Load() {
		return r.lenLocked()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lenLocked()
}

func (r *Registry) lenLocked() int {
	total := 0
	for _, entries := range r.handlers {
		total += len(entries)
	}
	return total
}

// CountOn returns the number of handlers registered on r for the
// payload type E.
func CountOn[E any](r *Registry) int {
	return len(r.lookup(kindOf[E]()))
}

// lookup returns the handler list for kind. An empty result is a normal
// outcome, never an error.
//
// Post-finalize the live slice is returned without locking: nothing
// mutates the map again, and the finalized load provides the needed
// happens-before edge. During the write phase a copy is taken under the
// read lock so a concurrent append cannot race the iteration.
func (r *Registry) lookup(kind reflect.Type) []handlerEntry {
	if r.finalized.Load() {
		return r.handlers[kind]
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.handlers[kind]
	if len(entries) == 0 {
		return nil
	}
	out := make([]handlerEntry, len(entries))
	copy(out, entries)
	return out
}

// funcName derives a log-friendly handler name from a function symbol,
// trimming the package path down to the last element.
func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return "handler"
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return "handler"
	}
	name := f.Name()
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return name
}
