package eventz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records bus throughput and failure metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordDispatch records one dispatch call and its fan-out.
	RecordDispatch(ctx context.Context, kind string, handlers int)

	// RecordHandler records one handler execution with its duration and
	// outcome. err is nil on success, ErrHandlerPanicked on a recovered
	// panic, or the handler's own error.
	RecordHandler(ctx context.Context, kind, handler string, duration time.Duration, err error)

	// RecordEmit records one event accepted by a debounce hook.
	RecordEmit(ctx context.Context, hook string)

	// RecordFlush records one debounced flush cycle with its duration
	// and outcome.
	RecordFlush(ctx context.Context, hook string, duration time.Duration, err error)
}

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordDispatch does nothing.
func (NoopMetrics) RecordDispatch(_ context.Context, _ string, _ int) {}

// RecordHandler does nothing.
func (NoopMetrics) RecordHandler(_ context.Context, _, _ string, _ time.Duration, _ error) {}

// RecordEmit does nothing.
func (NoopMetrics) RecordEmit(_ context.Context, _ string) {}

// RecordFlush does nothing.
func (NoopMetrics) RecordFlush(_ context.Context, _ string, _ time.Duration, _ error) {}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	dispatches     metric.Int64Counter
	handlerLatency metric.Float64Histogram
	handlerErrors  metric.Int64Counter
	handlerPanics  metric.Int64Counter
	debounceEmits  metric.Int64Counter
	flushes        metric.Int64Counter
	flushErrors    metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("eventz")

	dispatches, err := meter.Int64Counter("eventz.dispatches",
		metric.WithDescription("Number of dispatch calls"),
	)
	if err != nil {
		return nil, err
	}

	handlerLatency, err := meter.Float64Histogram("eventz.handler.latency_ms",
		metric.WithDescription("Handler execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	handlerErrors, err := meter.Int64Counter("eventz.handler.errors",
		metric.WithDescription("Number of handler executions that returned an error"),
	)
	if err != nil {
		return nil, err
	}

	handlerPanics, err := meter.Int64Counter("eventz.handler.panics",
		metric.WithDescription("Number of handler executions that panicked"),
	)
	if err != nil {
		return nil, err
	}

	debounceEmits, err := meter.Int64Counter("eventz.debounce.emits",
		metric.WithDescription("Number of events accepted by debounce hooks"),
	)
	if err != nil {
		return nil, err
	}

	flushes, err := meter.Int64Counter("eventz.debounce.flushes",
		metric.WithDescription("Number of debounced flush cycles"),
	)
	if err != nil {
		return nil, err
	}

	flushErrors, err := meter.Int64Counter("eventz.debounce.flush.errors",
		metric.WithDescription("Number of debounced flush cycles that failed"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		dispatches:     dispatches,
		handlerLatency: handlerLatency,
		handlerErrors:  handlerErrors,
		handlerPanics:  handlerPanics,
		debounceEmits:  debounceEmits,
		flushes:        flushes,
		flushErrors:    flushErrors,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		log.Warn("metrics initialization failed, using no-op recorder", "error", err)
		return NoopMetrics{}
	}
	return m
}

// RecordDispatch records one dispatch call.
func (m *otelMetrics) RecordDispatch(ctx context.Context, kind string, handlers int) {
	m.dispatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Int("handlers", handlers),
	))
}

// RecordHandler records one handler execution.
func (m *otelMetrics) RecordHandler(ctx context.Context, kind, handler string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("kind", kind),
		attribute.String("handler", handler),
	}

	m.handlerLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	switch {
	case err == nil:
	case errors.Is(err, ErrHandlerPanicked):
		m.handlerPanics.Add(ctx, 1, metric.WithAttributes(attrs...))
	default:
		m.handlerErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordEmit records one accepted debounce event.
func (m *otelMetrics) RecordEmit(ctx context.Context, hook string) {
	m.debounceEmits.Add(ctx, 1, metric.WithAttributes(attribute.String("hook", hook)))
}

// RecordFlush records one debounced flush cycle.
func (m *otelMetrics) RecordFlush(ctx context.Context, hook string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("hook", hook),
	}
	m.flushes.Add(ctx, 1, metric.WithAttributes(attrs...))
	if err != nil {
		m.flushErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
