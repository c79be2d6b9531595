package tracing

import (
	"context"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	initOnce sync.Once
	initErr  error
	provider atomic.Pointer[sdktrace.TracerProvider]
)

// InitOpenTelemetry installs a process-wide tracer provider. Only the first
// call does anything; later calls return the first call's result.
func InitOpenTelemetry(serviceName string) error {
	initOnce.Do(func() {
		attrs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
		if host, err := os.Hostname(); err == nil && host != "" {
			attrs = append(attrs, semconv.HostName(host))
		}

		res, err := resource.New(
			context.Background(),
			resource.WithAttributes(attrs...),
		)
		if err != nil {
			initErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio()))),
			sdktrace.WithResource(res),
		)
		provider.Store(tp)
		otel.SetTracerProvider(tp)
	})

	return initErr
}

// sampleRatio reads COMMANDA_TRACE_SAMPLE, a float in [0, 1]. Every trace is
// sampled unless the variable says otherwise. Read from the environment
// directly because the tracer initializes before configuration is loaded.
func sampleRatio() float64 {
	raw := os.Getenv("COMMANDA_TRACE_SAMPLE")
	if raw == "" {
		return 1
	}
	ratio, err := strconv.ParseFloat(raw, 64)
	if err != nil || !(ratio >= 0 && ratio <= 1) {
		return 1
	}
	return ratio
}

// ShutdownOpenTelemetry flushes the provider installed by InitOpenTelemetry.
// The provider is claimed atomically, so concurrent or repeated shutdowns
// flush at most once.
func ShutdownOpenTelemetry(ctx context.Context) error {
	tp := provider.Swap(nil)
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan opens a span under the named tracer. When the caller has not
// already set a logging trace id, the span's trace id is promoted into the
// context so log lines and spans correlate.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
	if sc := span.SpanContext(); sc.IsValid() && GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, sc.TraceID().String())
	}
	return ctx, span
}

// MarkSpanFailed records a failure description on the span and flips its
// status to error. The span still has to be ended by the caller.
func MarkSpanFailed(span trace.Span, description string) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetStatus(codes.Error, description)
}
