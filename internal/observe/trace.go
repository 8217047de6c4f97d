package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the Hotline tracer.
const tracerName = "github.com/hotlinehq/hotline"

// Tracer returns the package-level [trace.Tracer] for Hotline. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// Logger returns base enriched with trace_id and span_id from the OTel span
// context in ctx. A nil base means the default slog logger; without an active
// span the logger is returned unchanged.
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	l := base
	if l == nil {
		l = slog.Default()
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
