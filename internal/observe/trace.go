package observe

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the talkwire tracer.
const tracerName = "github.com/talkwire/talkwire"

// Tracer returns the talkwire tracer from the globally registered
// [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// CorrelationID returns the trace ID of the active span in ctx, or the empty
// string when there is none. Diagnostics responses carry it in the
// X-Correlation-ID header so a scrape or probe can be matched to its span.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
