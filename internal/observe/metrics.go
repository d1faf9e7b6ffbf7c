// Package observe provides application-wide observability primitives for
// talkwire: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all talkwire metrics.
const meterName = "github.com/talkwire/talkwire"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// BridgeConnectDuration tracks backend connect latency.
	BridgeConnectDuration metric.Float64Histogram

	// --- Counters ---

	// FramesCaptured counts audio frames emitted by the capture engine.
	// Use with attribute: attribute.String("strategy", ...)
	FramesCaptured metric.Int64Counter

	// FramesDropped counts frames dropped anywhere on the audio path. Use
	// with attribute: attribute.String("stage", ...) — "capture",
	// "outbound", "playback".
	FramesDropped metric.Int64Counter

	// Heartbeats counts heartbeat ticks. Use with attribute:
	//   attribute.String("outcome", ...) — "sent", "skipped", "failed"
	Heartbeats metric.Int64Counter

	// TranscriptEvents counts transcript events by outcome. Use with
	// attribute: attribute.String("outcome", ...) — "interim", "final",
	// "duplicate", "discarded".
	TranscriptEvents metric.Int64Counter

	// SessionTransitions counts state machine transitions. Use with
	// attributes: attribute.String("from", ...), attribute.String("to", ...)
	SessionTransitions metric.Int64Counter

	// --- Error counters ---

	// BridgeErrors counts backend-level error events.
	BridgeErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for realtime voice latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.BridgeConnectDuration, err = m.Float64Histogram("talkwire.bridge.connect.duration",
		metric.WithDescription("Latency of backend session establishment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesCaptured, err = m.Int64Counter("talkwire.audio.frames.captured",
		metric.WithDescription("Total audio frames emitted by the capture engine, by strategy."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("talkwire.audio.frames.dropped",
		metric.WithDescription("Total audio frames dropped, by pipeline stage."),
	); err != nil {
		return nil, err
	}
	if met.Heartbeats, err = m.Int64Counter("talkwire.session.heartbeats",
		metric.WithDescription("Total heartbeat ticks by outcome."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptEvents, err = m.Int64Counter("talkwire.transcript.events",
		metric.WithDescription("Total transcript events by reconciliation outcome."),
	); err != nil {
		return nil, err
	}
	if met.SessionTransitions, err = m.Int64Counter("talkwire.session.transitions",
		metric.WithDescription("Total session state machine transitions by from and to state."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.BridgeErrors, err = m.Int64Counter("talkwire.bridge.errors",
		metric.WithDescription("Total backend-level error events."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("talkwire.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("talkwire.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrameDrop records one dropped frame for the given pipeline stage.
// Safe on a nil receiver so hot paths need no nil checks.
func (m *Metrics) RecordFrameDrop(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordFrameCaptured records one captured frame for the given strategy.
// Safe on a nil receiver.
func (m *Metrics) RecordFrameCaptured(ctx context.Context, strategy string) {
	if m == nil {
		return
	}
	m.FramesCaptured.Add(ctx, 1,
		metric.WithAttributes(attribute.String("strategy", strategy)),
	)
}

// RecordHeartbeat records one heartbeat tick with its outcome. Safe on a nil
// receiver.
func (m *Metrics) RecordHeartbeat(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Heartbeats.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordTranscriptEvent records one transcript event with its reconciliation
// outcome. Safe on a nil receiver.
func (m *Metrics) RecordTranscriptEvent(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.TranscriptEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordTransition records one session state transition. Safe on a nil
// receiver.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.SessionTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordBridgeError records one backend-level error event. Safe on a nil
// receiver.
func (m *Metrics) RecordBridgeError(ctx context.Context) {
	if m == nil {
		return
	}
	m.BridgeErrors.Add(ctx, 1)
}
