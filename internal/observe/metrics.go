// Package observe provides application-wide observability primitives for
// Hotline: OpenTelemetry metrics, distributed tracing, and structured
// logging helpers.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all Hotline metrics.
const meterName = "github.com/hotlinehq/hotline"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency per utterance.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks latency from utterance end to the first LLM chunk.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency per turn.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end turn latency from utterance end to
	// playback start.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// DigitsDialed counts decoded rotary digits. Use with attribute:
	//   attribute.Int("digit", ...)
	DigitsDialed metric.Int64Counter

	// DecodeErrors counts invalid pulse trains.
	DecodeErrors metric.Int64Counter

	// BellRings counts proximity bell triggers.
	BellRings metric.Int64Counter

	// BargeIns counts playback interruptions by caller speech.
	BargeIns metric.Int64Counter

	// CallsConnected counts sessions that reached CONNECTED. Use with
	// attribute: attribute.String("character", ...)
	CallsConnected metric.Int64Counter

	// CollaboratorErrors counts ASR/LLM/TTS failures. Use with attributes:
	//   attribute.String("collaborator", ...), attribute.String("kind", ...)
	CollaboratorErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live call sessions (0 or 1 on a
	// single phone, more when several chassis share one process).
	ActiveCalls metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
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
	if met.STTDuration, err = m.Float64Histogram("hotline.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("hotline.llm.duration",
		metric.WithDescription("Latency from utterance end to first LLM chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("hotline.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("hotline.turn.duration",
		metric.WithDescription("End-to-end latency from utterance end to playback start."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.DigitsDialed, err = m.Int64Counter("hotline.dial.digits",
		metric.WithDescription("Total decoded rotary digits by value."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("hotline.dial.decode_errors",
		metric.WithDescription("Total invalid pulse trains."),
	); err != nil {
		return nil, err
	}
	if met.BellRings, err = m.Int64Counter("hotline.bell.rings",
		metric.WithDescription("Total proximity bell triggers."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("hotline.turn.barge_ins",
		metric.WithDescription("Total playback interruptions by caller speech."),
	); err != nil {
		return nil, err
	}
	if met.CallsConnected, err = m.Int64Counter("hotline.calls.connected",
		metric.WithDescription("Total sessions that reached CONNECTED by character."),
	); err != nil {
		return nil, err
	}
	if met.CollaboratorErrors, err = m.Int64Counter("hotline.collaborator.errors",
		metric.WithDescription("Total ASR/LLM/TTS failures by collaborator and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("hotline.calls.active",
		metric.WithDescription("Number of live call sessions."),
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

// RecordDigit records a decoded digit.
func (m *Metrics) RecordDigit(ctx context.Context, digit int) {
	m.DigitsDialed.Add(ctx, 1, metric.WithAttributes(attribute.Int("digit", digit)))
}

// RecordCallConnected records a session reaching CONNECTED.
func (m *Metrics) RecordCallConnected(ctx context.Context, characterID string) {
	m.CallsConnected.Add(ctx, 1, metric.WithAttributes(attribute.String("character", characterID)))
}

// RecordCollaboratorError records an ASR/LLM/TTS failure.
func (m *Metrics) RecordCollaboratorError(ctx context.Context, collaborator, kind string) {
	m.CollaboratorErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("collaborator", collaborator),
			attribute.String("kind", kind),
		),
	)
}
