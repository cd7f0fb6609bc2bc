// Package observe provides application-wide observability primitives for
// Mirepoix: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Mirepoix metrics.
const meterName = "github.com/MrWong99/mirepoix"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per voice-turn stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end voice-turn latency, utterance end to
	// playback completion.
	TurnDuration metric.Float64Histogram

	// AssessmentDuration tracks scene-assessment run latency.
	AssessmentDuration metric.Float64Histogram

	// --- Relay counters ---

	// FramesReceived counts frames accepted per stream. Use with attribute:
	//   attribute.String("stream", ...)
	FramesReceived metric.Int64Counter

	// FramesForwarded counts camera frames re-emitted to the compute node.
	FramesForwarded metric.Int64Counter

	// ForwardErrors counts failed forward sends.
	ForwardErrors metric.Int64Counter

	// FramingErrors counts dropped messages with a length/payload mismatch.
	// Use with attribute: attribute.String("stream", ...)
	FramingErrors metric.Int64Counter

	// SceneEntries counts scene-log appends.
	SceneEntries metric.Int64Counter

	// --- Voice counters ---

	// VADWindows counts analysis windows fed to the VAD engine.
	VADWindows metric.Int64Counter

	// VADEvents counts detector transitions. Use with attribute:
	//   attribute.String("kind", "start"|"end")
	VADEvents metric.Int64Counter

	// VoiceTurns counts completed voice turns. Use with attributes:
	//   attribute.String("source", "voice"|"manual"|"chat"),
	//   attribute.String("outcome", ...)
	VoiceTurns metric.Int64Counter

	// PlaybackSeconds accumulates seconds of audio streamed to the speaker.
	PlaybackSeconds metric.Float64Counter

	// --- Assessment ---

	// AssessmentRuns counts scene-assessment runs. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	AssessmentRuns metric.Int64Counter

	// StepsCompleted records the completed-step count after each
	// successful assessment.
	StepsCompleted metric.Int64Gauge

	// --- Provider counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// EventSubscribers tracks the number of connected event-stream clients.
	EventSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
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
	if met.STTDuration, err = m.Float64Histogram("mirepoix.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("mirepoix.llm.duration",
		metric.WithDescription("Latency of LLM completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("mirepoix.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("mirepoix.turn.duration",
		metric.WithDescription("End-to-end voice-turn latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AssessmentDuration, err = m.Float64Histogram("mirepoix.assessment.duration",
		metric.WithDescription("Latency of scene-assessment runs."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Relay counters.
	if met.FramesReceived, err = m.Int64Counter("mirepoix.frames.received",
		metric.WithDescription("Total frames accepted by stream."),
	); err != nil {
		return nil, err
	}
	if met.FramesForwarded, err = m.Int64Counter("mirepoix.frames.forwarded",
		metric.WithDescription("Total camera frames forwarded to the compute node."),
	); err != nil {
		return nil, err
	}
	if met.ForwardErrors, err = m.Int64Counter("mirepoix.forward.errors",
		metric.WithDescription("Total failed forward sends."),
	); err != nil {
		return nil, err
	}
	if met.FramingErrors, err = m.Int64Counter("mirepoix.framing.errors",
		metric.WithDescription("Total dropped messages with framing mismatches by stream."),
	); err != nil {
		return nil, err
	}
	if met.SceneEntries, err = m.Int64Counter("mirepoix.scene.entries",
		metric.WithDescription("Total scene-log appends."),
	); err != nil {
		return nil, err
	}

	// Voice counters.
	if met.VADWindows, err = m.Int64Counter("mirepoix.vad.windows",
		metric.WithDescription("Total analysis windows fed to the VAD engine."),
	); err != nil {
		return nil, err
	}
	if met.VADEvents, err = m.Int64Counter("mirepoix.vad.events",
		metric.WithDescription("Total VAD detector transitions by kind."),
	); err != nil {
		return nil, err
	}
	if met.VoiceTurns, err = m.Int64Counter("mirepoix.voice.turns",
		metric.WithDescription("Total voice turns by source and outcome."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackSeconds, err = m.Float64Counter("mirepoix.playback.seconds",
		metric.WithDescription("Seconds of audio streamed to the speaker."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Assessment.
	if met.AssessmentRuns, err = m.Int64Counter("mirepoix.assessment.runs",
		metric.WithDescription("Total scene-assessment runs by status."),
	); err != nil {
		return nil, err
	}
	if met.StepsCompleted, err = m.Int64Gauge("mirepoix.assessment.steps_completed",
		metric.WithDescription("Completed-step count after the latest assessment."),
	); err != nil {
		return nil, err
	}

	// Provider counters.
	if met.ProviderRequests, err = m.Int64Counter("mirepoix.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("mirepoix.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.EventSubscribers, err = m.Int64UpDownCounter("mirepoix.event_subscribers",
		metric.WithDescription("Number of connected event-stream clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("mirepoix.http.request.duration",
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

// RecordFrameReceived records one accepted frame on the named stream.
func (m *Metrics) RecordFrameReceived(ctx context.Context, stream string) {
	m.FramesReceived.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stream", stream)),
	)
}

// RecordFramingError records one dropped message on the named stream.
func (m *Metrics) RecordFramingError(ctx context.Context, stream string) {
	m.FramingErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stream", stream)),
	)
}

// RecordVADEvent records one detector transition ("start" or "end").
func (m *Metrics) RecordVADEvent(ctx context.Context, kind string) {
	m.VADEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordVoiceTurn records one completed voice turn with its source
// ("vad", "manual", or "text") and outcome.
func (m *Metrics) RecordVoiceTurn(ctx context.Context, source, outcome string) {
	m.VoiceTurns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordAssessment records one assessment run. For successful runs,
// completed is the resulting completed-step count.
func (m *Metrics) RecordAssessment(ctx context.Context, status string, completed int) {
	m.AssessmentRuns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	if status == "ok" {
		m.StepsCompleted.Record(ctx, int64(completed))
	}
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
