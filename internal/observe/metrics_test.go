package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValueWithAttr returns the data point value whose attributes contain
// key=value, or -1 when no such point exists.
func sumValueWithAttr(sum metricdata.Sum[int64], key, value string) int64 {
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	return -1
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"mirepoix.stt.duration", m.STTDuration},
		{"mirepoix.llm.duration", m.LLMDuration},
		{"mirepoix.tts.duration", m.TTSDuration},
		{"mirepoix.turn.duration", m.TurnDuration},
		{"mirepoix.assessment.duration", m.AssessmentDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestFrameCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrameReceived(ctx, "camera")
	m.RecordFrameReceived(ctx, "camera")
	m.RecordFrameReceived(ctx, "processed")
	m.RecordFramingError(ctx, "processed")

	rm := collect(t, reader)

	met := findMetric(rm, "mirepoix.frames.received")
	if met == nil {
		t.Fatal("frames.received not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("frames.received is not a sum")
	}
	if got := sumValueWithAttr(sum, "stream", "camera"); got != 2 {
		t.Errorf("camera frames = %d, want 2", got)
	}
	if got := sumValueWithAttr(sum, "stream", "processed"); got != 1 {
		t.Errorf("processed frames = %d, want 1", got)
	}

	met = findMetric(rm, "mirepoix.framing.errors")
	if met == nil {
		t.Fatal("framing.errors not found")
	}
	sum, ok = met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("framing.errors is not a sum")
	}
	if got := sumValueWithAttr(sum, "stream", "processed"); got != 1 {
		t.Errorf("framing errors = %d, want 1", got)
	}
}

func TestVoiceTurnCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordVoiceTurn(ctx, "voice", "ok")
	m.RecordVoiceTurn(ctx, "voice", "ok")
	m.RecordVoiceTurn(ctx, "voice", "empty_transcript")
	m.RecordVoiceTurn(ctx, "chat", "ok")

	rm := collect(t, reader)
	met := findMetric(rm, "mirepoix.voice.turns")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := sumValueWithAttr(sum, "outcome", "empty_transcript"); got != 1 {
		t.Errorf("empty_transcript turns = %d, want 1", got)
	}
	if got := sumValueWithAttr(sum, "source", "chat"); got != 1 {
		t.Errorf("chat turns = %d, want 1", got)
	}
}

func TestVADEventCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordVADEvent(ctx, "start")
	m.RecordVADEvent(ctx, "end")
	m.RecordVADEvent(ctx, "start")

	rm := collect(t, reader)
	met := findMetric(rm, "mirepoix.vad.events")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := sumValueWithAttr(sum, "kind", "start"); got != 2 {
		t.Errorf("start events = %d, want 2", got)
	}
}

func TestAssessmentRecording(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAssessment(ctx, "ok", 3)
	m.RecordAssessment(ctx, "error", 0)

	rm := collect(t, reader)

	met := findMetric(rm, "mirepoix.assessment.runs")
	if met == nil {
		t.Fatal("assessment.runs not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("assessment.runs is not a sum")
	}
	if got := sumValueWithAttr(sum, "status", "ok"); got != 1 {
		t.Errorf("ok runs = %d, want 1", got)
	}
	if got := sumValueWithAttr(sum, "status", "error"); got != 1 {
		t.Errorf("error runs = %d, want 1", got)
	}

	met = findMetric(rm, "mirepoix.assessment.steps_completed")
	if met == nil {
		t.Fatal("steps_completed not found")
	}
	gauge, ok := met.Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatal("steps_completed is not a gauge")
	}
	if len(gauge.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := gauge.DataPoints[0].Value; got != 3 {
		t.Errorf("steps completed = %d, want 3", got)
	}
}

func TestProviderCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	attrs := metric.WithAttributes(
		attribute.String("provider", "openai"),
		attribute.String("kind", "llm"),
		attribute.String("status", "ok"),
	)
	m.ProviderRequests.Add(ctx, 1, attrs)
	m.ProviderRequests.Add(ctx, 1, attrs)
	m.RecordProviderError(ctx, "elevenlabs", "tts")

	rm := collect(t, reader)

	met := findMetric(rm, "mirepoix.provider.requests")
	if met == nil {
		t.Fatal("provider.requests not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("provider.requests is not a sum")
	}
	if got := sumValueWithAttr(sum, "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}

	met = findMetric(rm, "mirepoix.provider.errors")
	if met == nil {
		t.Fatal("provider.errors not found")
	}
	sum, ok = met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("provider.errors is not a sum")
	}
	if got := sumValueWithAttr(sum, "kind", "tts"); got != 1 {
		t.Errorf("tts errors = %d, want 1", got)
	}
}

func TestPlaybackSecondsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.PlaybackSeconds.Add(ctx, 1.5)
	m.PlaybackSeconds.Add(ctx, 2.25)

	rm := collect(t, reader)
	met := findMetric(rm, "mirepoix.playback.seconds")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[float64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := sum.DataPoints[0].Value; got != 3.75 {
		t.Errorf("playback seconds = %v, want 3.75", got)
	}
}

func TestEventSubscribersGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.EventSubscribers.Add(ctx, 1)
	m.EventSubscribers.Add(ctx, 1)
	m.EventSubscribers.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "mirepoix.event_subscribers")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("subscribers = %d, want 1", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "mirepoix.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
