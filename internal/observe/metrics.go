// Package observe provides application-wide observability primitives for
// Mindstream: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Mindstream metrics.
const meterName = "github.com/voxtools/mindstream"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation. A nil *Metrics is valid: every record method is
// a no-op, so callers never guard their instrumentation sites.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// --- Intake counters ---

	// FramesAccepted counts audio frames that passed WAV validation.
	FramesAccepted metric.Int64Counter

	// FramesRejected counts audio frames rejected as invalid.
	FramesRejected metric.Int64Counter

	// FramesDropped counts batches dropped by queue overflow.
	FramesDropped metric.Int64Counter

	// TranscriptsPersisted counts transcripts written to the store.
	TranscriptsPersisted metric.Int64Counter

	// --- Pipeline counters ---

	// PipelineRuns counts analysis pipeline outcomes. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	// where status is one of "ok", "skipped", "error".
	PipelineRuns metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of sessions with a live intake worker.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveConnections tracks the number of open websocket connections.
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// transcription and LLM latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("mindstream.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("mindstream.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Intake counters.
	if met.FramesAccepted, err = m.Int64Counter("mindstream.intake.frames_accepted",
		metric.WithDescription("Total audio frames accepted by intake."),
	); err != nil {
		return nil, err
	}
	if met.FramesRejected, err = m.Int64Counter("mindstream.intake.frames_rejected",
		metric.WithDescription("Total audio frames rejected as invalid."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("mindstream.intake.frames_dropped",
		metric.WithDescription("Total batches dropped by queue overflow."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptsPersisted, err = m.Int64Counter("mindstream.transcripts.persisted",
		metric.WithDescription("Total transcripts written to the store."),
	); err != nil {
		return nil, err
	}

	// Pipeline counter.
	if met.PipelineRuns, err = m.Int64Counter("mindstream.pipeline.runs",
		metric.WithDescription("Total analysis pipeline outcomes by kind and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("mindstream.active_sessions",
		metric.WithDescription("Number of sessions with a live intake worker."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("mindstream.active_connections",
		metric.WithDescription("Number of open websocket connections."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("mindstream.http.request.duration",
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

// RecordSTT records one transcription duration with its outcome.
func (m *Metrics) RecordSTT(ctx context.Context, d time.Duration, status string) {
	if m == nil {
		return
	}
	m.STTDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordLLM records one LLM invocation duration with the pipeline kind and
// outcome.
func (m *Metrics) RecordLLM(ctx context.Context, d time.Duration, kind, status string) {
	if m == nil {
		return
	}
	m.LLMDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordFrameAccepted increments the accepted-frames counter.
func (m *Metrics) RecordFrameAccepted(ctx context.Context) {
	if m == nil {
		return
	}
	m.FramesAccepted.Add(ctx, 1)
}

// RecordFrameRejected increments the rejected-frames counter.
func (m *Metrics) RecordFrameRejected(ctx context.Context) {
	if m == nil {
		return
	}
	m.FramesRejected.Add(ctx, 1)
}

// RecordFrameDropped increments the dropped-batches counter.
func (m *Metrics) RecordFrameDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.FramesDropped.Add(ctx, 1)
}

// RecordTranscriptPersisted increments the persisted-transcripts counter.
func (m *Metrics) RecordTranscriptPersisted(ctx context.Context) {
	if m == nil {
		return
	}
	m.TranscriptsPersisted.Add(ctx, 1)
}

// RecordPipelineRun records one pipeline outcome. Status is "ok", "skipped",
// or "error".
func (m *Metrics) RecordPipelineRun(ctx context.Context, kind, status string) {
	if m == nil {
		return
	}
	m.PipelineRuns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// AddActiveSessions moves the live-worker gauge by delta.
func (m *Metrics) AddActiveSessions(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, delta)
}

// AddActiveConnections moves the open-connections gauge by delta.
func (m *Metrics) AddActiveConnections(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveConnections.Add(ctx, delta)
}
