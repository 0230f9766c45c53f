// Package observe provides the observability primitives for voxmemo:
// OpenTelemetry metrics, tracing, trace-aware structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus via [InitProvider]. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with their own [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxmemo metrics.
const meterName = "github.com/voxmemo/voxmemo"

// Metrics holds all OpenTelemetry instruments for the application. The
// underlying OTel types handle their own synchronisation.
type Metrics struct {
	// TranscriptionDuration tracks end-to-end latency of one transcription
	// request, failover included.
	TranscriptionDuration metric.Float64Histogram

	// SegmentDuration tracks the audio length of submitted segments.
	SegmentDuration metric.Float64Histogram

	// Segments counts finished segments by outcome. Use with attribute:
	//   attribute.String("outcome", ...), either "accepted" or a fault kind.
	Segments metric.Int64Counter

	// ProviderRequests counts transcription backend calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// MicAcquisitions counts microphone open attempts. Use with attribute:
	//   attribute.String("status", ...)
	MicAcquisitions metric.Int64Counter

	// StateTransitions counts controller state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// ActiveCaptures is 1 while the microphone is held, 0 otherwise.
	ActiveCaptures metric.Int64UpDownCounter

	// HostConnections tracks connected host control sockets.
	HostConnections metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time, labelled by
	// method, matched route pattern and status code. Websocket sessions are
	// not recorded.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets (seconds) cover fast local whisper up to slow cloud uploads.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// segmentBuckets (seconds) cover a short phrase up to a long monologue.
var segmentBuckets = []float64{
	1, 2, 5, 10, 20, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] using mp. Returns an error
// if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionDuration, err = m.Float64Histogram("voxmemo.transcription.duration",
		metric.WithDescription("Latency of segment transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("voxmemo.segment.duration",
		metric.WithDescription("Audio length of submitted segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("voxmemo.segments",
		metric.WithDescription("Finished speech segments by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voxmemo.provider.requests",
		metric.WithDescription("Transcription backend requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.MicAcquisitions, err = m.Int64Counter("voxmemo.mic.acquisitions",
		metric.WithDescription("Microphone open attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("voxmemo.state.transitions",
		metric.WithDescription("Voice session state transitions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCaptures, err = m.Int64UpDownCounter("voxmemo.active_captures",
		metric.WithDescription("Number of captures currently holding the microphone."),
	); err != nil {
		return nil, err
	}
	if met.HostConnections, err = m.Int64UpDownCounter("voxmemo.host.connections",
		metric.WithDescription("Number of connected host control sockets."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxmemo.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first call
// from [otel.GetMeterProvider]. Panics if instrument creation fails, which
// does not happen with the global provider.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSegment counts one finished segment with the given outcome.
func (m *Metrics) RecordSegment(ctx context.Context, outcome string) {
	m.Segments.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordTranscription records one transcription attempt.
func (m *Metrics) RecordTranscription(ctx context.Context, provider string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.TranscriptionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("status", status)))
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("status", status),
	))
}

// RecordMicAcquisition counts one microphone open attempt.
func (m *Metrics) RecordMicAcquisition(ctx context.Context, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.MicAcquisitions.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}

// RecordTransition counts one controller state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1, metric.WithAttributes(
		Attr("from", from),
		Attr("to", to),
	))
}
