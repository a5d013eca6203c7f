// Package observe provides application-wide observability primitives for
// Kavach: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// All convenience methods are nil-receiver safe so instrumented code paths
// can run with metrics disabled.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Kavach metrics.
const meterName = "github.com/kavachlabs/kavach"

// Lane labels for [Metrics.RecordLane].
const (
	LaneSTT     = "stt"
	LaneIntel   = "llm_extract"
	LaneCoach   = "llm_coach"
	LaneTTS     = "tts"
	LaneURLScan = "urlscan"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// LaneDuration tracks collaborator call latency per analysis lane. Use
	// with attribute.String("lane", ...).
	LaneDuration metric.Float64Histogram

	// EnvelopesIn counts ingress envelopes. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("role", ...)
	EnvelopesIn metric.Int64Counter

	// EnvelopesOut counts egress envelopes delivered to legs.
	EnvelopesOut metric.Int64Counter

	// DroppedAudio counts audio chunks discarded by egress backpressure or
	// transcriber shedding.
	DroppedAudio metric.Int64Counter

	// CollaboratorErrors counts failed collaborator calls. Use with
	// attribute.String("lane", ...).
	CollaboratorErrors metric.Int64Counter

	// ActiveSessions tracks the number of live call sessions.
	ActiveSessions metric.Int64UpDownCounter

	// AttachedLegs tracks connected legs across all sessions.
	AttachedLegs metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for live-call lane latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LaneDuration, err = m.Float64Histogram("kavach.lane.duration",
		metric.WithDescription("Latency of collaborator calls by analysis lane."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.EnvelopesIn, err = m.Int64Counter("kavach.envelopes.in",
		metric.WithDescription("Total ingress envelopes by kind and role."),
	); err != nil {
		return nil, err
	}
	if met.EnvelopesOut, err = m.Int64Counter("kavach.envelopes.out",
		metric.WithDescription("Total egress envelopes by kind and role."),
	); err != nil {
		return nil, err
	}
	if met.DroppedAudio, err = m.Int64Counter("kavach.audio.dropped",
		metric.WithDescription("Audio chunks discarded under backpressure."),
	); err != nil {
		return nil, err
	}
	if met.CollaboratorErrors, err = m.Int64Counter("kavach.collaborator.errors",
		metric.WithDescription("Failed collaborator calls by lane."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("kavach.active_sessions",
		metric.WithDescription("Number of live call sessions."),
	); err != nil {
		return nil, err
	}
	if met.AttachedLegs, err = m.Int64UpDownCounter("kavach.attached_legs",
		metric.WithDescription("Connected legs across all sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("kavach.http.request.duration",
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

// RecordLane records one collaborator call: its latency, and an error count
// increment when err is non-nil.
func (m *Metrics) RecordLane(ctx context.Context, lane string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.LaneDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("lane", lane)))
	if err != nil {
		m.CollaboratorErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("lane", lane)))
	}
}

// CountEnvelopeIn records one ingress envelope.
func (m *Metrics) CountEnvelopeIn(ctx context.Context, kind, role string) {
	if m == nil {
		return
	}
	m.EnvelopesIn.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("role", role),
	))
}

// CountEnvelopeOut records one egress envelope.
func (m *Metrics) CountEnvelopeOut(ctx context.Context, kind, role string) {
	if m == nil {
		return
	}
	m.EnvelopesOut.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("role", role),
	))
}

// CountDroppedAudio records n discarded audio chunks.
func (m *Metrics) CountDroppedAudio(ctx context.Context, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.DroppedAudio.Add(ctx, n)
}

// AddSessions moves the live-session gauge by delta.
func (m *Metrics) AddSessions(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, delta)
}

// AddLegs moves the attached-leg gauge by delta.
func (m *Metrics) AddLegs(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.AttachedLegs.Add(ctx, delta)
}
