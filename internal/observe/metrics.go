// Package observe provides application-wide observability primitives for
// handoff: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] and scraped through
// [MetricsHandler]. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
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

// meterName is the instrumentation scope name used for all handoff metrics.
const meterName = "github.com/MrWong99/handoff"

// Await outcome attribute values.
const (
	AwaitResolved  = "resolved"
	AwaitTimedOut  = "timed_out"
	AwaitCancelled = "cancelled"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Escalation lifecycle ---

	// EscalationsCreated counts created escalations. Use with attributes:
	//   attribute.String("urgency", ...), attribute.String("decision_type", ...)
	EscalationsCreated metric.Int64Counter

	// EscalationsResolved counts accepted operator responses.
	EscalationsResolved metric.Int64Counter

	// RespondConflicts counts respond calls that lost the resolution race.
	RespondConflicts metric.Int64Counter

	// AwaitOutcomes counts finished awaits. Use with attribute:
	//   attribute.String("outcome", resolved|timed_out|cancelled)
	AwaitOutcomes metric.Int64Counter

	// TimeToResolution tracks the time from creation to operator response.
	TimeToResolution metric.Float64Histogram

	// AwaitDuration tracks how long agents stayed parked on a waiter.
	AwaitDuration metric.Float64Histogram

	// --- Gauges ---

	// PendingEscalations tracks escalations created but not yet resolved by
	// this process.
	PendingEscalations metric.Int64UpDownCounter

	// ActiveWaiters tracks agent sessions currently blocked in an await.
	ActiveWaiters metric.Int64UpDownCounter

	// ConnectedConsoles tracks subscribed operator consoles.
	ConnectedConsoles metric.Int64UpDownCounter

	// --- Fan-out ---

	// ConsoleEventsDropped counts events discarded for slow consoles.
	ConsoleEventsDropped metric.Int64Counter

	// --- Insight ---

	// InsightDuration tracks LLM insight generation latency.
	InsightDuration metric.Float64Histogram

	// InsightErrors counts failed insight generations. Use with attribute:
	//   attribute.String("reason", ...)
	InsightErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// request and provider latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// humanBuckets defines histogram bucket boundaries (in seconds) for waits
// that depend on a human operator.
var humanBuckets = []float64{
	1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.EscalationsCreated, err = m.Int64Counter("handoff.escalations.created",
		metric.WithDescription("Total escalations created by urgency and decision type."),
	); err != nil {
		return nil, err
	}
	if met.EscalationsResolved, err = m.Int64Counter("handoff.escalations.resolved",
		metric.WithDescription("Total escalations resolved by an operator."),
	); err != nil {
		return nil, err
	}
	if met.RespondConflicts, err = m.Int64Counter("handoff.respond.conflicts",
		metric.WithDescription("Total respond calls rejected because the escalation was already resolved."),
	); err != nil {
		return nil, err
	}
	if met.AwaitOutcomes, err = m.Int64Counter("handoff.await.outcomes",
		metric.WithDescription("Total agent awaits by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ConsoleEventsDropped, err = m.Int64Counter("handoff.console.events_dropped",
		metric.WithDescription("Total console events dropped because a subscriber buffer was full."),
	); err != nil {
		return nil, err
	}
	if met.InsightErrors, err = m.Int64Counter("handoff.insight.errors",
		metric.WithDescription("Total failed insight generations by reason."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.TimeToResolution, err = m.Float64Histogram("handoff.escalation.time_to_resolution",
		metric.WithDescription("Time from escalation creation to operator response."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(humanBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AwaitDuration, err = m.Float64Histogram("handoff.await.duration",
		metric.WithDescription("Time an agent session spent awaiting a response."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(humanBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InsightDuration, err = m.Float64Histogram("handoff.insight.duration",
		metric.WithDescription("Latency of LLM insight generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.PendingEscalations, err = m.Int64UpDownCounter("handoff.escalations.pending",
		metric.WithDescription("Number of escalations awaiting an operator."),
	); err != nil {
		return nil, err
	}
	if met.ActiveWaiters, err = m.Int64UpDownCounter("handoff.waiters.active",
		metric.WithDescription("Number of agent sessions blocked awaiting a response."),
	); err != nil {
		return nil, err
	}
	if met.ConnectedConsoles, err = m.Int64UpDownCounter("handoff.consoles.connected",
		metric.WithDescription("Number of subscribed operator consoles."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("handoff.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route pattern."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
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

// RecordCreated records a new pending escalation.
func (m *Metrics) RecordCreated(ctx context.Context, urgency, decisionType string) {
	m.EscalationsCreated.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("urgency", urgency),
			attribute.String("decision_type", decisionType),
		),
	)
	m.PendingEscalations.Add(ctx, 1)
}

// RecordResolved records an accepted operator response for an escalation
// that waited for the given duration.
func (m *Metrics) RecordResolved(ctx context.Context, urgency string, waited time.Duration) {
	m.EscalationsResolved.Add(ctx, 1,
		metric.WithAttributes(attribute.String("urgency", urgency)),
	)
	m.PendingEscalations.Add(ctx, -1)
	m.TimeToResolution.Record(ctx, waited.Seconds())
}

// RecordAwait records a finished agent await.
func (m *Metrics) RecordAwait(ctx context.Context, outcome string, waited time.Duration) {
	m.AwaitOutcomes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
	m.AwaitDuration.Record(ctx, waited.Seconds())
}

// RecordInsightError is a convenience method that records a failed insight
// generation.
func (m *Metrics) RecordInsightError(ctx context.Context, reason string) {
	m.InsightErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
