// Package observe provides the runtime's observability primitives:
// OpenTelemetry metrics with a Prometheus exporter bridge, tracing, and the
// HTTP middleware tying them together.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all voxline metrics.
const meterName = "github.com/voxlinehq/voxline"

// Metrics holds the metric instruments for the dialogue runtime. All fields
// are safe for concurrent use.
type Metrics struct {
	// TurnDuration tracks end-to-end turn latency. Attributes: tenant, owner.
	TurnDuration metric.Float64Histogram

	// StageDuration tracks per-stage latency. Attribute: stage.
	StageDuration metric.Float64Histogram

	// MatchDuration tracks scenario match latency. Attribute: tier.
	MatchDuration metric.Float64Histogram

	// Turns counts processed turns. Attributes: tenant, owner.
	Turns metric.Int64Counter

	// Events counts journal events written. Attribute: type.
	Events metric.Int64Counter

	// JournalOverflow counts events dropped by the journal writer.
	JournalOverflow metric.Int64Counter

	// MatcherErrors counts failed match tiers. Attribute: tier.
	MatcherErrors metric.Int64Counter

	// BusyRejected counts turns rejected because the call was busy.
	BusyRejected metric.Int64Counter

	// ActiveCalls tracks calls with live state.
	ActiveCalls metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries (seconds) sized for a turn budget
// measured in tens of milliseconds.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("voxline.turn.duration",
		metric.WithDescription("End-to-end turn processing latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("voxline.stage.duration",
		metric.WithDescription("Per-stage pipeline latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MatchDuration, err = m.Float64Histogram("voxline.match.duration",
		metric.WithDescription("Scenario match latency by tier."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Turns, err = m.Int64Counter("voxline.turns",
		metric.WithDescription("Processed turns by tenant and owner."),
	); err != nil {
		return nil, err
	}
	if met.Events, err = m.Int64Counter("voxline.events",
		metric.WithDescription("Journal events written by type."),
	); err != nil {
		return nil, err
	}
	if met.JournalOverflow, err = m.Int64Counter("voxline.journal.overflow",
		metric.WithDescription("Journal events dropped under backpressure."),
	); err != nil {
		return nil, err
	}
	if met.MatcherErrors, err = m.Int64Counter("voxline.matcher.errors",
		metric.WithDescription("Scenario matcher tier failures."),
	); err != nil {
		return nil, err
	}
	if met.BusyRejected, err = m.Int64Counter("voxline.turns.rejected_busy",
		metric.WithDescription("Turns rejected because the call was busy."),
	); err != nil {
		return nil, err
	}

	if met.ActiveCalls, err = m.Int64UpDownCounter("voxline.calls.active",
		metric.WithDescription("Calls with live dialogue state."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxline.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// DefaultMetrics returns the package-level [Metrics], creating it on first
// call from the global meter provider. Panics if instrument creation fails,
// which cannot happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordTurn records one completed turn.
func (m *Metrics) RecordTurn(ctx context.Context, tenantID, owner string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tenant", tenantID),
		attribute.String("owner", owner),
	)
	m.Turns.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordStage records one pipeline stage execution.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordMatch records one scenario match attempt at the given tier.
func (m *Metrics) RecordMatch(ctx context.Context, tier int, d time.Duration) {
	m.MatchDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("tier", strconv.Itoa(tier))))
}

// RecordMatcherError records a failed matcher tier.
func (m *Metrics) RecordMatcherError(ctx context.Context, tier int) {
	m.MatcherErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("tier", strconv.Itoa(tier))))
}
