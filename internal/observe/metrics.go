// Package observe provides application-wide observability primitives for
// Arbor: OpenTelemetry metrics and the Prometheus exporter bridge that makes
// them scrapeable.
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

// meterName is the instrumentation scope name used for all Arbor metrics.
const meterName = "github.com/skalvenes/arbor"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// InsertDuration tracks turn-insert latency (embed + tree insert +
	// merge cascade, excluding async summarisation).
	InsertDuration metric.Float64Histogram

	// RetrieveDuration tracks end-to-end query latency (embed + tree
	// retrieval + causal verification + assembly).
	RetrieveDuration metric.Float64Histogram

	// SummariseDuration tracks summary generation latency per merge event.
	SummariseDuration metric.Float64Histogram

	// --- Counters ---

	// Merges counts coarse-graining merge events.
	Merges metric.Int64Counter

	// Extractions counts triple-extraction runs. Use with attribute:
	//   attribute.String("status", ...)
	Extractions metric.Int64Counter

	// Candidates counts retrieval candidates by verification outcome. Use
	// with attribute:
	//   attribute.String("outcome", ...) — "kept", "dropped", "passthrough"
	Candidates metric.Int64Counter

	// CacheLookups counts embedding-cache lookups. Use with attribute:
	//   attribute.String("result", ...) — "hit" or "miss"
	CacheLookups metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live conversation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// TreeNodes tracks the total node count across all session trees.
	TreeNodes metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) spanning
// in-memory tree operations up to multi-second LLM round trips.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.InsertDuration, err = m.Float64Histogram("arbor.insert.duration",
		metric.WithDescription("Latency of turn inserts including the merge cascade."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RetrieveDuration, err = m.Float64Histogram("arbor.retrieve.duration",
		metric.WithDescription("End-to-end latency of context queries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SummariseDuration, err = m.Float64Histogram("arbor.summarise.duration",
		metric.WithDescription("Latency of summary generation per merge event."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Merges, err = m.Int64Counter("arbor.tree.merges",
		metric.WithDescription("Total coarse-graining merge events."),
	); err != nil {
		return nil, err
	}
	if met.Extractions, err = m.Int64Counter("arbor.graph.extractions",
		metric.WithDescription("Total triple-extraction runs by status."),
	); err != nil {
		return nil, err
	}
	if met.Candidates, err = m.Int64Counter("arbor.retrieve.candidates",
		metric.WithDescription("Total retrieval candidates by verification outcome."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("arbor.cache.lookups",
		metric.WithDescription("Total embedding-cache lookups by result."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("arbor.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("arbor.active_sessions",
		metric.WithDescription("Number of live conversation sessions."),
	); err != nil {
		return nil, err
	}
	if met.TreeNodes, err = m.Int64UpDownCounter("arbor.tree.nodes",
		metric.WithDescription("Total node count across all session trees."),
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

// RecordExtraction records a triple-extraction run with its status.
func (m *Metrics) RecordExtraction(ctx context.Context, status string) {
	m.Extractions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordCandidates records n retrieval candidates with the given
// verification outcome.
func (m *Metrics) RecordCandidates(ctx context.Context, outcome string, n int64) {
	if n == 0 {
		return
	}
	m.Candidates.Add(ctx, n,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordCacheLookup records an embedding-cache lookup result.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
