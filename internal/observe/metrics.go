// Package observe provides application-wide observability primitives for
// floodwatch: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] and served by [Handler] on
// the /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
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

// meterName is the instrumentation scope name used for all floodwatch metrics.
const meterName = "github.com/MrWong99/floodwatch"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// LLMDuration tracks one model completion round trip.
	LLMDuration metric.Float64Histogram

	// ToolDuration tracks tool execution latency. Use with attribute:
	//   attribute.String("tool", ...)
	ToolDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts upstream calls made through a circuit breaker.
	// Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts upstream failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// CircuitOpens counts closed-to-open breaker transitions.
	CircuitOpens metric.Int64Counter

	// CacheLookups counts result cache lookups. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("result", "hit"|"miss")
	CacheLookups metric.Int64Counter

	// OrchestratorRuns counts finished conversation runs by outcome.
	OrchestratorRuns metric.Int64Counter

	// OrchestratorIterations tracks how many model round trips a run took.
	OrchestratorIterations metric.Int64Histogram

	// --- Gauges ---

	// ActiveStreams tracks the number of open streaming connections.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// upstream API and model latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// iterationBuckets covers the configurable iteration cap.
var iterationBuckets = []float64{1, 2, 3, 4, 5, 6, 8, 10}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.LLMDuration, err = m.Float64Histogram("floodwatch.llm.duration",
		metric.WithDescription("Latency of one LLM completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("floodwatch.tool.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.OrchestratorIterations, err = m.Int64Histogram("floodwatch.orchestrator.iterations",
		metric.WithDescription("Model round trips per conversation run."),
		metric.WithExplicitBucketBoundaries(iterationBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("floodwatch.provider.requests",
		metric.WithDescription("Total upstream requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("floodwatch.provider.errors",
		metric.WithDescription("Total upstream errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("floodwatch.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.CircuitOpens, err = m.Int64Counter("floodwatch.circuit.opens",
		metric.WithDescription("Total circuit breaker openings by provider."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("floodwatch.cache.lookups",
		metric.WithDescription("Total result cache lookups by kind and result."),
	); err != nil {
		return nil, err
	}
	if met.OrchestratorRuns, err = m.Int64Counter("floodwatch.orchestrator.runs",
		metric.WithDescription("Total conversation runs by outcome."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("floodwatch.active_streams",
		metric.WithDescription("Number of open streaming connections."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("floodwatch.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
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

// RecordProviderRequest records one upstream request with its outcome
// status ("ok", "error" or "circuit_open").
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one upstream error classified by kind.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordToolCall records a tool invocation and its latency.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, d time.Duration) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
	m.ToolDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("tool", tool)),
	)
}

// RecordCircuitOpen records a breaker transition into the open state.
func (m *Metrics) RecordCircuitOpen(ctx context.Context, provider string) {
	m.CircuitOpens.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordCacheLookup records a cache hit or miss for the given key kind.
func (m *Metrics) RecordCacheLookup(ctx context.Context, kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("result", result),
		),
	)
}

// RecordRun records the outcome of one conversation run and the number of
// model round trips it used.
func (m *Metrics) RecordRun(ctx context.Context, outcome string, iterations int) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.OrchestratorRuns.Add(ctx, 1, attrs)
	m.OrchestratorIterations.Record(ctx, int64(iterations), attrs)
}

// RecordLLMDuration records one completion round trip against the named model.
func (m *Metrics) RecordLLMDuration(ctx context.Context, provider string, d time.Duration, ok bool) {
	m.LLMDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("ok", strconv.FormatBool(ok)),
		),
	)
}
