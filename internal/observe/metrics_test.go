package observe

import (
	"context"
	"testing"
	"time"

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

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

// sumFor returns the value of the data point carrying key=value.
func sumFor(t *testing.T, met *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", met.Name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", met.Name, key, value)
	return 0
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"floodwatch.llm.duration", m.LLMDuration},
		{"floodwatch.tool.duration", m.ToolDuration},
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

func TestProviderRequestsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "ea-floods", "ok")
	m.RecordProviderRequest(ctx, "ea-floods", "ok")
	m.RecordProviderRequest(ctx, "ea-floods", "circuit_open")

	met := findMetric(collect(t, reader), "floodwatch.provider.requests")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got := sumFor(t, met, "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumFor(t, met, "status", "circuit_open"); got != 1 {
		t.Errorf("circuit_open requests = %d, want 1", got)
	}
}

func TestToolCallsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "get-flood-data", "ok", 120*time.Millisecond)
	m.RecordToolCall(ctx, "get-flood-data", "error", 5*time.Millisecond)

	rm := collect(t, reader)
	met := findMetric(rm, "floodwatch.tool.calls")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got := sumFor(t, met, "status", "ok"); got != 1 {
		t.Errorf("ok calls = %d, want 1", got)
	}

	dur := findMetric(rm, "floodwatch.tool.duration")
	if dur == nil {
		t.Fatal("duration metric not found")
	}
	hist := dur.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
		t.Errorf("tool duration data points = %+v, want one point with count 2", hist.DataPoints)
	}
}

func TestProviderErrorsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderError(ctx, "llm:openai", "rate_limit")

	met := findMetric(collect(t, reader), "floodwatch.provider.errors")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got := sumFor(t, met, "kind", "rate_limit"); got != 1 {
		t.Errorf("counter value = %d, want 1", got)
	}
}

func TestCircuitOpensCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCircuitOpen(ctx, "highways")
	m.RecordCircuitOpen(ctx, "highways")

	met := findMetric(collect(t, reader), "floodwatch.circuit.opens")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got := sumFor(t, met, "provider", "highways"); got != 2 {
		t.Errorf("counter value = %d, want 2", got)
	}
}

func TestCacheLookupsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCacheLookup(ctx, "summary", true)
	m.RecordCacheLookup(ctx, "summary", false)
	m.RecordCacheLookup(ctx, "summary", false)

	met := findMetric(collect(t, reader), "floodwatch.cache.lookups")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got := sumFor(t, met, "result", "hit"); got != 1 {
		t.Errorf("hits = %d, want 1", got)
	}
	if got := sumFor(t, met, "result", "miss"); got != 2 {
		t.Errorf("misses = %d, want 2", got)
	}
}

func TestRecordRun(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRun(ctx, "finished", 3)
	m.RecordRun(ctx, "iteration_limit", 5)

	rm := collect(t, reader)
	runs := findMetric(rm, "floodwatch.orchestrator.runs")
	if runs == nil {
		t.Fatal("runs metric not found")
	}
	if got := sumFor(t, runs, "outcome", "finished"); got != 1 {
		t.Errorf("finished runs = %d, want 1", got)
	}

	iters := findMetric(rm, "floodwatch.orchestrator.iterations")
	if iters == nil {
		t.Fatal("iterations metric not found")
	}
	hist, ok := iters.Data.(metricdata.Histogram[int64])
	if !ok {
		t.Fatal("iterations metric is not an int histogram")
	}
	var total int64
	for _, dp := range hist.DataPoints {
		total += dp.Sum
	}
	if total != 8 {
		t.Errorf("iteration sum = %d, want 8", total)
	}
}

func TestActiveStreamsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveStreams.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, -1)

	met := findMetric(collect(t, reader), "floodwatch.active_streams")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("metric has no sum data points")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("gauge value = %d, want 1", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("route", "/healthz"),
			attribute.Int("status", 200),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "floodwatch.http.request.duration")
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
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
