package observe

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// instrumented installs an in-memory tracer globally and returns metrics
// bound to a manual reader.
func instrumented(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	m, reader := newTestMetrics(t)
	tp, exp := newTestTracerProvider(t)
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	return m, reader, exp
}

// apiMux mirrors the shape of the floodwatch API routes.
func apiMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/map-data", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/summary", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return mux
}

func spanAttr(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	m, reader, exp := instrumented(t)
	h := Middleware(m)(apiMux())

	for _, target := range []string{"/api/map-data?lat=54.9&lon=-1.6", "/api/map-data?lat=53.8&lon=-1.5"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	met := findMetric(collect(t, reader), "floodwatch.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1 series for both queries", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 2 {
		t.Errorf("sample count = %d, want 2", dp.Count)
	}
	if v, _ := dp.Attributes.Value("route"); v.AsString() != "/api/map-data" {
		t.Errorf("route = %q, want /api/map-data", v.AsString())
	}
	if v, _ := dp.Attributes.Value("status"); v.AsInt64() != http.StatusOK {
		t.Errorf("status = %d, want 200", v.AsInt64())
	}

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Name != "GET /api/map-data" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if v, ok := spanAttr(spans[0].Attributes, "http.route"); !ok || v.AsString() != "/api/map-data" {
		t.Errorf("http.route = %v", v.Emit())
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	m, reader, exp := instrumented(t)
	h := Middleware(m)(apiMux())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/wp-admin/setup.php", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	hist := findMetric(collect(t, reader), "floodwatch.http.request.duration").Data.(metricdata.Histogram[float64])
	if v, _ := hist.DataPoints[0].Attributes.Value("route"); v.AsString() != unmatchedRoute {
		t.Errorf("route = %q, want %q", v.AsString(), unmatchedRoute)
	}
	if v, ok := spanAttr(exp.GetSpans()[0].Attributes, "http.response.status_code"); !ok || v.AsInt64() != 404 {
		t.Errorf("span status code = %v", v.Emit())
	}
}

func TestMiddleware_ContinuesCallerTrace(t *testing.T) {
	m, _, _ := instrumented(t)
	var seen string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/summary", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	const want = "4bf92f3577b34da6a3ce929d0e0e4736"
	if seen != want {
		t.Errorf("handler trace id = %q, want %q", seen, want)
	}
	if got := rec.Header().Get(CorrelationHeader); got != want {
		t.Errorf("%s = %q, want %q", CorrelationHeader, got, want)
	}
}

func TestMiddleware_ServerErrorsLogAtWarn(t *testing.T) {
	m, _, _ := instrumented(t)
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	Middleware(m)(apiMux()).ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodPost, "/api/summary", nil))

	out := buf.String()
	for _, want := range []string{"level=WARN", "route=/api/summary", "status=503"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Errorf("log %q missing %q", out, want)
		}
	}
}

func TestMiddleware_HijackRecordsSwitchingProtocols(t *testing.T) {
	m, _, exp := instrumented(t)
	upgrade := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		conn, brw, err := http.NewResponseController(w).Hijack()
		if err != nil {
			t.Errorf("Hijack: %v", err)
			return
		}
		defer conn.Close()
		_, _ = brw.WriteString("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n")
		_ = brw.Flush()
	}))
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(done)
		upgrade.ServeHTTP(w, r)
	}))
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	fmt.Fprint(conn, "GET /ws/summary HTTP/1.1\r\nHost: floodwatch\r\nConnection: Upgrade\r\nUpgrade: websocket\r\n\r\n")
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d, want 101", resp.StatusCode)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return")
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if v, _ := spanAttr(spans[0].Attributes, "http.response.status_code"); v.AsInt64() != http.StatusSwitchingProtocols {
		t.Errorf("recorded status = %d, want 101", v.AsInt64())
	}
}

func TestMiddleware_FlushReachesWriter(t *testing.T) {
	m, _, _ := instrumented(t)
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"type":"event"}`))
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("Flush: %v", err)
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/summary", nil))
	if !rec.Flushed {
		t.Error("flush did not reach the underlying writer")
	}
}

// deadlineWriter supports write deadlines only through unwrapping.
type deadlineWriter struct {
	*httptest.ResponseRecorder
	deadline time.Time
}

func (d *deadlineWriter) SetWriteDeadline(t time.Time) error {
	d.deadline = t
	return nil
}

func TestMiddleware_UnwrapExposesWriter(t *testing.T) {
	m, _, _ := instrumented(t)
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if err := http.NewResponseController(w).SetWriteDeadline(want); err != nil {
			t.Errorf("SetWriteDeadline: %v", err)
		}
	}))

	w := &deadlineWriter{ResponseRecorder: httptest.NewRecorder()}
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws/summary", nil))
	if !w.deadline.Equal(want) {
		t.Errorf("deadline = %v, want %v", w.deadline, want)
	}
}
