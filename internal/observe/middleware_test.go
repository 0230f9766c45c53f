package observe

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// hijackRecorder is a ResponseRecorder that supports connection takeover.
type hijackRecorder struct {
	*httptest.ResponseRecorder
	server net.Conn
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.server = server
	_ = client.Close()
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

// routedHandler mounts the middleware over a mux with a handful of routes.
func routedHandler(m *Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /v1/voice/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Trace", TraceID(r.Context()))
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /v1/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("GET /v1/voice/ws", func(w http.ResponseWriter, _ *http.Request) {
		conn, _, err := http.NewResponseController(w).Hijack()
		if err == nil {
			_ = conn.Close()
		}
	})
	return Middleware(m)(mux)
}

func durationPoints(t *testing.T, rm metricdata.ResourceMetrics) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	met := findMetric(rm, "voxmemo.http.request.duration")
	if met == nil {
		return nil
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("http duration is %T, want histogram", met.Data)
	}
	return hist.DataPoints
}

func attrOf(dp metricdata.HistogramDataPoint[float64], key string) string {
	for _, kv := range dp.Attributes.ToSlice() {
		if string(kv.Key) == key {
			return kv.Value.AsString()
		}
	}
	return ""
}

func spanAttr(s tracetest.SpanStub, key string) (string, bool) {
	for _, kv := range s.Attributes {
		if string(kv.Key) == key {
			return kv.Value.Emit(), true
		}
	}
	return "", false
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	exp := useTracer(t)
	m, reader := newTestMetrics(t)
	h := routedHandler(m)

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/items/"+id, nil))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", rec.Code)
		}
	}

	points := durationPoints(t, collect(t, reader))
	if len(points) != 1 {
		t.Fatalf("got %d series, want 1 for a single pattern", len(points))
	}
	dp := points[0]
	if dp.Count != 3 {
		t.Errorf("count = %d, want 3", dp.Count)
	}
	tests := map[string]string{
		"method": "GET",
		"route":  "GET /v1/items/{id}",
		"status": "500",
	}
	for k, want := range tests {
		if got := attrOf(dp, k); got != want {
			t.Errorf("attribute %s = %q, want %q", k, got, want)
		}
	}

	spans := exp.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("got %d spans, want 3", len(spans))
	}
	if spans[0].Name != "GET /v1/items/{id}" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if got, _ := spanAttr(spans[0], "http.route"); got != "/v1/items/{id}" {
		t.Errorf("http.route = %q", got)
	}
	if got, _ := spanAttr(spans[0], "http.response.status_code"); got != "500" {
		t.Errorf("http.response.status_code = %q", got)
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	useTracer(t)
	m, reader := newTestMetrics(t)

	rec := httptest.NewRecorder()
	routedHandler(m).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope/42", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	points := durationPoints(t, collect(t, reader))
	if len(points) != 1 {
		t.Fatalf("got %d series, want 1", len(points))
	}
	if got := attrOf(points[0], "route"); got != routeUnmatched {
		t.Errorf("route = %q, want %q", got, routeUnmatched)
	}
}

func TestMiddleware_TraceHeader(t *testing.T) {
	useTracer(t)
	m, _ := newTestMetrics(t)
	h := routedHandler(m)

	tests := []struct {
		name        string
		traceparent string
		want        string
	}{
		{name: "new trace"},
		{
			name:        "propagated",
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
			want:        "4bf92f3577b34da6a3ce929d0e0e4736",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/voice/status", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			got := rec.Header().Get(HeaderTraceID)
			if len(got) != 32 {
				t.Fatalf("%s = %q, want 32 hex chars", HeaderTraceID, got)
			}
			if seen := rec.Header().Get("X-Seen-Trace"); seen != got {
				t.Errorf("handler saw trace %q, response header %q", seen, got)
			}
			if tt.want != "" && got != tt.want {
				t.Errorf("%s = %q, want %q", HeaderTraceID, got, tt.want)
			}
		})
	}
}

func TestMiddleware_ImplicitOK(t *testing.T) {
	exp := useTracer(t)
	m, _ := newTestMetrics(t)

	rec := httptest.NewRecorder()
	routedHandler(m).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if got, _ := spanAttr(spans[0], "http.response.status_code"); got != "200" {
		t.Errorf("status attribute = %q, want 200", got)
	}
}

func TestMiddleware_WebsocketUpgradeNotTimed(t *testing.T) {
	exp := useTracer(t)
	m, reader := newTestMetrics(t)

	rec := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	routedHandler(m).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/voice/ws", nil))

	if rec.server == nil {
		t.Fatal("handler could not hijack through the middleware")
	}
	if points := durationPoints(t, collect(t, reader)); len(points) != 0 {
		t.Errorf("websocket request recorded %d duration series, want 0", len(points))
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if got, _ := spanAttr(spans[0], "http.response.status_code"); got != "101" {
		t.Errorf("status attribute = %q, want 101", got)
	}
}
