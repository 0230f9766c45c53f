package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer provider as the global one for the
// duration of the test. Tests calling it must not run in parallel.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs routes slog.Default to a JSON buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestWithCapture(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if got := CaptureID(ctx); got != "" {
		t.Errorf("CaptureID(background) = %q, want empty", got)
	}
	if got := WithCapture(ctx, ""); got != ctx {
		t.Error("WithCapture with empty id should return ctx unchanged")
	}
	if got := CaptureID(WithCapture(ctx, "rec-1")); got != "rec-1" {
		t.Errorf("CaptureID = %q, want rec-1", got)
	}
}

func TestStartSpan_AttachesCaptureID(t *testing.T) {
	exp := useTracer(t)

	ctx := WithCapture(context.Background(), "rec-7")
	_, span := StartSpan(ctx, "voice.transcribe")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "voice.transcribe" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	var found bool
	for _, kv := range spans[0].Attributes {
		if string(kv.Key) == AttrCaptureID && kv.Value.AsString() == "rec-7" {
			found = true
		}
	}
	if !found {
		t.Errorf("span attributes %v missing %s", spans[0].Attributes, AttrCaptureID)
	}
}

func TestTraceID(t *testing.T) {
	useTracer(t)

	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID(background) = %q, want empty", got)
	}

	ctx, span := StartSpan(context.Background(), "op")
	defer span.End()
	id := TraceID(ctx)
	if len(id) != 32 {
		t.Errorf("TraceID length = %d, want 32", len(id))
	}
}

func TestLogger(t *testing.T) {
	useTracer(t)
	buf := captureLogs(t)

	ctx, span := StartSpan(WithCapture(context.Background(), "rec-9"), "op")
	defer span.End()

	Logger(ctx).Info("hello")
	Logger(context.Background()).Info("bare")

	dec := json.NewDecoder(buf)
	var first, second map[string]any
	if err := dec.Decode(&first); err != nil {
		t.Fatalf("decode first line: %v", err)
	}
	if err := dec.Decode(&second); err != nil {
		t.Fatalf("decode second line: %v", err)
	}

	if first["trace_id"] != TraceID(ctx) {
		t.Errorf("trace_id = %v, want %s", first["trace_id"], TraceID(ctx))
	}
	if first[AttrCaptureID] != "rec-9" {
		t.Errorf("%s = %v, want rec-9", AttrCaptureID, first[AttrCaptureID])
	}
	for _, k := range []string{"trace_id", "span_id", AttrCaptureID} {
		if _, ok := second[k]; ok {
			t.Errorf("bare logger line has %q", k)
		}
	}
}
