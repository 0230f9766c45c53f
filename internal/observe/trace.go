package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/voxmemo/voxmemo"

// AttrCaptureID is the span and log attribute naming the recording a
// segment came from.
const AttrCaptureID = "capture.id"

type captureKey struct{}

// WithCapture tags ctx with the recording identifier. Spans started by
// [StartSpan] and loggers from [Logger] pick it up.
func WithCapture(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, captureKey{}, id)
}

// CaptureID returns the recording identifier stored by [WithCapture].
func CaptureID(ctx context.Context) string {
	id, _ := ctx.Value(captureKey{}).(string)
	return id
}

// StartSpan starts an internal span on the global tracer provider. The
// capture id from ctx, if any, is attached alongside attrs.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if id := CaptureID(ctx); id != "" {
		attrs = append(attrs, attribute.String(AttrCaptureID, id))
	}
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// TraceID returns the hex trace id of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns slog.Default with trace_id, span_id and capture.id added
// when ctx carries them.
func Logger(ctx context.Context) *slog.Logger {
	var args []any
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		args = append(args, "trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
	}
	if id := CaptureID(ctx); id != "" {
		args = append(args, AttrCaptureID, id)
	}
	if len(args) == 0 {
		return slog.Default()
	}
	return slog.Default().With(args...)
}
