package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the floodwatch tracer.
const tracerName = "github.com/MrWong99/floodwatch"

// Span attribute keys set by the helpers below.
const (
	KeyRunID         = attribute.Key("floodwatch.run.id")
	KeyRegion        = attribute.Key("floodwatch.region")
	KeyOutcome       = attribute.Key("floodwatch.run.outcome")
	KeyIterations    = attribute.Key("floodwatch.run.iterations")
	KeyIteration     = attribute.Key("floodwatch.llm.iteration")
	KeyMessages      = attribute.Key("floodwatch.llm.messages")
	KeyTool          = attribute.Key("floodwatch.tool.name")
	KeyToolStatus    = attribute.Key("floodwatch.tool.status")
	KeyLatitude      = attribute.Key("floodwatch.latitude")
	KeyLongitude     = attribute.Key("floodwatch.longitude")
	KeyDegradedTools = attribute.Key("floodwatch.degraded")
)

// Tracer returns the floodwatch tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartRunSpan starts the span covering one orchestrator run.
func StartRunSpan(ctx context.Context, runID, region string) (context.Context, trace.Span) {
	return StartSpan(ctx, "orchestrator.run", trace.WithAttributes(
		KeyRunID.String(runID),
		KeyRegion.String(region),
	))
}

// SetRunOutcome records how a run ended on span. A non-nil err marks the span
// as failed.
func SetRunOutcome(span trace.Span, outcome string, iterations int, degraded []string, err error) {
	attrs := []attribute.KeyValue{
		KeyOutcome.String(outcome),
		KeyIterations.Int(iterations),
	}
	if len(degraded) > 0 {
		attrs = append(attrs, KeyDegradedTools.StringSlice(degraded))
	}
	span.SetAttributes(attrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
}

// StartModelSpan starts the span of one model round trip.
func StartModelSpan(ctx context.Context, iteration, messages int) (context.Context, trace.Span) {
	return StartSpan(ctx, "llm.complete", trace.WithAttributes(
		KeyIteration.Int(iteration),
		KeyMessages.Int(messages),
	))
}

// StartToolSpan starts the span of one tool dispatch.
func StartToolSpan(ctx context.Context, tool string) (context.Context, trace.Span) {
	return StartSpan(ctx, "tool "+tool, trace.WithAttributes(KeyTool.String(tool)))
}

// SetToolStatus records the dispatch status on span. A non-empty errMsg marks
// the span as failed; degraded results are successes.
func SetToolStatus(span trace.Span, status, errMsg string) {
	span.SetAttributes(KeyToolStatus.String(status))
	if errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
	}
}

// StartSurveySpan starts the span of one quick survey.
func StartSurveySpan(ctx context.Context, region string, lat, lon float64) (context.Context, trace.Span) {
	return StartSpan(ctx, "survey.run", trace.WithAttributes(
		KeyRegion.String(region),
		KeyLatitude.Float64(lat),
		KeyLongitude.Float64(lon),
	))
}

// CorrelationID returns the trace id of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns base with trace_id and span_id of the span in ctx attached.
// A nil base uses [slog.Default]; without a span base is returned unchanged.
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return base
	}
	return base.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
