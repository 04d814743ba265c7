package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const diffTracerName = "diffview-diff"

func diffTracer() trace.Tracer {
	return Tracer(diffTracerName)
}

// TraceDiffCompute creates a span for one diff computation of a watched path.
func TraceDiffCompute(ctx context.Context, path, mode string) (context.Context, trace.Span) {
	ctx, span := diffTracer().Start(ctx, "diff.compute",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("path", path),
		attribute.String("mode", mode),
	)
	return ctx, span
}

// TraceHistoryQuery creates a span for a single history query (diff or show).
func TraceHistoryQuery(ctx context.Context, backend, op, ref string) (context.Context, trace.Span) {
	ctx, span := diffTracer().Start(ctx, "history."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("backend", backend),
		attribute.String("ref", ref),
	)
	return ctx, span
}

// TraceResult records the outcome on a span. Soft failures still mark the span as errored.
func TraceResult(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
