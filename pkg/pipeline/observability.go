package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the name of the tracer for submission operations.
const TracerName = "sealpost.submission"

// Span attribute keys.
const (
	AttrParentKind = "parent_kind"
	AttrParentID   = "parent_id"
	AttrInsertFlow = "insert_flow"
	AttrStage      = "stage"
	AttrFiles      = "files"
)

// Span names.
const (
	SpanSubmit = "pipeline.submit"
	SpanStage  = "pipeline.stage"
)

// Tracer provides distributed tracing for submission operations. Spans are
// no-ops unless the host application installs a trace provider.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new submission tracer.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// StartSubmissionSpan starts the root span for one submission.
func (t *Tracer) StartSubmissionSpan(ctx context.Context, kind ParentKind, insertFlow bool, files int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanSubmit,
		trace.WithAttributes(
			attribute.String(AttrParentKind, string(kind)),
			attribute.Bool(AttrInsertFlow, insertFlow),
			attribute.Int(AttrFiles, files),
		),
	)
}

// StartStageSpan starts a span for one pipeline stage.
func (t *Tracer) StartStageSpan(ctx context.Context, stage Stage) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanStage,
		trace.WithAttributes(attribute.String(AttrStage, string(stage))),
	)
}

// EndSpan records err on the span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
