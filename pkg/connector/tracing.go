package connector

import (
	"context"

	"github.com/vango-dev/remoting/pkg/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for connector spans.
const defaultTracerName = "remoting"

func defaultTracer() trace.Tracer {
	return otel.Tracer(defaultTracerName)
}

// startCycleSpan starts a span covering one request/response cycle.
func startCycleSpan(ctx context.Context, tracer trace.Tracer, name, side string, cmds []protocol.Command) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name,
		trace.WithSpanKind(spanKind(side)),
		trace.WithAttributes(
			attribute.String("remoting.side", side),
			attribute.Int("remoting.batch_size", len(cmds)),
		),
	)
	if len(cmds) > 0 {
		span.SetAttributes(attribute.String("remoting.first_kind", cmds[0].Kind().String()))
	}
	return ctx, span
}

func spanKind(side string) trace.SpanKind {
	if side == sideServer {
		return trace.SpanKindServer
	}
	return trace.SpanKindClient
}

// endSpan records err, if any, and ends span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
