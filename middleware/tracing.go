package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/steadyq/steadyq/msg"
)

// tracerName is the instrumentation scope name for steadyq tracing.
const tracerName = "github.com/steadyq/steadyq"

// Tracing returns middleware that wraps message execution in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include: steadyq.message.id, steadyq.message.kind,
// steadyq.priority, steadyq.attempt. On error, the span status is set
// to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer. This variant allows injecting a specific TracerProvider for
// testing or when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, m *msg.Message, next Handler) error {
		ctx, span := tracer.Start(ctx, "steadyq.message.execute",
			trace.WithAttributes(
				attribute.String("steadyq.message.id", m.ID.String()),
				attribute.String("steadyq.message.kind", m.Kind),
				attribute.String("steadyq.priority", m.Priority.String()),
				attribute.Int("steadyq.attempt", m.Attempts),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
