package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/popgate/job"
)

// tracerName is the instrumentation scope name for popgate tracing.
const tracerName = "github.com/xraph/popgate"

// Tracing returns middleware that wraps each run in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through.
//
// The span carries popgate.job.id when it starts; popgate.job.content_type,
// popgate.job.status and popgate.job.result_bytes are added when the run
// ends. On error, the span status is set to codes.Error.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "popgate.job.run",
			trace.WithAttributes(attribute.String("popgate.job.id", j.ID())),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)

		info := j.Info()
		span.SetAttributes(
			attribute.String("popgate.job.content_type", info.ContentType),
			attribute.Int("popgate.job.status", info.Status),
			attribute.Int("popgate.job.result_bytes", info.ResultBytes),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
