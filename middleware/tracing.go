package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Rohithcheryala/Image-Processing-API/batch"
)

// tracerName is the instrumentation scope name for imgproc tracing.
const tracerName = "github.com/Rohithcheryala/Image-Processing-API"

// Tracing returns middleware that wraps item processing in an
// OpenTelemetry span. Without a global TracerProvider the noop tracer is
// used and this middleware is a pass-through.
//
// Span attributes: imgproc.item.id, imgproc.batch.id,
// imgproc.item.sequence, imgproc.item.name. On error the span status is
// set to codes.Error with the error message.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer,
// for injecting a specific TracerProvider in tests.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, it *batch.Item, next Handler) error {
		ctx, span := tracer.Start(ctx, "imgproc.item.process",
			trace.WithAttributes(
				attribute.String("imgproc.item.id", it.ID.String()),
				attribute.String("imgproc.batch.id", it.BatchID.String()),
				attribute.Int("imgproc.item.sequence", it.Sequence),
				attribute.String("imgproc.item.name", it.Name),
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
