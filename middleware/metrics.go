package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Rohithcheryala/Image-Processing-API/batch"
)

// meterName is the instrumentation scope name for imgproc metrics.
const meterName = "github.com/Rohithcheryala/Image-Processing-API"

// Metrics returns middleware that records per-item processing metrics
// using the global OTel MeterProvider. Without a configured provider the
// noop instruments make this a pass-through.
//
// Instruments:
//   - imgproc.item.duration (Float64Histogram): processing time in
//     seconds, with attribute status ("ok" or "error")
//   - imgproc.item.processed (Int64Counter): total items processed,
//     with attribute status ("ok" or "error")
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter,
// for injecting a specific MeterProvider in tests.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instruments are created once; on error the OTel API guarantees a
	// noop fallback.
	duration, _ := meter.Float64Histogram(
		"imgproc.item.duration",
		metric.WithDescription("Duration of item processing in seconds"),
		metric.WithUnit("s"),
	)
	processed, _ := meter.Int64Counter(
		"imgproc.item.processed",
		metric.WithDescription("Total number of items processed"),
		metric.WithUnit("{item}"),
	)

	return func(ctx context.Context, _ *batch.Item, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(attribute.String("status", status))

		duration.Record(ctx, elapsed, attrs)
		processed.Add(ctx, 1, attrs)

		return err
	}
}
