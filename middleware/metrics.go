package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/popgate/job"
)

// meterName is the instrumentation scope name for popgate metrics.
const meterName = "github.com/xraph/popgate"

// Metrics returns middleware that records per-run metrics using the
// global OTel MeterProvider.
//
// Instruments:
//   - popgate.job.duration (Float64Histogram): run time in seconds,
//     with attributes: content_type, status ("ok" or "error")
//   - popgate.job.runs (Int64Counter): total runs,
//     with attributes: content_type, status ("ok" or "error")
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the OTel API hands back noop instruments.
	duration, _ := meter.Float64Histogram(
		"popgate.job.duration",
		metric.WithDescription("Duration of producer runs in seconds"),
		metric.WithUnit("s"),
	)
	runs, _ := meter.Int64Counter(
		"popgate.job.runs",
		metric.WithDescription("Total number of producer runs"),
		metric.WithUnit("{run}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		// The run may have been cancelled by a departed client; the
		// measurement still belongs to it.
		ctx = context.WithoutCancel(ctx)
		attrs := metric.WithAttributes(
			attribute.String("content_type", j.Info().ContentType),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		runs.Add(ctx, 1, attrs)

		return err
	}
}
