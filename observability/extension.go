package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/popgate/ext"
	"github.com/xraph/popgate/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobCreated   = (*MetricsExtension)(nil)
	_ ext.JobAttached  = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobExpired   = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/popgate/observability"

// MetricsExtension records system-wide lifecycle metrics through an OTel
// meter. Register it as an extension to track creation rates, completion
// and failure counts, expiries, and the live job gauge.
type MetricsExtension struct {
	JobCreated   metric.Int64Counter
	JobAttached  metric.Int64Counter
	JobCompleted metric.Int64Counter
	JobFailed    metric.Int64Counter
	JobExpired   metric.Int64Counter
	JobLive      metric.Int64UpDownCounter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. Instrument creation errors fall back to the API's noop instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}"))
		return c
	}
	live, _ := meter.Int64UpDownCounter("popgate.job.live",
		metric.WithDescription("Jobs registered and not yet completed"),
		metric.WithUnit("{job}"),
	)
	return &MetricsExtension{
		JobCreated:   counter("popgate.job.created", "Identifiers issued"),
		JobAttached:  counter("popgate.job.attached", "Continuation requests attached"),
		JobCompleted: counter("popgate.job.completed", "Results delivered"),
		JobFailed:    counter("popgate.job.failed", "Jobs answered with a server error"),
		JobExpired:   counter("popgate.job.expired", "Pending jobs evicted"),
		JobLive:      live,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobCreated implements ext.JobCreated.
func (m *MetricsExtension) OnJobCreated(ctx context.Context, _ *job.Job) error {
	m.JobCreated.Add(ctx, 1)
	m.JobLive.Add(ctx, 1)
	return nil
}

// OnJobAttached implements ext.JobAttached.
func (m *MetricsExtension) OnJobAttached(ctx context.Context, _ *job.Job) error {
	m.JobAttached.Add(ctx, 1)
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, _ *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1)
	m.JobLive.Add(ctx, -1)
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, _ *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1)
	m.JobLive.Add(ctx, -1)
	return nil
}

// OnJobExpired implements ext.JobExpired.
func (m *MetricsExtension) OnJobExpired(ctx context.Context, _ *job.Job, _ time.Duration) error {
	m.JobExpired.Add(ctx, 1)
	m.JobLive.Add(ctx, -1)
	return nil
}
