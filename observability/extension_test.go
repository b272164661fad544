package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/popgate/ext"
	"github.com/xraph/popgate/job"
	"github.com/xraph/popgate/observability"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func newTestJob(t *testing.T) *job.Job {
	t.Helper()
	j, err := job.NewRegistry().Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return j
}

// value returns the summed value of the named int64 sum instrument.
func value(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: expected Sum[int64], got %T", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_JobCreated(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnJobCreated(context.Background(), newTestJob(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := value(t, reader, "popgate.job.created"); got != 1 {
		t.Errorf("popgate.job.created: want 1, got %d", got)
	}
	if got := value(t, reader, "popgate.job.live"); got != 1 {
		t.Errorf("popgate.job.live: want 1, got %d", got)
	}
}

func TestMetricsExtension_JobCompleted(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()
	j := newTestJob(t)
	_ = e.OnJobCreated(ctx, j)
	if err := e.OnJobCompleted(ctx, j, 100*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := value(t, reader, "popgate.job.completed"); got != 1 {
		t.Errorf("popgate.job.completed: want 1, got %d", got)
	}
	if got := value(t, reader, "popgate.job.live"); got != 0 {
		t.Errorf("popgate.job.live: want 0, got %d", got)
	}
}

func TestMetricsExtension_JobFailed(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnJobFailed(context.Background(), newTestJob(t), errors.New("boom")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := value(t, reader, "popgate.job.failed"); got != 1 {
		t.Errorf("popgate.job.failed: want 1, got %d", got)
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, reader := newTestExtension()
	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	j := newTestJob(t)

	reg.EmitJobCreated(ctx, j)
	reg.EmitJobCreated(ctx, j)
	reg.EmitJobCreated(ctx, j)
	reg.EmitJobAttached(ctx, j)
	reg.EmitJobCompleted(ctx, j, 50*time.Millisecond)
	reg.EmitJobFailed(ctx, j, errors.New("fail"))
	reg.EmitJobExpired(ctx, j, time.Minute)

	checks := []struct {
		name string
		want int64
	}{
		{"popgate.job.created", 3},
		{"popgate.job.attached", 1},
		{"popgate.job.completed", 1},
		{"popgate.job.failed", 1},
		{"popgate.job.expired", 1},
		{"popgate.job.live", 0},
	}
	for _, c := range checks {
		if got := value(t, reader, c.name); got != c.want {
			t.Errorf("%s: want %d, got %d", c.name, c.want, got)
		}
	}
}
