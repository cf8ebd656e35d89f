package observe

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordTurn(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "t1", "TRIAGE_SCENARIO", 42*time.Millisecond)
	rm := collect(t, reader)

	if md := findMetric(rm, "voxline.turns"); md == nil {
		t.Error("voxline.turns not recorded")
	}
	md := findMetric(rm, "voxline.turn.duration")
	if md == nil {
		t.Fatal("voxline.turn.duration not recorded")
	}
	hist, ok := md.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("unexpected histogram shape: %+v", md.Data)
	}
	if hist.DataPoints[0].Count != 1 {
		t.Errorf("count: want 1, got %d", hist.DataPoints[0].Count)
	}
}

func TestRecordMatcherError(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordMatcherError(ctx, 3)
	m.RecordMatcherError(ctx, 3)
	rm := collect(t, reader)

	md := findMetric(rm, "voxline.matcher.errors")
	if md == nil {
		t.Fatal("voxline.matcher.errors not recorded")
	}
	sum, ok := md.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 {
		t.Fatalf("unexpected sum shape: %+v", md.Data)
	}
	if sum.DataPoints[0].Value != 2 {
		t.Errorf("value: want 2, got %d", sum.DataPoints[0].Value)
	}
}
