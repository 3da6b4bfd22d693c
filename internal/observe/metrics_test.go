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

func TestRecordCommand(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCommand(ctx, "goto", "chat", "executed", 120*time.Millisecond)
	m.RecordCommand(ctx, "quit", "chat", "denied", time.Millisecond)

	rm := collect(t, reader)
	counter := findMetric(rm, "bloop.commands")
	if counter == nil {
		t.Fatal("bloop.commands not recorded")
	}
	sum, ok := counter.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("bloop.commands data type = %T", counter.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Errorf("commands total = %d, want 2", total)
	}

	if findMetric(rm, "bloop.command.duration") == nil {
		t.Error("bloop.command.duration not recorded")
	}
}

func TestRecordTranslationAndDenial(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTranslation(ctx, "unintelligible", 600*time.Millisecond)
	m.RecordDenial(ctx, "quit")
	m.RecordTransition(ctx, "flee")

	rm := collect(t, reader)
	for _, name := range []string{"bloop.translations", "bloop.denials", "bloop.behavior.transitions"} {
		if findMetric(rm, name) == nil {
			t.Errorf("%s not recorded", name)
		}
	}
}
