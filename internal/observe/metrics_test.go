package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
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

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
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

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"modplay.sink.write.duration", m.SinkWriteDuration},
		{"modplay.library.scan.duration", m.LibraryScanDuration},
		{"modplay.http.request.duration", m.HTTPRequestDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.02)
		tc.h.Record(ctx, 0.021)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestSinkWriteBuckets(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.SinkWriteDuration.Record(context.Background(), 0.019)

	rm := collect(t, reader)
	met := findMetric(rm, "modplay.sink.write.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	dp := met.Data.(metricdata.Histogram[float64]).DataPoints[0]
	if len(dp.Bounds) != len(writeBuckets) {
		t.Fatalf("bounds = %v, want %v", dp.Bounds, writeBuckets)
	}
	// 19ms lands in the (15ms, 20ms] bucket.
	if dp.BucketCounts[4] != 1 {
		t.Errorf("bucket counts = %v, want the 20ms bucket hit", dp.BucketCounts)
	}
}

// sumByAttr returns the value of the int64 sum data point whose attribute key
// equals value, and whether it was found.
func sumByAttr(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value, true
		}
	}
	return 0, false
}

func TestRecordSessionEnded(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.RecordSessionEnded(ctx, "finished")
	m.RecordSessionEnded(ctx, "stopped")
	m.ActiveSessions.Add(ctx, 1)
	m.RecordSessionEnded(ctx, "stopped")

	rm := collect(t, reader)
	if v, ok := sumByAttr(t, rm, "modplay.sessions.ended", "outcome", "stopped"); !ok || v != 2 {
		t.Errorf("stopped sessions = %d (found %v), want 2", v, ok)
	}
	if v, ok := sumByAttr(t, rm, "modplay.sessions.ended", "outcome", "finished"); !ok || v != 1 {
		t.Errorf("finished sessions = %d (found %v), want 1", v, ok)
	}

	active := findMetric(rm, "modplay.sessions.active")
	if active == nil {
		t.Fatal("active sessions metric not found")
	}
	if got := active.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 0 {
		t.Errorf("active sessions = %d, want 0", got)
	}
}

func TestRecordLoadError(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordLoadError(ctx, "not_found")
	m.RecordLoadError(ctx, "not_found")
	m.RecordLoadError(ctx, "unsupported_format")

	rm := collect(t, reader)
	if v, ok := sumByAttr(t, rm, "modplay.load.errors", "kind", "not_found"); !ok || v != 2 {
		t.Errorf("not_found = %d (found %v), want 2", v, ok)
	}
	if v, ok := sumByAttr(t, rm, "modplay.load.errors", "kind", "unsupported_format"); !ok || v != 1 {
		t.Errorf("unsupported_format = %d (found %v), want 1", v, ok)
	}
}

func TestRecordHistoryError(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordHistoryError(context.Background(), "sqlite")

	rm := collect(t, reader)
	if v, ok := sumByAttr(t, rm, "modplay.history.errors", "driver", "sqlite"); !ok || v != 1 {
		t.Errorf("sqlite errors = %d (found %v), want 1", v, ok)
	}
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.FramesDecoded.Add(ctx, 1)
	m.FramesDecoded.Add(ctx, 1)
	m.FramesDecoded.Add(ctx, 1)
	m.EngineFaults.Add(ctx, 1)
	m.LibraryEntries.Add(ctx, 7)
	m.LibraryEntries.Add(ctx, -2)

	rm := collect(t, reader)

	counters := []struct {
		name string
		want int64
	}{
		{"modplay.frames.decoded", 3},
		{"modplay.engine.faults", 1},
		{"modplay.library.entries", 5},
	}

	for _, tc := range counters {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestAttr(t *testing.T) {
	kv := Attr("outcome", "faulted")
	if string(kv.Key) != "outcome" || kv.Value.AsString() != "faulted" {
		t.Errorf("Attr = %v", kv)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
