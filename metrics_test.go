package agencyauth

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledRecordsNothing(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginFailure)
	m.Observe(MetricLoginLatency, time.Millisecond)
	if m.Value(MetricLoginFailure) != 0 {
		t.Fatalf("disabled metrics must not count")
	}
	snap := m.Snapshot()
	if len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLogout)
	m.Observe(MetricLoginLatency, time.Second)
	if m.Enabled() || m.LatencyEnabled() || m.Value(MetricLogout) != 0 {
		t.Fatalf("nil metrics must be inert")
	}
}

func TestMetricsConcurrentInc(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				m.Inc(MetricCodeIssued)
			}
		}()
	}
	wg.Wait()
	if got := m.Snapshot().Counters[MetricCodeIssued]; got != 8000 {
		t.Fatalf("expected 8000, got %d", got)
	}
}

func TestMetricsSnapshotOmitsLatencyCounter(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	snap := m.Snapshot()
	if _, ok := snap.Counters[MetricLoginLatency]; ok {
		t.Fatalf("latency must not appear as a counter")
	}
	if _, ok := snap.Histograms[MetricLoginLatency]; ok {
		t.Fatalf("histogram present while latency is off")
	}
	if len(snap.Counters) != int(metricIDCount)-1 {
		t.Fatalf("expected %d counters, got %d", int(metricIDCount)-1, len(snap.Counters))
	}
}

func TestMetricsLatencyBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	samples := []time.Duration{
		10 * time.Millisecond,
		40 * time.Millisecond,
		300 * time.Millisecond,
		3 * time.Second,
	}
	for _, d := range samples {
		m.Observe(MetricLoginLatency, d)
	}
	// Only the login latency id keeps a histogram.
	m.Observe(MetricLogout, time.Millisecond)

	want := []uint64{1, 1, 0, 0, 1, 0, 0, 1}
	got := m.Snapshot().Histograms[MetricLoginLatency]
	if len(got) != len(want) {
		t.Fatalf("expected %d buckets, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bucket %d: expected %d, got %d (%v)", i, want[i], got[i], got)
		}
	}
}

func TestBucketIndexBoundaries(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{25 * time.Millisecond, 0},
		{26 * time.Millisecond, 1},
		{100 * time.Millisecond, 2},
		{250 * time.Millisecond, 3},
		{time.Second, 5},
		{2500 * time.Millisecond, 6},
		{time.Minute, 7},
	}
	for _, tc := range tests {
		if got := bucketIndex(tc.d); got != tc.want {
			t.Fatalf("bucketIndex(%s) = %d, want %d", tc.d, got, tc.want)
		}
	}
}
