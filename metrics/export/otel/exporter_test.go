package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/agencyauth"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	counters map[agencyauth.MetricID]uint64
	latency  []uint64
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() agencyauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := agencyauth.MetricsSnapshot{
		Counters:   make(map[agencyauth.MetricID]uint64, len(f.counters)),
		Histograms: map[agencyauth.MetricID][]uint64{},
	}
	for k, v := range f.counters {
		out.Counters[k] = v
	}
	if f.latency != nil {
		out.Histograms[agencyauth.MetricLoginLatency] = append([]uint64(nil), f.latency...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func newMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func TestExporterCollectsCounters(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{
		counters: map[agencyauth.MetricID]uint64{agencyauth.MetricAccountLockedOut: 3},
		dropped:  1,
	}

	exp, err := NewExporterFromSource(provider.Meter("agencyauth-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource: %v", err)
	}
	defer func() { _ = exp.Close() }()

	got := collect(t, reader)
	sum, ok := got["agencyauth_account_locked_out_total"].Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 3 {
		t.Fatalf("unexpected lockout counter %+v", got["agencyauth_account_locked_out_total"])
	}
	dropped, ok := got["agencyauth_audit_dropped_total"].Data.(metricdata.Sum[int64])
	if !ok || dropped.DataPoints[0].Value != 1 {
		t.Fatalf("unexpected audit dropped counter")
	}
	if _, ok := got["agencyauth_login_latency_seconds_bucket"]; ok {
		t.Fatalf("latency buckets must be absent when the histogram is disabled")
	}
}

func TestExporterCollectsCumulativeBuckets(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{latency: []uint64{1, 1, 1, 1, 1, 1, 1, 1}}

	exp, err := NewExporterFromSource(provider.Meter("agencyauth-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource: %v", err)
	}
	defer func() { _ = exp.Close() }()

	got := collect(t, reader)
	gauge, ok := got["agencyauth_login_latency_seconds_bucket"].Data.(metricdata.Gauge[int64])
	if !ok || len(gauge.DataPoints) != 8 {
		t.Fatalf("expected 8 bucket points, got %+v", got["agencyauth_login_latency_seconds_bucket"])
	}
	for _, dp := range gauge.DataPoints {
		le, _ := dp.Attributes.Value(attribute.Key("le"))
		if le.AsString() == "inf" && dp.Value != 8 {
			t.Fatalf("+Inf bucket = %d, want 8", dp.Value)
		}
		if le.AsString() == "0_1" && dp.Value != 3 {
			t.Fatalf("0.1s bucket = %d, want 3", dp.Value)
		}
	}
	count, ok := got["agencyauth_login_latency_seconds_count"].Data.(metricdata.Gauge[int64])
	if !ok || count.DataPoints[0].Value != 8 {
		t.Fatalf("unexpected count gauge")
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newMeter()
	if _, err := NewExporterFromSource(provider.Meter("x"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewExporter(provider.Meter("x"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for a nil engine, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{counters: map[agencyauth.MetricID]uint64{agencyauth.MetricLogout: 1}}

	exp, err := NewExporterFromSource(provider.Meter("agencyauth-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource: %v", err)
	}
	defer func() { _ = exp.Close() }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.counters[agencyauth.MetricLogout] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
