package rideauth_test

import (
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/rideauth"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := rideauth.NewMetrics(rideauth.MetricsConfig{Enabled: false})
	m.Inc(rideauth.MetricLoginSuccess)

	if got := m.Value(rideauth.MetricLoginSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestMetricsNilIsSafe(t *testing.T) {
	var m *rideauth.Metrics
	m.Inc(rideauth.MetricLoginSuccess)
	m.Observe(rideauth.MetricVerifyLatency, time.Millisecond)
	if len(m.Snapshot().Counters) != 0 {
		t.Fatal("nil metrics must return an empty snapshot")
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := rideauth.NewMetrics(rideauth.MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(rideauth.MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(rideauth.MetricRefreshSuccess); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := rideauth.NewMetrics(rideauth.MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}
	for _, d := range observations {
		m.Observe(rideauth.MetricVerifyLatency, d)
	}
	// Counters have no histogram.
	m.Observe(rideauth.MetricLoginSuccess, time.Millisecond)

	snap := m.Snapshot()
	buckets := snap.Histograms[rideauth.MetricVerifyLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
	if _, ok := snap.Histograms[rideauth.MetricLoginSuccess]; ok {
		t.Fatal("unexpected histogram for a counter metric")
	}
}
