package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/rideauth"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeSource struct {
	snapshot rideauth.MetricsSnapshot
}

func (f fakeSource) MetricsSnapshot() rideauth.MetricsSnapshot { return f.snapshot }

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestHandlerIncludesCounterAndHistogram(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: rideauth.MetricsSnapshot{
			Counters: map[rideauth.MetricID]uint64{
				rideauth.MetricLoginSuccess: 7,
				rideauth.MetricAuditDropped: 2,
			},
			Histograms: map[rideauth.MetricID][]uint64{
				rideauth.MetricVerifyLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
	})

	out := scrape(t, exp.Handler())
	for _, want := range []string{
		"rideauth_login_success_total 7",
		`rideauth_verify_latency_seconds_bucket{le="0.005"} 1`,
		`rideauth_verify_latency_seconds_bucket{le="0.5"} 28`,
		`rideauth_verify_latency_seconds_bucket{le="+Inf"} 36`,
		"rideauth_verify_latency_seconds_count 36",
		"rideauth_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestExporterRegistersInCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	exp := NewExporterFromSource(fakeSource{snapshot: rideauth.MetricsSnapshot{}})
	if err := reg.Register(exp); err != nil {
		t.Fatalf("Register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected metric families")
	}
}
