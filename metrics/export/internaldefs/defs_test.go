package internaldefs

import (
	"strings"
	"testing"

	"github.com/MrEthical07/rideauth"
)

func TestCounterNamesUniqueAndPrefixed(t *testing.T) {
	seen := map[string]bool{}
	ids := map[uint16]bool{}
	for _, def := range CounterDefs {
		if !strings.HasPrefix(def.Name, "rideauth_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("bad counter name %q", def.Name)
		}
		if seen[def.Name] {
			t.Fatalf("duplicate counter name %q", def.Name)
		}
		if ids[uint16(def.ID)] {
			t.Fatalf("duplicate metric id %d", def.ID)
		}
		seen[def.Name] = true
		ids[uint16(def.ID)] = true
	}
}

func TestEveryEngineMetricHasADefinition(t *testing.T) {
	defined := map[rideauth.MetricID]bool{}
	for _, def := range CounterDefs {
		defined[def.ID] = true
	}
	for _, def := range HistogramDefs {
		defined[def.ID] = true
	}
	for id := rideauth.MetricLoginSuccess; id <= rideauth.MetricVerifyLatency; id++ {
		if !defined[id] {
			t.Fatalf("metric id %d has no exporter definition", id)
		}
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
	if len(HistogramUpperBounds)+1 != len(got) {
		t.Fatal("bounds and bucket count disagree")
	}
}
