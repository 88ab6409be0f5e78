package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	m := newMetrics()
	m.BlocksScanned()
	m.PairsFound()
	m.PairsFound()
	m.FindingsSent()
	m.FindingsDropped()
	m.Errors()

	if got := testutil.ToFloat64(m.pairsFound); got != 2 {
		t.Fatalf("pairs found = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.blocksScanned); got != 1 {
		t.Fatalf("blocks scanned = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.BlocksScanned()
	m.PairsFound()
	m.FindingsSent()
	m.FindingsDropped()
	m.Errors()
}
