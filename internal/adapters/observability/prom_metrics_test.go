package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromObsMetrics(t *testing.T) {
	origReg := prometheus.DefaultRegisterer
	origGatherer := prometheus.DefaultGatherer
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origReg
		prometheus.DefaultGatherer = origGatherer
	})

	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	obs := New()

	obs.IncCounter("invedge_samples_uploaded_total", 5)
	if got := testutil.ToFloat64(obs.counters["invedge_samples_uploaded_total"]); got != 5 {
		t.Fatalf("expected uploaded counter 5, got %f", got)
	}

	obs.IncCounter("invedge_ring_dropped_total", 2)
	if got := testutil.ToFloat64(obs.counters["invedge_ring_dropped_total"]); got != 2 {
		t.Fatalf("expected ring dropped counter 2, got %f", got)
	}

	obs.SetGauge("invedge_ring_size", 42)
	if got := testutil.ToFloat64(obs.gauges["invedge_ring_size"]); got != 42 {
		t.Fatalf("expected ring size gauge 42, got %f", got)
	}

	obs.SetGauge("invedge_fota_active", 1)
	if got := testutil.ToFloat64(obs.gauges["invedge_fota_active"]); got != 1 {
		t.Fatalf("expected fota active gauge 1, got %f", got)
	}

	obs.ObserveLatency("uplink_slot_latency_seconds", 0.5)
	hCollector := obs.histos["uplink_slot_latency_seconds"].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected slot latency histogram to record 1 sample, got %d", samples)
	}

	// unknown names are ignored rather than panicking.
	obs.IncCounter("not_a_real_metric", 1)
	obs.SetGauge("not_a_real_gauge", 1)
	obs.ObserveLatency("not_a_real_histogram", 1)
}
