// Package observability is the default ports.Observability: Prometheus
// counters/gauges/histograms registered up front and addressed by name,
// plain log.Printf for the error/critical paths.
package observability

import (
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fieldlink/invedge/internal/ports"
)

// PromObs implements ports.Observability on top of a fixed, pre-registered
// set of Prometheus collectors.
type PromObs struct {
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// New registers and returns the agent's metric set. Call once per process;
// prometheus.MustRegister panics on a second registration against the same
// default registry.
func New() *PromObs {
	uploaded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invedge_samples_uploaded_total",
		Help: "Total telemetry samples successfully included in an accepted batch upload.",
	})
	ringDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invedge_ring_dropped_total",
		Help: "Samples overwritten in the ring buffer before an upload slot could drain them.",
	})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invedge_transport_retries_total",
		Help: "Transport attempts that failed and were retried with backoff.",
	})
	transportFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invedge_transport_failures_total",
		Help: "Transport attempts that exhausted all retries.",
	})
	fotaBytes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invedge_fota_bytes_written",
		Help: "Total firmware bytes written to the staging update region.",
	})
	deviceFaults := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invedge_device_faults_total",
		Help: "Device read/write calls that ended in a classified fault.",
	})
	ringSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "invedge_ring_size",
		Help: "Current number of samples buffered in the ring.",
	})
	fotaActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "invedge_fota_active",
		Help: "1 while a FOTA install is in progress, 0 otherwise.",
	})
	slotLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "uplink_slot_latency_seconds",
		Help:    "End-to-end duration of one upload slot, from drain to reply verification.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	deviceReadLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "device_read_latency_seconds",
		Help:    "Duration of one device read call, success or fault.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	prometheus.MustRegister(uploaded, ringDropped, retries, transportFailures,
		fotaBytes, deviceFaults, ringSize, fotaActive, slotLatency, deviceReadLatency)

	return &PromObs{
		counters: map[string]prometheus.Counter{
			"invedge_samples_uploaded_total":    uploaded,
			"invedge_ring_dropped_total":        ringDropped,
			"invedge_transport_retries_total":   retries,
			"invedge_transport_failures_total":  transportFailures,
			"invedge_fota_bytes_written":        fotaBytes,
			"invedge_device_faults_total":       deviceFaults,
		},
		gauges: map[string]prometheus.Gauge{
			"invedge_ring_size":   ringSize,
			"invedge_fota_active": fotaActive,
		},
		histos: map[string]prometheus.Observer{
			"uplink_slot_latency_seconds": slotLatency,
			"device_read_latency_seconds": deviceReadLatency,
		},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	log.Printf("INFO: %s%s", msg, formatFields(fields))
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	log.Printf("ERROR: %s: %v%s", msg, err, formatFields(fields))
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	log.Printf("CRITICAL: %s: %v%s", msg, err, formatFields(fields))
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func formatFields(fields []ports.Field) string {
	if len(fields) == 0 {
		return ""
	}
	out := ""
	for _, f := range fields {
		out += fmt.Sprintf(" %s=%v", f.Key, f.Value)
	}
	return out
}
