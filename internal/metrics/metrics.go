package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the sync metrics on a private registry. A nil *Collector
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	RecordsTotal  *prometheus.CounterVec
	BatchesTotal  *prometheus.CounterVec
	BatchDuration prometheus.Histogram
	InFlight      prometheus.Gauge
}

func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		RecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Test-instance records processed, by outcome.",
		}, []string{"outcome"}),
		BatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "batches_total",
			Help:      "Sync batches run, by status.",
		}, []string{"status"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of a sync batch.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "records_in_flight",
			Help:      "Record pipelines currently running.",
		}),
	}
	reg.MustRegister(c.RecordsTotal, c.BatchesTotal, c.BatchDuration, c.InFlight)
	reg.MustRegister(collectors.NewGoCollector())
	return c
}

func (c *Collector) RecordOutcome(outcome string) {
	if c == nil {
		return
	}
	c.RecordsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) BatchDone(status string, d time.Duration) {
	if c == nil {
		return
	}
	c.BatchesTotal.WithLabelValues(status).Inc()
	c.BatchDuration.Observe(d.Seconds())
}

// Track adjusts the in-flight gauge by delta.
func (c *Collector) Track(delta float64) {
	if c == nil {
		return
	}
	c.InFlight.Add(delta)
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
