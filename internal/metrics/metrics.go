// Package metrics exposes sync counters in the Prometheus format, either as
// a node_exporter textfile after a one-shot run or over HTTP in serve mode.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "assetsync"

// Item results.
const (
	ResultFetched = "fetched"
	ResultSkipped = "skipped"
	ResultInert   = "inert"
	ResultFailed  = "failed"
)

// Metrics holds the collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	attempts *prometheus.CounterVec
	items    *prometheus.CounterVec
	duration prometheus.Histogram
	lastRun  prometheus.Gauge
	runs     *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Fetch attempts by result (ok, error).",
		}, []string{"result"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Manifest entries processed by result (fetched, skipped, inert, failed).",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of single fetch attempts.",
			Buckets:   prometheus.DefBuckets,
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last sync run finished.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Sync runs by result (ok, partial, error).",
		}, []string{"result"}),
	}

	m.registry.MustRegister(m.attempts, m.items, m.duration, m.lastRun, m.runs)
	return m
}

// ObserveAttempt records one fetch attempt.
func (m *Metrics) ObserveAttempt(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.attempts.WithLabelValues(result).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// ObserveItems adds n items with the given result.
func (m *Metrics) ObserveItems(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.items.WithLabelValues(result).Add(float64(n))
}

// ObserveRun records the end of a run.
func (m *Metrics) ObserveRun(result string, at time.Time) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	m.lastRun.Set(float64(at.Unix()))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the current values to path, atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
