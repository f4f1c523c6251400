// Package metrics exposes Prometheus counters for ingestion runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// Metrics holds the ingestion collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	runs        *prometheus.CounterVec
	written     *prometheus.CounterVec
	skips       *prometheus.CounterVec
	oracleCalls *prometheus.CounterVec
	runSeconds  *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_ingest_runs_total",
			Help: "Ingestion runs by terminal status.",
		}, []string{"status"}),
		written: f.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_ingest_records_written_total",
			Help: "Records upserted, by family.",
		}, []string{"family"}),
		skips: f.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_ingest_records_skipped_total",
			Help: "Rejected candidates by reason.",
		}, []string{"reason"}),
		oracleCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_ingest_oracle_calls_total",
			Help: "Extraction oracle calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		runSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalog_ingest_run_duration_seconds",
			Help:    "Wall-clock duration of ingestion runs.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
		}, []string{"status"}),
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(res *model.IngestResult, elapsed time.Duration) {
	if m == nil || res == nil {
		return
	}
	status := string(res.Status)
	m.runs.WithLabelValues(status).Inc()
	m.runSeconds.WithLabelValues(status).Observe(elapsed.Seconds())
	if res.Written > 0 {
		m.written.WithLabelValues(res.Family).Add(float64(res.Written))
	}
	for reason, n := range res.SkipCounts() {
		m.skips.WithLabelValues(string(reason)).Add(float64(n))
	}
}

// ObserveOracle records one oracle call. It matches the oracle's OnCall hook.
func (m *Metrics) ObserveOracle(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.oracleCalls.WithLabelValues(op, outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
