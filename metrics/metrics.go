// Package metrics holds the Prometheus collectors shared by the crawler, the
// pipeline and the inference service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors on a dedicated registry.
type Metrics struct {
	Registry           *prometheus.Registry
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    prometheus.Histogram
	RecordsParsedTotal prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec
	RunsTotal          *prometheus.CounterVec
	LoadDuration       prometheus.Histogram
	CatalogRecords     prometheus.Gauge
	PredictionsTotal   *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued by the page fetcher.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for catalog pages.",
			Buckets: prometheus.DefBuckets,
		},
	)
	recordsParsed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_records_parsed_total",
			Help: "Total number of catalog entries parsed.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of fetch errors by type.",
		},
		[]string{"error_type"},
	)
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Pipeline runs by outcome (success or the failing stage).",
		},
		[]string{"outcome"},
	)
	loadDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_load_duration_seconds",
			Help:    "Duration of the full-replace catalog load transaction.",
			Buckets: prometheus.DefBuckets,
		},
	)
	catalogRecords := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_records",
			Help: "Records committed by the last successful load.",
		},
	)
	predictions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluster_predictions_total",
			Help: "Cluster inference requests by outcome.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(requests, requestDuration, recordsParsed, errorsTotal, runs, loadDuration, catalogRecords, predictions)

	return &Metrics{
		Registry:           registry,
		RequestsTotal:      requests,
		RequestDuration:    requestDuration,
		RecordsParsedTotal: recordsParsed,
		ErrorsTotal:        errorsTotal,
		RunsTotal:          runs,
		LoadDuration:       loadDuration,
		CatalogRecords:     catalogRecords,
		PredictionsTotal:   predictions,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddRecords increments the parsed records counter.
func (m *Metrics) AddRecords(n int) {
	if m == nil {
		return
	}
	m.RecordsParsedTotal.Add(float64(n))
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncRun counts a finished pipeline run.
func (m *Metrics) IncRun(outcome string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
}

// ObserveLoad records a committed load and its size.
func (m *Metrics) ObserveLoad(d time.Duration, records int) {
	if m == nil {
		return
	}
	m.LoadDuration.Observe(d.Seconds())
	m.CatalogRecords.Set(float64(records))
}

// IncPrediction counts an inference call.
func (m *Metrics) IncPrediction(outcome string) {
	if m == nil {
		return
	}
	m.PredictionsTotal.WithLabelValues(outcome).Inc()
}
