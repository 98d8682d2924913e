// Package metrics defines the Prometheus collectors shared by the pipeline stages and the API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the pipeline and the API.
type Metrics struct {
	PagesFetched    *prometheus.CounterVec
	RowsExtracted   prometheus.Counter
	FilesSkipped    prometheus.Counter
	RowsEnriched    *prometheus.CounterVec
	InvalidTaxIDs   prometheus.Counter
	RowsLoaded      *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	RequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg. A nil reg skips registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ans_portal_pages_total",
			Help: "Portal fetches by outcome (ok, error)",
		}, []string{"outcome"}),
		RowsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ans_statement_rows_extracted_total",
			Help: "Expense rows extracted from quarterly statements",
		}),
		FilesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ans_statement_files_skipped_total",
			Help: "Statement files skipped for parse or schema errors",
		}),
		RowsEnriched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ans_rows_enriched_total",
			Help: "Enriched expense rows by registry match (matched, unmatched)",
		}, []string{"match"}),
		InvalidTaxIDs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ans_invalid_tax_ids_total",
			Help: "Enriched rows whose CNPJ failed check-digit validation",
		}),
		RowsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ans_rows_loaded_total",
			Help: "Rows appended to the store by table",
		}, []string{"table"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ans_stage_duration_seconds",
			Help:    "Pipeline stage wall time",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"stage"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ans_api_request_duration_seconds",
			Help:    "API request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.PagesFetched,
			m.RowsExtracted,
			m.FilesSkipped,
			m.RowsEnriched,
			m.InvalidTaxIDs,
			m.RowsLoaded,
			m.StageDuration,
			m.RequestDuration,
		)
	}
	return m
}

// OrDiscard returns m, or an unregistered set when m is nil.
func OrDiscard(m *Metrics) *Metrics {
	if m == nil {
		return New(nil)
	}
	return m
}
