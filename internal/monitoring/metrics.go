// Package monitoring exposes Prometheus metrics for crawl executions.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/medreg/registry-cli/internal/crawl"
)

const namespace = "regcrawl"

// Metrics holds the Prometheus collectors for the crawl engine.
type Metrics struct {
	PagesFetchedTotal  *prometheus.CounterVec
	PagesFailedTotal   *prometheus.CounterVec
	RecordsTotal       *prometheus.CounterVec
	BatchSeconds       *prometheus.HistogramVec
	RegionPercent      *prometheus.GaugeVec
	RegionsCompleted   prometheus.Counter
	ExecutionsStarted  prometheus.Counter
	ExecutionsFinished *prometheus.CounterVec
}

// NewMetrics creates and registers the crawl metrics. A nil registerer
// uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		PagesFetchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pages_fetched_total",
				Help:      "Total number of pages fetched successfully",
			},
			[]string{"region"},
		),
		PagesFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pages_failed_total",
				Help:      "Total number of page fetches that failed in a batch",
			},
			[]string{"region"},
		),
		RecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_total",
				Help:      "Total number of records upserted",
			},
			[]string{"region"},
		),
		BatchSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Duration of one fetch batch",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4min
			},
			[]string{"region"},
		),
		RegionPercent: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "region_percent_complete",
				Help:      "Percent of the region's pages fetched",
			},
			[]string{"execution_id", "region"},
		),
		RegionsCompleted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "regions_completed_total",
				Help:      "Total number of regions crawled to completion",
			},
		),
		ExecutionsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_started_total",
				Help:      "Total number of execution runs started",
			},
		),
		ExecutionsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_finished_total",
				Help:      "Total number of execution runs finished, by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveProgress records one batch's progress event. It satisfies
// crawl.ProgressFunc via method value.
func (m *Metrics) ObserveProgress(ev crawl.ProgressEvent) {
	pages := ev.LastPage - ev.FirstPage + 1
	fetched := pages - ev.FailedPages
	if fetched > 0 {
		m.PagesFetchedTotal.WithLabelValues(ev.Region).Add(float64(fetched))
	}
	if ev.FailedPages > 0 {
		m.PagesFailedTotal.WithLabelValues(ev.Region).Add(float64(ev.FailedPages))
	}
	if ev.Records > 0 {
		m.RecordsTotal.WithLabelValues(ev.Region).Add(float64(ev.Records))
	}
	m.BatchSeconds.WithLabelValues(ev.Region).Observe(ev.BatchTime.Seconds())
	m.RegionPercent.WithLabelValues(ev.ExecutionID, ev.Region).Set(ev.Percent)
	if ev.Percent >= 100 {
		m.RegionsCompleted.Inc()
	}
}

// ObserveStart records the start of an execution run.
func (m *Metrics) ObserveStart() {
	m.ExecutionsStarted.Inc()
}

// ObserveOutcome records how an execution run ended.
func (m *Metrics) ObserveOutcome(o crawl.Outcome) {
	m.ExecutionsFinished.WithLabelValues(o.String()).Inc()
}
