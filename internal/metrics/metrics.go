package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus instruments for ingestion and outreach.
type Metrics struct {
	ingestions    *prometheus.CounterVec
	outreach      *prometheus.CounterVec
	discounts     *prometheus.CounterVec
	batchRuns     *prometheus.CounterVec
	batchDuration prometheus.Histogram
	batchSelected prometheus.Gauge
	salesLeads    *prometheus.CounterVec
}

// New registers the instruments on reg. A nil *Metrics is valid and records nothing.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cartrecovery_ingestions_total",
			Help: "Checkout webhooks by result (created, duplicate, skipped, invalid, error).",
		}, []string{"result"}),
		outreach: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cartrecovery_outreach_attempts_total",
			Help: "Outreach attempts by tier and status (sent, failed, skipped, error).",
		}, []string{"tier", "status"}),
		discounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cartrecovery_discounts_total",
			Help: "Discount issuance by tier and result (issued, reused, none, error).",
		}, []string{"tier", "result"}),
		batchRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cartrecovery_batch_runs_total",
			Help: "Checker batch runs by result (ok, locked, error).",
		}, []string{"result"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cartrecovery_batch_duration_seconds",
			Help:    "Checker batch durations.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		batchSelected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cartrecovery_batch_selected_carts",
			Help: "Carts selected by the latest checker batch.",
		}),
		salesLeads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cartrecovery_sales_leads_total",
			Help: "High value sales leads by result (published, publish_error, alerted, alert_error).",
		}, []string{"result"}),
	}
	reg.MustRegister(m.ingestions, m.outreach, m.discounts, m.batchRuns, m.batchDuration, m.batchSelected, m.salesLeads)
	return m
}

func (m *Metrics) IncIngestion(result string) {
	if m == nil {
		return
	}
	m.ingestions.WithLabelValues(result).Inc()
}

func (m *Metrics) IncOutreach(tier, status string) {
	if m == nil {
		return
	}
	m.outreach.WithLabelValues(tier, status).Inc()
}

func (m *Metrics) IncDiscount(tier, result string) {
	if m == nil {
		return
	}
	m.discounts.WithLabelValues(tier, result).Inc()
}

func (m *Metrics) IncSalesLead(result string) {
	if m == nil {
		return
	}
	m.salesLeads.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveBatch(result string, selected int, d time.Duration) {
	if m == nil {
		return
	}
	m.batchRuns.WithLabelValues(result).Inc()
	m.batchDuration.Observe(d.Seconds())
	if result == "ok" {
		m.batchSelected.Set(float64(selected))
	}
}
