package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide instrumentation handle. Every component
// receives it through dependency injection; all collectors are safe for
// concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	EventsIngested     *prometheus.CounterVec
	IngestLatency      prometheus.Histogram
	HintsDropped       prometheus.Counter
	EventsMigrated     prometheus.Counter
	MigrationBatchSize prometheus.Histogram
	UnprocessedEvents  prometheus.Gauge
	InvoicesGenerated  *prometheus.CounterVec
	PaymentsByStatus   *prometheus.CounterVec
	WebhooksReceived   *prometheus.CounterVec
	PaymentRetries     *prometheus.CounterVec
	AlertsFired        *prometheus.CounterVec
	Discrepancies      *prometheus.CounterVec
	JobRuns            *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
	ConsumerLag        *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterline_events_ingested_total",
				Help: "Usage events accepted or rejected at ingest, by outcome",
			},
			[]string{"status"},
		),
		IngestLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "meterline_ingest_latency_seconds",
				Help:    "Wall time of the ingest path including the hot store write",
				Buckets: prometheus.DefBuckets,
			},
		),
		HintsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "meterline_migration_hints_dropped_total",
				Help: "Migration hints dropped because the publish buffer was full",
			},
		),
		EventsMigrated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "meterline_events_migrated_total",
				Help: "Events moved from the hot store to the durable store",
			},
		),
		MigrationBatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "meterline_migration_batch_size",
				Help:    "Rows handled per migration batch",
				Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
			},
		),
		UnprocessedEvents: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "meterline_hot_events_unprocessed",
				Help: "Hot-store rows awaiting migration at the last scan",
			},
		),
		InvoicesGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterline_invoices_generated_total",
				Help: "Invoice generation outcomes",
			},
			[]string{"result"},
		),
		PaymentsByStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterline_payments_total",
				Help: "Payment state transitions applied",
			},
			[]string{"status"},
		),
		WebhooksReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterline_gateway_webhooks_total",
				Help: "Gateway webhook deliveries by event and result",
			},
			[]string{"event", "result"},
		),
		PaymentRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterline_payment_retries_total",
				Help: "Payment retry attempts by outcome",
			},
			[]string{"result"},
		),
		AlertsFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterline_alerts_fired_total",
				Help: "Alert rules triggered, by type",
			},
			[]string{"type"},
		),
		Discrepancies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterline_reconciliation_discrepancies_total",
				Help: "Discrepancies found by reconciliation runs, by scope",
			},
			[]string{"scope"},
		),
		JobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterline_job_runs_total",
				Help: "Scheduled job executions by job name and result",
			},
			[]string{"job", "result"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meterline_job_duration_seconds",
				Help:    "Scheduled job wall time",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
		ConsumerLag: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meterline_kafka_consumer_lag",
				Help: "Messages the hint consumer group trails behind the topic head",
			},
			[]string{"topic", "consumer_group"},
		),
	}

	m.registry.MustRegister(
		m.EventsIngested,
		m.IngestLatency,
		m.HintsDropped,
		m.EventsMigrated,
		m.MigrationBatchSize,
		m.UnprocessedEvents,
		m.InvoicesGenerated,
		m.PaymentsByStatus,
		m.WebhooksReceived,
		m.PaymentRetries,
		m.AlertsFired,
		m.Discrepancies,
		m.JobRuns,
		m.JobDuration,
		m.ConsumerLag,
	)

	return m
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveJob records one scheduled job execution.
func (m *Metrics) ObserveJob(job string, started time.Time, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.JobRuns.WithLabelValues(job, result).Inc()
	m.JobDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
}
