package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/invoices/backend/internal/application/verifactu"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// PrometheusNamespace prefixes every scrape metric
const PrometheusNamespace = "verifactu"

// StatusCounter reports how many invoices sit in each status
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[invoicing.Status]int64, error)
}

// PromMetrics is the scrape-side recorder plus the registry served on /metrics
type PromMetrics struct {
	registry *prometheus.Registry

	submissions    *prometheus.CounterVec
	submitDuration *prometheus.HistogramVec
	chainAttempts  prometheus.Histogram
	webhooks       *prometheus.CounterVec
	sweepRuns      prometheus.Counter
	sweepInvoices  *prometheus.CounterVec
}

// NewPromMetrics creates a registry with process and Go runtime collectors
// and the pipeline counters.
func NewPromMetrics() *PromMetrics {
	m := &PromMetrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: PrometheusNamespace,
			Name:      "submissions_total",
			Help:      "Submissions by resulting status and transport.",
		}, []string{"status", "real"}),
		submitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: PrometheusNamespace,
			Name:      "submission_duration_seconds",
			Help:      "Time spent in one submission.",
			Buckets:   SubmissionDurationBuckets,
		}, []string{"real"}),
		chainAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: PrometheusNamespace,
			Name:      "chain_commit_attempts",
			Help:      "Attempts needed to commit a chain link.",
			Buckets:   []float64{1, 2, 3, 5},
		}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: PrometheusNamespace,
			Name:      "webhooks_total",
			Help:      "Webhook callbacks by result.",
		}, []string{"result"}),
		sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: PrometheusNamespace,
			Name:      "sweep_runs_total",
			Help:      "Retry sweeps run.",
		}),
		sweepInvoices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: PrometheusNamespace,
			Name:      "sweep_invoices_total",
			Help:      "Invoices handled by retry sweeps, by action.",
		}, []string{"action"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.submissions,
		m.submitDuration,
		m.chainAttempts,
		m.webhooks,
		m.sweepRuns,
		m.sweepInvoices,
	)
	return m
}

// Registry returns the underlying registry
func (m *PromMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *PromMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// MustRegister adds collectors to the registry
func (m *PromMetrics) MustRegister(cs ...prometheus.Collector) {
	m.registry.MustRegister(cs...)
}

var _ verifactu.Recorder = (*PromMetrics)(nil)

// SubmissionFinished implements verifactu.Recorder
func (m *PromMetrics) SubmissionFinished(_ context.Context, status invoicing.Status, realPath bool, elapsed time.Duration) {
	transport := strconv.FormatBool(realPath)
	m.submissions.WithLabelValues(string(status), transport).Inc()
	m.submitDuration.WithLabelValues(transport).Observe(elapsed.Seconds())
}

// ChainCommitted implements verifactu.Recorder
func (m *PromMetrics) ChainCommitted(_ context.Context, attempts int) {
	m.chainAttempts.Observe(float64(attempts))
}

// WebhookHandled implements verifactu.Recorder
func (m *PromMetrics) WebhookHandled(_ context.Context, result string) {
	m.webhooks.WithLabelValues(result).Inc()
}

// SweepFinished implements verifactu.Recorder
func (m *PromMetrics) SweepFinished(_ context.Context, s verifactu.SweepStats) {
	m.sweepRuns.Inc()
	m.sweepInvoices.WithLabelValues("timed_out").Add(float64(s.TimedOut))
	m.sweepInvoices.WithLabelValues("requeued").Add(float64(s.Requeued))
	m.sweepInvoices.WithLabelValues("dead_lettered").Add(float64(s.DeadLettered))
	m.sweepInvoices.WithLabelValues("reenqueued").Add(float64(s.Reenqueued))
	m.sweepInvoices.WithLabelValues("errors").Add(float64(s.Errors))
}

// BacklogCollector reads invoice counts per status and the dead-letter
// length at scrape time.
type BacklogCollector struct {
	statuses    StatusCounter
	deadLetters verifactu.DeadLetterQueue
	timeout     time.Duration
	logger      *zap.Logger

	invoicesDesc *prometheus.Desc
	dlqDesc      *prometheus.Desc
	upDesc       *prometheus.Desc
}

// NewBacklogCollector creates a collector; deadLetters may be nil
func NewBacklogCollector(statuses StatusCounter, deadLetters verifactu.DeadLetterQueue, logger *zap.Logger) *BacklogCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BacklogCollector{
		statuses:    statuses,
		deadLetters: deadLetters,
		timeout:     5 * time.Second,
		logger:      logger,
		invoicesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(PrometheusNamespace, "", "invoices"),
			"Invoices currently in each status.",
			[]string{"status"}, nil,
		),
		dlqDesc: prometheus.NewDesc(
			prometheus.BuildFQName(PrometheusNamespace, "", "dead_letter_queue_length"),
			"Entries in the dead-letter stream.",
			nil, nil,
		),
		upDesc: prometheus.NewDesc(
			prometheus.BuildFQName(PrometheusNamespace, "", "backlog_scrape_success"),
			"Whether the last backlog scrape succeeded.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *BacklogCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.invoicesDesc
	ch <- c.dlqDesc
	ch <- c.upDesc
}

// Collect implements prometheus.Collector
func (c *BacklogCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	up := 1.0
	counts, err := c.statuses.CountByStatus(ctx)
	if err != nil {
		c.logger.Warn("Backlog scrape failed", zap.Error(err))
		up = 0
	} else {
		for _, s := range invoicing.AllStatuses() {
			ch <- prometheus.MustNewConstMetric(c.invoicesDesc, prometheus.GaugeValue, float64(counts[s]), string(s))
		}
	}

	if c.deadLetters != nil {
		n, err := c.deadLetters.Count(ctx)
		if err != nil {
			c.logger.Warn("Dead-letter length scrape failed", zap.Error(err))
			up = 0
		} else {
			ch <- prometheus.MustNewConstMetric(c.dlqDesc, prometheus.GaugeValue, float64(n))
		}
	}
	ch <- prometheus.MustNewConstMetric(c.upDesc, prometheus.GaugeValue, up)
}
