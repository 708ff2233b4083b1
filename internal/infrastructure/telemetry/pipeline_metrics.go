package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/invoices/backend/internal/application/verifactu"
	"github.com/invoices/backend/internal/domain/invoicing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SubmissionDurationBuckets are histogram boundaries for one submission, in seconds
var SubmissionDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// PipelineMetrics records pipeline measurements as OpenTelemetry instruments
type PipelineMetrics struct {
	submissions     metric.Int64Counter
	submitDuration  metric.Float64Histogram
	chainAttempts   metric.Int64Histogram
	webhooks        metric.Int64Counter
	sweepRuns       metric.Int64Counter
	sweepInvoices   metric.Int64Counter
	sweepDurationMs metric.Int64Histogram
}

// NewPipelineMetrics creates the instruments on meter
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	var (
		m   PipelineMetrics
		err error
	)
	if m.submissions, err = meter.Int64Counter("verifactu_submissions_total",
		metric.WithDescription("Submissions by resulting status and transport"),
		metric.WithUnit("{invoice}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create counter verifactu_submissions_total: %w", err)
	}
	if m.submitDuration, err = meter.Float64Histogram("verifactu_submission_duration_seconds",
		metric.WithDescription("Time spent in one submission"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(SubmissionDurationBuckets...),
	); err != nil {
		return nil, fmt.Errorf("failed to create histogram verifactu_submission_duration_seconds: %w", err)
	}
	if m.chainAttempts, err = meter.Int64Histogram("verifactu_chain_commit_attempts",
		metric.WithDescription("Attempts needed to commit a chain link"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 5),
	); err != nil {
		return nil, fmt.Errorf("failed to create histogram verifactu_chain_commit_attempts: %w", err)
	}
	if m.webhooks, err = meter.Int64Counter("verifactu_webhooks_total",
		metric.WithDescription("Webhook callbacks by result"),
	); err != nil {
		return nil, fmt.Errorf("failed to create counter verifactu_webhooks_total: %w", err)
	}
	if m.sweepRuns, err = meter.Int64Counter("verifactu_sweep_runs_total",
		metric.WithDescription("Retry sweeps run"),
	); err != nil {
		return nil, fmt.Errorf("failed to create counter verifactu_sweep_runs_total: %w", err)
	}
	if m.sweepInvoices, err = meter.Int64Counter("verifactu_sweep_invoices_total",
		metric.WithDescription("Invoices handled by retry sweeps, by action"),
		metric.WithUnit("{invoice}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create counter verifactu_sweep_invoices_total: %w", err)
	}
	if m.sweepDurationMs, err = meter.Int64Histogram("verifactu_sweep_duration_ms",
		metric.WithDescription("Retry sweep duration"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create histogram verifactu_sweep_duration_ms: %w", err)
	}
	return &m, nil
}

var _ verifactu.Recorder = (*PipelineMetrics)(nil)

// SubmissionFinished implements verifactu.Recorder
func (m *PipelineMetrics) SubmissionFinished(ctx context.Context, status invoicing.Status, realPath bool, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("status", string(status)),
		attribute.Bool("real", realPath),
	)
	m.submissions.Add(ctx, 1, attrs)
	m.submitDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// ChainCommitted implements verifactu.Recorder
func (m *PipelineMetrics) ChainCommitted(ctx context.Context, attempts int) {
	m.chainAttempts.Record(ctx, int64(attempts))
}

// WebhookHandled implements verifactu.Recorder
func (m *PipelineMetrics) WebhookHandled(ctx context.Context, result string) {
	m.webhooks.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// SweepFinished implements verifactu.Recorder
func (m *PipelineMetrics) SweepFinished(ctx context.Context, s verifactu.SweepStats) {
	m.sweepRuns.Add(ctx, 1)
	for action, n := range map[string]int{
		"timed_out":     s.TimedOut,
		"requeued":      s.Requeued,
		"dead_lettered": s.DeadLettered,
		"reenqueued":    s.Reenqueued,
		"errors":        s.Errors,
	} {
		if n > 0 {
			m.sweepInvoices.Add(ctx, int64(n), metric.WithAttributes(attribute.String("action", action)))
		}
	}
	m.sweepDurationMs.Record(ctx, s.Duration.Milliseconds())
}

// Recorders fans measurements out to several recorders
type Recorders []verifactu.Recorder

var _ verifactu.Recorder = Recorders(nil)

// SubmissionFinished implements verifactu.Recorder
func (rs Recorders) SubmissionFinished(ctx context.Context, status invoicing.Status, realPath bool, elapsed time.Duration) {
	for _, r := range rs {
		r.SubmissionFinished(ctx, status, realPath, elapsed)
	}
}

// ChainCommitted implements verifactu.Recorder
func (rs Recorders) ChainCommitted(ctx context.Context, attempts int) {
	for _, r := range rs {
		r.ChainCommitted(ctx, attempts)
	}
}

// WebhookHandled implements verifactu.Recorder
func (rs Recorders) WebhookHandled(ctx context.Context, result string) {
	for _, r := range rs {
		r.WebhookHandled(ctx, result)
	}
}

// SweepFinished implements verifactu.Recorder
func (rs Recorders) SweepFinished(ctx context.Context, s verifactu.SweepStats) {
	for _, r := range rs {
		r.SweepFinished(ctx, s)
	}
}
