package telemetry

import (
	"context"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/application/verifactu"
	domain "github.com/invoices/backend/internal/domain/verifactu"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of pipeline spans
const TracerName = "github.com/invoices/backend/verifactu"

// Span attribute keys
const (
	AttrInvoiceID    = attribute.Key("invoice.id")
	AttrInvoiceState = attribute.Key("invoice.status")
	AttrRealPath     = attribute.Key("verifactu.real_transmission")
	AttrChainSeq     = attribute.Key("verifactu.chain_sequence")
	AttrErrorCode    = attribute.Key("verifactu.error_code")
)

// StartSpan starts an internal span on the pipeline tracer. The caller ends it.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// RecordError marks the span failed
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TracedSubmitter opens a span around every submission
type TracedSubmitter struct {
	next verifactu.Submitter
}

// NewTracedSubmitter wraps next
func NewTracedSubmitter(next verifactu.Submitter) *TracedSubmitter {
	return &TracedSubmitter{next: next}
}

var _ verifactu.Submitter = (*TracedSubmitter)(nil)

// Submit implements verifactu.Submitter
func (t *TracedSubmitter) Submit(ctx context.Context, invoiceID uuid.UUID, rollout domain.RolloutConfig) (*verifactu.SubmitResult, error) {
	ctx, span := StartSpan(ctx, "verifactu.submit", AttrInvoiceID.String(invoiceID.String()))
	defer span.End()

	res, err := t.next.Submit(ctx, invoiceID, rollout)
	if err != nil {
		RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		AttrInvoiceState.String(string(res.Status)),
		AttrRealPath.Bool(res.RealTransmission),
		AttrChainSeq.Int64(res.Sequence),
	)
	if res.ErrorCode != "" {
		span.SetAttributes(AttrErrorCode.String(res.ErrorCode))
		span.SetStatus(codes.Error, res.Error)
	}
	return res, nil
}

// Sweeper runs one retry sweep
type Sweeper interface {
	Sweep(ctx context.Context) (verifactu.SweepStats, error)
}

// TracedSweeper opens a span around every sweep
type TracedSweeper struct {
	next Sweeper
}

// NewTracedSweeper wraps next
func NewTracedSweeper(next Sweeper) *TracedSweeper {
	return &TracedSweeper{next: next}
}

// Sweep runs the wrapped sweep inside a span
func (t *TracedSweeper) Sweep(ctx context.Context) (verifactu.SweepStats, error) {
	ctx, span := StartSpan(ctx, "verifactu.sweep")
	defer span.End()

	stats, err := t.next.Sweep(ctx)
	span.SetAttributes(
		attribute.Int("sweep.found", stats.Found),
		attribute.Int("sweep.requeued", stats.Requeued),
		attribute.Int("sweep.dead_lettered", stats.DeadLettered),
		attribute.Int64("sweep.duration_ms", stats.Duration.Milliseconds()),
	)
	RecordError(span, err)
	return stats, err
}
