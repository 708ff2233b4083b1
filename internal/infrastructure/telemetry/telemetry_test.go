package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/application/verifactu"
	"github.com/invoices/backend/internal/domain/invoicing"
	domain "github.com/invoices/backend/internal/domain/verifactu"
	"github.com/invoices/backend/internal/infrastructure/config"
	"github.com/invoices/backend/internal/infrastructure/queue"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestSetup_Disabled(t *testing.T) {
	p, err := Setup(context.Background(), config.TelemetryConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Tracer("x"))
	assert.NotNil(t, p.Meter("x"))
	assert.False(t, p.ZapCore(zapcore.InfoLevel).Enabled(zapcore.ErrorLevel))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestEnableSpanProfiles(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	disabled, err := Setup(context.Background(), config.TelemetryConfig{Enabled: false}, nil)
	require.NoError(t, err)
	disabled.EnableSpanProfiles()
	assert.Equal(t, prev, otel.GetTracerProvider())

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	p := &Providers{tracer: tp, logger: zap.NewNop()}
	p.EnableSpanProfiles()
	assert.NotEqual(t, trace.TracerProvider(tp), otel.GetTracerProvider())

	_, span := otel.Tracer("test").Start(context.Background(), "work")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestPipelineMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewPipelineMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.SubmissionFinished(ctx, invoicing.StatusAccepted, false, 120*time.Millisecond)
	m.SubmissionFinished(ctx, invoicing.StatusSent, true, time.Second)
	m.ChainCommitted(ctx, 2)
	m.WebhookHandled(ctx, "processed")
	m.SweepFinished(ctx, verifactu.SweepStats{Found: 3, Requeued: 2, DeadLettered: 1, Duration: 40 * time.Millisecond})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, int64(2), sumOf(t, rm, "verifactu_submissions_total"))
	assert.Equal(t, int64(1), sumOf(t, rm, "verifactu_webhooks_total"))
	assert.Equal(t, int64(1), sumOf(t, rm, "verifactu_sweep_runs_total"))
	assert.Equal(t, int64(3), sumOf(t, rm, "verifactu_sweep_invoices_total"))
}

func TestPromMetrics_Recorder(t *testing.T) {
	m := NewPromMetrics()
	ctx := context.Background()
	var rec verifactu.Recorder = Recorders{m, verifactu.NopRecorder()}

	rec.SubmissionFinished(ctx, invoicing.StatusAccepted, false, time.Second)
	rec.SubmissionFinished(ctx, invoicing.StatusAccepted, false, time.Second)
	rec.WebhookHandled(ctx, "duplicate")
	rec.SweepFinished(ctx, verifactu.SweepStats{Requeued: 4})
	rec.ChainCommitted(ctx, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.submissions.WithLabelValues("ACCEPTED", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhooks.WithLabelValues("duplicate")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.sweepInvoices.WithLabelValues("requeued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepRuns))
}

type fakeCounts struct {
	counts map[invoicing.Status]int64
	err    error
}

func (f fakeCounts) CountByStatus(context.Context) (map[invoicing.Status]int64, error) {
	return f.counts, f.err
}

func TestBacklogCollector(t *testing.T) {
	dlq := queue.NewMemoryDeadLetterQueue()
	require.NoError(t, dlq.Publish(context.Background(), verifactu.DeadLetter{InvoiceID: uuid.New()}))

	c := NewBacklogCollector(fakeCounts{counts: map[invoicing.Status]int64{invoicing.StatusPending: 7}}, dlq, nil)
	// one gauge per status, the dlq length and the scrape flag
	assert.Equal(t, len(invoicing.AllStatuses())+2, testutil.CollectAndCount(c))

	m := NewPromMetrics()
	m.MustRegister(c)
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() != "verifactu_invoices" {
			continue
		}
		for _, metric := range f.GetMetric() {
			if metric.GetLabel()[0].GetValue() == "PENDING" {
				found = true
				assert.Equal(t, 7.0, metric.GetGauge().GetValue())
			}
		}
	}
	assert.True(t, found)

	failing := NewBacklogCollector(fakeCounts{err: errors.New("db down")}, nil, nil)
	assert.Equal(t, 1, testutil.CollectAndCount(failing))
}

func withSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

type stubSubmitter struct {
	res *verifactu.SubmitResult
	err error
}

func (s stubSubmitter) Submit(context.Context, uuid.UUID, domain.RolloutConfig) (*verifactu.SubmitResult, error) {
	return s.res, s.err
}

func TestTracedSubmitter(t *testing.T) {
	sr := withSpanRecorder(t)
	id := uuid.New()

	ok := NewTracedSubmitter(stubSubmitter{res: &verifactu.SubmitResult{InvoiceID: id, Status: invoicing.StatusAccepted, Sequence: 3}})
	_, err := ok.Submit(context.Background(), id, domain.RolloutConfig{})
	require.NoError(t, err)

	failed := NewTracedSubmitter(stubSubmitter{res: &verifactu.SubmitResult{Status: invoicing.StatusFailed, ErrorCode: "SIGNING", Error: "no cert"}})
	_, err = failed.Submit(context.Background(), id, domain.RolloutConfig{})
	require.NoError(t, err)

	broken := NewTracedSubmitter(stubSubmitter{err: errors.New("not found")})
	_, err = broken.Submit(context.Background(), id, domain.RolloutConfig{})
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "verifactu.submit", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, codes.Error, spans[2].Status().Code)
}

type stubSweeper struct{}

func (stubSweeper) Sweep(context.Context) (verifactu.SweepStats, error) {
	return verifactu.SweepStats{Found: 1}, nil
}

func TestTracedSweeper(t *testing.T) {
	sr := withSpanRecorder(t)
	stats, err := NewTracedSweeper(stubSweeper{}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Found)
	require.Len(t, sr.Ended(), 1)
	assert.Equal(t, "verifactu.sweep", sr.Ended()[0].Name())
}

type row struct {
	ID   int
	Name string
}

func TestDBTracingPlugin(t *testing.T) {
	sr := withSpanRecorder(t)
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	disabled := NewDBTracingPlugin(config.TelemetryConfig{Enabled: false, DBTraceEnabled: true}, "sqlite", nil)
	require.NoError(t, disabled.RegisterOtelGorm(db))

	plugin := NewDBTracingPlugin(config.TelemetryConfig{Enabled: true, DBTraceEnabled: true}, "sqlite", nil)
	require.NoError(t, plugin.RegisterOtelGorm(db))

	require.NoError(t, db.AutoMigrate(&row{}))
	ctx, span := StartSpan(context.Background(), "test")
	require.NoError(t, db.WithContext(ctx).Create(&row{Name: "a"}).Error)
	span.End()

	var created bool
	for _, s := range sr.Ended() {
		for _, kv := range s.Attributes() {
			if kv.Key == "db.rows_affected" && kv.Value.AsInt64() == 1 {
				created = true
			}
		}
	}
	assert.True(t, created, "insert span carries the row count")
}
