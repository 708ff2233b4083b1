package verifactu

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/domain/shared"
	"go.uber.org/zap"
)

const (
	defaultTopErrors  = 5
	defaultTrendDays  = 7
	maxTrendDays      = 365
	maxTopErrorsLimit = 100
	trendDateLayout   = "2006-01-02"
)

// ErrorStat is one row of the error taxonomy
type ErrorStat struct {
	Code       string  `json:"code"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// TrendPoint is one day of outcomes
type TrendPoint struct {
	Date        string  `json:"date"`
	Total       int64   `json:"total"`
	Accepted    int64   `json:"accepted"`
	Rejected    int64   `json:"rejected"`
	SuccessRate float64 `json:"successRate"`
}

// Snapshot is the dashboard summary
type Snapshot struct {
	TodayVerified            int64            `json:"todayVerified"`
	Pending                  int64            `json:"pending"`
	InDLQ                    int64            `json:"inDlq"`
	SuccessRate              float64          `json:"successRate"`
	Last24hSuccessRate       float64          `json:"last24hSuccessRate"`
	AvgProcessingTimeSeconds float64          `json:"avgProcessingTimeSeconds"`
	TotalProcessed           int64            `json:"totalProcessed"`
	ByStatus                 map[string]int64 `json:"byStatus"`
	TopErrors                []ErrorStat      `json:"topErrors"`
	DailyTrend               []TrendPoint     `json:"dailyTrend"`
	Batch                    BatchSummary     `json:"batch"`
	GeneratedAt              time.Time        `json:"generatedAt"`
}

// MetricsConfig wires the metrics aggregator
type MetricsConfig struct {
	Stats  invoicing.StatsRepository
	Batch  BatchMetricsStore
	Logger *zap.Logger
	Now    func() time.Time
}

// MetricsService answers read-only rollups. It never mutates state.
type MetricsService struct {
	stats  invoicing.StatsRepository
	batch  BatchMetricsStore
	logger *zap.Logger
	now    func() time.Time
}

// NewMetricsService creates a MetricsService
func NewMetricsService(cfg MetricsConfig) *MetricsService {
	s := &MetricsService{stats: cfg.Stats, batch: cfg.Batch, logger: cfg.Logger, now: cfg.Now}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// SuccessRate returns accepted/(accepted+rejected) as a percentage with two decimals
func SuccessRate(accepted, rejected int64) float64 {
	total := accepted + rejected
	if total == 0 {
		return 0
	}
	return round2(float64(accepted) / float64(total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Snapshot builds the full dashboard summary
func (s *MetricsService) Snapshot(ctx context.Context) (*Snapshot, error) {
	now := s.now()
	counts, err := s.stats.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	todayAccepted, _, err := s.stats.CountResolvedSince(ctx, startOfDay(now))
	if err != nil {
		return nil, err
	}
	acc24, rej24, err := s.stats.CountResolvedSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	inDLQ, err := s.stats.CountDeadLettered(ctx)
	if err != nil {
		return nil, err
	}
	avg, err := s.stats.AverageProcessingSeconds(ctx)
	if err != nil {
		return nil, err
	}
	topErrors, err := s.TopErrors(ctx, defaultTopErrors)
	if err != nil {
		return nil, err
	}
	trend, err := s.DailyTrend(ctx, defaultTrendDays)
	if err != nil {
		return nil, err
	}
	batch, err := s.BatchSummary(ctx)
	if err != nil {
		return nil, err
	}

	byStatus := make(map[string]int64, len(counts))
	var pending int64
	for status, n := range counts {
		byStatus[status.String()] = n
		if status == invoicing.StatusPending || status.IsInFlight() {
			pending += n
		}
	}
	accepted := counts[invoicing.StatusAccepted]
	rejected := counts[invoicing.StatusRejected]

	return &Snapshot{
		TodayVerified:            todayAccepted,
		Pending:                  pending,
		InDLQ:                    inDLQ,
		SuccessRate:              SuccessRate(accepted, rejected),
		Last24hSuccessRate:       SuccessRate(acc24, rej24),
		AvgProcessingTimeSeconds: round2(avg),
		TotalProcessed:           accepted + rejected,
		ByStatus:                 byStatus,
		TopErrors:                topErrors,
		DailyTrend:               trend,
		Batch:                    *batch,
		GeneratedAt:              now,
	}, nil
}

// TopErrors returns the most frequent error codes with their share of all errored invoices
func (s *MetricsService) TopErrors(ctx context.Context, limit int) ([]ErrorStat, error) {
	if limit <= 0 {
		limit = defaultTopErrors
	}
	if limit > maxTopErrorsLimit {
		limit = maxTopErrorsLimit
	}
	rows, err := s.stats.ErrorBreakdown(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Code < rows[j].Code
	})
	var total int64
	for _, r := range rows {
		total += r.Count
	}
	out := make([]ErrorStat, 0, min(limit, len(rows)))
	for _, r := range rows {
		if len(out) == limit {
			break
		}
		var pct float64
		if total > 0 {
			pct = round2(float64(r.Count) / float64(total) * 100)
		}
		out = append(out, ErrorStat{Code: r.Code, Count: r.Count, Percentage: pct})
	}
	return out, nil
}

// DailyTrend returns one point per day for the last days days, oldest first
func (s *MetricsService) DailyTrend(ctx context.Context, days int) ([]TrendPoint, error) {
	if days < 1 || days > maxTrendDays {
		return nil, shared.NewDomainErrorf(shared.CodeValidation, "days must be between 1 and %d", maxTrendDays)
	}
	today := startOfDay(s.now())
	from := today.AddDate(0, 0, -(days - 1))
	rows, err := s.stats.DailyOutcomes(ctx, from, today.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	byDay := make(map[string]invoicing.DailyOutcome, len(rows))
	for _, r := range rows {
		byDay[r.Date.UTC().Format(trendDateLayout)] = r
	}
	points := make([]TrendPoint, 0, days)
	for d := from; !d.After(today); d = d.AddDate(0, 0, 1) {
		key := d.Format(trendDateLayout)
		r := byDay[key]
		points = append(points, TrendPoint{
			Date:        key,
			Total:       r.Total,
			Accepted:    r.Accepted,
			Rejected:    r.Rejected,
			SuccessRate: SuccessRate(r.Accepted, r.Rejected),
		})
	}
	return points, nil
}

// BatchSummary returns accumulated sweep counters
func (s *MetricsService) BatchSummary(ctx context.Context) (*BatchSummary, error) {
	if s.batch == nil {
		return &BatchSummary{}, nil
	}
	summary, err := s.batch.Load(ctx)
	if err != nil {
		s.logger.Warn("Batch metrics unavailable", zap.Error(err))
		return &BatchSummary{}, nil
	}
	return &summary, nil
}
