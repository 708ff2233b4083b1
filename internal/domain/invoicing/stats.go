package invoicing

import (
	"context"
	"time"
)

// ErrorCount is the number of invoices that ended with one error code
type ErrorCount struct {
	Code  string
	Count int64
}

// DailyOutcome aggregates resolutions for one calendar day (UTC)
type DailyOutcome struct {
	Date     time.Time
	Total    int64
	Accepted int64
	Rejected int64
}

// StatsRepository answers read-only aggregate queries for metrics
type StatsRepository interface {
	CountByStatus(ctx context.Context) (map[Status]int64, error)
	CountResolvedSince(ctx context.Context, since time.Time) (accepted, rejected int64, err error)
	CountDeadLettered(ctx context.Context) (int64, error)
	ErrorBreakdown(ctx context.Context) ([]ErrorCount, error)
	DailyOutcomes(ctx context.Context, from, to time.Time) ([]DailyOutcome, error)
	AverageProcessingSeconds(ctx context.Context) (float64, error)
}
