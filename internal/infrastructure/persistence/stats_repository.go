package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormStatsRepository answers the aggregate queries behind the metrics
// endpoint. Day bucketing is always done in UTC.
type GormStatsRepository struct {
	db *gorm.DB
}

// NewGormStatsRepository creates a new GormStatsRepository
func NewGormStatsRepository(db *gorm.DB) *GormStatsRepository {
	return &GormStatsRepository{db: db}
}

var _ invoicing.StatsRepository = (*GormStatsRepository)(nil)

var resolvedStatuses = []invoicing.Status{invoicing.StatusAccepted, invoicing.StatusRejected}

func (r *GormStatsRepository) invoices(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.InvoiceModel{})
}

// CountByStatus returns the number of invoices per status
func (r *GormStatsRepository) CountByStatus(ctx context.Context) (map[invoicing.Status]int64, error) {
	var rows []struct {
		Status invoicing.Status
		Count  int64
	}
	err := r.invoices(ctx).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[invoicing.Status]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

// CountResolvedSince counts accepted and rejected invoices resolved at or after since
func (r *GormStatsRepository) CountResolvedSince(ctx context.Context, since time.Time) (int64, int64, error) {
	var row struct {
		Accepted int64
		Rejected int64
	}
	err := r.invoices(ctx).
		Select(
			"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS accepted, "+
				"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS rejected",
			invoicing.StatusAccepted, invoicing.StatusRejected).
		Where("status IN ? AND resolved_at >= ?", resolvedStatuses, since).
		Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Accepted, row.Rejected, nil
}

func (r *GormStatsRepository) CountDeadLettered(ctx context.Context) (int64, error) {
	var n int64
	err := r.invoices(ctx).Where("dead_lettered = ?", true).Count(&n).Error
	return n, err
}

// ErrorBreakdown groups invoices that ended in an error by their last error code
func (r *GormStatsRepository) ErrorBreakdown(ctx context.Context) ([]invoicing.ErrorCount, error) {
	var rows []invoicing.ErrorCount
	err := r.invoices(ctx).
		Select("last_error_code AS code, COUNT(*) AS count").
		Where("last_error_code <> '' AND status IN ?", []invoicing.Status{
			invoicing.StatusRejected, invoicing.StatusFailed, invoicing.StatusTimeout,
		}).
		Group("last_error_code").
		Scan(&rows).Error
	return rows, err
}

// DailyOutcomes returns per-day resolution counts in [from, to). Days with
// no resolutions are omitted.
func (r *GormStatsRepository) DailyOutcomes(ctx context.Context, from, to time.Time) ([]invoicing.DailyOutcome, error) {
	day := r.dayExpr()
	var rows []struct {
		Day      string
		Total    int64
		Accepted int64
		Rejected int64
	}
	err := r.invoices(ctx).
		Select(fmt.Sprintf("%s AS day, COUNT(*) AS total, "+
			"SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS accepted, "+
			"SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS rejected", day),
			invoicing.StatusAccepted, invoicing.StatusRejected).
		Where("status IN ? AND resolved_at >= ? AND resolved_at < ?", resolvedStatuses, from.UTC(), to.UTC()).
		Group(day).
		Order("day ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]invoicing.DailyOutcome, 0, len(rows))
	for _, row := range rows {
		date, err := time.Parse("2006-01-02", row.Day)
		if err != nil {
			return nil, fmt.Errorf("parse outcome day %q: %w", row.Day, err)
		}
		out = append(out, invoicing.DailyOutcome{
			Date:     date,
			Total:    row.Total,
			Accepted: row.Accepted,
			Rejected: row.Rejected,
		})
	}
	return out, nil
}

// AverageProcessingSeconds is the mean time from submission to resolution
// over resolved invoices, or 0 when none are resolved.
func (r *GormStatsRepository) AverageProcessingSeconds(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	err := r.invoices(ctx).
		Select("AVG("+r.secondsBetween("submitted_at", "resolved_at")+")").
		Where("status IN ? AND submitted_at IS NOT NULL AND resolved_at IS NOT NULL", resolvedStatuses).
		Scan(&avg).Error
	if err != nil {
		return 0, err
	}
	return avg.Float64, nil
}

func (r *GormStatsRepository) isPostgres() bool {
	return r.db.Dialector.Name() == "postgres"
}

func (r *GormStatsRepository) dayExpr() string {
	if r.isPostgres() {
		return "to_char(resolved_at AT TIME ZONE 'UTC', 'YYYY-MM-DD')"
	}
	return "strftime('%Y-%m-%d', resolved_at)"
}

func (r *GormStatsRepository) secondsBetween(from, to string) string {
	if r.isPostgres() {
		return fmt.Sprintf("EXTRACT(EPOCH FROM (%s - %s))", to, from)
	}
	return fmt.Sprintf("(julianday(%s) - julianday(%s)) * 86400.0", to, from)
}
