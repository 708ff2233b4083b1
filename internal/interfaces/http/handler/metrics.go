package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	verifactuapp "github.com/invoices/backend/internal/application/verifactu"
	"github.com/invoices/backend/internal/interfaces/http/middleware"
)

// MetricsReader serves the dashboard rollups
type MetricsReader interface {
	Snapshot(ctx context.Context) (*verifactuapp.Snapshot, error)
	TopErrors(ctx context.Context, limit int) ([]verifactuapp.ErrorStat, error)
	DailyTrend(ctx context.Context, days int) ([]verifactuapp.TrendPoint, error)
	BatchSummary(ctx context.Context) (*verifactuapp.BatchSummary, error)
}

// TopErrorsQuery binds ?limit=
type TopErrorsQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

// TrendQuery binds ?days=, which defaults to 7 when absent
type TrendQuery struct {
	Days int `form:"days" binding:"min=1,max=365"`
}

// MetricsHandler exposes the metrics aggregator over HTTP
type MetricsHandler struct {
	BaseHandler
	metrics MetricsReader
}

// NewMetricsHandler creates a MetricsHandler
func NewMetricsHandler(metrics MetricsReader) *MetricsHandler {
	return &MetricsHandler{metrics: metrics}
}

// Snapshot handles GET /api/v1/verifactu/metrics
// @Summary      Dashboard snapshot
// @Tags         metrics
// @Produce      json
// @Success      200 {object} dto.Response{data=verifactuapp.Snapshot}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /verifactu/metrics [get]
func (h *MetricsHandler) Snapshot(c *gin.Context) {
	snap, err := h.metrics.Snapshot(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, snap)
}

// TopErrors handles GET /api/v1/verifactu/metrics/errors
// @Summary      Most frequent error codes
// @Tags         metrics
// @Produce      json
// @Param        limit query int false "Max entries" minimum(1) maximum(100)
// @Success      200 {object} dto.Response{data=[]verifactuapp.ErrorStat}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /verifactu/metrics/errors [get]
func (h *MetricsHandler) TopErrors(c *gin.Context) {
	var q TopErrorsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleBindError(c, err)
		return
	}
	stats, err := h.metrics.TopErrors(c.Request.Context(), q.Limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stats)
}

// DailyTrend handles GET /api/v1/verifactu/metrics/trends
// @Summary      Daily outcome trend
// @Tags         metrics
// @Produce      json
// @Param        days query int false "Days" minimum(1) maximum(365) default(7)
// @Success      200 {object} dto.Response{data=[]verifactuapp.TrendPoint}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /verifactu/metrics/trends [get]
func (h *MetricsHandler) DailyTrend(c *gin.Context) {
	q := TrendQuery{Days: 7}
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleBindError(c, err)
		return
	}
	points, err := h.metrics.DailyTrend(c.Request.Context(), q.Days)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, points)
}

// BatchSummary handles GET /api/v1/verifactu/metrics/batch
// @Summary      Retry sweep counters
// @Tags         metrics
// @Produce      json
// @Success      200 {object} dto.Response{data=verifactuapp.BatchSummary}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /verifactu/metrics/batch [get]
func (h *MetricsHandler) BatchSummary(c *gin.Context) {
	summary, err := h.metrics.BatchSummary(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, summary)
}
