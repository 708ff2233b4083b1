package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	verifactuapp "github.com/invoices/backend/internal/application/verifactu"
	"github.com/invoices/backend/internal/domain/verifactu"
	"github.com/invoices/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// Pipeline is the submission surface used by operators
type Pipeline interface {
	MarkPending(ctx context.Context, invoiceID uuid.UUID) (*verifactuapp.EnqueueResult, error)
	Retry(ctx context.Context, invoiceID uuid.UUID) (*verifactuapp.EnqueueResult, error)
	Submit(ctx context.Context, invoiceID uuid.UUID, rollout verifactu.RolloutConfig) (*verifactuapp.SubmitResult, error)
}

// ChainAuditor recomputes a company's stored chain
type ChainAuditor interface {
	VerifyCompany(ctx context.Context, companyID uuid.UUID) (*verifactuapp.ChainReport, error)
}

// SubmitResponse reports where a submission left the invoice
type SubmitResponse struct {
	InvoiceID        uuid.UUID `json:"invoice_id"`
	Status           string    `json:"status"`
	HashBefore       string    `json:"hash_before"`
	Hash             string    `json:"hash,omitempty"`
	Sequence         int64     `json:"sequence,omitempty"`
	RealTransmission bool      `json:"real_transmission"`
	AckCode          string    `json:"ack_code,omitempty"`
	ErrorCode        string    `json:"error_code,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// EnqueueResponse reports a status change and whether verification was requested
type EnqueueResponse struct {
	InvoiceID    uuid.UUID `json:"invoice_id"`
	Status       string    `json:"status"`
	Enqueued     bool      `json:"enqueued"`
	EnqueueError string    `json:"enqueue_error,omitempty"`
}

// RolloutResponse is the rollout snapshot currently in force
type RolloutResponse struct {
	Enabled    bool `json:"enabled"`
	Percentage int  `json:"percentage"`
	Simulated  bool `json:"simulated"`
}

// VerifactuHandler exposes the operator endpoints of the pipeline
type VerifactuHandler struct {
	BaseHandler
	pipeline Pipeline
	chain    ChainAuditor
	rollout  verifactuapp.RolloutProvider
	logger   *zap.Logger
}

// NewVerifactuHandler creates a VerifactuHandler
func NewVerifactuHandler(pipeline Pipeline, chain ChainAuditor, rollout verifactuapp.RolloutProvider, logger *zap.Logger) *VerifactuHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerifactuHandler{pipeline: pipeline, chain: chain, rollout: rollout, logger: logger}
}

// Issue handles POST /api/v1/verifactu/invoices/:id/issue
// @Summary      Issue a draft invoice
// @Tags         pipeline
// @Produce      json
// @Param        id path string true "Invoice ID" format(uuid)
// @Success      202 {object} dto.Response{data=EnqueueResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      409 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /verifactu/invoices/{id}/issue [post]
func (h *VerifactuHandler) Issue(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	res, err := h.pipeline.MarkPending(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.audit(c, "issue", id)
	h.Accepted(c, toEnqueueResponse(res))
}

// Submit handles POST /api/v1/verifactu/invoices/:id/submit. The pipeline
// runs inline with the rollout snapshot taken at request time.
// @Summary      Run the submission pipeline
// @Tags         pipeline
// @Produce      json
// @Param        id path string true "Invoice ID" format(uuid)
// @Success      200 {object} dto.Response{data=SubmitResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      409 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /verifactu/invoices/{id}/submit [post]
func (h *VerifactuHandler) Submit(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	res, err := h.pipeline.Submit(c.Request.Context(), id, h.rollout.Current())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.audit(c, "submit", id)
	h.Success(c, SubmitResponse{
		InvoiceID:        res.InvoiceID,
		Status:           res.Status.String(),
		HashBefore:       res.HashBefore,
		Hash:             res.Hash,
		Sequence:         res.Sequence,
		RealTransmission: res.RealTransmission,
		AckCode:          res.AckCode,
		ErrorCode:        res.ErrorCode,
		Error:            res.Error,
	})
}

// Retry handles POST /api/v1/verifactu/invoices/:id/retry
// @Summary      Retry a failed or timed out invoice
// @Tags         pipeline
// @Produce      json
// @Param        id path string true "Invoice ID" format(uuid)
// @Success      202 {object} dto.Response{data=EnqueueResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      409 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /verifactu/invoices/{id}/retry [post]
func (h *VerifactuHandler) Retry(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	res, err := h.pipeline.Retry(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.audit(c, "retry", id)
	h.Accepted(c, toEnqueueResponse(res))
}

// VerifyChain handles GET /api/v1/verifactu/companies/:id/chain/verify.
// A broken chain is still a 200; the report says where it breaks.
// @Summary      Verify a company's hash chain
// @Tags         pipeline
// @Produce      json
// @Param        id path string true "Company ID" format(uuid)
// @Success      200 {object} dto.Response{data=verifactuapp.ChainReport}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /verifactu/companies/{id}/chain/verify [get]
func (h *VerifactuHandler) VerifyChain(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	report, err := h.chain.VerifyCompany(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if !report.Valid {
		h.logger.Warn("Chain verification failed",
			zap.String("company_id", id.String()),
			zap.Int("broken_at_index", report.BrokenAtIndex),
			zap.String("problem", report.Problem),
		)
	}
	h.Success(c, report)
}

// Rollout handles GET /api/v1/verifactu/rollout
// @Summary      Current rollout snapshot
// @Tags         pipeline
// @Produce      json
// @Success      200 {object} dto.Response{data=RolloutResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /verifactu/rollout [get]
func (h *VerifactuHandler) Rollout(c *gin.Context) {
	r := h.rollout.Current()
	h.Success(c, RolloutResponse{
		Enabled:    r.Enabled(),
		Percentage: r.Percentage(),
		Simulated:  r.Simulated(),
	})
}

func (h *VerifactuHandler) audit(c *gin.Context, action string, invoiceID uuid.UUID) {
	h.logger.Info("Operator action",
		zap.String("action", action),
		zap.String("invoice_id", invoiceID.String()),
		zap.String("operator", middleware.GetOperator(c)),
		zap.String("request_id", middleware.GetRequestID(c)),
	)
}

func toEnqueueResponse(res *verifactuapp.EnqueueResult) EnqueueResponse {
	return EnqueueResponse{
		InvoiceID:    res.InvoiceID,
		Status:       res.Status.String(),
		Enqueued:     res.Enqueued,
		EnqueueError: res.EnqueueError,
	}
}
