package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	verifactuapp "github.com/invoices/backend/internal/application/verifactu"
	"github.com/invoices/backend/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// Headers carried by authority callbacks
const (
	SignatureHeader = "X-AEAT-Signature"
	TimestampHeader = "X-AEAT-Timestamp"
)

// WebhookProcessor applies one authenticated status callback
type WebhookProcessor interface {
	Handle(ctx context.Context, raw []byte, signature, timestamp string) (*verifactuapp.WebhookResult, error)
}

// WebhookAck is returned to the authority for every accepted callback
type WebhookAck struct {
	InvoiceID uuid.UUID `json:"invoice_id"`
	Status    string    `json:"status"`
	Duplicate bool      `json:"duplicate"`
}

// WebhookHandler receives outcome callbacks. It sits outside operator auth;
// the HMAC signature is the only credential.
type WebhookHandler struct {
	BaseHandler
	processor WebhookProcessor
	logger    *zap.Logger
}

// NewWebhookHandler creates a WebhookHandler
func NewWebhookHandler(processor WebhookProcessor, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{processor: processor, logger: logger}
}

// Receive handles POST /webhooks/verifactu
// @Summary      Receive an authority callback
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        X-AEAT-Signature header string true "base64 HMAC-SHA256 of timestamp.body"
// @Param        X-AEAT-Timestamp header string true "epoch milliseconds"
// @Param        request body verifactuapp.WebhookPayload true "Outcome"
// @Success      200 {object} dto.Response{data=WebhookAck}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      409 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      413 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /webhooks/verifactu [post]
func (h *WebhookHandler) Receive(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodePayloadTooLarge, "Callback body too large")
			return
		}
		h.BadRequest(c, "Could not read callback body")
		return
	}

	result, err := h.processor.Handle(c.Request.Context(), raw,
		c.GetHeader(SignatureHeader), c.GetHeader(TimestampHeader))
	if err != nil {
		h.logger.Info("Callback not applied", zap.String("client_ip", c.ClientIP()), zap.Error(err))
		h.HandleError(c, err)
		return
	}

	h.Success(c, WebhookAck{
		InvoiceID: result.InvoiceID,
		Status:    result.Status.String(),
		Duplicate: result.Duplicate,
	})
}
