package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	invoicingapp "github.com/invoices/backend/internal/application/invoicing"
	"github.com/invoices/backend/internal/interfaces/http/middleware"
)

// InvoiceQuery lists invoices for operators
type InvoiceQuery interface {
	ListInvoices(ctx context.Context, q invoicingapp.ListInvoicesQuery) (*invoicingapp.InvoicePage, error)
}

// InvoiceListHandler serves the paginated invoice listing
type InvoiceListHandler struct {
	BaseHandler
	query InvoiceQuery
}

// NewInvoiceListHandler creates an InvoiceListHandler
func NewInvoiceListHandler(query InvoiceQuery) *InvoiceListHandler {
	return &InvoiceListHandler{query: query}
}

// List handles GET /api/v1/verifactu/invoices
// @Summary      List invoices
// @Tags         invoices
// @Produce      json
// @Param        company_id query string false "Company ID" format(uuid)
// @Param        status query string false "Status"
// @Param        dead_lettered query bool false "Dead-lettered only"
// @Param        page query int false "Page" minimum(1)
// @Param        page_size query int false "Page size" minimum(1) maximum(100)
// @Param        order_by query string false "Sort field"
// @Param        order_dir query string false "Sort direction" Enums(asc, desc)
// @Success      200 {object} dto.Response{data=invoicingapp.InvoicePage}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /verifactu/invoices [get]
func (h *InvoiceListHandler) List(c *gin.Context) {
	var q invoicingapp.ListInvoicesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleBindError(c, err)
		return
	}
	page, err := h.query.ListInvoices(c.Request.Context(), q)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, page)
}
