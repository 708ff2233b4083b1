package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	invoicingapp "github.com/invoices/backend/internal/application/invoicing"
	"github.com/invoices/backend/internal/interfaces/http/middleware"
)

// Intake registers companies, clients and draft invoices
type Intake interface {
	CreateCompany(ctx context.Context, req invoicingapp.CreateCompanyRequest) (*invoicingapp.CompanyResponse, error)
	GetCompany(ctx context.Context, id uuid.UUID) (*invoicingapp.CompanyResponse, error)
	CreateClient(ctx context.Context, req invoicingapp.CreateClientRequest) (*invoicingapp.ClientResponse, error)
	CreateInvoice(ctx context.Context, req invoicingapp.CreateInvoiceRequest) (*invoicingapp.InvoiceResponse, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (*invoicingapp.InvoiceResponse, error)
}

// IntakeHandler handles the invoice intake endpoints
type IntakeHandler struct {
	BaseHandler
	intake Intake
}

// NewIntakeHandler creates an IntakeHandler
func NewIntakeHandler(intake Intake) *IntakeHandler {
	return &IntakeHandler{intake: intake}
}

// CreateCompany handles POST /api/v1/verifactu/companies
// @Summary      Register a company
// @Tags         intake
// @Accept       json
// @Produce      json
// @Param        request body invoicingapp.CreateCompanyRequest true "Company"
// @Success      201 {object} dto.Response{data=invoicingapp.CompanyResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      409 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /verifactu/companies [post]
func (h *IntakeHandler) CreateCompany(c *gin.Context) {
	var req invoicingapp.CreateCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleBindError(c, err)
		return
	}
	company, err := h.intake.CreateCompany(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, company)
}

// GetCompany handles GET /api/v1/verifactu/companies/:id
// @Summary      Get a company
// @Tags         intake
// @Produce      json
// @Param        id path string true "Company ID" format(uuid)
// @Success      200 {object} dto.Response{data=invoicingapp.CompanyResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /verifactu/companies/{id} [get]
func (h *IntakeHandler) GetCompany(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	company, err := h.intake.GetCompany(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, company)
}

// CreateClient handles POST /api/v1/verifactu/clients
// @Summary      Register a client
// @Tags         intake
// @Accept       json
// @Produce      json
// @Param        request body invoicingapp.CreateClientRequest true "Client"
// @Success      201 {object} dto.Response{data=invoicingapp.ClientResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /verifactu/clients [post]
func (h *IntakeHandler) CreateClient(c *gin.Context) {
	var req invoicingapp.CreateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleBindError(c, err)
		return
	}
	client, err := h.intake.CreateClient(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, client)
}

// CreateInvoice handles POST /api/v1/verifactu/invoices. The invoice is
// stored as DRAFT; issuing it is a separate step.
// @Summary      Create a draft invoice
// @Tags         intake
// @Accept       json
// @Produce      json
// @Param        request body invoicingapp.CreateInvoiceRequest true "Invoice"
// @Success      201 {object} dto.Response{data=invoicingapp.InvoiceResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /verifactu/invoices [post]
func (h *IntakeHandler) CreateInvoice(c *gin.Context) {
	var req invoicingapp.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleBindError(c, err)
		return
	}
	inv, err := h.intake.CreateInvoice(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, inv)
}

// GetInvoice handles GET /api/v1/verifactu/invoices/:id
// @Summary      Get an invoice
// @Tags         intake
// @Produce      json
// @Param        id path string true "Invoice ID" format(uuid)
// @Success      200 {object} dto.Response{data=invoicingapp.InvoiceResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /verifactu/invoices/{id} [get]
func (h *IntakeHandler) GetInvoice(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	inv, err := h.intake.GetInvoice(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, inv)
}
