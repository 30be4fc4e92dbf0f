package dto

import (
	"github.com/meterline/meterline/internal/domain/invoice"
	"github.com/meterline/meterline/internal/types"
	"github.com/meterline/meterline/internal/validator"
)

type GenerateInvoiceRequest struct {
	OrganisationID string `json:"organisation_id" validate:"required" binding:"required"`
	Month          int    `json:"month" validate:"required,min=1,max=12" binding:"required" example:"3"`
	Year           int    `json:"year" validate:"required,min=2000,max=2200" binding:"required" example:"2025"`
}

func (r *GenerateInvoiceRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// GenerateInvoiceResponse reports whether the call created the invoice or
// replayed an earlier generation.
type GenerateInvoiceResponse struct {
	InvoiceID string           `json:"invoice_id"`
	Status    string           `json:"status"` // created or existing
	Invoice   *InvoiceResponse `json:"invoice,omitempty"`
	Unpriced  []string         `json:"unpriced_metrics,omitempty"`
}

type InvoiceResponse struct {
	*invoice.Invoice
}

type ListInvoicesRequest struct {
	OrganisationID string                `form:"organisation_id" json:"organisation_id"`
	Status         []types.InvoiceStatus `form:"status" json:"status"`
	Month          int                   `form:"month" json:"month"`
	Year           int                   `form:"year" json:"year"`
	Limit          int                   `form:"limit" json:"limit"`
	Offset         int                   `form:"offset" json:"offset"`
}

type ListInvoicesResponse struct {
	Items []*InvoiceResponse `json:"items"`
	Total int                `json:"total"`
}

type InvoicePDFResponse struct {
	InvoiceID string `json:"invoice_id"`
	URL       string `json:"url"`
}
