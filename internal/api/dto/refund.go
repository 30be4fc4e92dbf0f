package dto

import (
	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/domain/refund"
	"github.com/meterline/meterline/internal/validator"
)

type CreateRefundRequest struct {
	PaymentID string `json:"payment_id" validate:"required" binding:"required"`

	// Amount empty refunds the full remaining captured amount
	Amount *decimal.Decimal `json:"amount,omitempty" swaggertype:"string" example:"500"`
	Reason string           `json:"reason" validate:"required" binding:"required" example:"customer request"`
}

func (r *CreateRefundRequest) Validate() error {
	return validator.ValidateRequest(r)
}

type RefundResponse struct {
	*refund.Refund
	Status string `json:"idempotency_status,omitempty"` // created or existing
}

type ListRefundsRequest struct {
	PaymentID string `form:"payment_id" json:"payment_id"`
	InvoiceID string `form:"invoice_id" json:"invoice_id"`
	Limit     int    `form:"limit" json:"limit"`
	Offset    int    `form:"offset" json:"offset"`
}

type ListRefundsResponse struct {
	Items []*RefundResponse `json:"items"`
	Total int               `json:"total"`
}
