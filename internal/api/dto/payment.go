package dto

import (
	"time"

	"github.com/meterline/meterline/internal/domain/payment"
	"github.com/meterline/meterline/internal/types"
	"github.com/meterline/meterline/internal/validator"
)

type CreatePaymentOrderRequest struct {
	InvoiceID string `json:"invoice_id" validate:"required" binding:"required"`
}

func (r *CreatePaymentOrderRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// CreatePaymentOrderResponse carries what a checkout page needs to open the
// gateway widget.
type CreatePaymentOrderResponse struct {
	PaymentID      string `json:"payment_id"`
	GatewayOrderID string `json:"gateway_order_id"`
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	Status         string `json:"status"` // created or existing
}

type PaymentResponse struct {
	*payment.Payment
}

type ListPaymentsRequest struct {
	OrganisationID string                `form:"organisation_id" json:"organisation_id"`
	InvoiceID      string                `form:"invoice_id" json:"invoice_id"`
	Status         []types.PaymentStatus `form:"status" json:"status"`
	Limit          int                   `form:"limit" json:"limit"`
	Offset         int                   `form:"offset" json:"offset"`
}

type ListPaymentsResponse struct {
	Items []*PaymentResponse `json:"items"`
	Total int                `json:"total"`
}

// RetryStatusResponse summarises where a payment sits on the retry ladder.
type RetryStatusResponse struct {
	PaymentID    string                 `json:"payment_id"`
	Status       types.PaymentStatus    `json:"status"`
	RetryCount   int                    `json:"retry_count"`
	MaxRetries   int                    `json:"max_retries"`
	NextRetryAt  *time.Time             `json:"next_retry_at,omitempty"`
	LastRetryAt  *time.Time             `json:"last_retry_at,omitempty"`
	Exhausted    bool                   `json:"exhausted"`
	RetryHistory []payment.RetryAttempt `json:"retry_history,omitempty"`
}

// WebhookResponse is returned to the gateway; Status mirrors the HTTP code
// semantics (200 processed or replayed, 400 rejected).
type WebhookResponse struct {
	Status string `json:"status"`
	Event  string `json:"event,omitempty"`
}
