package payment

import (
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// Payment tracks one gateway order against an invoice through the webhook
// driven state machine. Retries reuse the row: each attempt appends to
// RetryHistory and replaces the gateway order id.
type Payment struct {
	ID             string `db:"id" json:"id"`
	OrganisationID string `db:"organisation_id" json:"organisation_id"`
	InvoiceID      string `db:"invoice_id" json:"invoice_id"`

	GatewayOrderID   string  `db:"gateway_order_id" json:"gateway_order_id"`
	GatewayPaymentID *string `db:"gateway_payment_id" json:"gateway_payment_id,omitempty"`

	Amount   decimal.Decimal     `db:"amount" json:"amount"`
	Currency string              `db:"currency" json:"currency"`
	Status   types.PaymentStatus `db:"payment_status" json:"status"`
	Method   *string             `db:"method" json:"method,omitempty"`

	PaidAt       *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	ReconciledAt *time.Time `db:"reconciled_at" json:"reconciled_at,omitempty"`

	RetryCount  int        `db:"retry_count" json:"retry_count"`
	MaxRetries  int        `db:"max_retries" json:"max_retries"`
	NextRetryAt *time.Time `db:"next_retry_at" json:"next_retry_at,omitempty"`
	LastRetryAt *time.Time `db:"last_retry_at" json:"last_retry_at,omitempty"`

	// RetryHistory records every retry attempt as JSON
	RetryHistory []RetryAttempt `db:"-" json:"retry_history,omitempty"`

	// Notes carries gateway round-trip context, e.g. the original amount
	// before currency conversion
	Notes types.Metadata `db:"notes" json:"notes,omitempty"`

	types.BaseModel
}

// RetryAttempt is one entry in the retry history
type RetryAttempt struct {
	Attempt    int       `json:"attempt"`
	At         time.Time `json:"at"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	NewOrderID string    `json:"new_order_id,omitempty"`
}

// New creates a pending payment for the invoice
func New(organisationID, invoiceID, gatewayOrderID string, amount decimal.Decimal, currency string, maxRetries int) *Payment {
	if maxRetries <= 0 {
		maxRetries = types.DefaultMaxPaymentRetries
	}
	return &Payment{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PAYMENT),
		OrganisationID: organisationID,
		InvoiceID:      invoiceID,
		GatewayOrderID: gatewayOrderID,
		Amount:         amount,
		Currency:       types.NormalizeCurrency(currency),
		Status:         types.PaymentStatusPending,
		MaxRetries:     maxRetries,
	}
}

func (p *Payment) Validate() error {
	if p.OrganisationID == "" || p.InvoiceID == "" {
		return ierr.NewError("organisation_id and invoice_id are required").
			Mark(ierr.ErrValidation)
	}
	if !p.Amount.IsPositive() {
		return ierr.NewError("payment amount must be positive").
			Mark(ierr.ErrValidation)
	}
	if err := p.Status.Validate(); err != nil {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}
	return types.ValidateCurrency(p.Currency)
}

// CanTransitionTo reports whether the status move is legal
func (p *Payment) CanTransitionTo(target types.PaymentStatus) bool {
	return p.Status.CanTransitionTo(target)
}

// IsRetryEligible reports whether the retry engine may pick the payment up
func (p *Payment) IsRetryEligible(now time.Time) bool {
	if p.Status != types.PaymentStatusFailed {
		return false
	}
	if p.RetryCount >= p.MaxRetries {
		return false
	}
	return p.NextRetryAt != nil && !p.NextRetryAt.After(now)
}

// ScheduleFirstRetry sets the first retry slot one base interval after the
// failure; later slots double via RecordRetry.
func (p *Payment) ScheduleFirstRetry(baseInterval time.Duration, now time.Time) {
	if p.RetryCount == 0 && p.NextRetryAt == nil {
		next := now.UTC().Add(baseInterval)
		p.NextRetryAt = &next
	}
}

// RecordRetry appends a retry attempt and advances the backoff ladder:
// the next slot is base × 2^retry_count after now.
func (p *Payment) RecordRetry(attempt RetryAttempt, baseInterval time.Duration, now time.Time) {
	p.RetryHistory = append(p.RetryHistory, attempt)
	p.RetryCount++
	last := now.UTC()
	p.LastRetryAt = &last

	if p.RetryCount >= p.MaxRetries {
		p.NextRetryAt = nil
		return
	}
	next := now.UTC().Add(baseInterval * time.Duration(1<<uint(p.RetryCount)))
	p.NextRetryAt = &next
}
