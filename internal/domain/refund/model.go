package refund

import (
	"github.com/shopspring/decimal"

	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// Refund returns money from a captured payment. The cumulative processed
// amount across a payment's refunds never exceeds the captured amount; the
// webhook settles pending refunds and recouples payment and invoice states.
type Refund struct {
	ID           string `db:"id" json:"id"`
	PaymentID    string `db:"payment_id" json:"payment_id"`
	InvoiceID    string `db:"invoice_id" json:"invoice_id"`
	RefundNumber string `db:"refund_number" json:"refund_number"`

	Amount   decimal.Decimal    `db:"amount" json:"amount"`
	Currency string             `db:"currency" json:"currency"`
	Status   types.RefundStatus `db:"refund_status" json:"status"`
	Type     types.RefundType   `db:"refund_type" json:"refund_type"`
	Reason   string             `db:"reason" json:"reason"`

	GatewayRefundID *string `db:"gateway_refund_id" json:"gateway_refund_id,omitempty"`

	// InitiatedBy records the admin actor who asked for the refund
	InitiatedBy string `db:"initiated_by" json:"initiated_by"`

	types.BaseModel
}

// New creates a pending refund against the payment
func New(paymentID, invoiceID, refundNumber string, amount decimal.Decimal, currency string, refundType types.RefundType, reason, initiatedBy string) *Refund {
	return &Refund{
		ID:           types.GenerateUUIDWithPrefix(types.UUID_PREFIX_REFUND),
		PaymentID:    paymentID,
		InvoiceID:    invoiceID,
		RefundNumber: refundNumber,
		Amount:       amount,
		Currency:     types.NormalizeCurrency(currency),
		Status:       types.RefundStatusPending,
		Type:         refundType,
		Reason:       reason,
		InitiatedBy:  initiatedBy,
	}
}

func (r *Refund) Validate() error {
	if r.PaymentID == "" || r.InvoiceID == "" {
		return ierr.NewError("payment_id and invoice_id are required").
			Mark(ierr.ErrValidation)
	}
	if !r.Amount.IsPositive() {
		return ierr.NewError("refund amount must be positive").
			Mark(ierr.ErrValidation)
	}
	if err := r.Status.Validate(); err != nil {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}
	if err := r.Type.Validate(); err != nil {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}
	return types.ValidateCurrency(r.Currency)
}
