package refund

import (
	"context"

	"github.com/shopspring/decimal"
)

type Repository interface {
	Create(ctx context.Context, refund *Refund) error
	Get(ctx context.Context, id string) (*Refund, error)

	// GetByGatewayRefundID resolves a webhook's refund reference
	GetByGatewayRefundID(ctx context.Context, gatewayRefundID string) (*Refund, error)

	ListByPayment(ctx context.Context, paymentID string) ([]*Refund, error)
	List(ctx context.Context, filter *Filter) ([]*Refund, error)

	Update(ctx context.Context, refund *Refund) error

	// SettledAmount sums processed refunds of a payment; pending refunds
	// also reserve headroom so over-refunding cannot race
	SettledAmount(ctx context.Context, paymentID string) (decimal.Decimal, error)

	// ReservedAmount sums pending plus processed refunds of a payment
	ReservedAmount(ctx context.Context, paymentID string) (decimal.Decimal, error)

	// NextSequence reserves the next refund number ordinal for a YYYYMM
	// prefix inside the current transaction
	NextSequence(ctx context.Context, prefix string) (int64, error)
}

// Filter narrows refund listings
type Filter struct {
	PaymentID      string
	InvoiceID      string
	OrganisationID string
	Limit          int
	Offset         int
}
