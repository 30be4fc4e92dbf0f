package payment

import (
	"context"
	"time"

	"github.com/meterline/meterline/internal/types"
)

type Repository interface {
	Create(ctx context.Context, payment *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)

	// GetByGatewayOrderID resolves a webhook's order reference
	GetByGatewayOrderID(ctx context.Context, orderID string) (*Payment, error)

	// GetByGatewayPaymentID resolves a settled gateway payment
	GetByGatewayPaymentID(ctx context.Context, paymentID string) (*Payment, error)

	// GetForUpdate loads the payment with a row lock inside the caller's
	// transaction; webhook and retry paths serialise on it
	GetForUpdate(ctx context.Context, id string) (*Payment, error)

	// GetActiveByInvoice returns the newest non-failed payment of an
	// invoice, if any; order creation is idempotent through it
	GetActiveByInvoice(ctx context.Context, invoiceID string) (*Payment, error)

	List(ctx context.Context, filter *Filter) ([]*Payment, error)

	Update(ctx context.Context, payment *Payment) error

	// ListRetryEligible returns failed payments whose next retry slot has
	// arrived
	ListRetryEligible(ctx context.Context, now time.Time) ([]*Payment, error)

	// ListPendingOlderThan returns pending payments created before the
	// cutoff, for the janitor sweep
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*Payment, error)

	// ListByWindow returns payments created inside the window, for
	// reconciliation against the gateway
	ListByWindow(ctx context.Context, from, to time.Time) ([]*Payment, error)

	// MarkReconciled stamps reconciled_at on the given payments
	MarkReconciled(ctx context.Context, ids []string, at time.Time) error
}

// Filter narrows payment listings
type Filter struct {
	OrganisationID string
	InvoiceID      string
	Statuses       []types.PaymentStatus
	Limit          int
	Offset         int
}
