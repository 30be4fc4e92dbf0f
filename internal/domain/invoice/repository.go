package invoice

import (
	"context"
	"time"

	"github.com/meterline/meterline/internal/types"
)

type Repository interface {
	// CreateWithLineItems inserts the invoice and its lines atomically; a
	// period-unique conflict for the organisation fails with
	// ErrAlreadyExists
	CreateWithLineItems(ctx context.Context, inv *Invoice) error

	// Get loads the invoice with line items
	Get(ctx context.Context, id string) (*Invoice, error)

	// GetByPeriod returns the non-cancelled invoice of an organisation for
	// a billing month, if one exists
	GetByPeriod(ctx context.Context, organisationID string, month, year int) (*Invoice, error)

	List(ctx context.Context, filter *Filter) ([]*Invoice, error)

	// UpdateStatus moves the lifecycle state and stamps the matching
	// timestamp columns; it never touches financial fields
	UpdateStatus(ctx context.Context, id string, status types.InvoiceStatus, at time.Time) error

	// SetPDFURL records the rendered document's object key
	SetPDFURL(ctx context.Context, id string, url string) error

	// NextSequence reserves the next invoice number ordinal for a YYYYMM
	// prefix inside the current transaction
	NextSequence(ctx context.Context, prefix string) (int64, error)

	// ListDueForReminder returns finalized/sent/overdue unpaid invoices with
	// due dates inside the window
	ListDueForReminder(ctx context.Context, from, to time.Time) ([]*Invoice, error)

	// ListUnpaidPastDue returns unpaid invoices whose due date has passed
	ListUnpaidPastDue(ctx context.Context, now time.Time) ([]*Invoice, error)
}

// Filter narrows invoice listings
type Filter struct {
	OrganisationID string
	Statuses       []types.InvoiceStatus
	Month          int
	Year           int
	Limit          int
	Offset         int
}
