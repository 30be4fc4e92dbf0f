package invoice

import (
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// Invoice is the monthly bill of an organisation. Financial fields are
// mutable only while the invoice is draft; finalisation freezes them and the
// billing period for good.
type Invoice struct {
	ID             string              `db:"id" json:"id"`
	OrganisationID string              `db:"organisation_id" json:"organisation_id"`
	InvoiceNumber  string              `db:"invoice_number" json:"invoice_number"`
	InvoiceStatus  types.InvoiceStatus `db:"invoice_status" json:"invoice_status"`

	Subtotal decimal.Decimal `db:"subtotal" json:"subtotal"`
	Tax      decimal.Decimal `db:"tax" json:"tax"`
	Discount decimal.Decimal `db:"discount" json:"discount"`
	Total    decimal.Decimal `db:"total" json:"total"`
	Currency string          `db:"currency" json:"currency"`

	Month       int        `db:"month" json:"month"`
	Year        int        `db:"year" json:"year"`
	PeriodStart time.Time  `db:"period_start" json:"period_start"`
	PeriodEnd   time.Time  `db:"period_end" json:"period_end"`
	DueDate     time.Time  `db:"due_date" json:"due_date"`
	IssuedAt    *time.Time `db:"issued_at" json:"issued_at,omitempty"`
	PaidAt      *time.Time `db:"paid_at" json:"paid_at,omitempty"`

	// PDFURL stores the object key of the rendered document
	PDFURL *string `db:"pdf_url" json:"pdf_url,omitempty"`

	// Metadata records calculator context such as unpriced metrics
	Metadata types.Metadata `db:"metadata" json:"metadata,omitempty"`

	LineItems []*LineItem `db:"-" json:"line_items,omitempty"`

	types.BaseModel
}

// LineItem is one charge on an invoice. quantity × unit_price must equal
// total within epsilon; minimum-charge adjustments carry quantity 1.
type LineItem struct {
	ID          string          `db:"id" json:"id"`
	InvoiceID   string          `db:"invoice_id" json:"invoice_id"`
	LineNumber  int             `db:"line_number" json:"line_number"`
	Description string          `db:"description" json:"description"`
	MetricName  string          `db:"metric_name" json:"metric_name"`
	Unit        string          `db:"unit" json:"unit"`
	Quantity    decimal.Decimal `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Total       decimal.Decimal `db:"total" json:"total"`

	// Metadata keeps the original currency and value when the line was
	// converted into the invoice currency
	Metadata types.Metadata `db:"metadata" json:"metadata,omitempty"`

	types.BaseModel
}

// New creates a draft invoice for the organisation and billing month
func New(organisationID, invoiceNumber, currency string, month, year int) *Invoice {
	periodStart, periodEnd := types.BillingPeriod(month, year)
	return &Invoice{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
		OrganisationID: organisationID,
		InvoiceNumber:  invoiceNumber,
		InvoiceStatus:  types.InvoiceStatusDraft,
		Subtotal:       decimal.Zero,
		Tax:            decimal.Zero,
		Discount:       decimal.Zero,
		Total:          decimal.Zero,
		Currency:       types.NormalizeCurrency(currency),
		Month:          month,
		Year:           year,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		DueDate:        periodEnd,
	}
}

// NewLineItem creates a line item attached to the invoice
func NewLineItem(invoiceID string, lineNumber int, description, metricName, unit string, quantity, unitPrice, total decimal.Decimal) *LineItem {
	return &LineItem{
		ID:          types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE_LINE_ITEM),
		InvoiceID:   invoiceID,
		LineNumber:  lineNumber,
		Description: description,
		MetricName:  metricName,
		Unit:        unit,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Total:       total,
	}
}

// Validate checks structural invariants of the invoice
func (i *Invoice) Validate() error {
	if i.OrganisationID == "" {
		return ierr.NewError("organisation_id is required").
			Mark(ierr.ErrValidation)
	}
	if err := types.ValidateBillingMonth(i.Month, i.Year); err != nil {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}
	if err := i.InvoiceStatus.Validate(); err != nil {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}
	if i.Total.IsNegative() || i.Subtotal.IsNegative() || i.Tax.IsNegative() {
		return ierr.NewError("invoice amounts must not be negative").
			Mark(ierr.ErrValidation)
	}
	return types.ValidateCurrency(i.Currency)
}

// CanTransitionTo reports whether the status move is legal
func (i *Invoice) CanTransitionTo(target types.InvoiceStatus) bool {
	return i.InvoiceStatus.CanTransitionTo(target)
}

// IsFinalized reports whether financial fields are frozen
func (i *Invoice) IsFinalized() bool {
	return i.InvoiceStatus.IsFinal()
}

// IsPayable reports whether a payment order may be created for the invoice
func (i *Invoice) IsPayable() bool {
	switch i.InvoiceStatus {
	case types.InvoiceStatusFinalized, types.InvoiceStatusSent, types.InvoiceStatusOverdue:
		return true
	default:
		return false
	}
}
