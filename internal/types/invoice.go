package types

import (
	"fmt"
	"time"
)

// InvoiceStatus is the invoice lifecycle state.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusFinalized InvoiceStatus = "finalized"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
	InvoiceStatusVoid      InvoiceStatus = "void"
	InvoiceStatusRefunded  InvoiceStatus = "refunded"
)

func (s InvoiceStatus) String() string {
	return string(s)
}

func (s InvoiceStatus) Validate() error {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusFinalized, InvoiceStatusSent,
		InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled,
		InvoiceStatusVoid, InvoiceStatusRefunded:
		return nil
	default:
		return fmt.Errorf("invalid invoice status: %s", s)
	}
}

// IsFinal reports whether the invoice has left draft, i.e. its financial
// fields and period are frozen.
func (s InvoiceStatus) IsFinal() bool {
	return s != InvoiceStatusDraft
}

// invoiceTransitions enumerates the allowed status moves. Sent and overdue
// are delivery marks on a finalized invoice; they never touch financials.
var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:     {InvoiceStatusFinalized, InvoiceStatusCancelled},
	InvoiceStatusFinalized: {InvoiceStatusSent, InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled, InvoiceStatusVoid, InvoiceStatusRefunded},
	InvoiceStatusSent:      {InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled, InvoiceStatusVoid, InvoiceStatusRefunded},
	InvoiceStatusOverdue:   {InvoiceStatusPaid, InvoiceStatusCancelled, InvoiceStatusVoid, InvoiceStatusRefunded},
	InvoiceStatusPaid:      {InvoiceStatusRefunded},
}

// CanTransitionTo reports whether the move from s to target is legal.
func (s InvoiceStatus) CanTransitionTo(target InvoiceStatus) bool {
	for _, allowed := range invoiceTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// BillingPeriod returns the UTC bounds [start, end) of a billing month.
func BillingPeriod(month, year int) (time.Time, time.Time) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// ValidateBillingMonth rejects out-of-range month/year pairs.
func ValidateBillingMonth(month, year int) error {
	if month < 1 || month > 12 {
		return fmt.Errorf("invalid billing month: %d", month)
	}
	if year < 2000 || year > 2200 {
		return fmt.Errorf("invalid billing year: %d", year)
	}
	return nil
}
