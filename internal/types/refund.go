package types

import "fmt"

// RefundStatus is the refund lifecycle state.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusProcessed RefundStatus = "processed"
	RefundStatusFailed    RefundStatus = "failed"
	RefundStatusCancelled RefundStatus = "cancelled"
)

func (s RefundStatus) String() string {
	return string(s)
}

func (s RefundStatus) Validate() error {
	switch s {
	case RefundStatusPending, RefundStatusProcessed, RefundStatusFailed, RefundStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid refund status: %s", s)
	}
}

// RefundType distinguishes full from partial refunds.
type RefundType string

const (
	RefundTypeFull    RefundType = "full"
	RefundTypePartial RefundType = "partial"
)

func (t RefundType) Validate() error {
	switch t {
	case RefundTypeFull, RefundTypePartial:
		return nil
	default:
		return fmt.Errorf("invalid refund type: %s", t)
	}
}
