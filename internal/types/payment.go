package types

import "fmt"

// PaymentStatus is the payment lifecycle state.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusAuthorized        PaymentStatus = "authorized"
	PaymentStatusCaptured          PaymentStatus = "captured"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

func (s PaymentStatus) String() string {
	return string(s)
}

func (s PaymentStatus) Validate() error {
	switch s {
	case PaymentStatusPending, PaymentStatusAuthorized, PaymentStatusCaptured,
		PaymentStatusFailed, PaymentStatusRefunded, PaymentStatusPartiallyRefunded:
		return nil
	default:
		return fmt.Errorf("invalid payment status: %s", s)
	}
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusAuthorized, PaymentStatusCaptured, PaymentStatusFailed},
	PaymentStatusAuthorized: {PaymentStatusCaptured, PaymentStatusFailed},
	PaymentStatusCaptured:   {PaymentStatusPartiallyRefunded, PaymentStatusRefunded},
	// A retry opens a new gateway order on the same row, so the row
	// re-enters pending for the new attempt.
	PaymentStatusFailed:            {PaymentStatusPending},
	PaymentStatusPartiallyRefunded: {PaymentStatusPartiallyRefunded, PaymentStatusRefunded},
}

// CanTransitionTo reports whether the move from s to target is legal.
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	if s == target {
		// Webhook replays observe the state they already wrote.
		return true
	}
	for _, allowed := range paymentTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminalForRetry reports whether the retry engine should leave the
// payment alone.
func (s PaymentStatus) IsTerminalForRetry() bool {
	switch s {
	case PaymentStatusCaptured, PaymentStatusRefunded, PaymentStatusPartiallyRefunded:
		return true
	default:
		return false
	}
}

const (
	// DefaultMaxPaymentRetries bounds the exponential-backoff retry ladder.
	DefaultMaxPaymentRetries = 3
	// DefaultRetryBaseIntervalHours is the backoff base: the n-th retry is
	// scheduled base × 2^n after the previous attempt.
	DefaultRetryBaseIntervalHours = 24
)
