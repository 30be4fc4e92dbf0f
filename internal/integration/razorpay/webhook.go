package razorpay

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	ierr "github.com/meterline/meterline/internal/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventType is the webhook event name.
type EventType string

const (
	EventPaymentAuthorized EventType = "payment.authorized"
	EventPaymentCaptured   EventType = "payment.captured"
	EventPaymentFailed     EventType = "payment.failed"
	EventRefundProcessed   EventType = "refund.processed"
	EventRefundFailed      EventType = "refund.failed"
)

// WebhookEvent is the envelope Razorpay posts to the webhook endpoint.
type WebhookEvent struct {
	Entity    string         `json:"entity"`
	AccountID string         `json:"account_id"`
	Event     EventType      `json:"event"`
	Contains  []string       `json:"contains"`
	Payload   WebhookPayload `json:"payload"`
	CreatedAt int64          `json:"created_at"`
}

// WebhookPayload carries the entity the event is about. Payment events fill
// Payment; refund events fill Refund (and usually Payment as well).
type WebhookPayload struct {
	Payment *PaymentWrapper `json:"payment,omitempty"`
	Refund  *RefundWrapper  `json:"refund,omitempty"`
}

type PaymentWrapper struct {
	Entity PaymentEntity `json:"entity"`
}

type RefundWrapper struct {
	Entity RefundEntity `json:"entity"`
}

// PaymentEntity is the gateway payment inside a webhook payload.
type PaymentEntity struct {
	ID               string        `json:"id"`
	Entity           string        `json:"entity"`
	Amount           int64         `json:"amount"` // minor units
	Currency         string        `json:"currency"`
	Status           string        `json:"status"` // created, authorized, captured, refunded, failed
	OrderID          string        `json:"order_id"`
	Method           string        `json:"method"`
	Description      string        `json:"description"`
	AmountRefunded   int64         `json:"amount_refunded"`
	Refunded         bool          `json:"refunded"`
	Captured         bool          `json:"captured"`
	Email            string        `json:"email"`
	Contact          string        `json:"contact"`
	ErrorCode        string        `json:"error_code"`
	ErrorDescription string        `json:"error_description"`
	Notes            FlexibleNotes `json:"notes"`
	CreatedAt        int64         `json:"created_at"`
}

// RefundEntity is the gateway refund inside a webhook payload.
type RefundEntity struct {
	ID        string        `json:"id"`
	Entity    string        `json:"entity"`
	Amount    int64         `json:"amount"` // minor units
	Currency  string        `json:"currency"`
	PaymentID string        `json:"payment_id"`
	Status    string        `json:"status"` // pending, processed, failed
	Notes     FlexibleNotes `json:"notes"`
	CreatedAt int64         `json:"created_at"`
}

// FlexibleNotes handles both array and object formats from Razorpay.
// Razorpay sometimes sends empty array [] instead of empty object {}.
type FlexibleNotes map[string]interface{}

// UnmarshalJSON implements custom unmarshaling to handle both [] and {} formats
func (fn *FlexibleNotes) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err == nil {
		*fn = m
		return nil
	}

	var arr []interface{}
	if err := json.Unmarshal(data, &arr); err == nil {
		*fn = make(map[string]interface{})
		return nil
	}

	return fmt.Errorf("notes must be either object or array")
}

// ParseWebhookEvent decodes a raw webhook body. Call after signature
// verification; a body that fails to decode is a permanent reject.
func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Malformed webhook payload").
			Mark(ierr.ErrValidation)
	}
	if event.Event == "" {
		return nil, ierr.NewError("webhook event name missing").
			WithHint("Malformed webhook payload").
			Mark(ierr.ErrValidation)
	}
	return &event, nil
}
