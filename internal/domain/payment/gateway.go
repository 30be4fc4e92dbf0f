package payment

import (
	"context"
	"time"
)

// GatewayOrderRequest asks the gateway to open an order a customer can pay
// against. Amounts are in the currency's minor unit because that is how the
// gateway wire format works; callers convert via types.Money.MinorUnits.
type GatewayOrderRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]interface{}
}

// GatewayOrder is the gateway's view of an order.
type GatewayOrder struct {
	ID          string
	AmountMinor int64
	Currency    string
	Receipt     string
	Status      string
}

// GatewayPaymentRecord is a gateway-side payment, fetched for reconciliation.
type GatewayPaymentRecord struct {
	ID          string
	OrderID     string
	Status      string
	AmountMinor int64
	Currency    string
	Method      string
	CreatedAt   time.Time
}

// GatewayRefund is the gateway's view of a refund.
type GatewayRefund struct {
	ID          string
	PaymentID   string
	AmountMinor int64
	Status      string
}

// Gateway is the payment-gateway port. One adapter is wired per deployment;
// the port keeps the seam for another provider.
type Gateway interface {
	Name() string
	CreateOrder(ctx context.Context, req *GatewayOrderRequest) (*GatewayOrder, error)
	FetchOrder(ctx context.Context, orderID string) (*GatewayOrder, error)
	CreateRefund(ctx context.Context, gatewayPaymentID string, amountMinor int64, notes map[string]interface{}) (*GatewayRefund, error)
	FetchPayments(ctx context.Context, from, to time.Time, limit int) ([]*GatewayPaymentRecord, error)
	VerifyWebhookSignature(payload []byte, signature string) error
}
