package testutil

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/meterline/meterline/internal/domain/payment"
	ierr "github.com/meterline/meterline/internal/errors"
)

var _ payment.Gateway = (*FakeGateway)(nil)

// TestWebhookSecret signs webhook payloads in tests. The fake verifies with
// the same HMAC-SHA256 hex scheme the live adapter uses.
const TestWebhookSecret = "whsec_test_secret"

// FakeGateway is an in-memory payment gateway. It mints order and refund IDs
// the way the live gateway would and serves scripted payment records to the
// reconciliation fetch. Fail* hooks make the next call of that kind return
// the given error once.
type FakeGateway struct {
	mu sync.Mutex

	orders  map[string]*payment.GatewayOrder
	refunds map[string]*payment.GatewayRefund
	records []*payment.GatewayPaymentRecord

	orderSeq  int
	refundSeq int

	CreateOrderCalls   int
	CreateRefundCalls  int
	FetchPaymentsCalls int

	FailCreateOrder  error
	FailCreateRefund error
	FailFetch        error

	secret string
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		orders:  make(map[string]*payment.GatewayOrder),
		refunds: make(map[string]*payment.GatewayRefund),
		records: make([]*payment.GatewayPaymentRecord, 0),
		secret:  TestWebhookSecret,
	}
}

func (g *FakeGateway) Name() string {
	return "razorpay"
}

func (g *FakeGateway) CreateOrder(_ context.Context, req *payment.GatewayOrderRequest) (*payment.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.CreateOrderCalls++
	if g.FailCreateOrder != nil {
		err := g.FailCreateOrder
		g.FailCreateOrder = nil
		return nil, err
	}

	g.orderSeq++
	order := &payment.GatewayOrder{
		ID:          fmt.Sprintf("order_fake_%03d", g.orderSeq),
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Receipt:     req.Receipt,
		Status:      "created",
	}
	g.orders[order.ID] = order

	out := *order
	return &out, nil
}

func (g *FakeGateway) FetchOrder(_ context.Context, orderID string) (*payment.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	order, ok := g.orders[orderID]
	if !ok {
		return nil, ierr.NewError("order not found").
			WithReportableDetails(map[string]interface{}{"gateway_order_id": orderID}).
			Mark(ierr.ErrNotFound)
	}
	out := *order
	return &out, nil
}

// CreateRefund mints a pending refund; settlement arrives on the webhook,
// like the live gateway.
func (g *FakeGateway) CreateRefund(_ context.Context, gatewayPaymentID string, amountMinor int64, notes map[string]interface{}) (*payment.GatewayRefund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.CreateRefundCalls++
	if g.FailCreateRefund != nil {
		err := g.FailCreateRefund
		g.FailCreateRefund = nil
		return nil, err
	}

	g.refundSeq++
	refund := &payment.GatewayRefund{
		ID:          fmt.Sprintf("rfnd_fake_%03d", g.refundSeq),
		PaymentID:   gatewayPaymentID,
		AmountMinor: amountMinor,
		Status:      "pending",
	}
	g.refunds[refund.ID] = refund

	out := *refund
	return &out, nil
}

// FetchPayments returns the scripted records created inside the window,
// oldest first. Razorpay's list filter is inclusive on both ends.
func (g *FakeGateway) FetchPayments(_ context.Context, from, to time.Time, limit int) ([]*payment.GatewayPaymentRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.FetchPaymentsCalls++
	if g.FailFetch != nil {
		err := g.FailFetch
		g.FailFetch = nil
		return nil, err
	}

	matched := make([]*payment.GatewayPaymentRecord, 0)
	for _, rec := range g.records {
		if rec.CreatedAt.Before(from) || rec.CreatedAt.After(to) {
			continue
		}
		out := *rec
		matched = append(matched, &out)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// VerifyWebhookSignature checks the HMAC-SHA256 hex signature over the raw
// body, mirroring the live adapter.
func (g *FakeGateway) VerifyWebhookSignature(payload []byte, signature string) error {
	mac := hmac.New(sha256.New, []byte(g.secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ierr.NewError("webhook signature verification failed").
			WithHint("Invalid webhook signature").
			Mark(ierr.ErrSignatureVerification)
	}
	return nil
}

// Sign produces a valid webhook signature for the payload.
func (g *FakeGateway) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(g.secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// AddPaymentRecord scripts a gateway-side payment for FetchPayments.
func (g *FakeGateway) AddPaymentRecord(rec *payment.GatewayPaymentRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records = append(g.records, rec)
}

// Orders returns a snapshot of the orders created so far.
func (g *FakeGateway) Orders() []*payment.GatewayOrder {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*payment.GatewayOrder, 0, len(g.orders))
	for _, o := range g.orders {
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Refunds returns a snapshot of the refunds created so far.
func (g *FakeGateway) Refunds() []*payment.GatewayRefund {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*payment.GatewayRefund, 0, len(g.refunds))
	for _, r := range g.refunds {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Clear resets minted entities, scripted records and counters between tests.
func (g *FakeGateway) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.orders = make(map[string]*payment.GatewayOrder)
	g.refunds = make(map[string]*payment.GatewayRefund)
	g.records = g.records[:0]
	g.orderSeq = 0
	g.refundSeq = 0
	g.CreateOrderCalls = 0
	g.CreateRefundCalls = 0
	g.FetchPaymentsCalls = 0
	g.FailCreateOrder = nil
	g.FailCreateRefund = nil
	g.FailFetch = nil
}
