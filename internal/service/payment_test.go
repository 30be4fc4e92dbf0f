package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/domain/exchangerate"
	"github.com/meterline/meterline/internal/domain/invoice"
	"github.com/meterline/meterline/internal/domain/organisation"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/integration/razorpay"
	"github.com/meterline/meterline/internal/testutil"
	"github.com/meterline/meterline/internal/types"
)

type PaymentServiceSuite struct {
	testutil.BaseServiceTestSuite
	service PaymentService
}

func TestPaymentService(t *testing.T) {
	suite.Run(t, new(PaymentServiceSuite))
}

func (s *PaymentServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewPaymentService(newTestParams(&s.BaseServiceTestSuite))

	org := organisation.New("Acme Robotics", "INR")
	org.ID = testutil.TestOrganisationID
	s.Require().NoError(s.GetStores().OrganisationRepo.Create(s.GetContext(), org))
}

// seedFinalizedInvoice writes an invoice straight into the store; payment
// tests exercise collection, not generation.
func (s *PaymentServiceSuite) seedFinalizedInvoice(month int, total, currency string) *invoice.Invoice {
	inv := invoice.New(testutil.TestOrganisationID,
		fmt.Sprintf("INV-2026%02d-0001", month), currency, month, 2026)
	inv.Subtotal = decimal.RequireFromString(total)
	inv.Total = decimal.RequireFromString(total)
	s.Require().NoError(s.GetStores().InvoiceRepo.CreateWithLineItems(s.GetContext(), inv))
	s.Require().NoError(s.GetStores().InvoiceRepo.UpdateStatus(
		s.GetContext(), inv.ID, types.InvoiceStatusFinalized, time.Now().UTC()))
	inv.InvoiceStatus = types.InvoiceStatusFinalized
	return inv
}

func (s *PaymentServiceSuite) createOrder(invoiceID string) *dto.CreatePaymentOrderResponse {
	resp, err := s.service.CreateOrder(s.GetContext(), &dto.CreatePaymentOrderRequest{InvoiceID: invoiceID})
	s.Require().NoError(err)
	return resp
}

func (s *PaymentServiceSuite) signedPaymentEvent(event razorpay.EventType, entity razorpay.PaymentEntity, createdAt int64) ([]byte, string) {
	payload, err := json.Marshal(&razorpay.WebhookEvent{
		Entity:    "event",
		Event:     event,
		CreatedAt: createdAt,
		Payload: razorpay.WebhookPayload{
			Payment: &razorpay.PaymentWrapper{Entity: entity},
		},
	})
	s.Require().NoError(err)
	return payload, s.GetGateway().Sign(payload)
}

func (s *PaymentServiceSuite) TestCreateOrderOpensGatewayOrder() {
	inv := s.seedFinalizedInvoice(3, "500.00", "INR")

	resp := s.createOrder(inv.ID)
	s.Equal("created", resp.Status)
	s.Equal("order_fake_001", resp.GatewayOrderID)
	s.Equal(int64(50000), resp.AmountMinor)
	s.Equal("INR", resp.Currency)
	s.Equal(1, s.GetGateway().CreateOrderCalls)

	p, err := s.GetStores().PaymentRepo.Get(s.GetContext(), resp.PaymentID)
	s.Require().NoError(err)
	s.Equal(types.PaymentStatusPending, p.Status)
	s.Equal(inv.ID, p.InvoiceID)
	s.Equal(3, p.MaxRetries)
	s.True(p.Amount.Equal(decimal.RequireFromString("500.00")))
}

func (s *PaymentServiceSuite) TestCreateOrderReturnsOpenOrder() {
	inv := s.seedFinalizedInvoice(3, "500.00", "INR")

	first := s.createOrder(inv.ID)
	second := s.createOrder(inv.ID)

	s.Equal("existing", second.Status)
	s.Equal(first.PaymentID, second.PaymentID)
	s.Equal(first.GatewayOrderID, second.GatewayOrderID)
	s.Equal(1, s.GetGateway().CreateOrderCalls, "no second gateway order")
}

func (s *PaymentServiceSuite) TestCreateOrderRequiresPayableInvoice() {
	draft := invoice.New(testutil.TestOrganisationID, "INV-202603-0001", "INR", 3, 2026)
	draft.Total = decimal.NewFromInt(100)
	s.Require().NoError(s.GetStores().InvoiceRepo.CreateWithLineItems(s.GetContext(), draft))

	_, err := s.service.CreateOrder(s.GetContext(), &dto.CreatePaymentOrderRequest{InvoiceID: draft.ID})
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *PaymentServiceSuite) TestCreateOrderRejectsZeroTotal() {
	inv := s.seedFinalizedInvoice(3, "0", "INR")

	_, err := s.service.CreateOrder(s.GetContext(), &dto.CreatePaymentOrderRequest{InvoiceID: inv.ID})
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *PaymentServiceSuite) TestCreateOrderWhenPaymentsDisabled() {
	params := newTestParams(&s.BaseServiceTestSuite)
	params.Gateway = nil
	svc := NewPaymentService(params)

	inv := s.seedFinalizedInvoice(3, "500.00", "INR")
	_, err := svc.CreateOrder(s.GetContext(), &dto.CreatePaymentOrderRequest{InvoiceID: inv.ID})
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *PaymentServiceSuite) TestCreateOrderConvertsUnsupportedCurrency() {
	inv := s.seedFinalizedInvoice(3, "100", "EUR")

	rate := exchangerate.New("EUR", "INR", decimal.NewFromInt(90),
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "test")
	s.Require().NoError(s.GetStores().ExchangeRateRepo.Create(s.GetContext(), rate))

	resp := s.createOrder(inv.ID)
	s.Equal("INR", resp.Currency)
	s.Equal(int64(900000), resp.AmountMinor)

	p, err := s.GetStores().PaymentRepo.Get(s.GetContext(), resp.PaymentID)
	s.Require().NoError(err)
	s.True(p.Amount.Equal(decimal.NewFromInt(9000)))
	s.Equal("100", p.Notes["original_amount"])
	s.Equal("EUR", p.Notes["original_currency"])
}

func (s *PaymentServiceSuite) TestWebhookRejectsBadSignature() {
	inv := s.seedFinalizedInvoice(3, "500.00", "INR")
	order := s.createOrder(inv.ID)

	payload, _ := s.signedPaymentEvent(razorpay.EventPaymentCaptured, razorpay.PaymentEntity{
		ID:      "pay_fake_001",
		OrderID: order.GatewayOrderID,
	}, time.Now().Unix())

	_, err := s.service.HandleWebhook(s.GetContext(), payload, "deadbeef")
	s.Error(err)
	s.True(ierr.Is(err, ierr.ErrSignatureVerification))

	p, err := s.GetStores().PaymentRepo.Get(s.GetContext(), order.PaymentID)
	s.Require().NoError(err)
	s.Equal(types.PaymentStatusPending, p.Status)
}

func (s *PaymentServiceSuite) TestWebhookCapturedMarksPaymentAndInvoicePaid() {
	inv := s.seedFinalizedInvoice(3, "500.00", "INR")
	order := s.createOrder(inv.ID)

	capturedAt := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)
	payload, sig := s.signedPaymentEvent(razorpay.EventPaymentCaptured, razorpay.PaymentEntity{
		ID:       "pay_fake_001",
		OrderID:  order.GatewayOrderID,
		Amount:   order.AmountMinor,
		Currency: "INR",
		Method:   "upi",
	}, capturedAt.Unix())

	resp, err := s.service.HandleWebhook(s.GetContext(), payload, sig)
	s.NoError(err)
	s.Equal("processed", resp.Status)
	s.Equal("payment.captured", resp.Event)

	p, err := s.GetStores().PaymentRepo.Get(s.GetContext(), order.PaymentID)
	s.Require().NoError(err)
	s.Equal(types.PaymentStatusCaptured, p.Status)
	s.Require().NotNil(p.GatewayPaymentID)
	s.Equal("pay_fake_001", *p.GatewayPaymentID)
	s.Require().NotNil(p.Method)
	s.Equal("upi", *p.Method)
	s.Require().NotNil(p.PaidAt)
	s.True(p.PaidAt.Equal(capturedAt), "gateway clock wins for paid_at")

	paid, err := s.GetStores().InvoiceRepo.Get(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusPaid, paid.InvoiceStatus)
	s.NotNil(paid.PaidAt)
}

func (s *PaymentServiceSuite) TestWebhookReplayLeavesNoTrace() {
	inv := s.seedFinalizedInvoice(3, "500.00", "INR")
	order := s.createOrder(inv.ID)

	payload, sig := s.signedPaymentEvent(razorpay.EventPaymentCaptured, razorpay.PaymentEntity{
		ID:      "pay_fake_001",
		OrderID: order.GatewayOrderID,
	}, time.Now().Unix())

	first, err := s.service.HandleWebhook(s.GetContext(), payload, sig)
	s.Require().NoError(err)
	s.Equal("processed", first.Status)

	auditBefore := len(s.GetStores().AuditLogRepo.(*testutil.InMemoryAuditLogStore).Entries())

	second, err := s.service.HandleWebhook(s.GetContext(), payload, sig)
	s.NoError(err)
	s.Equal("replayed", second.Status)

	auditAfter := len(s.GetStores().AuditLogRepo.(*testutil.InMemoryAuditLogStore).Entries())
	s.Equal(auditBefore, auditAfter, "replay writes nothing")

	paid, err := s.GetStores().InvoiceRepo.Get(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusPaid, paid.InvoiceStatus)
}

func (s *PaymentServiceSuite) TestWebhookAuthorizedThenCaptured() {
	inv := s.seedFinalizedInvoice(3, "500.00", "INR")
	order := s.createOrder(inv.ID)

	entity := razorpay.PaymentEntity{ID: "pay_fake_001", OrderID: order.GatewayOrderID}

	payload, sig := s.signedPaymentEvent(razorpay.EventPaymentAuthorized, entity, time.Now().Unix())
	resp, err := s.service.HandleWebhook(s.GetContext(), payload, sig)
	s.Require().NoError(err)
	s.Equal("processed", resp.Status)

	p, err := s.GetStores().PaymentRepo.Get(s.GetContext(), order.PaymentID)
	s.Require().NoError(err)
	s.Equal(types.PaymentStatusAuthorized, p.Status)
	s.Nil(p.PaidAt)

	payload, sig = s.signedPaymentEvent(razorpay.EventPaymentCaptured, entity, time.Now().Unix())
	resp, err = s.service.HandleWebhook(s.GetContext(), payload, sig)
	s.Require().NoError(err)
	s.Equal("processed", resp.Status)

	p, err = s.GetStores().PaymentRepo.Get(s.GetContext(), order.PaymentID)
	s.Require().NoError(err)
	s.Equal(types.PaymentStatusCaptured, p.Status)
}

func (s *PaymentServiceSuite) TestWebhookOutOfOrderDeliveryIsStale() {
	inv := s.seedFinalizedInvoice(3, "500.00", "INR")
	order := s.createOrder(inv.ID)

	entity := razorpay.PaymentEntity{ID: "pay_fake_001", OrderID: order.GatewayOrderID}

	payload, sig := s.signedPaymentEvent(razorpay.EventPaymentCaptured, entity, time.Now().Unix())
	_, err := s.service.HandleWebhook(s.GetContext(), payload, sig)
	s.Require().NoError(err)

	// The authorized event arrives after capture; the row must not move back.
	payload, sig = s.signedPaymentEvent(razorpay.EventPaymentAuthorized, entity, time.Now().Unix())
	resp, err := s.service.HandleWebhook(s.GetContext(), payload, sig)
	s.NoError(err)
	s.Equal("replayed", resp.Status)

	p, err := s.GetStores().PaymentRepo.Get(s.GetContext(), order.PaymentID)
	s.Require().NoError(err)
	s.Equal(types.PaymentStatusCaptured, p.Status)
}

func (s *PaymentServiceSuite) TestWebhookFailedArmsRetry() {
	inv := s.seedFinalizedInvoice(3, "500.00", "INR")
	order := s.createOrder(inv.ID)

	payload, sig := s.signedPaymentEvent(razorpay.EventPaymentFailed, razorpay.PaymentEntity{
		ID:               "pay_fake_001",
		OrderID:          order.GatewayOrderID,
		ErrorCode:        "BAD_REQUEST_ERROR",
		ErrorDescription: "card declined",
	}, time.Now().Unix())

	resp, err := s.service.HandleWebhook(s.GetContext(), payload, sig)
	s.NoError(err)
	s.Equal("processed", resp.Status)

	p, err := s.GetStores().PaymentRepo.Get(s.GetContext(), order.PaymentID)
	s.Require().NoError(err)
	s.Equal(types.PaymentStatusFailed, p.Status)
	s.Equal("BAD_REQUEST_ERROR", p.Notes["last_error_code"])
	s.Require().NotNil(p.NextRetryAt)
	s.WithinDuration(time.Now().UTC().Add(24*time.Hour), *p.NextRetryAt, 5*time.Second)

	unpaid, err := s.GetStores().InvoiceRepo.Get(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusFinalized, unpaid.InvoiceStatus)
}

func (s *PaymentServiceSuite) TestWebhookUnhandledEventIgnored() {
	payload, err := json.Marshal(&razorpay.WebhookEvent{
		Entity: "event",
		Event:  "payment.downtime.started",
	})
	s.Require().NoError(err)

	resp, werr := s.service.HandleWebhook(s.GetContext(), payload, s.GetGateway().Sign(payload))
	s.NoError(werr)
	s.Equal("ignored", resp.Status)
}

func (s *PaymentServiceSuite) TestWebhookUnknownOrderFails() {
	payload, sig := s.signedPaymentEvent(razorpay.EventPaymentCaptured, razorpay.PaymentEntity{
		ID:      "pay_unknown",
		OrderID: "order_unknown",
	}, time.Now().Unix())

	_, err := s.service.HandleWebhook(s.GetContext(), payload, sig)
	s.Error(err)
	s.True(ierr.IsNotFound(err))
}

func (s *PaymentServiceSuite) TestSweepPendingFailsStaleOrders() {
	staleInv := s.seedFinalizedInvoice(3, "500.00", "INR")
	freshInv := s.seedFinalizedInvoice(4, "300.00", "INR")
	stale := s.createOrder(staleInv.ID)
	fresh := s.createOrder(freshInv.ID)

	p, err := s.GetStores().PaymentRepo.Get(s.GetContext(), stale.PaymentID)
	s.Require().NoError(err)
	p.CreatedAt = time.Now().UTC().Add(-25 * time.Hour)

	swept, err := s.service.SweepPending(s.GetContext())
	s.NoError(err)
	s.Equal(1, swept)

	failed, err := s.GetStores().PaymentRepo.Get(s.GetContext(), stale.PaymentID)
	s.Require().NoError(err)
	s.Equal(types.PaymentStatusFailed, failed.Status)
	s.Equal("pending ttl expired", failed.Notes["failure_reason"])
	s.NotNil(failed.NextRetryAt)

	untouched, err := s.GetStores().PaymentRepo.Get(s.GetContext(), fresh.PaymentID)
	s.Require().NoError(err)
	s.Equal(types.PaymentStatusPending, untouched.Status)
}
