package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/domain/invoice"
	"github.com/meterline/meterline/internal/domain/organisation"
	"github.com/meterline/meterline/internal/domain/payment"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/integration/razorpay"
	"github.com/meterline/meterline/internal/testutil"
	"github.com/meterline/meterline/internal/types"
)

type RefundServiceSuite struct {
	testutil.BaseServiceTestSuite
	refunds  RefundService
	payments PaymentService
}

func TestRefundService(t *testing.T) {
	suite.Run(t, new(RefundServiceSuite))
}

func (s *RefundServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := newTestParams(&s.BaseServiceTestSuite)
	s.refunds = NewRefundService(params)
	s.payments = NewPaymentService(params)

	org := organisation.New("Acme Robotics", "INR")
	org.ID = testutil.TestOrganisationID
	s.Require().NoError(s.GetStores().OrganisationRepo.Create(s.GetContext(), org))
}

// capturedPayment drives the collection flow end to end: finalized invoice,
// gateway order, captured webhook. Months keep billing periods apart.
func (s *RefundServiceSuite) capturedPayment(month int, total string) *payment.Payment {
	inv := invoice.New(testutil.TestOrganisationID,
		fmt.Sprintf("INV-2026%02d-0001", month), "INR", month, 2026)
	inv.Subtotal = decimal.RequireFromString(total)
	inv.Total = decimal.RequireFromString(total)
	s.Require().NoError(s.GetStores().InvoiceRepo.CreateWithLineItems(s.GetContext(), inv))
	s.Require().NoError(s.GetStores().InvoiceRepo.UpdateStatus(
		s.GetContext(), inv.ID, types.InvoiceStatusFinalized, time.Now().UTC()))

	order, err := s.payments.CreateOrder(s.GetContext(), &dto.CreatePaymentOrderRequest{InvoiceID: inv.ID})
	s.Require().NoError(err)

	payload, err := json.Marshal(&razorpay.WebhookEvent{
		Entity: "event",
		Event:  razorpay.EventPaymentCaptured,
		Payload: razorpay.WebhookPayload{
			Payment: &razorpay.PaymentWrapper{Entity: razorpay.PaymentEntity{
				ID:      fmt.Sprintf("pay_fake_2026%02d", month),
				OrderID: order.GatewayOrderID,
			}},
		},
		CreatedAt: time.Now().Unix(),
	})
	s.Require().NoError(err)
	resp, err := s.payments.HandleWebhook(s.GetContext(), payload, s.GetGateway().Sign(payload))
	s.Require().NoError(err)
	s.Require().Equal("processed", resp.Status)

	p, err := s.GetStores().PaymentRepo.Get(s.GetContext(), order.PaymentID)
	s.Require().NoError(err)
	return p
}

// newRequest models a separate API call. The idempotency key folds in the
// request id, so only retries within one request replay.
func (s *RefundServiceSuite) newRequest(id string) context.Context {
	return types.SetRequestID(s.GetContext(), id)
}

func (s *RefundServiceSuite) deliverRefundEvent(event razorpay.EventType, gatewayRefundID, gatewayPaymentID string) *dto.WebhookResponse {
	payload, err := json.Marshal(&razorpay.WebhookEvent{
		Entity: "event",
		Event:  event,
		Payload: razorpay.WebhookPayload{
			Refund: &razorpay.RefundWrapper{Entity: razorpay.RefundEntity{
				ID:        gatewayRefundID,
				PaymentID: gatewayPaymentID,
			}},
		},
		CreatedAt: time.Now().Unix(),
	})
	s.Require().NoError(err)
	resp, werr := s.payments.HandleWebhook(s.GetContext(), payload, s.GetGateway().Sign(payload))
	s.Require().NoError(werr)
	return resp
}

func (s *RefundServiceSuite) TestCreateRefundReturnsFullAmount() {
	p := s.capturedPayment(3, "500.00")

	resp, err := s.refunds.CreateRefund(s.GetContext(), &dto.CreateRefundRequest{
		PaymentID: p.ID,
		Reason:    "customer request",
	})
	s.Require().NoError(err)
	s.Equal("created", resp.Status)
	s.Equal(types.RefundTypeFull, resp.Type)
	s.Equal(types.RefundStatusPending, resp.Refund.Status)
	s.True(resp.Amount.Equal(decimal.RequireFromString("500.00")))
	s.Equal("INR", resp.Currency)
	s.Regexp(`^REF-\d{6}-0001$`, resp.RefundNumber)
	s.Require().NotNil(resp.GatewayRefundID)
	s.Equal("rfnd_fake_001", *resp.GatewayRefundID)
	s.Equal(1, s.GetGateway().CreateRefundCalls)
}

func (s *RefundServiceSuite) TestCreateRefundPartialAmount() {
	p := s.capturedPayment(3, "500.00")

	resp, err := s.refunds.CreateRefund(s.GetContext(), &dto.CreateRefundRequest{
		PaymentID: p.ID,
		Amount:    lo.ToPtr(decimal.NewFromInt(200)),
		Reason:    "partial credit",
	})
	s.Require().NoError(err)
	s.Equal(types.RefundTypePartial, resp.Type)
	s.True(resp.Amount.Equal(decimal.NewFromInt(200)))
}

func (s *RefundServiceSuite) TestCreateRefundRejectsOverage() {
	p := s.capturedPayment(3, "500.00")

	_, err := s.refunds.CreateRefund(s.GetContext(), &dto.CreateRefundRequest{
		PaymentID: p.ID,
		Amount:    lo.ToPtr(decimal.NewFromInt(600)),
		Reason:    "customer request",
	})
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
	s.Equal(0, s.GetGateway().CreateRefundCalls)
}

func (s *RefundServiceSuite) TestPendingRefundsReserveHeadroom() {
	p := s.capturedPayment(3, "500.00")

	_, err := s.refunds.CreateRefund(s.newRequest("req_a"), &dto.CreateRefundRequest{
		PaymentID: p.ID,
		Amount:    lo.ToPtr(decimal.NewFromInt(300)),
		Reason:    "first slice",
	})
	s.Require().NoError(err)

	// Still pending, yet it must already count against the headroom.
	_, err = s.refunds.CreateRefund(s.newRequest("req_b"), &dto.CreateRefundRequest{
		PaymentID: p.ID,
		Amount:    lo.ToPtr(decimal.NewFromInt(300)),
		Reason:    "second slice",
	})
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))

	rest, err := s.refunds.CreateRefund(s.newRequest("req_c"), &dto.CreateRefundRequest{
		PaymentID: p.ID,
		Amount:    lo.ToPtr(decimal.NewFromInt(200)),
		Reason:    "remainder",
	})
	s.Require().NoError(err)
	s.Equal(types.RefundTypeFull, rest.Type, "exactly the remainder closes the payment")

	_, err = s.refunds.CreateRefund(s.newRequest("req_d"), &dto.CreateRefundRequest{
		PaymentID: p.ID,
		Amount:    lo.ToPtr(decimal.NewFromInt(1)),
		Reason:    "nothing left",
	})
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *RefundServiceSuite) TestCreateRefundReplayReturnsExisting() {
	p := s.capturedPayment(3, "500.00")

	req := &dto.CreateRefundRequest{
		PaymentID: p.ID,
		Amount:    lo.ToPtr(decimal.NewFromInt(200)),
		Reason:    "customer request",
	}
	first, err := s.refunds.CreateRefund(s.GetContext(), req)
	s.Require().NoError(err)
	s.Equal("created", first.Status)

	second, err := s.refunds.CreateRefund(s.GetContext(), req)
	s.Require().NoError(err)
	s.Equal("existing", second.Status)
	s.Equal(first.ID, second.ID)
	s.Equal(1, s.GetGateway().CreateRefundCalls, "no duplicate gateway refund")
}

func (s *RefundServiceSuite) TestCreateRefundRequiresCapturedPayment() {
	inv := invoice.New(testutil.TestOrganisationID, "INV-202603-0001", "INR", 3, 2026)
	inv.Total = decimal.NewFromInt(100)
	s.Require().NoError(s.GetStores().InvoiceRepo.CreateWithLineItems(s.GetContext(), inv))
	s.Require().NoError(s.GetStores().InvoiceRepo.UpdateStatus(
		s.GetContext(), inv.ID, types.InvoiceStatusFinalized, time.Now().UTC()))
	order, err := s.payments.CreateOrder(s.GetContext(), &dto.CreatePaymentOrderRequest{InvoiceID: inv.ID})
	s.Require().NoError(err)

	_, err = s.refunds.CreateRefund(s.GetContext(), &dto.CreateRefundRequest{
		PaymentID: order.PaymentID,
		Reason:    "too early",
	})
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *RefundServiceSuite) TestCreateRefundRequiresGatewayPaymentID() {
	p := payment.New(testutil.TestOrganisationID, "inv_manual", "order_manual", decimal.NewFromInt(100), "INR", 3)
	p.Status = types.PaymentStatusCaptured
	s.Require().NoError(s.GetStores().PaymentRepo.Create(s.GetContext(), p))

	_, err := s.refunds.CreateRefund(s.GetContext(), &dto.CreateRefundRequest{
		PaymentID: p.ID,
		Reason:    "customer request",
	})
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *RefundServiceSuite) TestCreateRefundRejectsNonPositiveAmount() {
	p := s.capturedPayment(3, "500.00")

	_, err := s.refunds.CreateRefund(s.GetContext(), &dto.CreateRefundRequest{
		PaymentID: p.ID,
		Amount:    lo.ToPtr(decimal.Zero),
		Reason:    "customer request",
	})
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *RefundServiceSuite) TestRefundWebhookSettlesPartialThenFull() {
	p := s.capturedPayment(3, "500.00")

	first, err := s.refunds.CreateRefund(s.GetContext(), &dto.CreateRefundRequest{
		PaymentID: p.ID,
		Amount:    lo.ToPtr(decimal.NewFromInt(200)),
		Reason:    "partial credit",
	})
	s.Require().NoError(err)

	resp := s.deliverRefundEvent(razorpay.EventRefundProcessed, *first.GatewayRefundID, *p.GatewayPaymentID)
	s.Equal("processed", resp.Status)

	settled, err := s.GetStores().PaymentRepo.Get(s.GetContext(), p.ID)
	s.Require().NoError(err)
	s.Equal(types.PaymentStatusPartiallyRefunded, settled.Status)

	r, err := s.GetStores().RefundRepo.Get(s.GetContext(), first.ID)
	s.Require().NoError(err)
	s.Equal(types.RefundStatusProcessed, r.Status)

	rest, err := s.refunds.CreateRefund(s.GetContext(), &dto.CreateRefundRequest{
		PaymentID: p.ID,
		Reason:    "close it out",
	})
	s.Require().NoError(err)
	s.True(rest.Amount.Equal(decimal.NewFromInt(300)))

	resp = s.deliverRefundEvent(razorpay.EventRefundProcessed, *rest.GatewayRefundID, *p.GatewayPaymentID)
	s.Equal("processed", resp.Status)

	settled, err = s.GetStores().PaymentRepo.Get(s.GetContext(), p.ID)
	s.Require().NoError(err)
	s.Equal(types.PaymentStatusRefunded, settled.Status)

	inv, err := s.GetStores().InvoiceRepo.Get(s.GetContext(), p.InvoiceID)
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusRefunded, inv.InvoiceStatus)
}

func (s *RefundServiceSuite) TestRefundWebhookReplayIsIdempotent() {
	p := s.capturedPayment(3, "500.00")

	r, err := s.refunds.CreateRefund(s.GetContext(), &dto.CreateRefundRequest{
		PaymentID: p.ID,
		Reason:    "customer request",
	})
	s.Require().NoError(err)

	resp := s.deliverRefundEvent(razorpay.EventRefundProcessed, *r.GatewayRefundID, *p.GatewayPaymentID)
	s.Equal("processed", resp.Status)

	resp = s.deliverRefundEvent(razorpay.EventRefundProcessed, *r.GatewayRefundID, *p.GatewayPaymentID)
	s.Equal("replayed", resp.Status)

	settled, err := s.GetStores().PaymentRepo.Get(s.GetContext(), p.ID)
	s.Require().NoError(err)
	s.Equal(types.PaymentStatusRefunded, settled.Status)
}

func (s *RefundServiceSuite) TestRefundWebhookUnknownRefundIgnored() {
	s.capturedPayment(3, "500.00")

	resp := s.deliverRefundEvent(razorpay.EventRefundProcessed, "rfnd_dashboard_001", "pay_fake_202603")
	s.Equal("ignored", resp.Status)
}

func (s *RefundServiceSuite) TestRefundWebhookFailedReleasesHeadroom() {
	p := s.capturedPayment(3, "500.00")

	r, err := s.refunds.CreateRefund(s.GetContext(), &dto.CreateRefundRequest{
		PaymentID: p.ID,
		Reason:    "customer request",
	})
	s.Require().NoError(err)

	resp := s.deliverRefundEvent(razorpay.EventRefundFailed, *r.GatewayRefundID, *p.GatewayPaymentID)
	s.Equal("processed", resp.Status)

	failed, err := s.GetStores().RefundRepo.Get(s.GetContext(), r.ID)
	s.Require().NoError(err)
	s.Equal(types.RefundStatusFailed, failed.Status)

	untouched, err := s.GetStores().PaymentRepo.Get(s.GetContext(), p.ID)
	s.Require().NoError(err)
	s.Equal(types.PaymentStatusCaptured, untouched.Status)

	// The failed row no longer reserves headroom; a second attempt covers
	// the whole amount again.
	retry, err := s.refunds.CreateRefund(s.newRequest("req_retry"), &dto.CreateRefundRequest{
		PaymentID: p.ID,
		Reason:    "second attempt",
	})
	s.Require().NoError(err)
	s.Equal("created", retry.Status)
	s.Equal(types.RefundTypeFull, retry.Type)
	s.True(retry.Amount.Equal(decimal.RequireFromString("500.00")))
	s.Equal(2, s.GetGateway().CreateRefundCalls)
}
