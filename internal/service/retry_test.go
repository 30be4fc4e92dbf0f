package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/domain/invoice"
	"github.com/meterline/meterline/internal/domain/organisation"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/integration/razorpay"
	"github.com/meterline/meterline/internal/testutil"
	"github.com/meterline/meterline/internal/types"
)

type RetryServiceSuite struct {
	testutil.BaseServiceTestSuite
	retries  RetryService
	payments PaymentService
}

func TestRetryService(t *testing.T) {
	suite.Run(t, new(RetryServiceSuite))
}

func (s *RetryServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := newTestParams(&s.BaseServiceTestSuite)
	s.retries = NewRetryService(params)
	s.payments = NewPaymentService(params)

	org := organisation.New("Acme Robotics", "INR")
	org.ID = testutil.TestOrganisationID
	s.Require().NoError(s.GetStores().OrganisationRepo.Create(s.GetContext(), org))
}

// failedPayment opens an order for a fresh invoice and fails it through the
// webhook, leaving the row on the first ladder slot.
func (s *RetryServiceSuite) failedPayment(month int, total string) string {
	inv := invoice.New(testutil.TestOrganisationID,
		fmt.Sprintf("INV-2026%02d-0001", month), "INR", month, 2026)
	inv.Subtotal = decimal.RequireFromString(total)
	inv.Total = decimal.RequireFromString(total)
	s.Require().NoError(s.GetStores().InvoiceRepo.CreateWithLineItems(s.GetContext(), inv))
	s.Require().NoError(s.GetStores().InvoiceRepo.UpdateStatus(
		s.GetContext(), inv.ID, types.InvoiceStatusFinalized, time.Now().UTC()))

	order, err := s.payments.CreateOrder(s.GetContext(), &dto.CreatePaymentOrderRequest{InvoiceID: inv.ID})
	s.Require().NoError(err)

	s.deliverFailure(order.GatewayOrderID, fmt.Sprintf("pay_fail_2026%02d_0", month))
	return order.PaymentID
}

// deliverFailure posts a payment.failed webhook for the given order. Every
// gateway attempt has its own payment entity id, so deliveries never collide
// on the dedup key.
func (s *RetryServiceSuite) deliverFailure(orderID, gatewayPaymentID string) {
	payload, err := json.Marshal(&razorpay.WebhookEvent{
		Entity: "event",
		Event:  razorpay.EventPaymentFailed,
		Payload: razorpay.WebhookPayload{
			Payment: &razorpay.PaymentWrapper{Entity: razorpay.PaymentEntity{
				ID:               gatewayPaymentID,
				OrderID:          orderID,
				ErrorCode:        "BAD_REQUEST_ERROR",
				ErrorDescription: "card declined",
			}},
		},
		CreatedAt: time.Now().Unix(),
	})
	s.Require().NoError(err)
	resp, werr := s.payments.HandleWebhook(s.GetContext(), payload, s.GetGateway().Sign(payload))
	s.Require().NoError(werr)
	s.Require().Equal("processed", resp.Status)
}

// dueNow pulls the next retry slot into the past.
func (s *RetryServiceSuite) dueNow(paymentID string) {
	p, err := s.GetStores().PaymentRepo.Get(s.GetContext(), paymentID)
	s.Require().NoError(err)
	p.NextRetryAt = lo.ToPtr(time.Now().UTC().Add(-time.Minute))
}

func (s *RetryServiceSuite) TestRunSkipsFutureSlots() {
	id := s.failedPayment(3, "500.00")

	stats, err := s.retries.Run(s.GetContext())
	s.NoError(err)
	s.Equal(0, stats.Attempted)

	p, err := s.GetStores().PaymentRepo.Get(s.GetContext(), id)
	s.Require().NoError(err)
	s.Equal(types.PaymentStatusFailed, p.Status)
	s.Equal(0, p.RetryCount)
	s.Equal(1, s.GetGateway().CreateOrderCalls)
}

func (s *RetryServiceSuite) TestRunRetriesDueFailedPayment() {
	id := s.failedPayment(3, "500.00")
	s.dueNow(id)

	stats, err := s.retries.Run(s.GetContext())
	s.NoError(err)
	s.Equal(1, stats.Attempted)
	s.Equal(1, stats.Succeeded)
	s.Equal(0, stats.Exhausted)

	p, err := s.GetStores().PaymentRepo.Get(s.GetContext(), id)
	s.Require().NoError(err)
	s.Equal(types.PaymentStatusPending, p.Status, "retry reopens the same row")
	s.Equal(1, p.RetryCount)
	s.Equal("order_fake_002", p.GatewayOrderID)
	s.Require().NotNil(p.NextRetryAt)
	s.WithinDuration(time.Now().UTC().Add(48*time.Hour), *p.NextRetryAt, 5*time.Second,
		"second slot doubles the base interval")
	s.NotNil(p.LastRetryAt)
	s.Require().Len(p.RetryHistory, 1)
	s.Equal(1, p.RetryHistory[0].Attempt)
	s.True(p.RetryHistory[0].Success)
	s.Equal("order_fake_002", p.RetryHistory[0].NewOrderID)
	s.Equal(2, s.GetGateway().CreateOrderCalls)
}

func (s *RetryServiceSuite) TestFailureAfterRetryKeepsLadderSlot() {
	id := s.failedPayment(3, "500.00")
	s.dueNow(id)

	_, err := s.retries.Run(s.GetContext())
	s.Require().NoError(err)

	p, err := s.GetStores().PaymentRepo.Get(s.GetContext(), id)
	s.Require().NoError(err)
	slot := *p.NextRetryAt

	s.deliverFailure(p.GatewayOrderID, "pay_fail_202603_1")

	p, err = s.GetStores().PaymentRepo.Get(s.GetContext(), id)
	s.Require().NoError(err)
	s.Equal(types.PaymentStatusFailed, p.Status)
	s.Equal(1, p.RetryCount)
	s.Require().NotNil(p.NextRetryAt)
	s.True(p.NextRetryAt.Equal(slot), "first-slot scheduling must not reset the ladder")
}

func (s *RetryServiceSuite) TestLadderExhaustionRaisesAlert() {
	id := s.failedPayment(3, "500.00")

	var stats *RetryStats
	for attempt := 1; attempt <= 3; attempt++ {
		s.dueNow(id)
		var err error
		stats, err = s.retries.Run(s.GetContext())
		s.Require().NoError(err)
		s.Require().Equal(1, stats.Attempted)

		p, err := s.GetStores().PaymentRepo.Get(s.GetContext(), id)
		s.Require().NoError(err)
		s.Require().Equal(attempt, p.RetryCount)

		s.deliverFailure(p.GatewayOrderID, fmt.Sprintf("pay_fail_202603_%d", attempt))
	}

	s.Equal(1, stats.Exhausted)

	p, err := s.GetStores().PaymentRepo.Get(s.GetContext(), id)
	s.Require().NoError(err)
	s.Equal(types.PaymentStatusFailed, p.Status)
	s.Equal(3, p.RetryCount)
	s.Nil(p.NextRetryAt, "no slot after the ladder is used up")

	sent := s.GetEmailChannel().Sent()
	s.Require().Len(sent, 1)
	s.Equal("payment retries exhausted", sent[0].RuleName)
	s.Len(s.GetWebhookChannel().Sent(), 1)

	status, err := s.retries.RetryStatus(s.GetContext(), id)
	s.Require().NoError(err)
	s.True(status.Exhausted)

	again, err := s.retries.Run(s.GetContext())
	s.NoError(err)
	s.Equal(0, again.Attempted)
}

func (s *RetryServiceSuite) TestRunConsumesSlotOnGatewayError() {
	id := s.failedPayment(3, "500.00")
	s.dueNow(id)
	s.GetGateway().FailCreateOrder = fmt.Errorf("gateway unavailable")

	stats, err := s.retries.Run(s.GetContext())
	s.NoError(err)
	s.Equal(1, stats.Attempted)
	s.Equal(1, stats.Failed)
	s.Equal(0, stats.Succeeded)

	p, err := s.GetStores().PaymentRepo.Get(s.GetContext(), id)
	s.Require().NoError(err)
	s.Equal(types.PaymentStatusFailed, p.Status)
	s.Equal(1, p.RetryCount, "the slot is consumed even when the gateway says no")
	s.Require().Len(p.RetryHistory, 1)
	s.False(p.RetryHistory[0].Success)
	s.Equal("gateway unavailable", p.RetryHistory[0].Error)
	s.Require().NotNil(p.NextRetryAt)
	s.WithinDuration(time.Now().UTC().Add(48*time.Hour), *p.NextRetryAt, 5*time.Second)
}

func (s *RetryServiceSuite) TestRetryPaymentOverridesSchedule() {
	id := s.failedPayment(3, "500.00")

	resp, err := s.retries.RetryPayment(s.GetContext(), id)
	s.Require().NoError(err)
	s.Equal(types.PaymentStatusPending, resp.Payment.Status)
	s.Equal(1, resp.Payment.RetryCount)
}

func (s *RetryServiceSuite) TestRetryPaymentRequiresFailedStatus() {
	inv := invoice.New(testutil.TestOrganisationID, "INV-202603-0001", "INR", 3, 2026)
	inv.Total = decimal.NewFromInt(100)
	s.Require().NoError(s.GetStores().InvoiceRepo.CreateWithLineItems(s.GetContext(), inv))
	s.Require().NoError(s.GetStores().InvoiceRepo.UpdateStatus(
		s.GetContext(), inv.ID, types.InvoiceStatusFinalized, time.Now().UTC()))
	order, err := s.payments.CreateOrder(s.GetContext(), &dto.CreatePaymentOrderRequest{InvoiceID: inv.ID})
	s.Require().NoError(err)

	_, err = s.retries.RetryPayment(s.GetContext(), order.PaymentID)
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *RetryServiceSuite) TestRetryPaymentExhaustedRejected() {
	id := s.failedPayment(3, "500.00")

	p, err := s.GetStores().PaymentRepo.Get(s.GetContext(), id)
	s.Require().NoError(err)
	p.RetryCount = p.MaxRetries

	_, err = s.retries.RetryPayment(s.GetContext(), id)
	s.Error(err)
	s.True(ierr.Is(err, ierr.ErrMaxRetriesExhausted))
}

func (s *RetryServiceSuite) TestRunSweepsStalePendingFirst() {
	inv := invoice.New(testutil.TestOrganisationID, "INV-202603-0001", "INR", 3, 2026)
	inv.Total = decimal.NewFromInt(100)
	s.Require().NoError(s.GetStores().InvoiceRepo.CreateWithLineItems(s.GetContext(), inv))
	s.Require().NoError(s.GetStores().InvoiceRepo.UpdateStatus(
		s.GetContext(), inv.ID, types.InvoiceStatusFinalized, time.Now().UTC()))
	order, err := s.payments.CreateOrder(s.GetContext(), &dto.CreatePaymentOrderRequest{InvoiceID: inv.ID})
	s.Require().NoError(err)

	p, err := s.GetStores().PaymentRepo.Get(s.GetContext(), order.PaymentID)
	s.Require().NoError(err)
	p.CreatedAt = time.Now().UTC().Add(-25 * time.Hour)

	stats, err := s.retries.Run(s.GetContext())
	s.NoError(err)
	s.Equal(1, stats.Swept)
	s.Equal(0, stats.Attempted, "swept payments wait for their first slot")

	p, err = s.GetStores().PaymentRepo.Get(s.GetContext(), order.PaymentID)
	s.Require().NoError(err)
	s.Equal(types.PaymentStatusFailed, p.Status)
	s.NotNil(p.NextRetryAt)
}

func (s *RetryServiceSuite) TestRunWhenRetriesDisabled() {
	cfg := s.GetConfig()
	cfg.Payment.Retry.Enabled = false
	defer func() { cfg.Payment.Retry.Enabled = true }()

	id := s.failedPayment(3, "500.00")
	s.dueNow(id)

	stats, err := s.retries.Run(s.GetContext())
	s.NoError(err)
	s.Equal(0, stats.Attempted)
	s.Equal(0, stats.Swept)

	p, err := s.GetStores().PaymentRepo.Get(s.GetContext(), id)
	s.Require().NoError(err)
	s.Equal(0, p.RetryCount)
}

func (s *RetryServiceSuite) TestRetryStatusReportsLadder() {
	id := s.failedPayment(3, "500.00")
	s.dueNow(id)
	_, err := s.retries.Run(s.GetContext())
	s.Require().NoError(err)

	status, err := s.retries.RetryStatus(s.GetContext(), id)
	s.Require().NoError(err)
	s.Equal(id, status.PaymentID)
	s.Equal(1, status.RetryCount)
	s.Equal(3, status.MaxRetries)
	s.False(status.Exhausted)
	s.NotNil(status.NextRetryAt)
	s.Len(status.RetryHistory, 1)
}
