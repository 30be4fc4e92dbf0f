package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/domain/aggregate"
	"github.com/meterline/meterline/internal/domain/events"
	"github.com/meterline/meterline/internal/domain/invoice"
	"github.com/meterline/meterline/internal/domain/organisation"
	"github.com/meterline/meterline/internal/domain/payment"
	"github.com/meterline/meterline/internal/domain/reconciliation"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/integration/razorpay"
	"github.com/meterline/meterline/internal/testutil"
	"github.com/meterline/meterline/internal/types"
)

type ReconciliationServiceSuite struct {
	testutil.BaseServiceTestSuite
	service  ReconciliationService
	payments PaymentService
}

func TestReconciliationService(t *testing.T) {
	suite.Run(t, new(ReconciliationServiceSuite))
}

func (s *ReconciliationServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := newTestParams(&s.BaseServiceTestSuite)
	s.service = NewReconciliationService(params)
	s.payments = NewPaymentService(params)

	org := organisation.New("Acme Robotics", "INR")
	org.ID = testutil.TestOrganisationID
	s.Require().NoError(s.GetStores().OrganisationRepo.Create(s.GetContext(), org))
}

func (s *ReconciliationServiceSuite) seedHotEvent(key string, ts time.Time) {
	e := events.NewEvent(testutil.TestOrganisationID, testutil.TestProjectID,
		"api_calls", decimal.NewFromInt(1), "call", ts, key, nil)
	s.Require().NoError(s.GetStores().EventRepo.InsertEvent(s.GetContext(), e))
}

func (s *ReconciliationServiceSuite) seedDurableEvent(key string, value int64, ts time.Time) {
	e := events.NewEvent(testutil.TestOrganisationID, testutil.TestProjectID,
		"api_calls", decimal.NewFromInt(value), "call", ts, key, nil)
	_, err := s.GetStores().DurableEventRepo.(*testutil.InMemoryDurableEventStore).
		InsertBatch(s.GetContext(), []*events.Event{e})
	s.Require().NoError(err)
}

// capturedPayment drives the collection flow end to end and backdates the row
// into the reconciliation window; fresh payments are skipped while their
// webhooks may still be in flight.
func (s *ReconciliationServiceSuite) capturedPayment(month int) *payment.Payment {
	inv := invoice.New(testutil.TestOrganisationID,
		fmt.Sprintf("INV-2026%02d-0001", month), "INR", month, 2026)
	inv.Subtotal = decimal.NewFromInt(500)
	inv.Total = decimal.NewFromInt(500)
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
	p.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	return p
}

func (s *ReconciliationServiceSuite) lastRun(scope types.ReconciliationScope) *reconciliation.Run {
	runs, err := s.GetStores().ReconciliationRepo.List(s.GetContext(), scope, 1)
	s.Require().NoError(err)
	s.Require().Len(runs, 1)
	return runs[0]
}

func (s *ReconciliationServiceSuite) TestReconcileEventsCleanWhenTiersMatch() {
	yesterday := time.Now().UTC().Truncate(24 * time.Hour).Add(-12 * time.Hour)
	s.seedHotEvent("evt_1", yesterday)
	s.seedHotEvent("evt_2", yesterday.Add(time.Hour))
	s.seedDurableEvent("evt_1", 1, yesterday)
	s.seedDurableEvent("evt_2", 1, yesterday.Add(time.Hour))

	run, err := s.service.ReconcileEvents(s.GetContext())
	s.Require().NoError(err)
	s.Equal(types.ReconciliationStatusClean, run.Status)
	s.Equal(int64(2), run.LeftCount)
	s.Equal(int64(2), run.RightCount)
	s.Equal(int64(0), run.DiscrepancyCount)

	s.Equal(run.ID, s.lastRun(types.ReconciliationScopeEvents).ID)
	s.Empty(s.GetEmailChannel().Sent())
}

func (s *ReconciliationServiceSuite) TestReconcileEventsFlagsUndercountedDurableTier() {
	yesterday := time.Now().UTC().Truncate(24 * time.Hour).Add(-12 * time.Hour)
	s.seedHotEvent("evt_1", yesterday)
	s.seedHotEvent("evt_2", yesterday.Add(time.Minute))
	s.seedHotEvent("evt_3", yesterday.Add(2*time.Minute))
	s.seedDurableEvent("evt_1", 1, yesterday)
	s.seedDurableEvent("evt_2", 1, yesterday.Add(time.Minute))

	run, err := s.service.ReconcileEvents(s.GetContext())
	s.Require().NoError(err)
	s.Equal(types.ReconciliationStatusDiscrepant, run.Status)
	s.Equal(int64(1), run.DiscrepancyCount)

	d := run.Details[0]
	s.Equal("event_count", d.Kind)
	s.Equal("3", d.Left)
	s.Equal("2", d.Right)

	sent := s.GetEmailChannel().Sent()
	s.Require().Len(sent, 1)
	s.Equal("reconciliation events", sent[0].RuleName)
	s.Len(s.GetWebhookChannel().Sent(), 1)
}

func (s *ReconciliationServiceSuite) TestReconcileEventsFlagsDurableOnlyKey() {
	yesterday := time.Now().UTC().Truncate(24 * time.Hour).Add(-12 * time.Hour)
	s.seedDurableEvent("evt_orphan", 1, yesterday)

	run, err := s.service.ReconcileEvents(s.GetContext())
	s.Require().NoError(err)
	s.Equal(types.ReconciliationStatusDiscrepant, run.Status)
	s.Require().Equal(int64(1), run.DiscrepancyCount)
	s.Equal("0", run.Details[0].Left)
	s.Equal("1", run.Details[0].Right)
}

func (s *ReconciliationServiceSuite) TestReconcileEventsComparesOnlyCompletedDays() {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	// Still-filling day: migration has not caught up and must not be flagged.
	s.seedHotEvent("evt_today", today.Add(time.Hour))

	run, err := s.service.ReconcileEvents(s.GetContext())
	s.Require().NoError(err)
	s.Equal(types.ReconciliationStatusClean, run.Status)
	s.Equal(int64(0), run.LeftCount)
	s.Equal(int64(0), run.DiscrepancyCount)
}

func (s *ReconciliationServiceSuite) TestReconcilePaymentsMarksConsistentRowsReconciled() {
	p := s.capturedPayment(1)
	s.GetGateway().AddPaymentRecord(&payment.GatewayPaymentRecord{
		ID:        *p.GatewayPaymentID,
		OrderID:   p.GatewayOrderID,
		Status:    "captured",
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
	})

	run, err := s.service.ReconcilePayments(s.GetContext())
	s.Require().NoError(err)
	s.Equal(types.ReconciliationStatusClean, run.Status)
	s.Equal(int64(1), run.LeftCount)
	s.Equal(int64(1), run.RightCount)
	s.Equal(int64(0), run.DiscrepancyCount)

	stored, err := s.GetStores().PaymentRepo.Get(s.GetContext(), p.ID)
	s.Require().NoError(err)
	s.NotNil(stored.ReconciledAt)
}

func (s *ReconciliationServiceSuite) TestReconcilePaymentsFlagsStatusDivergence() {
	inv := invoice.New(testutil.TestOrganisationID, "INV-202601-0001", "INR", 1, 2026)
	inv.Subtotal = decimal.NewFromInt(500)
	inv.Total = decimal.NewFromInt(500)
	s.Require().NoError(s.GetStores().InvoiceRepo.CreateWithLineItems(s.GetContext(), inv))
	s.Require().NoError(s.GetStores().InvoiceRepo.UpdateStatus(
		s.GetContext(), inv.ID, types.InvoiceStatusFinalized, time.Now().UTC()))
	order, err := s.payments.CreateOrder(s.GetContext(), &dto.CreatePaymentOrderRequest{InvoiceID: inv.ID})
	s.Require().NoError(err)

	p, err := s.GetStores().PaymentRepo.Get(s.GetContext(), order.PaymentID)
	s.Require().NoError(err)
	p.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)

	// The gateway says the customer paid but the local row never saw the
	// capture webhook.
	s.GetGateway().AddPaymentRecord(&payment.GatewayPaymentRecord{
		ID:        "pay_gw_unseen",
		OrderID:   order.GatewayOrderID,
		Status:    "captured",
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
	})

	run, err := s.service.ReconcilePayments(s.GetContext())
	s.Require().NoError(err)
	s.Equal(types.ReconciliationStatusDiscrepant, run.Status)
	s.Require().Equal(int64(1), run.DiscrepancyCount)

	d := run.Details[0]
	s.Equal("payment_status", d.Kind)
	s.Equal(p.ID, d.Key)
	s.Equal("pending", d.Left)
	s.Equal("captured", d.Right)

	stored, err := s.GetStores().PaymentRepo.Get(s.GetContext(), p.ID)
	s.Require().NoError(err)
	s.Nil(stored.ReconciledAt, "diverged rows are left for the operator")

	sent := s.GetEmailChannel().Sent()
	s.Require().Len(sent, 1)
	s.Equal("reconciliation payments", sent[0].RuleName)
}

func (s *ReconciliationServiceSuite) TestReconcilePaymentsFlagsGatewayChargeWithNoLocalRow() {
	at := time.Now().UTC().Add(-2 * time.Hour)
	s.GetGateway().AddPaymentRecord(&payment.GatewayPaymentRecord{
		ID: "pay_ghost_charged", OrderID: "order_ghost_1", Status: "captured", CreatedAt: at,
	})
	// Abandoned checkout attempts never charged anyone and are not flagged.
	s.GetGateway().AddPaymentRecord(&payment.GatewayPaymentRecord{
		ID: "pay_ghost_dropped", OrderID: "order_ghost_2", Status: "failed", CreatedAt: at,
	})

	run, err := s.service.ReconcilePayments(s.GetContext())
	s.Require().NoError(err)
	s.Equal(types.ReconciliationStatusUnreconciled, run.Status)
	s.Require().Equal(int64(1), run.DiscrepancyCount)
	s.Equal("unreconciled", run.Details[0].Kind)
	s.Equal("pay_ghost_charged", run.Details[0].Key)
}

func (s *ReconciliationServiceSuite) TestReconcilePaymentsRetriesTransientFetchError() {
	s.GetGateway().FailFetch = ierr.NewError("gateway timeout").Mark(ierr.ErrHTTPClient)

	run, err := s.service.ReconcilePayments(s.GetContext())
	s.Require().NoError(err)
	s.Equal(types.ReconciliationStatusClean, run.Status)
	s.Equal(2, s.GetGateway().FetchPaymentsCalls, "transient errors are retried")
}

func (s *ReconciliationServiceSuite) TestReconcilePaymentsPermanentFetchErrorRecordsFailedRun() {
	s.GetGateway().FailFetch = ierr.NewError("api key revoked").Mark(ierr.ErrPermissionDenied)

	_, err := s.service.ReconcilePayments(s.GetContext())
	s.Require().Error(err)
	s.True(ierr.IsPermissionDenied(err))
	s.Equal(1, s.GetGateway().FetchPaymentsCalls, "permanent errors are not retried")

	run := s.lastRun(types.ReconciliationScopePayments)
	s.Equal(types.ReconciliationStatusFailed, run.Status)
}

func (s *ReconciliationServiceSuite) TestReconcileAggregatesRewritesDriftedRollup() {
	now := time.Now().UTC()
	month, year := int(now.Month()), now.Year()
	midMonth := time.Date(year, now.Month(), 15, 10, 0, 0, 0, time.UTC)

	s.seedDurableEvent("evt_1", 10, midMonth)
	s.seedDurableEvent("evt_2", 20, midMonth.Add(time.Minute))

	// Stored rollup lost one event's worth of value.
	s.Require().NoError(s.GetStores().AggregateRepo.Upsert(s.GetContext(), []*aggregate.Delta{{
		OrganisationID: testutil.TestOrganisationID,
		ProjectID:      testutil.TestProjectID,
		MetricName:     "api_calls",
		Unit:           "call",
		Month:          month,
		Year:           year,
		Value:          decimal.NewFromInt(10),
		Count:          2,
	}}))

	run, err := s.service.ReconcileAggregates(s.GetContext())
	s.Require().NoError(err)
	s.Equal(types.ReconciliationStatusDiscrepant, run.Status)
	s.Require().Equal(int64(1), run.DiscrepancyCount)
	s.Equal("aggregate", run.Details[0].Kind)
	s.True(run.Details[0].Resolved, "aggregates are self-healing")

	agg, err := s.GetStores().AggregateRepo.Get(s.GetContext(),
		testutil.TestOrganisationID, testutil.TestProjectID, "api_calls", "call", month, year)
	s.Require().NoError(err)
	s.True(agg.TotalValue.Equal(decimal.NewFromInt(30)), "rollup rewritten from durable truth")
	s.Equal(int64(2), agg.EventCount)
}

func (s *ReconciliationServiceSuite) TestReconcileAggregatesCleanWhenRollupsMatch() {
	now := time.Now().UTC()
	month, year := int(now.Month()), now.Year()
	midMonth := time.Date(year, now.Month(), 15, 10, 0, 0, 0, time.UTC)

	s.seedDurableEvent("evt_1", 10, midMonth)
	s.Require().NoError(s.GetStores().AggregateRepo.Upsert(s.GetContext(), []*aggregate.Delta{{
		OrganisationID: testutil.TestOrganisationID,
		ProjectID:      testutil.TestProjectID,
		MetricName:     "api_calls",
		Unit:           "call",
		Month:          month,
		Year:           year,
		Value:          decimal.NewFromInt(10),
		Count:          1,
	}}))

	run, err := s.service.ReconcileAggregates(s.GetContext())
	s.Require().NoError(err)
	s.Equal(types.ReconciliationStatusClean, run.Status)
	s.Equal(int64(1), run.LeftCount)
	s.Equal(int64(1), run.RightCount)
	s.Empty(s.GetEmailChannel().Sent())
}

func (s *ReconciliationServiceSuite) TestRunCoversAllScopes() {
	report, err := s.service.Run(s.GetContext())
	s.Require().NoError(err)

	s.Require().NotNil(report.Events)
	s.Require().NotNil(report.Payments)
	s.Require().NotNil(report.Aggregates)
	s.Equal(types.ReconciliationStatusClean, report.Events.Status)
	s.Equal(types.ReconciliationStatusClean, report.Payments.Status)
	s.Equal(types.ReconciliationStatusClean, report.Aggregates.Status)

	runs, err := s.GetStores().ReconciliationRepo.List(s.GetContext(), "", 0)
	s.Require().NoError(err)
	s.Len(runs, 3)
}
