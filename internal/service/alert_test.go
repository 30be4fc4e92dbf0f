package service

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/domain/alert"
	"github.com/meterline/meterline/internal/domain/events"
	"github.com/meterline/meterline/internal/domain/organisation"
	"github.com/meterline/meterline/internal/domain/pricing"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/testutil"
	"github.com/meterline/meterline/internal/types"
)

type AlertServiceSuite struct {
	testutil.BaseServiceTestSuite
	service AlertService
}

func TestAlertService(t *testing.T) {
	suite.Run(t, new(AlertServiceSuite))
}

func (s *AlertServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewAlertService(newTestParams(&s.BaseServiceTestSuite))

	org := organisation.New("Acme Robotics", "INR")
	org.ID = testutil.TestOrganisationID
	s.Require().NoError(s.GetStores().OrganisationRepo.Create(s.GetContext(), org))
}

func (s *AlertServiceSuite) usageRule(threshold int64, period types.AlertPeriod) *dto.CreateAlertRuleRequest {
	return &dto.CreateAlertRuleRequest{
		AlertType:        types.AlertTypeUsageThreshold,
		MetricName:       lo.ToPtr("api_calls"),
		Unit:             lo.ToPtr("call"),
		Threshold:        decimal.NewFromInt(threshold),
		Operator:         types.AlertOperatorGTE,
		ComparisonPeriod: period,
		Channels:         []string{"email"},
	}
}

func (s *AlertServiceSuite) createRule(req *dto.CreateAlertRuleRequest) *dto.AlertRuleResponse {
	resp, err := s.service.CreateRule(s.GetContext(), req)
	s.Require().NoError(err)
	return resp
}

func (s *AlertServiceSuite) seedHot(key, metric, unit string, value int64, ts time.Time) {
	e := events.NewEvent(testutil.TestOrganisationID, testutil.TestProjectID,
		metric, decimal.NewFromInt(value), unit, ts, key, nil)
	s.Require().NoError(s.GetStores().EventRepo.InsertEvent(s.GetContext(), e))
}

func (s *AlertServiceSuite) seedDurable(key, metric, unit string, value int64, ts time.Time) {
	e := events.NewEvent(testutil.TestOrganisationID, testutil.TestProjectID,
		metric, decimal.NewFromInt(value), unit, ts, key, nil)
	_, err := s.GetStores().DurableEventRepo.(*testutil.InMemoryDurableEventStore).
		InsertBatch(s.GetContext(), []*events.Event{e})
	s.Require().NoError(err)
}

func (s *AlertServiceSuite) evaluate() *AlertRunStats {
	stats, err := s.service.EvaluateAll(s.GetContext())
	s.Require().NoError(err)
	return stats
}

func (s *AlertServiceSuite) history() []*alert.History {
	items, err := s.GetStores().AlertHistoryRepo.List(s.GetContext(), &alert.HistoryFilter{})
	s.Require().NoError(err)
	return items
}

func (s *AlertServiceSuite) TestCreateRuleDefaultsCooldown() {
	resp := s.createRule(s.usageRule(100, types.AlertPeriodDay))
	s.Equal(60, resp.CooldownMinutes, "config default fills the zero value")
	s.True(resp.IsActive)

	req := s.usageRule(100, types.AlertPeriodHour)
	req.CooldownMinutes = 15
	resp = s.createRule(req)
	s.Equal(15, resp.CooldownMinutes)
}

func (s *AlertServiceSuite) TestCreateRuleRequiresOrganisationScope() {
	_, err := s.service.CreateRule(context.Background(), s.usageRule(100, types.AlertPeriodDay))
	s.Error(err)
	s.True(ierr.IsPermissionDenied(err))
}

func (s *AlertServiceSuite) TestSpikeRuleRequiresSpikePercent() {
	req := s.usageRule(100, types.AlertPeriodHour)
	req.AlertType = types.AlertTypeUsageSpike

	_, err := s.service.CreateRule(s.GetContext(), req)
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *AlertServiceSuite) TestThresholdRuleFiresOverHotWindow() {
	s.createRule(s.usageRule(100, types.AlertPeriodDay))

	now := time.Now().UTC()
	s.seedHot("evt_1", "api_calls", "call", 60, now.Add(-time.Hour))
	s.seedHot("evt_2", "api_calls", "call", 50, now.Add(-2*time.Hour))
	s.seedHot("evt_old", "api_calls", "call", 1000, now.Add(-25*time.Hour))
	// Day-window rules read the hot store; rows already migrated to the
	// durable store must not double count.
	s.seedDurable("evt_migrated", "api_calls", "call", 500, now.Add(-time.Hour))

	stats := s.evaluate()
	s.Equal(1, stats.Evaluated)
	s.Equal(1, stats.Fired)
	s.Equal(0, stats.Failed)

	items := s.history()
	s.Require().Len(items, 1)
	s.Equal(types.AlertHistoryStatusSent, items[0].Status)
	s.True(items[0].ActualValue.Equal(decimal.NewFromInt(110)))
	s.True(items[0].ThresholdValue.Equal(decimal.NewFromInt(100)))
	s.Contains(items[0].Message, "api_calls (call)")

	sent := s.GetEmailChannel().Sent()
	s.Require().Len(sent, 1)
	s.Equal(testutil.TestOrganisationID, sent[0].OrganisationID)
	s.Equal("Acme Robotics", sent[0].OrganisationName)
	s.Empty(s.GetWebhookChannel().Sent(), "rule asked for email only")
}

func (s *AlertServiceSuite) TestThresholdRuleStaysQuietBelowThreshold() {
	s.createRule(s.usageRule(100, types.AlertPeriodDay))
	s.seedHot("evt_1", "api_calls", "call", 50, time.Now().UTC().Add(-time.Hour))

	stats := s.evaluate()
	s.Equal(1, stats.Evaluated)
	s.Equal(0, stats.Fired)
	s.Empty(s.history())
	s.Empty(s.GetEmailChannel().Sent())
}

func (s *AlertServiceSuite) TestCooldownSkipsRecentlyFiredRule() {
	s.createRule(s.usageRule(100, types.AlertPeriodDay))
	s.seedHot("evt_1", "api_calls", "call", 200, time.Now().UTC().Add(-time.Hour))

	stats := s.evaluate()
	s.Equal(1, stats.Fired)

	stats = s.evaluate()
	s.Equal(1, stats.Skipped)
	s.Equal(0, stats.Evaluated)
	s.Len(s.history(), 1, "cooldown holds the second fire back")
}

func (s *AlertServiceSuite) TestWeeklyRuleReadsDurableTier() {
	s.createRule(s.usageRule(100, types.AlertPeriodWeek))

	now := time.Now().UTC()
	s.seedDurable("evt_d1", "api_calls", "call", 200, now.Add(-3*24*time.Hour))
	// Fresh rows still in the hot store are invisible to long windows until
	// migration catches up.
	s.seedHot("evt_h1", "api_calls", "call", 500, now.Add(-time.Hour))

	stats := s.evaluate()
	s.Equal(1, stats.Fired)

	items := s.history()
	s.Require().Len(items, 1)
	s.True(items[0].ActualValue.Equal(decimal.NewFromInt(200)))
}

func (s *AlertServiceSuite) TestSpikeRuleComparesReferenceWindow() {
	req := s.usageRule(0, types.AlertPeriodHour)
	req.AlertType = types.AlertTypeUsageSpike
	req.SpikePercent = lo.ToPtr(decimal.NewFromInt(50))
	s.createRule(req)

	now := time.Now().UTC()
	s.seedHot("evt_now", "api_calls", "call", 30, now.Add(-30*time.Minute))
	s.seedHot("evt_ref", "api_calls", "call", 10, now.Add(-90*time.Minute))

	stats := s.evaluate()
	s.Equal(1, stats.Fired)

	items := s.history()
	s.Require().Len(items, 1)
	s.True(items[0].ActualValue.Equal(decimal.NewFromInt(30)))
	s.Contains(items[0].Message, "grew")
}

func (s *AlertServiceSuite) TestSpikeRuleNeedsBaseline() {
	req := s.usageRule(0, types.AlertPeriodHour)
	req.AlertType = types.AlertTypeUsageSpike
	req.SpikePercent = lo.ToPtr(decimal.NewFromInt(50))
	s.createRule(req)

	s.seedHot("evt_now", "api_calls", "call", 30, time.Now().UTC().Add(-30*time.Minute))

	stats := s.evaluate()
	s.Equal(1, stats.Evaluated)
	s.Equal(0, stats.Fired, "first usage is not a spike")
	s.Empty(s.history())
}

func (s *AlertServiceSuite) TestCostRulePricesWindowUsage() {
	req := &dto.CreateAlertRuleRequest{
		AlertType:        types.AlertTypeCostThreshold,
		Threshold:        decimal.NewFromInt(50),
		Operator:         types.AlertOperatorGTE,
		ComparisonPeriod: types.AlertPeriodDay,
		Channels:         []string{"email"},
	}
	s.createRule(req)

	rule := pricing.NewPricingRule(nil, "api_calls", "call",
		decimal.RequireFromString("1.00"), "INR",
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(s.GetStores().PricingRepo.Create(s.GetContext(), rule))

	now := time.Now().UTC()
	s.seedHot("evt_1", "api_calls", "call", 100, now.Add(-time.Hour))
	// No pricing rule for storage; it contributes nothing to the estimate.
	s.seedHot("evt_2", "storage", "gb", 999, now.Add(-time.Hour))

	stats := s.evaluate()
	s.Equal(1, stats.Fired)

	items := s.history()
	s.Require().Len(items, 1)
	s.True(items[0].ActualValue.Equal(decimal.NewFromInt(100)))
	s.Contains(items[0].Message, "estimated cost")
}

func (s *AlertServiceSuite) TestUnusualPatternFiresOnSilence() {
	req := s.usageRule(1, types.AlertPeriodHour)
	req.AlertType = types.AlertTypeUnusualPattern
	req.MetricName = lo.ToPtr("heartbeats")
	req.Unit = lo.ToPtr("ping")
	s.createRule(req)

	stats := s.evaluate()
	s.Equal(1, stats.Fired)

	items := s.history()
	s.Require().Len(items, 1)
	s.Contains(items[0].Message, "no usage")
}

func (s *AlertServiceSuite) TestUnusualPatternQuietWhenFlowing() {
	req := s.usageRule(1, types.AlertPeriodHour)
	req.AlertType = types.AlertTypeUnusualPattern
	req.MetricName = lo.ToPtr("heartbeats")
	req.Unit = lo.ToPtr("ping")
	s.createRule(req)

	s.seedHot("evt_1", "heartbeats", "ping", 1, time.Now().UTC().Add(-10*time.Minute))

	stats := s.evaluate()
	s.Equal(0, stats.Fired)
	s.Empty(s.history())
}

func (s *AlertServiceSuite) TestDispatchFailureMarksHistoryFailed() {
	s.createRule(s.usageRule(100, types.AlertPeriodDay))
	s.seedHot("evt_1", "api_calls", "call", 200, time.Now().UTC().Add(-time.Hour))
	s.GetEmailChannel().FailNext = true

	stats := s.evaluate()
	s.Equal(1, stats.Fired, "the alert fired even though delivery failed")

	items := s.history()
	s.Require().Len(items, 1)
	s.Equal(types.AlertHistoryStatusFailed, items[0].Status)

	// Cooldown counts from the trigger; a broken channel must not cause a
	// redelivery storm.
	stats = s.evaluate()
	s.Equal(1, stats.Skipped)
}

func (s *AlertServiceSuite) TestAcknowledgeScopedToOrganisation() {
	s.createRule(s.usageRule(100, types.AlertPeriodDay))
	s.seedHot("evt_1", "api_calls", "call", 200, time.Now().UTC().Add(-time.Hour))
	s.evaluate()

	items := s.history()
	s.Require().Len(items, 1)

	foreign := types.SetOrganisationID(s.GetContext(), "org_other")
	_, err := s.service.Acknowledge(foreign, items[0].ID)
	s.Error(err)
	s.True(ierr.IsNotFound(err))

	acked, err := s.service.Acknowledge(s.GetContext(), items[0].ID)
	s.Require().NoError(err)
	s.Equal(types.AlertHistoryStatusAcknowledged, acked.History.Status)

	sent, err := s.service.ListHistory(s.GetContext(), &dto.ListAlertHistoryRequest{Status: "sent"})
	s.Require().NoError(err)
	s.Equal(0, sent.Total)

	ackedList, err := s.service.ListHistory(s.GetContext(), &dto.ListAlertHistoryRequest{Status: "acknowledged"})
	s.Require().NoError(err)
	s.Equal(1, ackedList.Total)

	_, err = s.service.ListHistory(s.GetContext(), &dto.ListAlertHistoryRequest{Status: "bogus"})
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *AlertServiceSuite) TestUpdateRuleDeactivates() {
	created := s.createRule(s.usageRule(100, types.AlertPeriodDay))
	s.seedHot("evt_1", "api_calls", "call", 200, time.Now().UTC().Add(-time.Hour))

	updated, err := s.service.UpdateRule(s.GetContext(), created.ID, &dto.UpdateAlertRuleRequest{
		IsActive:  lo.ToPtr(false),
		Threshold: lo.ToPtr(decimal.NewFromInt(500)),
	})
	s.Require().NoError(err)
	s.False(updated.IsActive)
	s.True(updated.Threshold.Equal(decimal.NewFromInt(500)))

	stats := s.evaluate()
	s.Equal(0, stats.Evaluated)
	s.Equal(0, stats.Fired)
	s.Empty(s.history())
}

func (s *AlertServiceSuite) TestRuleAccessScopedToOrganisation() {
	created := s.createRule(s.usageRule(100, types.AlertPeriodDay))

	foreign := types.SetOrganisationID(s.GetContext(), "org_other")
	_, err := s.service.GetRule(foreign, created.ID)
	s.Error(err)
	s.True(ierr.IsNotFound(err))
	s.Error(s.service.DeleteRule(foreign, created.ID))

	s.Require().NoError(s.service.DeleteRule(s.GetContext(), created.ID))
	_, err = s.service.GetRule(s.GetContext(), created.ID)
	s.Error(err)
	s.True(ierr.IsNotFound(err))

	rules, err := s.service.ListRules(s.GetContext())
	s.Require().NoError(err)
	s.Equal(0, rules.Total)
}

func (s *AlertServiceSuite) TestEvaluateAllDisabled() {
	cfg := s.GetConfig()
	cfg.Alerts.Enabled = false
	defer func() { cfg.Alerts.Enabled = true }()

	s.createRule(s.usageRule(100, types.AlertPeriodDay))
	s.seedHot("evt_1", "api_calls", "call", 200, time.Now().UTC().Add(-time.Hour))

	stats := s.evaluate()
	s.Equal(0, stats.Evaluated)
	s.Equal(0, stats.Fired)
	s.Empty(s.history())
}
