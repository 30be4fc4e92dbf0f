package service

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/domain/events"
	"github.com/meterline/meterline/internal/domain/exchangerate"
	"github.com/meterline/meterline/internal/domain/organisation"
	"github.com/meterline/meterline/internal/domain/pricing"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/testutil"
)

type UsageServiceSuite struct {
	testutil.BaseServiceTestSuite
	service UsageService
	window  struct {
		start time.Time
		end   time.Time
	}
}

func TestUsageService(t *testing.T) {
	suite.Run(t, new(UsageServiceSuite))
}

func (s *UsageServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewUsageService(newTestParams(&s.BaseServiceTestSuite))
	s.window.start = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.window.end = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
}

func (s *UsageServiceSuite) seedDurableEvent(key, metric, unit string, value int64, ts time.Time) {
	e := events.NewEvent(
		testutil.TestOrganisationID,
		testutil.TestProjectID,
		metric,
		decimal.NewFromInt(value),
		unit,
		ts,
		key,
		nil,
	)
	_, err := s.GetStores().DurableEventRepo.(*testutil.InMemoryDurableEventStore).
		InsertBatch(s.GetContext(), []*events.Event{e})
	s.Require().NoError(err)
}

func (s *UsageServiceSuite) seedOrganisation() {
	org := organisation.New("Acme Robotics", "USD")
	org.ID = testutil.TestOrganisationID
	s.Require().NoError(s.GetStores().OrganisationRepo.Create(s.GetContext(), org))
}

func (s *UsageServiceSuite) summaryRequest() *dto.UsageSummaryRequest {
	return &dto.UsageSummaryRequest{
		StartTime: s.window.start,
		EndTime:   s.window.end,
	}
}

func (s *UsageServiceSuite) TestSummaryReadsDurableTier() {
	mid := s.window.start.Add(10 * 24 * time.Hour)
	s.seedDurableEvent("evt_u1", "api_calls", "call", 3, mid)
	s.seedDurableEvent("evt_u2", "api_calls", "call", 7, mid.Add(time.Hour))
	s.seedDurableEvent("evt_u3", "storage", "gb", 12, mid)

	// Still sitting in the hot tier; summary must not see it.
	hot := events.NewEvent(testutil.TestOrganisationID, testutil.TestProjectID,
		"api_calls", decimal.NewFromInt(100), "call", mid, "evt_hot", nil)
	s.Require().NoError(s.GetStores().EventRepo.InsertEvent(s.GetContext(), hot))

	resp, err := s.service.Summary(s.GetContext(), s.summaryRequest())
	s.NoError(err)
	s.Require().Len(resp.Lines, 2)

	byMetric := map[string]decimal.Decimal{}
	for _, l := range resp.Lines {
		byMetric[l.MetricName] = l.TotalValue
	}
	s.True(byMetric["api_calls"].Equal(decimal.NewFromInt(10)))
	s.True(byMetric["storage"].Equal(decimal.NewFromInt(12)))
}

func (s *UsageServiceSuite) TestSummaryWindowIsHalfOpen() {
	s.seedDurableEvent("evt_edge_start", "api_calls", "call", 1, s.window.start)
	s.seedDurableEvent("evt_edge_end", "api_calls", "call", 1, s.window.end)

	resp, err := s.service.Summary(s.GetContext(), s.summaryRequest())
	s.NoError(err)
	s.Require().Len(resp.Lines, 1)
	s.True(resp.Lines[0].TotalValue.Equal(decimal.NewFromInt(1)), "end boundary is exclusive")
	s.Equal(uint64(1), resp.Lines[0].EventCount)
}

func (s *UsageServiceSuite) TestSummaryRejectsInvertedWindow() {
	req := s.summaryRequest()
	req.StartTime, req.EndTime = req.EndTime, req.StartTime

	_, err := s.service.Summary(s.GetContext(), req)
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *UsageServiceSuite) TestTrendsGroupsByUTCDay() {
	day1 := time.Date(2026, 3, 5, 23, 30, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 6, 0, 30, 0, 0, time.UTC)
	s.seedDurableEvent("evt_t1", "api_calls", "call", 2, day1)
	s.seedDurableEvent("evt_t2", "api_calls", "call", 5, day2)

	resp, err := s.service.Trends(s.GetContext(), s.summaryRequest())
	s.NoError(err)
	s.Require().Len(resp.Points, 2)
	s.Equal(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), resp.Points[0].Day)
	s.True(resp.Points[0].TotalValue.Equal(decimal.NewFromInt(2)))
	s.Equal(time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC), resp.Points[1].Day)
	s.True(resp.Points[1].TotalValue.Equal(decimal.NewFromInt(5)))
}

func (s *UsageServiceSuite) TestRealtimeReadsHotTier() {
	now := time.Now().UTC()
	recent := events.NewEvent(testutil.TestOrganisationID, testutil.TestProjectID,
		"api_calls", decimal.NewFromInt(4), "call", now.Add(-5*time.Minute), "evt_r1", nil)
	stale := events.NewEvent(testutil.TestOrganisationID, testutil.TestProjectID,
		"api_calls", decimal.NewFromInt(9), "call", now.Add(-3*time.Hour), "evt_r2", nil)
	s.Require().NoError(s.GetStores().EventRepo.InsertEvent(s.GetContext(), recent))
	s.Require().NoError(s.GetStores().EventRepo.InsertEvent(s.GetContext(), stale))

	resp, err := s.service.Realtime(s.GetContext(), 0)
	s.NoError(err)
	s.Equal(60, resp.WindowMinutes)
	s.Require().Len(resp.Lines, 1)
	s.True(resp.Lines[0].TotalValue.Equal(decimal.NewFromInt(4)))
}

func (s *UsageServiceSuite) TestCostBreakdownPricesWithEffectiveRules() {
	s.seedOrganisation()
	mid := s.window.start.Add(10 * 24 * time.Hour)
	s.seedDurableEvent("evt_c1", "api_calls", "call", 100, mid)
	s.seedDurableEvent("evt_c2", "storage", "gb", 5, mid)

	rule := pricing.NewPricingRule(nil, "api_calls", "call",
		decimal.RequireFromString("0.02"), "USD", s.window.start.AddDate(-1, 0, 0))
	s.Require().NoError(s.GetStores().PricingRepo.Create(s.GetContext(), rule))

	resp, err := s.service.CostBreakdown(s.GetContext(), s.summaryRequest())
	s.NoError(err)
	s.Equal("USD", resp.Currency)
	s.Require().Len(resp.Lines, 2)

	var priced, unpriced *dto.CostBreakdownLine
	for _, l := range resp.Lines {
		if l.MetricName == "api_calls" {
			priced = l
		} else {
			unpriced = l
		}
	}
	s.Require().NotNil(priced)
	s.True(priced.Cost.Equal(decimal.RequireFromString("2.00")))
	s.Require().NotNil(unpriced)
	s.True(unpriced.Unpriced)
	s.True(resp.Total.Equal(decimal.RequireFromString("2.00")))
}

func (s *UsageServiceSuite) TestCostBreakdownPrefersOrganisationRule() {
	s.seedOrganisation()
	mid := s.window.start.Add(10 * 24 * time.Hour)
	s.seedDurableEvent("evt_c3", "api_calls", "call", 10, mid)

	past := s.window.start.AddDate(-1, 0, 0)
	global := pricing.NewPricingRule(nil, "api_calls", "call",
		decimal.RequireFromString("0.05"), "USD", past)
	own := pricing.NewPricingRule(lo.ToPtr(testutil.TestOrganisationID), "api_calls", "call",
		decimal.RequireFromString("0.01"), "USD", past)
	s.Require().NoError(s.GetStores().PricingRepo.Create(s.GetContext(), global))
	s.Require().NoError(s.GetStores().PricingRepo.Create(s.GetContext(), own))

	resp, err := s.service.CostBreakdown(s.GetContext(), s.summaryRequest())
	s.NoError(err)
	s.Require().Len(resp.Lines, 1)
	s.True(resp.Lines[0].UnitPrice.Equal(decimal.RequireFromString("0.01")))
	s.True(resp.Total.Equal(decimal.RequireFromString("0.10")))
}

func (s *UsageServiceSuite) TestCostBreakdownConvertsForeignRuleCurrency() {
	s.seedOrganisation() // invoices in USD
	mid := s.window.start.Add(10 * 24 * time.Hour)
	s.seedDurableEvent("evt_c4", "api_calls", "call", 100, mid)

	past := s.window.start.AddDate(-1, 0, 0)
	rule := pricing.NewPricingRule(nil, "api_calls", "call",
		decimal.RequireFromString("1.00"), "INR", past)
	s.Require().NoError(s.GetStores().PricingRepo.Create(s.GetContext(), rule))

	rate := exchangerate.New("INR", "USD", decimal.RequireFromString("0.012"), past, "test")
	s.Require().NoError(s.GetStores().ExchangeRateRepo.Create(s.GetContext(), rate))

	resp, err := s.service.CostBreakdown(s.GetContext(), s.summaryRequest())
	s.NoError(err)
	s.Require().Len(resp.Lines, 1)
	s.False(resp.Lines[0].Unpriced)
	s.True(resp.Total.Equal(decimal.RequireFromString("1.20")), "100 * 1.00 INR at 0.012")
}

func (s *UsageServiceSuite) TestCostBreakdownMissingRateMarksLineUnpriced() {
	s.seedOrganisation()
	mid := s.window.start.Add(10 * 24 * time.Hour)
	s.seedDurableEvent("evt_c5", "api_calls", "call", 100, mid)

	rule := pricing.NewPricingRule(nil, "api_calls", "call",
		decimal.RequireFromString("1.00"), "EUR", s.window.start.AddDate(-1, 0, 0))
	s.Require().NoError(s.GetStores().PricingRepo.Create(s.GetContext(), rule))

	resp, err := s.service.CostBreakdown(s.GetContext(), s.summaryRequest())
	s.NoError(err)
	s.Require().Len(resp.Lines, 1)
	s.True(resp.Lines[0].Unpriced)
	s.True(resp.Total.IsZero())
}
