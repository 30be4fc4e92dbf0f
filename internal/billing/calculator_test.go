package billing

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/domain/aggregate"
	"github.com/meterline/meterline/internal/domain/exchangerate"
	"github.com/meterline/meterline/internal/domain/pricing"
	ierr "github.com/meterline/meterline/internal/errors"
)

type CalculatorSuite struct {
	suite.Suite
	orgID string
}

func TestCalculatorSuite(t *testing.T) {
	suite.Run(t, new(CalculatorSuite))
}

func (s *CalculatorSuite) SetupTest() {
	s.orgID = "org_1"
}

func (s *CalculatorSuite) aggregate(metric, unit, total string) *aggregate.UsageAggregate {
	agg := aggregate.NewUsageAggregate(s.orgID, "proj_1", metric, unit, 3, 2025)
	agg.TotalValue = decimal.RequireFromString(total)
	agg.EventCount = 1
	return agg
}

func (s *CalculatorSuite) globalRule(metric, unit, price, currency string) *pricing.PricingRule {
	return pricing.NewPricingRule(nil, metric, unit,
		decimal.RequireFromString(price), currency,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

func (s *CalculatorSuite) orgRule(metric, unit, price, currency string) *pricing.PricingRule {
	return pricing.NewPricingRule(lo.ToPtr(s.orgID), metric, unit,
		decimal.RequireFromString(price), currency,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

func (s *CalculatorSuite) config(taxRate, currency string, minEnabled bool) *pricing.BillingConfig {
	cfg := pricing.NewBillingConfig(s.orgID, decimal.RequireFromString(taxRate), currency, 15)
	cfg.MinimumChargeEnabled = minEnabled
	return cfg
}

// Mirrors the canonical minimum-charge month: 1000 calls at 0.001 INR with a
// 1000 INR floor and 18% tax lands on a 1180 total.
func (s *CalculatorSuite) TestMinimumChargeMonth() {
	minRule := pricing.NewMinimumChargeRule(nil,
		decimal.RequireFromString("1000"), "INR",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	calc, err := Calculate(CalculationInput{
		OrganisationID: s.orgID,
		Month:          3,
		Year:           2025,
		Aggregates:     []*aggregate.UsageAggregate{s.aggregate("api_calls", "count", "1000")},
		PricingRules:   []*pricing.PricingRule{s.globalRule("api_calls", "count", "0.001", "INR")},
		MinimumCharges: []*pricing.MinimumChargeRule{minRule},
		BillingConfig:  s.config("0.18", "INR", true),
	})
	s.Require().NoError(err)

	s.Require().Len(calc.Lines, 2)
	s.Equal("1", calc.Lines[0].Total.String())
	s.True(calc.Lines[1].IsMinimumCharge())
	s.Equal("999", calc.Lines[1].Total.String())

	s.Equal("1", calc.Subtotal.String())
	s.Equal("1000", calc.SubtotalAfterMin.String())
	s.Equal("180", calc.Tax.String())
	s.Equal("1180", calc.Total.String())
	s.Equal("INR", calc.Currency)

	s.NoError(Verify(calc))
}

func (s *CalculatorSuite) TestNoMinimumWhenSubtotalCoversFloor() {
	minRule := pricing.NewMinimumChargeRule(nil,
		decimal.RequireFromString("100"), "INR",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	calc, err := Calculate(CalculationInput{
		OrganisationID: s.orgID,
		Month:          3,
		Year:           2025,
		Aggregates:     []*aggregate.UsageAggregate{s.aggregate("api_calls", "count", "200000")},
		PricingRules:   []*pricing.PricingRule{s.globalRule("api_calls", "count", "0.001", "INR")},
		MinimumCharges: []*pricing.MinimumChargeRule{minRule},
		BillingConfig:  s.config("0.18", "INR", true),
	})
	s.Require().NoError(err)

	s.Len(calc.Lines, 1)
	s.Equal("200", calc.Subtotal.String())
	s.Equal("200", calc.SubtotalAfterMin.String())
	s.Equal("236", calc.Total.String())
}

func (s *CalculatorSuite) TestOrganisationRuleBeatsGlobal() {
	calc, err := Calculate(CalculationInput{
		OrganisationID: s.orgID,
		Month:          3,
		Year:           2025,
		Aggregates:     []*aggregate.UsageAggregate{s.aggregate("api_calls", "count", "100")},
		PricingRules: []*pricing.PricingRule{
			s.globalRule("api_calls", "count", "0.01", "INR"),
			s.orgRule("api_calls", "count", "0.002", "INR"),
		},
		BillingConfig: s.config("0", "INR", false),
	})
	s.Require().NoError(err)

	s.Require().Len(calc.Lines, 1)
	s.Equal("0.002", calc.Lines[0].UnitPrice.String())
	s.Equal("0.2", calc.Subtotal.String())
}

func (s *CalculatorSuite) TestLatestEffectiveRuleWins() {
	older := s.globalRule("api_calls", "count", "0.01", "INR")
	newer := pricing.NewPricingRule(nil, "api_calls", "count",
		decimal.RequireFromString("0.005"), "INR",
		time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	future := pricing.NewPricingRule(nil, "api_calls", "count",
		decimal.RequireFromString("0.5"), "INR",
		time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))

	calc, err := Calculate(CalculationInput{
		OrganisationID: s.orgID,
		Month:          3,
		Year:           2025,
		Aggregates:     []*aggregate.UsageAggregate{s.aggregate("api_calls", "count", "100")},
		PricingRules:   []*pricing.PricingRule{older, newer, future},
		BillingConfig:  s.config("0", "INR", false),
	})
	s.Require().NoError(err)

	// The rule starting inside the billed month applies; the April rule is
	// not yet effective on the March billing date.
	s.Equal("0.005", calc.Lines[0].UnitPrice.String())
}

func (s *CalculatorSuite) TestUnpricedMetricRecorded() {
	calc, err := Calculate(CalculationInput{
		OrganisationID: s.orgID,
		Month:          3,
		Year:           2025,
		Aggregates: []*aggregate.UsageAggregate{
			s.aggregate("api_calls", "count", "100"),
			s.aggregate("storage", "gb_hour", "50"),
		},
		PricingRules:  []*pricing.PricingRule{s.globalRule("api_calls", "count", "0.001", "INR")},
		BillingConfig: s.config("0.18", "INR", false),
	})
	s.Require().NoError(err)

	s.Len(calc.Lines, 1)
	s.Equal([]string{"storage (gb_hour)"}, calc.UnpricedMetrics)
}

func (s *CalculatorSuite) TestCurrencyConversionUsesRateAtBillingDate() {
	rate := exchangerate.New("USD", "INR",
		decimal.RequireFromString("83.25"),
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "manual")

	calc, err := Calculate(CalculationInput{
		OrganisationID: s.orgID,
		Month:          3,
		Year:           2025,
		Aggregates:     []*aggregate.UsageAggregate{s.aggregate("api_calls", "count", "1000")},
		PricingRules:   []*pricing.PricingRule{s.globalRule("api_calls", "count", "0.01", "USD")},
		ExchangeRates:  []*exchangerate.ExchangeRate{rate},
		BillingConfig:  s.config("0", "INR", false),
	})
	s.Require().NoError(err)

	s.Require().Len(calc.Lines, 1)
	line := calc.Lines[0]
	// 1000 × 0.01 USD = 10 USD × 83.25 = 832.50 INR
	s.Equal("832.5", line.Total.String())
	s.Equal("USD", line.Metadata[MetadataOriginalCurrency])
	s.Equal("10", line.Metadata[MetadataOriginalTotal])
	s.Equal("83.25", line.Metadata[MetadataExchangeRate])
	s.Equal("INR", calc.Currency)

	s.NoError(Verify(calc))
}

func (s *CalculatorSuite) TestMissingExchangeRateFails() {
	_, err := Calculate(CalculationInput{
		OrganisationID: s.orgID,
		Month:          3,
		Year:           2025,
		Aggregates:     []*aggregate.UsageAggregate{s.aggregate("api_calls", "count", "1000")},
		PricingRules:   []*pricing.PricingRule{s.globalRule("api_calls", "count", "0.01", "USD")},
		BillingConfig:  s.config("0", "INR", false),
	})
	s.Require().Error(err)
	s.True(ierr.Is(err, ierr.ErrMissingExchangeRate))
}

func (s *CalculatorSuite) TestDeterministicLineOrder() {
	input := CalculationInput{
		OrganisationID: s.orgID,
		Month:          3,
		Year:           2025,
		Aggregates: []*aggregate.UsageAggregate{
			s.aggregate("storage", "gb_hour", "50"),
			s.aggregate("api_calls", "count", "100"),
			s.aggregate("bandwidth", "gb", "10"),
		},
		PricingRules: []*pricing.PricingRule{
			s.globalRule("api_calls", "count", "0.001", "INR"),
			s.globalRule("storage", "gb_hour", "0.02", "INR"),
			s.globalRule("bandwidth", "gb", "0.5", "INR"),
		},
		BillingConfig: s.config("0.18", "INR", false),
	}

	first, err := Calculate(input)
	s.Require().NoError(err)

	// Shuffle the caller-side ordering; the output must not move.
	input.Aggregates[0], input.Aggregates[2] = input.Aggregates[2], input.Aggregates[0]
	second, err := Calculate(input)
	s.Require().NoError(err)

	s.Require().Len(first.Lines, 3)
	s.Equal("api_calls", first.Lines[0].MetricName)
	s.Equal("bandwidth", first.Lines[1].MetricName)
	s.Equal("storage", first.Lines[2].MetricName)
	for i := range first.Lines {
		s.Equal(first.Lines[i].Description, second.Lines[i].Description)
		s.True(first.Lines[i].Total.Equal(second.Lines[i].Total))
	}
	s.True(first.Total.Equal(second.Total))
}

func (s *CalculatorSuite) TestEmptyMonthProducesZeroInvoice() {
	calc, err := Calculate(CalculationInput{
		OrganisationID: s.orgID,
		Month:          3,
		Year:           2025,
		BillingConfig:  s.config("0.18", "INR", false),
	})
	s.Require().NoError(err)

	s.Empty(calc.Lines)
	s.True(calc.Total.IsZero())
	s.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), calc.PeriodStart)
	s.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), calc.PeriodEnd)
	s.Equal(time.Date(2025, 4, 16, 0, 0, 0, 0, time.UTC), calc.DueDate)
	s.NoError(Verify(calc))
}

func (s *CalculatorSuite) TestEmptyMonthStillAppliesMinimumCharge() {
	minRule := pricing.NewMinimumChargeRule(nil,
		decimal.RequireFromString("500"), "INR",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	calc, err := Calculate(CalculationInput{
		OrganisationID: s.orgID,
		Month:          3,
		Year:           2025,
		MinimumCharges: []*pricing.MinimumChargeRule{minRule},
		BillingConfig:  s.config("0.18", "INR", true),
	})
	s.Require().NoError(err)

	s.Require().Len(calc.Lines, 1)
	s.True(calc.Lines[0].IsMinimumCharge())
	s.Equal("500", calc.SubtotalAfterMin.String())
	s.Equal("590", calc.Total.String())
}

func (s *CalculatorSuite) TestOtherOrganisationsRulesIgnored() {
	foreign := pricing.NewPricingRule(lo.ToPtr("org_other"), "api_calls", "count",
		decimal.RequireFromString("9.99"), "INR",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	calc, err := Calculate(CalculationInput{
		OrganisationID: s.orgID,
		Month:          3,
		Year:           2025,
		Aggregates:     []*aggregate.UsageAggregate{s.aggregate("api_calls", "count", "100")},
		PricingRules:   []*pricing.PricingRule{foreign},
		BillingConfig:  s.config("0", "INR", false),
	})
	s.Require().NoError(err)

	s.Empty(calc.Lines)
	s.Equal([]string{"api_calls (count)"}, calc.UnpricedMetrics)
}

func (s *CalculatorSuite) TestVerifyCatchesTamperedTotal() {
	calc, err := Calculate(CalculationInput{
		OrganisationID: s.orgID,
		Month:          3,
		Year:           2025,
		Aggregates:     []*aggregate.UsageAggregate{s.aggregate("api_calls", "count", "1000")},
		PricingRules:   []*pricing.PricingRule{s.globalRule("api_calls", "count", "0.001", "INR")},
		BillingConfig:  s.config("0.18", "INR", false),
	})
	s.Require().NoError(err)

	calc.Total = calc.Total.Add(decimal.NewFromInt(5))
	err = Verify(calc)
	s.Require().Error(err)
	s.True(ierr.Is(err, ierr.ErrCalculationMismatch))
}
