package billing

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/domain/aggregate"
	"github.com/meterline/meterline/internal/domain/exchangerate"
	"github.com/meterline/meterline/internal/domain/pricing"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// Line metadata keys. The invoice generator and the validation gate read
// these back, so they are part of the calculator's contract.
const (
	MetadataLineType          = "line_type"
	MetadataProjectID         = "project_id"
	MetadataOriginalCurrency  = "original_currency"
	MetadataOriginalTotal     = "original_total"
	MetadataOriginalUnitPrice = "original_unit_price"
	MetadataExchangeRate      = "exchange_rate"

	LineTypeMinimumCharge = "minimum_charge"
)

// CalculationInput carries everything Calculate needs. The caller does all
// the I/O; rules and rates arrive as plain data so the same input always
// produces the same invoice.
type CalculationInput struct {
	OrganisationID string
	Month          int
	Year           int

	Aggregates     []*aggregate.UsageAggregate
	PricingRules   []*pricing.PricingRule
	MinimumCharges []*pricing.MinimumChargeRule
	BillingConfig  *pricing.BillingConfig
	ExchangeRates  []*exchangerate.ExchangeRate
}

// CalculatedLine is one computed charge, not yet a persisted line item
type CalculatedLine struct {
	LineNumber  int
	Description string
	MetricName  string
	Unit        string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
	Metadata    types.Metadata
}

// IsMinimumCharge reports whether the line is the subtotal-floor adjustment
func (l *CalculatedLine) IsMinimumCharge() bool {
	return l.Metadata[MetadataLineType] == LineTypeMinimumCharge
}

// CalculatedInvoice is the pure result of pricing one billing month.
// Subtotal covers the usage lines only; SubtotalAfterMin includes the
// minimum-charge adjustment when one was appended.
type CalculatedInvoice struct {
	OrganisationID string
	Currency       string
	Month          int
	Year           int

	PeriodStart time.Time
	PeriodEnd   time.Time
	DueDate     time.Time

	Lines            []*CalculatedLine
	Subtotal         decimal.Decimal
	SubtotalAfterMin decimal.Decimal
	Tax              decimal.Decimal
	Discount         decimal.Decimal
	Total            decimal.Decimal

	// UnpricedMetrics lists aggregates no effective rule covered, as
	// "metric_name (unit)" strings in line order
	UnpricedMetrics []string
}

// BillingDate is the instant effective windows are resolved at when billing
// a month: the last instant of that month. Rules and rates becoming
// effective on the first of the next month never touch the billed month.
func BillingDate(month, year int) time.Time {
	_, periodEnd := types.BillingPeriod(month, year)
	return periodEnd.Add(-time.Nanosecond)
}

// Calculate prices the month's aggregates into a draft invoice. It performs
// no I/O and reads no clocks; the billing date is the last instant of the
// billed month.
func Calculate(input CalculationInput) (*CalculatedInvoice, error) {
	if input.BillingConfig == nil {
		return nil, ierr.NewError("billing config is required").
			Mark(ierr.ErrValidation)
	}
	if err := types.ValidateBillingMonth(input.Month, input.Year); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrValidation)
	}

	periodStart, periodEnd := types.BillingPeriod(input.Month, input.Year)
	billingDate := BillingDate(input.Month, input.Year)
	currency := types.NormalizeCurrency(input.BillingConfig.Currency)

	// Stable line order regardless of how the caller fetched aggregates
	aggregates := make([]*aggregate.UsageAggregate, len(input.Aggregates))
	copy(aggregates, input.Aggregates)
	sort.Slice(aggregates, func(i, j int) bool {
		a, b := aggregates[i], aggregates[j]
		if a.MetricName != b.MetricName {
			return a.MetricName < b.MetricName
		}
		if a.Unit != b.Unit {
			return a.Unit < b.Unit
		}
		return a.ProjectID < b.ProjectID
	})

	result := &CalculatedInvoice{
		OrganisationID: input.OrganisationID,
		Currency:       currency,
		Month:          input.Month,
		Year:           input.Year,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		DueDate:        periodEnd.AddDate(0, 0, input.BillingConfig.PaymentTermsDays),
		Discount:       decimal.Zero,
	}

	subtotal := types.ZeroMoney(currency)
	for _, agg := range aggregates {
		rule := SelectPricingRule(input.PricingRules, input.OrganisationID, agg.MetricName, agg.Unit, billingDate)
		if rule == nil {
			result.UnpricedMetrics = append(result.UnpricedMetrics,
				fmt.Sprintf("%s (%s)", agg.MetricName, agg.Unit))
			continue
		}

		line, err := buildLine(agg, rule, currency, input.ExchangeRates, billingDate)
		if err != nil {
			return nil, err
		}
		line.LineNumber = len(result.Lines) + 1
		result.Lines = append(result.Lines, line)

		subtotal, err = subtotal.Add(types.NewMoney(line.Total, currency))
		if err != nil {
			return nil, err
		}
	}
	result.Subtotal = subtotal.Amount

	subtotalAfterMin, err := applyMinimumCharge(result, subtotal, input, billingDate)
	if err != nil {
		return nil, err
	}
	result.SubtotalAfterMin = subtotalAfterMin.Amount

	tax := subtotalAfterMin.Mul(input.BillingConfig.TaxRate).Round()
	result.Tax = tax.Amount

	total, err := subtotalAfterMin.Add(tax)
	if err != nil {
		return nil, err
	}
	total, err = total.Sub(types.NewMoney(result.Discount, currency))
	if err != nil {
		return nil, err
	}
	result.Total = total.Amount

	return result, nil
}

// buildLine prices one aggregate with the selected rule, converting into the
// invoice currency when the rule is denominated differently. Conversion
// applies the rate to the exact line total and rounds half-even at the
// target currency scale; unconverted lines stay exact.
func buildLine(agg *aggregate.UsageAggregate, rule *pricing.PricingRule, currency string, rates []*exchangerate.ExchangeRate, billingDate time.Time) (*CalculatedLine, error) {
	quantity := agg.TotalValue
	lineTotal := types.NewMoney(rule.PricePerUnit, rule.Currency).Mul(quantity)

	line := &CalculatedLine{
		Description: fmt.Sprintf("%s (%s)", agg.MetricName, agg.Unit),
		MetricName:  agg.MetricName,
		Unit:        agg.Unit,
		Quantity:    quantity,
		UnitPrice:   rule.PricePerUnit,
		Metadata:    types.Metadata{MetadataProjectID: agg.ProjectID},
	}

	if types.IsSameCurrency(rule.Currency, currency) {
		line.Total = lineTotal.Amount
		return line, nil
	}

	rate, err := findRate(rates, rule.Currency, currency, billingDate)
	if err != nil {
		return nil, err
	}

	converted := types.NewMoney(lineTotal.Amount.Mul(rate), currency).Round()
	convertedPrice := types.NewMoney(rule.PricePerUnit.Mul(rate), currency)

	line.Metadata[MetadataOriginalCurrency] = types.NormalizeCurrency(rule.Currency)
	line.Metadata[MetadataOriginalTotal] = lineTotal.Amount.String()
	line.Metadata[MetadataOriginalUnitPrice] = rule.PricePerUnit.String()
	line.Metadata[MetadataExchangeRate] = rate.String()
	line.UnitPrice = convertedPrice.Amount
	line.Total = converted.Amount
	return line, nil
}

// applyMinimumCharge appends the adjustment line when the floor is enabled,
// an effective rule exists and the subtotal falls short of it
func applyMinimumCharge(result *CalculatedInvoice, subtotal types.Money, input CalculationInput, billingDate time.Time) (types.Money, error) {
	if !input.BillingConfig.MinimumChargeEnabled {
		return subtotal, nil
	}

	minRule := selectMinimumCharge(input.MinimumCharges, input.OrganisationID, billingDate)
	if minRule == nil {
		return subtotal, nil
	}

	minimum := types.NewMoney(minRule.MinimumAmount, minRule.Currency)
	if !types.IsSameCurrency(minRule.Currency, result.Currency) {
		rate, err := findRate(input.ExchangeRates, minRule.Currency, result.Currency, billingDate)
		if err != nil {
			return types.Money{}, err
		}
		minimum = types.NewMoney(minimum.Amount.Mul(rate), result.Currency).Round()
	}

	cmp, err := subtotal.Cmp(minimum)
	if err != nil {
		return types.Money{}, err
	}
	if cmp >= 0 {
		return subtotal, nil
	}

	adjustment, err := minimum.Sub(subtotal)
	if err != nil {
		return types.Money{}, err
	}

	result.Lines = append(result.Lines, &CalculatedLine{
		LineNumber:  len(result.Lines) + 1,
		Description: "Minimum charge adjustment",
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   adjustment.Amount,
		Total:       adjustment.Amount,
		Metadata:    types.Metadata{MetadataLineType: LineTypeMinimumCharge},
	})

	return minimum, nil
}

// SelectPricingRule picks the rule pricing (metric, unit) at the given
// instant: organisation-specific over global, then latest effective_from,
// then id for a total order. Invoice generation and the cost-breakdown query
// share it so both price the same way.
func SelectPricingRule(rules []*pricing.PricingRule, organisationID, metricName, unit string, at time.Time) *pricing.PricingRule {
	var best *pricing.PricingRule
	for _, rule := range rules {
		if rule.MetricName != metricName || rule.Unit != unit {
			continue
		}
		if !rule.IsEffectiveAt(at) {
			continue
		}
		if !rule.IsGlobal() && *rule.OrganisationID != organisationID {
			continue
		}
		if best == nil || pricingRuleWins(rule, best) {
			best = rule
		}
	}
	return best
}

func pricingRuleWins(candidate, incumbent *pricing.PricingRule) bool {
	if candidate.IsGlobal() != incumbent.IsGlobal() {
		return incumbent.IsGlobal()
	}
	if !candidate.EffectiveFrom.Equal(incumbent.EffectiveFrom) {
		return candidate.EffectiveFrom.After(incumbent.EffectiveFrom)
	}
	return candidate.ID > incumbent.ID
}

// selectMinimumCharge mirrors SelectPricingRule for the subtotal floor
func selectMinimumCharge(rules []*pricing.MinimumChargeRule, organisationID string, billingDate time.Time) *pricing.MinimumChargeRule {
	var best *pricing.MinimumChargeRule
	for _, rule := range rules {
		if !rule.IsEffectiveAt(billingDate) {
			continue
		}
		if !rule.IsGlobal() && *rule.OrganisationID != organisationID {
			continue
		}
		if best == nil || minimumChargeWins(rule, best) {
			best = rule
		}
	}
	return best
}

func minimumChargeWins(candidate, incumbent *pricing.MinimumChargeRule) bool {
	if candidate.IsGlobal() != incumbent.IsGlobal() {
		return incumbent.IsGlobal()
	}
	if !candidate.EffectiveFrom.Equal(incumbent.EffectiveFrom) {
		return candidate.EffectiveFrom.After(incumbent.EffectiveFrom)
	}
	return candidate.ID > incumbent.ID
}

// findRate resolves base→target at the billing date from the input rates.
// Identity for same currency; no inversion, the stored direction must exist.
func findRate(rates []*exchangerate.ExchangeRate, base, target string, at time.Time) (decimal.Decimal, error) {
	if types.IsSameCurrency(base, target) {
		return decimal.NewFromInt(1), nil
	}

	var best *exchangerate.ExchangeRate
	for _, rate := range rates {
		if !types.IsSameCurrency(rate.Base, base) || !types.IsSameCurrency(rate.Target, target) {
			continue
		}
		if !rate.IsEffectiveAt(at) {
			continue
		}
		if best == nil || rate.EffectiveFrom.After(best.EffectiveFrom) ||
			(rate.EffectiveFrom.Equal(best.EffectiveFrom) && rate.ID > best.ID) {
			best = rate
		}
	}
	if best == nil {
		return decimal.Zero, ierr.NewErrorf("no exchange rate from %s to %s", base, target).
			WithHint("Add an exchange rate covering the billing date").
			WithReportableDetails(map[string]any{
				"base":   types.NormalizeCurrency(base),
				"target": types.NormalizeCurrency(target),
				"at":     at,
			}).
			Mark(ierr.ErrMissingExchangeRate)
	}
	return best.Rate, nil
}
