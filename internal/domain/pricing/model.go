package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// PricingRule prices one (metric, unit) pair. A nil OrganisationID makes the
// rule global; an organisation-specific rule always wins over a global one.
// Effective windows are half-open: from ≤ t < to, open-ended when to is nil.
type PricingRule struct {
	ID             string          `db:"id" json:"id"`
	OrganisationID *string         `db:"organisation_id" json:"organisation_id,omitempty"`
	MetricName     string          `db:"metric_name" json:"metric_name"`
	Unit           string          `db:"unit" json:"unit"`
	PricePerUnit   decimal.Decimal `db:"price_per_unit" json:"price_per_unit"`
	Currency       string          `db:"currency" json:"currency"`
	EffectiveFrom  time.Time       `db:"effective_from" json:"effective_from"`
	EffectiveTo    *time.Time      `db:"effective_to" json:"effective_to,omitempty"`
	types.BaseModel
}

// NewPricingRule creates a rule effective from the given instant
func NewPricingRule(organisationID *string, metricName, unit string, pricePerUnit decimal.Decimal, currency string, effectiveFrom time.Time) *PricingRule {
	return &PricingRule{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PRICING_RULE),
		OrganisationID: organisationID,
		MetricName:     metricName,
		Unit:           unit,
		PricePerUnit:   pricePerUnit,
		Currency:       types.NormalizeCurrency(currency),
		EffectiveFrom:  effectiveFrom.UTC(),
	}
}

func (r *PricingRule) Validate() error {
	if r.MetricName == "" || r.Unit == "" {
		return ierr.NewError("metric_name and unit are required").
			Mark(ierr.ErrValidation)
	}
	if r.PricePerUnit.IsNegative() {
		return ierr.NewError("price_per_unit must not be negative").
			Mark(ierr.ErrValidation)
	}
	if err := types.ValidateCurrency(r.Currency); err != nil {
		return err
	}
	if r.EffectiveTo != nil && !r.EffectiveTo.After(r.EffectiveFrom) {
		return ierr.NewError("effective_to must be after effective_from").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsEffectiveAt reports whether the rule covers the given instant
func (r *PricingRule) IsEffectiveAt(at time.Time) bool {
	if at.Before(r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && !at.Before(*r.EffectiveTo) {
		return false
	}
	return true
}

// IsGlobal reports whether the rule applies to all organisations
func (r *PricingRule) IsGlobal() bool {
	return r.OrganisationID == nil
}

// MinimumChargeRule sets a floor on the invoice subtotal. Same scoping and
// effective-window semantics as PricingRule.
type MinimumChargeRule struct {
	ID             string          `db:"id" json:"id"`
	OrganisationID *string         `db:"organisation_id" json:"organisation_id,omitempty"`
	MinimumAmount  decimal.Decimal `db:"minimum_amount" json:"minimum_amount"`
	Currency       string          `db:"currency" json:"currency"`
	EffectiveFrom  time.Time       `db:"effective_from" json:"effective_from"`
	EffectiveTo    *time.Time      `db:"effective_to" json:"effective_to,omitempty"`
	types.BaseModel
}

// NewMinimumChargeRule creates a minimum-charge rule effective from the given instant
func NewMinimumChargeRule(organisationID *string, minimumAmount decimal.Decimal, currency string, effectiveFrom time.Time) *MinimumChargeRule {
	return &MinimumChargeRule{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_MINIMUM_CHARGE),
		OrganisationID: organisationID,
		MinimumAmount:  minimumAmount,
		Currency:       types.NormalizeCurrency(currency),
		EffectiveFrom:  effectiveFrom.UTC(),
	}
}

func (r *MinimumChargeRule) Validate() error {
	if r.MinimumAmount.IsNegative() {
		return ierr.NewError("minimum_amount must not be negative").
			Mark(ierr.ErrValidation)
	}
	if err := types.ValidateCurrency(r.Currency); err != nil {
		return err
	}
	if r.EffectiveTo != nil && !r.EffectiveTo.After(r.EffectiveFrom) {
		return ierr.NewError("effective_to must be after effective_from").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsEffectiveAt reports whether the rule covers the given instant
func (r *MinimumChargeRule) IsEffectiveAt(at time.Time) bool {
	if at.Before(r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && !at.Before(*r.EffectiveTo) {
		return false
	}
	return true
}

// IsGlobal reports whether the rule applies to all organisations
func (r *MinimumChargeRule) IsGlobal() bool {
	return r.OrganisationID == nil
}

// BillingConfig is the per-organisation invoicing policy
type BillingConfig struct {
	ID             string `db:"id" json:"id"`
	OrganisationID string `db:"organisation_id" json:"organisation_id"`

	// TaxRate is a fraction, e.g. 0.18 for 18% GST
	TaxRate decimal.Decimal `db:"tax_rate" json:"tax_rate"`

	// Currency invoices are issued in
	Currency string `db:"currency" json:"currency"`

	// PaymentTermsDays sets due_date = period_end + terms
	PaymentTermsDays int `db:"payment_terms_days" json:"payment_terms_days"`

	// MinimumChargeEnabled turns the subtotal floor on
	MinimumChargeEnabled bool `db:"minimum_charge_enabled" json:"minimum_charge_enabled"`

	types.BaseModel
}

// NewBillingConfig creates a config with platform defaults
func NewBillingConfig(organisationID string, taxRate decimal.Decimal, currency string, paymentTermsDays int) *BillingConfig {
	if currency == "" {
		currency = types.DefaultCurrency
	}
	return &BillingConfig{
		ID:               types.GenerateUUIDWithPrefix(types.UUID_PREFIX_BILLING_CONFIG),
		OrganisationID:   organisationID,
		TaxRate:          taxRate,
		Currency:         types.NormalizeCurrency(currency),
		PaymentTermsDays: paymentTermsDays,
	}
}

func (c *BillingConfig) Validate() error {
	if c.OrganisationID == "" {
		return ierr.NewError("organisation_id is required").
			Mark(ierr.ErrValidation)
	}
	if c.TaxRate.IsNegative() || c.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return ierr.NewError("tax_rate must be between 0 and 1").
			WithReportableDetails(map[string]any{"tax_rate": c.TaxRate.String()}).
			Mark(ierr.ErrValidation)
	}
	if c.PaymentTermsDays < 0 {
		return ierr.NewError("payment_terms_days must not be negative").
			Mark(ierr.ErrValidation)
	}
	return types.ValidateCurrency(c.Currency)
}
