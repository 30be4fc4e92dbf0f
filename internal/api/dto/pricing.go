package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/domain/pricing"
	"github.com/meterline/meterline/internal/validator"
)

type CreatePricingRuleRequest struct {
	// OrganisationID empty creates a global rule (admin only)
	OrganisationID *string         `json:"organisation_id,omitempty" binding:"omitempty"`
	MetricName     string          `json:"metric_name" validate:"required,max=100" binding:"required" example:"api_calls"`
	Unit           string          `json:"unit" validate:"required,max=50" binding:"required" example:"call"`
	PricePerUnit   decimal.Decimal `json:"price_per_unit" binding:"required" swaggertype:"string" example:"0.001"`
	Currency       string          `json:"currency" validate:"required,len=3" binding:"required" example:"INR"`
	EffectiveFrom  time.Time       `json:"effective_from" binding:"required" example:"2024-03-01T00:00:00Z"`
}

func (r *CreatePricingRuleRequest) Validate() error {
	return validator.ValidateRequest(r)
}

func (r *CreatePricingRuleRequest) ToPricingRule() *pricing.PricingRule {
	return pricing.NewPricingRule(r.OrganisationID, r.MetricName, r.Unit, r.PricePerUnit, r.Currency, r.EffectiveFrom)
}

type CreateMinimumChargeRequest struct {
	OrganisationID *string         `json:"organisation_id,omitempty" binding:"omitempty"`
	MinimumAmount  decimal.Decimal `json:"minimum_amount" binding:"required" swaggertype:"string" example:"1000"`
	Currency       string          `json:"currency" validate:"required,len=3" binding:"required" example:"INR"`
	EffectiveFrom  time.Time       `json:"effective_from" binding:"required"`
}

func (r *CreateMinimumChargeRequest) Validate() error {
	return validator.ValidateRequest(r)
}

func (r *CreateMinimumChargeRequest) ToMinimumChargeRule() *pricing.MinimumChargeRule {
	return pricing.NewMinimumChargeRule(r.OrganisationID, r.MinimumAmount, r.Currency, r.EffectiveFrom)
}

type ClosePricingRuleRequest struct {
	// At is the close instant; the rule stops pricing from this point.
	// Empty means now.
	At *time.Time `json:"at,omitempty"`
}

type UpsertBillingConfigRequest struct {
	TaxRate              decimal.Decimal `json:"tax_rate" swaggertype:"string" example:"0.18"`
	Currency             string          `json:"currency" validate:"omitempty,len=3" binding:"omitempty" example:"INR"`
	PaymentTermsDays     int             `json:"payment_terms_days" validate:"gte=0" example:"15"`
	MinimumChargeEnabled bool            `json:"minimum_charge_enabled"`
}

func (r *UpsertBillingConfigRequest) Validate() error {
	return validator.ValidateRequest(r)
}

type PricingRuleResponse struct {
	*pricing.PricingRule
}

type ListPricingRulesResponse struct {
	Items []*PricingRuleResponse `json:"items"`
	Total int                    `json:"total"`
}

type MinimumChargeResponse struct {
	*pricing.MinimumChargeRule
}

type BillingConfigResponse struct {
	*pricing.BillingConfig
}
