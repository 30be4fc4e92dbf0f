package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/domain/alert"
	"github.com/meterline/meterline/internal/types"
	"github.com/meterline/meterline/internal/validator"
)

type CreateAlertRuleRequest struct {
	AlertType types.AlertType `json:"alert_type" validate:"required" binding:"required" example:"usage_threshold"`

	MetricName *string `json:"metric_name,omitempty" binding:"omitempty"`
	Unit       *string `json:"unit,omitempty" binding:"omitempty"`

	Threshold        decimal.Decimal     `json:"threshold" swaggertype:"string" example:"100000"`
	Operator         types.AlertOperator `json:"operator" validate:"required" binding:"required" example:"gte"`
	ComparisonPeriod types.AlertPeriod   `json:"comparison_period" validate:"required" binding:"required" example:"day"`

	SpikePercent    *decimal.Decimal   `json:"spike_percent,omitempty" swaggertype:"string"`
	ReferencePeriod *types.AlertPeriod `json:"reference_period,omitempty"`

	Channels        []string `json:"channels" validate:"omitempty,dive,oneof=email webhook"`
	CooldownMinutes int      `json:"cooldown_minutes" validate:"gte=0" example:"60"`
}

func (r *CreateAlertRuleRequest) Validate() error {
	return validator.ValidateRequest(r)
}

func (r *CreateAlertRuleRequest) ToRule(organisationID string) *alert.Rule {
	rule := alert.NewRule(organisationID, r.AlertType, r.Threshold, r.Operator, r.ComparisonPeriod, r.CooldownMinutes)
	rule.MetricName = r.MetricName
	rule.Unit = r.Unit
	rule.SpikePercent = r.SpikePercent
	rule.ReferencePeriod = r.ReferencePeriod
	rule.Channels = r.Channels
	return rule
}

type UpdateAlertRuleRequest struct {
	Threshold       *decimal.Decimal `json:"threshold,omitempty" swaggertype:"string"`
	IsActive        *bool            `json:"is_active,omitempty"`
	Channels        []string         `json:"channels,omitempty" validate:"omitempty,dive,oneof=email webhook"`
	CooldownMinutes *int             `json:"cooldown_minutes,omitempty" validate:"omitempty,gte=0"`
}

func (r *UpdateAlertRuleRequest) Validate() error {
	return validator.ValidateRequest(r)
}

type AlertRuleResponse struct {
	*alert.Rule
}

type ListAlertRulesResponse struct {
	Items []*AlertRuleResponse `json:"items"`
	Total int                  `json:"total"`
}

type AlertHistoryResponse struct {
	*alert.History
}

type ListAlertHistoryRequest struct {
	RuleID string     `form:"rule_id" json:"rule_id"`
	Status string     `form:"status" json:"status"`
	From   *time.Time `form:"from" json:"from,omitempty"`
	To     *time.Time `form:"to" json:"to,omitempty"`
	Limit  int        `form:"limit" json:"limit"`
	Offset int        `form:"offset" json:"offset"`
}

type ListAlertHistoryResponse struct {
	Items []*AlertHistoryResponse `json:"items"`
	Total int                     `json:"total"`
}
