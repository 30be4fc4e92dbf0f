package alert

import (
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// Rule is a usage or cost alert definition. Rules are evaluated hourly;
// a rule that fired inside its cooldown window is skipped.
type Rule struct {
	ID             string          `db:"id" json:"id"`
	OrganisationID string          `db:"organisation_id" json:"organisation_id"`
	AlertType      types.AlertType `db:"alert_type" json:"alert_type"`

	// MetricName/Unit scope the detector; empty means all metrics (cost
	// rules price the whole period)
	MetricName *string `db:"metric_name" json:"metric_name,omitempty"`
	Unit       *string `db:"unit" json:"unit,omitempty"`

	Threshold        decimal.Decimal     `db:"threshold" json:"threshold"`
	Operator         types.AlertOperator `db:"operator" json:"operator"`
	ComparisonPeriod types.AlertPeriod   `db:"comparison_period" json:"comparison_period"`

	// SpikePercent and ReferencePeriod drive the usage_spike detector
	SpikePercent    *decimal.Decimal   `db:"spike_percent" json:"spike_percent,omitempty"`
	ReferencePeriod *types.AlertPeriod `db:"reference_period" json:"reference_period,omitempty"`

	IsActive bool `db:"is_active" json:"is_active"`

	// Channels lists notification destinations (email, webhook)
	Channels []string `db:"-" json:"channels"`

	CooldownMinutes int        `db:"cooldown_minutes" json:"cooldown_minutes"`
	LastAlertAt     *time.Time `db:"last_alert_at" json:"last_alert_at,omitempty"`

	types.BaseModel
}

// NewRule creates an active rule with defaults applied
func NewRule(organisationID string, alertType types.AlertType, threshold decimal.Decimal, operator types.AlertOperator, period types.AlertPeriod, cooldownMinutes int) *Rule {
	return &Rule{
		ID:               types.GenerateUUIDWithPrefix(types.UUID_PREFIX_ALERT_RULE),
		OrganisationID:   organisationID,
		AlertType:        alertType,
		Threshold:        threshold,
		Operator:         operator,
		ComparisonPeriod: period,
		IsActive:         true,
		CooldownMinutes:  cooldownMinutes,
	}
}

func (r *Rule) Validate() error {
	if r.OrganisationID == "" {
		return ierr.NewError("organisation_id is required").
			Mark(ierr.ErrValidation)
	}
	if err := r.AlertType.Validate(); err != nil {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}
	if err := r.Operator.Validate(); err != nil {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}
	if err := r.ComparisonPeriod.Validate(); err != nil {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}
	if r.AlertType == types.AlertTypeUsageSpike && r.SpikePercent == nil {
		return ierr.NewError("spike_percent is required for usage_spike rules").
			Mark(ierr.ErrValidation)
	}
	for _, ch := range r.Channels {
		if err := types.AlertChannel(ch).Validate(); err != nil {
			return ierr.WithError(err).Mark(ierr.ErrValidation)
		}
	}
	if r.CooldownMinutes < 0 {
		return ierr.NewError("cooldown_minutes must not be negative").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// InCooldown reports whether the rule fired too recently to fire again
func (r *Rule) InCooldown(now time.Time) bool {
	if r.LastAlertAt == nil || r.CooldownMinutes <= 0 {
		return false
	}
	return now.Before(r.LastAlertAt.Add(time.Duration(r.CooldownMinutes) * time.Minute))
}

// History records one fired alert and its notification outcome
type History struct {
	ID             string                   `db:"id" json:"id"`
	RuleID         string                   `db:"rule_id" json:"rule_id"`
	OrganisationID string                   `db:"organisation_id" json:"organisation_id"`
	Status         types.AlertHistoryStatus `db:"notification_status" json:"status"`
	ActualValue    decimal.Decimal          `db:"actual_value" json:"actual_value"`
	ThresholdValue decimal.Decimal          `db:"threshold_value" json:"threshold_value"`
	PeriodStart    time.Time                `db:"period_start" json:"period_start"`
	PeriodEnd      time.Time                `db:"period_end" json:"period_end"`
	Message        string                   `db:"message" json:"message"`
	types.BaseModel
}

// NewHistory creates a pending history row for a fired rule
func NewHistory(rule *Rule, actual decimal.Decimal, periodStart, periodEnd time.Time, message string) *History {
	return &History{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_ALERT_HISTORY),
		RuleID:         rule.ID,
		OrganisationID: rule.OrganisationID,
		Status:         types.AlertHistoryStatusPending,
		ActualValue:    actual,
		ThresholdValue: rule.Threshold,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		Message:        message,
	}
}
