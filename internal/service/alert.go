package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/billing"
	"github.com/meterline/meterline/internal/domain/alert"
	"github.com/meterline/meterline/internal/domain/auditlog"
	"github.com/meterline/meterline/internal/domain/events"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/notifier"
	"github.com/meterline/meterline/internal/types"
)

// alertEvalConcurrency bounds the per-rule evaluation pool.
const alertEvalConcurrency = 4

// hotWindowLimit decides which tier answers a window query: short windows
// read the hot store (fresh, complete until cleanup), longer ones read the
// durable store (complete once migrated, lags by one migration interval).
const hotWindowLimit = 48 * time.Hour

// AlertService manages alert rules and runs the hourly evaluation pass.
type AlertService interface {
	CreateRule(ctx context.Context, req *dto.CreateAlertRuleRequest) (*dto.AlertRuleResponse, error)
	GetRule(ctx context.Context, id string) (*dto.AlertRuleResponse, error)
	ListRules(ctx context.Context) (*dto.ListAlertRulesResponse, error)
	UpdateRule(ctx context.Context, id string, req *dto.UpdateAlertRuleRequest) (*dto.AlertRuleResponse, error)
	DeleteRule(ctx context.Context, id string) error

	// EvaluateAll runs every active rule against the window ending now.
	// Per-rule failures are isolated; the returned stats count them.
	EvaluateAll(ctx context.Context) (*AlertRunStats, error)

	Acknowledge(ctx context.Context, historyID string) (*dto.AlertHistoryResponse, error)
	ListHistory(ctx context.Context, req *dto.ListAlertHistoryRequest) (*dto.ListAlertHistoryResponse, error)
}

// AlertRunStats summarises one evaluation pass.
type AlertRunStats struct {
	Evaluated int `json:"evaluated"`
	Fired     int `json:"fired"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type alertService struct {
	ServiceParams
}

func NewAlertService(params ServiceParams) AlertService {
	return &alertService{ServiceParams: params}
}

func (s *alertService) CreateRule(ctx context.Context, req *dto.CreateAlertRuleRequest) (*dto.AlertRuleResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	organisationID := types.GetOrganisationID(ctx)
	if organisationID == "" {
		return nil, ierr.NewError("organisation scope missing").
			WithHint("Authenticate with an organisation-scoped credential").
			Mark(ierr.ErrPermissionDenied)
	}

	rule := req.ToRule(organisationID)
	if rule.CooldownMinutes == 0 {
		rule.CooldownMinutes = s.Config.Alerts.DefaultCooldownMinutes
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	if err := s.AlertRuleRepo.Create(ctx, rule); err != nil {
		return nil, err
	}
	s.audit(ctx, auditlog.New(auditlog.EntityAlertRule, rule.ID, types.GetActor(ctx), auditlog.ActionCreate).
		WithChange(nil, types.Metadata{
			"alert_type": string(rule.AlertType),
			"threshold":  rule.Threshold.String(),
		}))

	return &dto.AlertRuleResponse{Rule: rule}, nil
}

func (s *alertService) GetRule(ctx context.Context, id string) (*dto.AlertRuleResponse, error) {
	rule, err := s.ruleInScope(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.AlertRuleResponse{Rule: rule}, nil
}

func (s *alertService) ListRules(ctx context.Context) (*dto.ListAlertRulesResponse, error) {
	organisationID := types.GetOrganisationID(ctx)
	rules, err := s.AlertRuleRepo.ListByOrganisation(ctx, organisationID)
	if err != nil {
		return nil, err
	}

	resp := &dto.ListAlertRulesResponse{Items: make([]*dto.AlertRuleResponse, 0, len(rules)), Total: len(rules)}
	for _, r := range rules {
		resp.Items = append(resp.Items, &dto.AlertRuleResponse{Rule: r})
	}
	return resp, nil
}

func (s *alertService) UpdateRule(ctx context.Context, id string, req *dto.UpdateAlertRuleRequest) (*dto.AlertRuleResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	rule, err := s.ruleInScope(ctx, id)
	if err != nil {
		return nil, err
	}

	before := types.Metadata{
		"threshold": rule.Threshold.String(),
		"is_active": fmt.Sprintf("%t", rule.IsActive),
	}
	if req.Threshold != nil {
		rule.Threshold = *req.Threshold
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if req.Channels != nil {
		rule.Channels = req.Channels
	}
	if req.CooldownMinutes != nil {
		rule.CooldownMinutes = *req.CooldownMinutes
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	if err := s.AlertRuleRepo.Update(ctx, rule); err != nil {
		return nil, err
	}
	s.audit(ctx, auditlog.New(auditlog.EntityAlertRule, rule.ID, types.GetActor(ctx), auditlog.ActionUpdate).
		WithChange(before, types.Metadata{
			"threshold": rule.Threshold.String(),
			"is_active": fmt.Sprintf("%t", rule.IsActive),
		}))

	return &dto.AlertRuleResponse{Rule: rule}, nil
}

func (s *alertService) DeleteRule(ctx context.Context, id string) error {
	rule, err := s.ruleInScope(ctx, id)
	if err != nil {
		return err
	}
	if err := s.AlertRuleRepo.Delete(ctx, rule.ID); err != nil {
		return err
	}
	s.audit(ctx, auditlog.New(auditlog.EntityAlertRule, rule.ID, types.GetActor(ctx), auditlog.ActionDelete).
		WithChange(types.Metadata{"alert_type": string(rule.AlertType)}, nil))
	return nil
}

func (s *alertService) EvaluateAll(ctx context.Context) (*AlertRunStats, error) {
	stats := &AlertRunStats{}
	if !s.Config.Alerts.Enabled {
		s.Logger.Debugw("alert evaluation disabled")
		return stats, nil
	}

	rules, err := s.AlertRuleRepo.ListActive(ctx)
	if err != nil {
		return stats, err
	}
	if len(rules) == 0 {
		return stats, nil
	}

	now := time.Now().UTC()
	type outcome struct {
		fired   bool
		skipped bool
		err     error
	}
	results := make([]outcome, len(rules))

	p := pool.New().WithContext(ctx).WithMaxGoroutines(alertEvalConcurrency)
	for i, rule := range rules {
		i, rule := i, rule
		p.Go(func(ctx context.Context) error {
			fired, skipped, err := s.evaluateRule(ctx, rule, now)
			results[i] = outcome{fired: fired, skipped: skipped, err: err}
			if err != nil {
				s.Logger.Errorw("alert rule evaluation failed",
					"rule_id", rule.ID,
					"organisation_id", rule.OrganisationID,
					"alert_type", rule.AlertType,
					"error", err,
				)
			}
			// Errors are recorded per rule; the pool keeps going.
			return nil
		})
	}
	_ = p.Wait()

	for _, r := range results {
		switch {
		case r.err != nil:
			stats.Failed++
		case r.skipped:
			stats.Skipped++
		default:
			stats.Evaluated++
			if r.fired {
				stats.Fired++
			}
		}
	}

	s.Logger.Infow("alert evaluation finished",
		"rules", len(rules),
		"evaluated", stats.Evaluated,
		"fired", stats.Fired,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
	)
	return stats, nil
}

// evaluateRule runs one rule's detector over the window ending at now.
func (s *alertService) evaluateRule(ctx context.Context, rule *alert.Rule, now time.Time) (fired, skipped bool, err error) {
	if !rule.IsActive || rule.InCooldown(now) {
		return false, true, nil
	}

	periodEnd := now
	periodStart := now.Add(-rule.ComparisonPeriod.Duration())

	var (
		trigger bool
		actual  decimal.Decimal
		message string
	)

	switch rule.AlertType {
	case types.AlertTypeUsageThreshold:
		actual, err = s.windowUsage(ctx, rule, periodStart, periodEnd)
		if err != nil {
			return false, false, err
		}
		trigger = compareThreshold(rule.Operator, actual, rule.Threshold)
		message = fmt.Sprintf("usage %s is %s %s (threshold %s)",
			ruleScope(rule), actual, rule.Operator, rule.Threshold)

	case types.AlertTypeUsageSpike:
		refPeriod := rule.ComparisonPeriod
		if rule.ReferencePeriod != nil {
			refPeriod = *rule.ReferencePeriod
		}
		refEnd := periodStart
		refStart := refEnd.Add(-refPeriod.Duration())

		actual, err = s.windowUsage(ctx, rule, periodStart, periodEnd)
		if err != nil {
			return false, false, err
		}
		reference, err := s.windowUsage(ctx, rule, refStart, refEnd)
		if err != nil {
			return false, false, err
		}
		if reference.IsZero() {
			// No baseline: a spike from nothing is first usage, not a spike.
			return false, false, nil
		}
		growth := actual.Sub(reference).Div(reference).Mul(decimal.NewFromInt(100))
		trigger = growth.GreaterThanOrEqual(*rule.SpikePercent)
		message = fmt.Sprintf("usage %s grew %s%% over the reference period (limit %s%%)",
			ruleScope(rule), growth.Round(2), rule.SpikePercent)

	case types.AlertTypeCostThreshold:
		actual, err = s.windowCost(ctx, rule, periodStart, periodEnd, now)
		if err != nil {
			return false, false, err
		}
		trigger = compareThreshold(rule.Operator, actual, rule.Threshold)
		message = fmt.Sprintf("estimated cost is %s %s (threshold %s)",
			actual, rule.Operator, rule.Threshold)

	case types.AlertTypeUnusualPattern:
		actual, err = s.windowUsage(ctx, rule, periodStart, periodEnd)
		if err != nil {
			return false, false, err
		}
		// Usage going quiet on a metric that normally flows is the pattern
		// worth waking someone for.
		trigger = actual.IsZero() && rule.Threshold.IsPositive()
		message = fmt.Sprintf("no usage %s recorded in the last %s",
			ruleScope(rule), rule.ComparisonPeriod)

	default:
		return false, false, ierr.NewErrorf("unknown alert type %s", rule.AlertType).
			Mark(ierr.ErrValidation)
	}

	if !trigger {
		return false, false, nil
	}

	history := alert.NewHistory(rule, actual, periodStart, periodEnd, message)
	if err := s.AlertHistoryRepo.Create(ctx, history); err != nil {
		return false, false, err
	}

	org, err := s.OrganisationRepo.Get(ctx, rule.OrganisationID)
	orgName := rule.OrganisationID
	if err == nil {
		orgName = org.Name
	}

	n := &notifier.Notification{
		OrganisationID:   rule.OrganisationID,
		OrganisationName: orgName,
		RuleID:           rule.ID,
		RuleName:         ruleName(rule),
		Title:            fmt.Sprintf("Alert: %s", ruleName(rule)),
		Message:          message,
		TriggeredAt:      now,
		Details: map[string]interface{}{
			"actual":       actual.String(),
			"threshold":    rule.Threshold.String(),
			"period_start": periodStart,
			"period_end":   periodEnd,
		},
	}

	status := types.AlertHistoryStatusSent
	if err := s.Notifier.Dispatch(ctx, rule.Channels, n); err != nil {
		status = types.AlertHistoryStatusFailed
	}
	if err := s.AlertHistoryRepo.UpdateStatus(ctx, history.ID, status); err != nil {
		s.Logger.Errorw("failed to update alert history status",
			"history_id", history.ID,
			"error", err,
		)
	}

	// Cooldown counts from the trigger, not from delivery.
	if err := s.AlertRuleRepo.TouchLastAlert(ctx, rule.ID, now); err != nil {
		s.Logger.Errorw("failed to stamp last_alert_at",
			"rule_id", rule.ID,
			"error", err,
		)
	}

	s.Metrics.AlertsFired.WithLabelValues(string(rule.AlertType)).Inc()
	s.Logger.Infow("alert fired",
		"rule_id", rule.ID,
		"organisation_id", rule.OrganisationID,
		"alert_type", rule.AlertType,
		"actual", actual.String(),
		"threshold", rule.Threshold.String(),
		"notification_status", status,
	)
	return true, false, nil
}

func (s *alertService) Acknowledge(ctx context.Context, historyID string) (*dto.AlertHistoryResponse, error) {
	history, err := s.AlertHistoryRepo.Get(ctx, historyID)
	if err != nil {
		return nil, err
	}
	if orgID := types.GetOrganisationID(ctx); orgID != "" && history.OrganisationID != orgID {
		return nil, ierr.NewError("alert history not found").
			Mark(ierr.ErrNotFound)
	}

	if err := s.AlertHistoryRepo.UpdateStatus(ctx, history.ID, types.AlertHistoryStatusAcknowledged); err != nil {
		return nil, err
	}
	history.Status = types.AlertHistoryStatusAcknowledged
	return &dto.AlertHistoryResponse{History: history}, nil
}

func (s *alertService) ListHistory(ctx context.Context, req *dto.ListAlertHistoryRequest) (*dto.ListAlertHistoryResponse, error) {
	filter := &alert.HistoryFilter{
		OrganisationID: types.GetOrganisationID(ctx),
		RuleID:         req.RuleID,
		From:           req.From,
		To:             req.To,
		Limit:          req.Limit,
		Offset:         req.Offset,
	}
	if req.Status != "" {
		status := types.AlertHistoryStatus(req.Status)
		if err := status.Validate(); err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrValidation)
		}
		filter.Statuses = []types.AlertHistoryStatus{status}
	}

	items, err := s.AlertHistoryRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	resp := &dto.ListAlertHistoryResponse{Items: make([]*dto.AlertHistoryResponse, 0, len(items)), Total: len(items)}
	for _, h := range items {
		resp.Items = append(resp.Items, &dto.AlertHistoryResponse{History: h})
	}
	return resp, nil
}

// windowUsage sums usage of the rule's scope over [start, end).
func (s *alertService) windowUsage(ctx context.Context, rule *alert.Rule, start, end time.Time) (decimal.Decimal, error) {
	totals, err := s.windowTotals(ctx, rule, start, end)
	if err != nil {
		return decimal.Zero, err
	}

	sum := decimal.Zero
	for _, t := range totals {
		sum = sum.Add(t.TotalValue)
	}
	return sum, nil
}

// windowCost prices the window's usage with the rules effective at the
// evaluation instant, in the organisation's billing currency. Metrics without
// a price contribute nothing.
func (s *alertService) windowCost(ctx context.Context, rule *alert.Rule, start, end, now time.Time) (decimal.Decimal, error) {
	totals, err := s.windowTotals(ctx, rule, start, end)
	if err != nil {
		return decimal.Zero, err
	}
	if len(totals) == 0 {
		return decimal.Zero, nil
	}

	pricingRules, err := s.PricingRepo.ListEffective(ctx, rule.OrganisationID, now)
	if err != nil {
		return decimal.Zero, err
	}
	currency, err := s.costCurrency(ctx, rule.OrganisationID)
	if err != nil {
		return decimal.Zero, err
	}

	currencySvc := NewCurrencyService(s.ServiceParams)
	total := types.ZeroMoney(currency)
	for _, t := range totals {
		pr := billing.SelectPricingRule(pricingRules, rule.OrganisationID, t.MetricName, t.Unit, now)
		if pr == nil {
			continue
		}
		cost := types.NewMoney(t.TotalValue.Mul(pr.PricePerUnit), pr.Currency)
		if !types.IsSameCurrency(pr.Currency, currency) {
			cost, err = currencySvc.Convert(ctx, cost, currency, now)
			if err != nil {
				if ierr.Is(err, ierr.ErrMissingExchangeRate) {
					s.Logger.Warnw("cost alert skipping line without exchange rate",
						"rule_id", rule.ID,
						"metric_name", t.MetricName,
						"from", pr.Currency,
						"to", currency,
					)
					continue
				}
				return decimal.Zero, err
			}
		}
		total, err = total.Add(cost.Round())
		if err != nil {
			return decimal.Zero, err
		}
	}
	return total.Amount, nil
}

func (s *alertService) windowTotals(ctx context.Context, rule *alert.Rule, start, end time.Time) ([]*events.UsageTotal, error) {
	params := &events.UsageParams{
		OrganisationID: rule.OrganisationID,
		StartTime:      start,
		EndTime:        end,
	}
	if rule.MetricName != nil {
		params.MetricName = *rule.MetricName
	}
	if rule.Unit != nil {
		params.Unit = *rule.Unit
	}

	if end.Sub(start) <= hotWindowLimit {
		return s.EventRepo.UsageTotals(ctx, params)
	}
	return s.DurableEventRepo.UsageTotals(ctx, params)
}

func (s *alertService) costCurrency(ctx context.Context, organisationID string) (string, error) {
	cfg, err := s.BillingConfigRepo.GetByOrganisation(ctx, organisationID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return s.Config.Billing.DefaultCurrency, nil
		}
		return "", err
	}
	return cfg.Currency, nil
}

func (s *alertService) ruleInScope(ctx context.Context, id string) (*alert.Rule, error) {
	rule, err := s.AlertRuleRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if orgID := types.GetOrganisationID(ctx); orgID != "" && rule.OrganisationID != orgID {
		return nil, ierr.NewError("alert rule not found").
			Mark(ierr.ErrNotFound)
	}
	return rule, nil
}

func compareThreshold(op types.AlertOperator, actual, threshold decimal.Decimal) bool {
	switch op {
	case types.AlertOperatorGT:
		return actual.GreaterThan(threshold)
	case types.AlertOperatorGTE:
		return actual.GreaterThanOrEqual(threshold)
	case types.AlertOperatorLT:
		return actual.LessThan(threshold)
	case types.AlertOperatorLTE:
		return actual.LessThanOrEqual(threshold)
	case types.AlertOperatorEQ:
		return actual.Equal(threshold)
	default:
		return false
	}
}

// ruleName labels a rule in notifications; rules carry no user-given name.
func ruleName(rule *alert.Rule) string {
	name := string(rule.AlertType)
	if rule.MetricName != nil {
		name += " " + *rule.MetricName
	}
	if rule.Unit != nil {
		name += " (" + *rule.Unit + ")"
	}
	return name
}

// ruleScope describes what the rule watches, for alert messages.
func ruleScope(rule *alert.Rule) string {
	switch {
	case rule.MetricName != nil && rule.Unit != nil:
		return fmt.Sprintf("of %s (%s)", *rule.MetricName, *rule.Unit)
	case rule.MetricName != nil:
		return fmt.Sprintf("of %s", *rule.MetricName)
	default:
		return "across all metrics"
	}
}
