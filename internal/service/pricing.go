package service

import (
	"context"
	"strconv"
	"time"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/domain/auditlog"
	"github.com/meterline/meterline/internal/domain/pricing"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// PricingService manages pricing rules, minimum charges and per-organisation
// billing policy. Prices are never edited in place: a change closes the old
// rule's window and opens a new one, so historical invoices stay explicable.
type PricingService interface {
	CreateRule(ctx context.Context, req *dto.CreatePricingRuleRequest) (*dto.PricingRuleResponse, error)
	ListRules(ctx context.Context) (*dto.ListPricingRulesResponse, error)
	CloseRule(ctx context.Context, id string, at time.Time) (*dto.PricingRuleResponse, error)

	CreateMinimumCharge(ctx context.Context, req *dto.CreateMinimumChargeRequest) (*dto.MinimumChargeResponse, error)

	UpsertBillingConfig(ctx context.Context, req *dto.UpsertBillingConfigRequest) (*dto.BillingConfigResponse, error)
	GetBillingConfig(ctx context.Context) (*dto.BillingConfigResponse, error)
}

type pricingService struct {
	ServiceParams
}

func NewPricingService(params ServiceParams) PricingService {
	return &pricingService{ServiceParams: params}
}

func (s *pricingService) CreateRule(ctx context.Context, req *dto.CreatePricingRuleRequest) (*dto.PricingRuleResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkRuleScope(ctx, req.OrganisationID); err != nil {
		return nil, err
	}

	rule := req.ToPricingRule()
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.PricingRepo.Create(ctx, rule); err != nil {
		return nil, err
	}

	s.audit(ctx, auditlog.New(auditlog.EntityPricingRule, rule.ID, types.GetActor(ctx), auditlog.ActionCreate).
		WithChange(nil, types.Metadata{
			"metric_name":    rule.MetricName,
			"unit":           rule.Unit,
			"price_per_unit": rule.PricePerUnit.String(),
			"currency":       rule.Currency,
		}))

	s.Logger.Infow("pricing rule created",
		"rule_id", rule.ID,
		"metric_name", rule.MetricName,
		"unit", rule.Unit,
		"global", rule.IsGlobal(),
	)
	return &dto.PricingRuleResponse{PricingRule: rule}, nil
}

func (s *pricingService) ListRules(ctx context.Context) (*dto.ListPricingRulesResponse, error) {
	organisationID := types.GetOrganisationID(ctx)
	rules, err := s.PricingRepo.ListByOrganisation(ctx, organisationID)
	if err != nil {
		return nil, err
	}

	resp := &dto.ListPricingRulesResponse{Items: make([]*dto.PricingRuleResponse, 0, len(rules)), Total: len(rules)}
	for _, r := range rules {
		resp.Items = append(resp.Items, &dto.PricingRuleResponse{PricingRule: r})
	}
	return resp, nil
}

// CloseRule ends a rule's effective window at the given instant. The rule
// keeps pricing events before the close; a replacement rule takes over after.
func (s *pricingService) CloseRule(ctx context.Context, id string, at time.Time) (*dto.PricingRuleResponse, error) {
	rule, err := s.PricingRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkRuleScope(ctx, rule.OrganisationID); err != nil {
		return nil, err
	}
	if rule.EffectiveTo != nil {
		return nil, ierr.NewError("pricing rule window is already closed").
			WithReportableDetails(map[string]any{
				"rule_id":      rule.ID,
				"effective_to": rule.EffectiveTo,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	at = at.UTC()
	if !at.After(rule.EffectiveFrom) {
		return nil, ierr.NewError("close instant must be after effective_from").
			Mark(ierr.ErrValidation)
	}
	rule.EffectiveTo = &at
	if err := s.PricingRepo.Update(ctx, rule); err != nil {
		return nil, err
	}

	s.audit(ctx, auditlog.New(auditlog.EntityPricingRule, rule.ID, types.GetActor(ctx), auditlog.ActionUpdate).
		WithChange(types.Metadata{"effective_to": ""},
			types.Metadata{"effective_to": at.Format(time.RFC3339)}))

	return &dto.PricingRuleResponse{PricingRule: rule}, nil
}

func (s *pricingService) CreateMinimumCharge(ctx context.Context, req *dto.CreateMinimumChargeRequest) (*dto.MinimumChargeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkRuleScope(ctx, req.OrganisationID); err != nil {
		return nil, err
	}

	rule := req.ToMinimumChargeRule()
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.MinimumChargeRepo.Create(ctx, rule); err != nil {
		return nil, err
	}

	s.audit(ctx, auditlog.New(auditlog.EntityPricingRule, rule.ID, types.GetActor(ctx), auditlog.ActionCreate).
		WithChange(nil, types.Metadata{
			"minimum_amount": rule.MinimumAmount.String(),
			"currency":       rule.Currency,
		}))

	return &dto.MinimumChargeResponse{MinimumChargeRule: rule}, nil
}

func (s *pricingService) UpsertBillingConfig(ctx context.Context, req *dto.UpsertBillingConfigRequest) (*dto.BillingConfigResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	organisationID := types.GetOrganisationID(ctx)
	if organisationID == "" {
		return nil, ierr.NewError("organisation scope missing").
			Mark(ierr.ErrPermissionDenied)
	}

	cfg := pricing.NewBillingConfig(organisationID, req.TaxRate, req.Currency, req.PaymentTermsDays)
	cfg.MinimumChargeEnabled = req.MinimumChargeEnabled
	if cfg.PaymentTermsDays == 0 {
		cfg.PaymentTermsDays = s.Config.Billing.PaymentTermsDays
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := s.BillingConfigRepo.Upsert(ctx, cfg); err != nil {
		return nil, err
	}

	s.audit(ctx, auditlog.New(auditlog.EntityPricingRule, cfg.ID, types.GetActor(ctx), auditlog.ActionUpdate).
		WithChange(nil, types.Metadata{
			"tax_rate":           cfg.TaxRate.String(),
			"currency":           cfg.Currency,
			"payment_terms_days": strconv.Itoa(cfg.PaymentTermsDays),
		}))

	return &dto.BillingConfigResponse{BillingConfig: cfg}, nil
}

func (s *pricingService) GetBillingConfig(ctx context.Context) (*dto.BillingConfigResponse, error) {
	organisationID := types.GetOrganisationID(ctx)
	cfg, err := s.BillingConfigRepo.GetByOrganisation(ctx, organisationID)
	if err != nil {
		return nil, err
	}
	return &dto.BillingConfigResponse{BillingConfig: cfg}, nil
}

// checkRuleScope rejects cross-organisation rules and limits global rules to
// callers without an organisation binding or with the manage role.
func (s *pricingService) checkRuleScope(ctx context.Context, ruleOrg *string) error {
	ctxOrg := types.GetOrganisationID(ctx)

	if ruleOrg == nil {
		if ctxOrg != "" && !types.GetUserRole(ctx).CanManage() {
			return ierr.NewError("global pricing rules require the owner role").
				Mark(ierr.ErrPermissionDenied)
		}
		return nil
	}
	if ctxOrg != "" && *ruleOrg != ctxOrg {
		return ierr.NewError("pricing rule organisation does not match the caller's scope").
			Mark(ierr.ErrPermissionDenied)
	}
	return nil
}
