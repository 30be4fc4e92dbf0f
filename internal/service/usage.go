package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/billing"
	"github.com/meterline/meterline/internal/domain/events"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// defaultRealtimeWindowMinutes bounds the realtime query; the hot store only
// retains a few days of events so wide windows belong on the durable tier.
const defaultRealtimeWindowMinutes = 60

// UsageService answers usage queries. Summary, trends and cost breakdown read
// the durable tier (complete once migrated, deduplicated at insert); realtime
// reads the hot tier where events land at ingest.
type UsageService interface {
	Summary(ctx context.Context, req *dto.UsageSummaryRequest) (*dto.UsageSummaryResponse, error)
	Trends(ctx context.Context, req *dto.UsageSummaryRequest) (*dto.UsageTrendsResponse, error)
	CostBreakdown(ctx context.Context, req *dto.UsageSummaryRequest) (*dto.CostBreakdownResponse, error)
	Realtime(ctx context.Context, windowMinutes int) (*dto.RealtimeUsageResponse, error)
}

type usageService struct {
	ServiceParams
}

func NewUsageService(params ServiceParams) UsageService {
	return &usageService{ServiceParams: params}
}

func (s *usageService) Summary(ctx context.Context, req *dto.UsageSummaryRequest) (*dto.UsageSummaryResponse, error) {
	params, err := s.usageParams(ctx, req, false)
	if err != nil {
		return nil, err
	}

	totals, err := s.DurableEventRepo.UsageTotals(ctx, params)
	if err != nil {
		return nil, err
	}

	resp := &dto.UsageSummaryResponse{
		StartTime: params.StartTime,
		EndTime:   params.EndTime,
		Lines:     make([]*dto.UsageLine, 0, len(totals)),
	}
	for _, t := range totals {
		resp.Lines = append(resp.Lines, &dto.UsageLine{
			MetricName: t.MetricName,
			Unit:       t.Unit,
			TotalValue: t.TotalValue,
			EventCount: t.EventCount,
		})
	}
	return resp, nil
}

func (s *usageService) Trends(ctx context.Context, req *dto.UsageSummaryRequest) (*dto.UsageTrendsResponse, error) {
	params, err := s.usageParams(ctx, req, true)
	if err != nil {
		return nil, err
	}

	totals, err := s.DurableEventRepo.UsageTotals(ctx, params)
	if err != nil {
		return nil, err
	}

	resp := &dto.UsageTrendsResponse{
		StartTime: params.StartTime,
		EndTime:   params.EndTime,
		Points:    make([]*dto.UsageTrendPoint, 0, len(totals)),
	}
	for _, t := range totals {
		if t.Day == nil {
			continue
		}
		resp.Points = append(resp.Points, &dto.UsageTrendPoint{
			Day:        *t.Day,
			MetricName: t.MetricName,
			Unit:       t.Unit,
			TotalValue: t.TotalValue,
			EventCount: t.EventCount,
		})
	}
	return resp, nil
}

// CostBreakdown prices the window's usage with the rules effective right now.
// It is an estimate view; the invoice is the authority and prices at the
// billing date instead.
func (s *usageService) CostBreakdown(ctx context.Context, req *dto.UsageSummaryRequest) (*dto.CostBreakdownResponse, error) {
	params, err := s.usageParams(ctx, req, false)
	if err != nil {
		return nil, err
	}

	organisationID := types.GetOrganisationID(ctx)
	totals, err := s.DurableEventRepo.UsageTotals(ctx, params)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	currency, err := s.breakdownCurrency(ctx, organisationID)
	if err != nil {
		return nil, err
	}
	rules, err := s.PricingRepo.ListEffective(ctx, organisationID, now)
	if err != nil {
		return nil, err
	}

	resp := &dto.CostBreakdownResponse{
		StartTime: params.StartTime,
		EndTime:   params.EndTime,
		Currency:  currency,
		Lines:     make([]*dto.CostBreakdownLine, 0, len(totals)),
		Total:     decimal.Zero,
	}

	total := types.ZeroMoney(currency)
	for _, t := range totals {
		line := &dto.CostBreakdownLine{
			MetricName: t.MetricName,
			Unit:       t.Unit,
			Quantity:   t.TotalValue,
			Currency:   currency,
		}

		rule := billing.SelectPricingRule(rules, organisationID, t.MetricName, t.Unit, now)
		if rule == nil {
			line.Unpriced = true
			line.UnitPrice = decimal.Zero
			line.Cost = decimal.Zero
			resp.Lines = append(resp.Lines, line)
			continue
		}

		cost := types.NewMoney(t.TotalValue.Mul(rule.PricePerUnit), rule.Currency)
		if !types.IsSameCurrency(rule.Currency, currency) {
			converted, err := NewCurrencyService(s.ServiceParams).Convert(ctx, cost, currency, now)
			if err != nil {
				if ierr.Is(err, ierr.ErrMissingExchangeRate) {
					line.Unpriced = true
					resp.Lines = append(resp.Lines, line)
					continue
				}
				return nil, err
			}
			cost = converted
		} else {
			cost = cost.Round()
		}

		line.UnitPrice = rule.PricePerUnit
		line.Cost = cost.Amount
		resp.Lines = append(resp.Lines, line)

		total, err = total.Add(cost)
		if err != nil {
			return nil, err
		}
	}
	resp.Total = total.Amount
	return resp, nil
}

func (s *usageService) Realtime(ctx context.Context, windowMinutes int) (*dto.RealtimeUsageResponse, error) {
	if windowMinutes <= 0 || windowMinutes > 24*60 {
		windowMinutes = defaultRealtimeWindowMinutes
	}

	organisationID := types.GetOrganisationID(ctx)
	if organisationID == "" {
		return nil, ierr.NewError("organisation scope missing").
			WithHint("Authenticate with an organisation-scoped credential").
			Mark(ierr.ErrPermissionDenied)
	}

	now := time.Now().UTC()
	totals, err := s.EventRepo.UsageTotals(ctx, &events.UsageParams{
		OrganisationID: organisationID,
		StartTime:      now.Add(-time.Duration(windowMinutes) * time.Minute),
		EndTime:        now,
	})
	if err != nil {
		return nil, err
	}

	resp := &dto.RealtimeUsageResponse{
		WindowMinutes: windowMinutes,
		Lines:         make([]*dto.UsageLine, 0, len(totals)),
	}
	for _, t := range totals {
		resp.Lines = append(resp.Lines, &dto.UsageLine{
			MetricName: t.MetricName,
			Unit:       t.Unit,
			TotalValue: t.TotalValue,
			EventCount: t.EventCount,
		})
	}
	return resp, nil
}

func (s *usageService) usageParams(ctx context.Context, req *dto.UsageSummaryRequest, byDay bool) (*events.UsageParams, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, ierr.NewError("end_time must be after start_time").
			WithReportableDetails(map[string]any{
				"start_time": req.StartTime,
				"end_time":   req.EndTime,
			}).
			Mark(ierr.ErrValidation)
	}

	organisationID := types.GetOrganisationID(ctx)
	if organisationID == "" {
		return nil, ierr.NewError("organisation scope missing").
			WithHint("Authenticate with an organisation-scoped credential").
			Mark(ierr.ErrPermissionDenied)
	}

	return &events.UsageParams{
		OrganisationID: organisationID,
		ProjectID:      req.ProjectID,
		MetricName:     req.MetricName,
		Unit:           req.Unit,
		StartTime:      req.StartTime.UTC(),
		EndTime:        req.EndTime.UTC(),
		GroupByDay:     byDay,
	}, nil
}

// breakdownCurrency is the organisation's invoicing currency, falling back to
// the platform default when no billing config exists yet.
func (s *usageService) breakdownCurrency(ctx context.Context, organisationID string) (string, error) {
	cfg, err := s.BillingConfigRepo.GetByOrganisation(ctx, organisationID)
	if err != nil {
		if ierr.IsNotFound(err) {
			org, orgErr := s.OrganisationRepo.Get(ctx, organisationID)
			if orgErr != nil {
				return "", orgErr
			}
			if org.Currency != "" {
				return types.NormalizeCurrency(org.Currency), nil
			}
			return s.Config.Billing.DefaultCurrency, nil
		}
		return "", err
	}
	return cfg.Currency, nil
}
