package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/meterline/meterline/internal/cache"
	"github.com/meterline/meterline/internal/domain/pricing"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/types"
)

type pricingRepository struct {
	client postgres.IClient
	log    *logger.Logger
}

func NewPricingRepository(client postgres.IClient, log *logger.Logger) pricing.Repository {
	return &pricingRepository{client: client, log: log}
}

func (r *pricingRepository) Create(ctx context.Context, rule *pricing.PricingRule) error {
	span := StartRepositorySpan(ctx, "pricing_rule", "create", map[string]interface{}{
		"rule_id":     rule.ID,
		"metric_name": rule.MetricName,
	})
	defer FinishSpan(span)

	if err := rule.Validate(); err != nil {
		SetSpanError(span, err)
		return err
	}

	rule.BaseModel = types.GetDefaultBaseModel(ctx)
	client := r.client.Querier(ctx)

	query := `
		INSERT INTO pricing_rules (
			id, organisation_id, metric_name, unit, price_per_unit, currency,
			effective_from, effective_to,
			status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :organisation_id, :metric_name, :unit, :price_per_unit, :currency,
			:effective_from, :effective_to,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)
	`

	if _, err := client.NamedExec(query, rule); err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to create pricing rule").
			WithReportableDetails(map[string]interface{}{
				"metric_name": rule.MetricName,
				"unit":        rule.Unit,
			}).
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *pricingRepository) Get(ctx context.Context, id string) (*pricing.PricingRule, error) {
	span := StartRepositorySpan(ctx, "pricing_rule", "get", map[string]interface{}{
		"rule_id": id,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `SELECT * FROM pricing_rules WHERE id = $1 AND status != $2`

	var rule pricing.PricingRule
	err := client.GetContext(ctx, &rule, query, id, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHintf("Pricing rule with ID %s was not found", id).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get pricing rule").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return &rule, nil
}

// ListEffective returns global rules and the organisation's own rules whose
// half-open window covers the instant. Precedence between them is the
// calculator's business, not the query's.
func (r *pricingRepository) ListEffective(ctx context.Context, organisationID string, at time.Time) ([]*pricing.PricingRule, error) {
	span := StartRepositorySpan(ctx, "pricing_rule", "list_effective", map[string]interface{}{
		"organisation_id": organisationID,
		"at":              at,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		SELECT * FROM pricing_rules
		WHERE (organisation_id IS NULL OR organisation_id = $1)
			AND effective_from <= $2
			AND (effective_to IS NULL OR effective_to > $2)
			AND status = $3
		ORDER BY metric_name, unit, effective_from DESC
	`

	var rules []*pricing.PricingRule
	if err := client.SelectContext(ctx, &rules, query, organisationID, at, types.StatusPublished); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list effective pricing rules").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return rules, nil
}

func (r *pricingRepository) ListByOrganisation(ctx context.Context, organisationID string) ([]*pricing.PricingRule, error) {
	span := StartRepositorySpan(ctx, "pricing_rule", "list_by_organisation", map[string]interface{}{
		"organisation_id": organisationID,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		SELECT * FROM pricing_rules
		WHERE organisation_id = $1 AND status != $2
		ORDER BY metric_name, unit, effective_from DESC
	`

	var rules []*pricing.PricingRule
	if err := client.SelectContext(ctx, &rules, query, organisationID, types.StatusDeleted); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list pricing rules").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return rules, nil
}

func (r *pricingRepository) Update(ctx context.Context, rule *pricing.PricingRule) error {
	span := StartRepositorySpan(ctx, "pricing_rule", "update", map[string]interface{}{
		"rule_id": rule.ID,
	})
	defer FinishSpan(span)

	if err := rule.Validate(); err != nil {
		SetSpanError(span, err)
		return err
	}

	rule.Touch(ctx)
	client := r.client.Querier(ctx)

	// Price and window mutate; the metric identity of a rule never does
	query := `
		UPDATE pricing_rules SET
			price_per_unit = :price_per_unit,
			currency = :currency,
			effective_from = :effective_from,
			effective_to = :effective_to,
			status = :status,
			updated_at = :updated_at,
			updated_by = :updated_by
		WHERE id = :id
	`

	result, err := client.NamedExec(query, rule)
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to update pricing rule").
			Mark(ierr.ErrDatabase)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to read rows affected").
			Mark(ierr.ErrDatabase)
	}
	if rows == 0 {
		return ierr.NewErrorf("pricing rule %s not found", rule.ID).
			Mark(ierr.ErrNotFound)
	}

	SetSpanSuccess(span)
	return nil
}

type minimumChargeRepository struct {
	client postgres.IClient
	log    *logger.Logger
}

func NewMinimumChargeRepository(client postgres.IClient, log *logger.Logger) pricing.MinimumChargeRepository {
	return &minimumChargeRepository{client: client, log: log}
}

func (r *minimumChargeRepository) Create(ctx context.Context, rule *pricing.MinimumChargeRule) error {
	span := StartRepositorySpan(ctx, "minimum_charge", "create", map[string]interface{}{
		"rule_id": rule.ID,
	})
	defer FinishSpan(span)

	if err := rule.Validate(); err != nil {
		SetSpanError(span, err)
		return err
	}

	rule.BaseModel = types.GetDefaultBaseModel(ctx)
	client := r.client.Querier(ctx)

	query := `
		INSERT INTO minimum_charge_rules (
			id, organisation_id, minimum_amount, currency,
			effective_from, effective_to,
			status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :organisation_id, :minimum_amount, :currency,
			:effective_from, :effective_to,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)
	`

	if _, err := client.NamedExec(query, rule); err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to create minimum charge rule").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *minimumChargeRepository) ListEffective(ctx context.Context, organisationID string, at time.Time) ([]*pricing.MinimumChargeRule, error) {
	span := StartRepositorySpan(ctx, "minimum_charge", "list_effective", map[string]interface{}{
		"organisation_id": organisationID,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		SELECT * FROM minimum_charge_rules
		WHERE (organisation_id IS NULL OR organisation_id = $1)
			AND effective_from <= $2
			AND (effective_to IS NULL OR effective_to > $2)
			AND status = $3
		ORDER BY effective_from DESC
	`

	var rules []*pricing.MinimumChargeRule
	if err := client.SelectContext(ctx, &rules, query, organisationID, at, types.StatusPublished); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list effective minimum charge rules").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return rules, nil
}

type billingConfigRepository struct {
	client postgres.IClient
	log    *logger.Logger
	cache  cache.Cache
}

func NewBillingConfigRepository(client postgres.IClient, log *logger.Logger, cache cache.Cache) pricing.BillingConfigRepository {
	return &billingConfigRepository{client: client, log: log, cache: cache}
}

// Upsert keeps one billing config per organisation
func (r *billingConfigRepository) Upsert(ctx context.Context, config *pricing.BillingConfig) error {
	span := StartRepositorySpan(ctx, "billing_config", "upsert", map[string]interface{}{
		"organisation_id": config.OrganisationID,
	})
	defer FinishSpan(span)

	if err := config.Validate(); err != nil {
		SetSpanError(span, err)
		return err
	}

	config.BaseModel = types.GetDefaultBaseModel(ctx)
	client := r.client.Querier(ctx)

	query := `
		INSERT INTO billing_configs (
			id, organisation_id, tax_rate, currency, payment_terms_days,
			minimum_charge_enabled,
			status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :organisation_id, :tax_rate, :currency, :payment_terms_days,
			:minimum_charge_enabled,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)
		ON CONFLICT (organisation_id)
		DO UPDATE SET
			tax_rate = EXCLUDED.tax_rate,
			currency = EXCLUDED.currency,
			payment_terms_days = EXCLUDED.payment_terms_days,
			minimum_charge_enabled = EXCLUDED.minimum_charge_enabled,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`

	if _, err := client.NamedExec(query, config); err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to upsert billing config").
			Mark(ierr.ErrDatabase)
	}

	cacheKey := cache.GenerateKey(cache.PrefixBillingCfg, config.OrganisationID)
	r.cache.Delete(ctx, cacheKey)
	SetSpanSuccess(span)
	return nil
}

func (r *billingConfigRepository) GetByOrganisation(ctx context.Context, organisationID string) (*pricing.BillingConfig, error) {
	span := StartRepositorySpan(ctx, "billing_config", "get", map[string]interface{}{
		"organisation_id": organisationID,
	})
	defer FinishSpan(span)

	cacheKey := cache.GenerateKey(cache.PrefixBillingCfg, organisationID)
	if value, found := r.cache.Get(ctx, cacheKey); found {
		SetSpanSuccess(span)
		return value.(*pricing.BillingConfig), nil
	}

	client := r.client.Querier(ctx)

	query := `SELECT * FROM billing_configs WHERE organisation_id = $1 AND status = $2`

	var config pricing.BillingConfig
	err := client.GetContext(ctx, &config, query, organisationID, types.StatusPublished)
	if err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHintf("No billing config for organisation %s", organisationID).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get billing config").
			Mark(ierr.ErrDatabase)
	}

	r.cache.Set(ctx, cacheKey, &config, cache.DefaultExpiration)
	SetSpanSuccess(span)
	return &config, nil
}
