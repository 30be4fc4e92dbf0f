package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meterline/meterline/internal/domain/pricing"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// InMemoryPricingStore implements pricing.Repository
type InMemoryPricingStore struct {
	*InMemoryStore[*pricing.PricingRule]
}

func NewInMemoryPricingStore() *InMemoryPricingStore {
	return &InMemoryPricingStore{
		InMemoryStore: NewInMemoryStore[*pricing.PricingRule](),
	}
}

func (s *InMemoryPricingStore) Create(ctx context.Context, rule *pricing.PricingRule) error {
	if rule == nil {
		return ierr.NewError("pricing rule cannot be nil").
			Mark(ierr.ErrValidation)
	}
	if rule.Status == "" {
		rule.Status = types.StatusPublished
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	return s.InMemoryStore.Create(ctx, rule.ID, rule)
}

func (s *InMemoryPricingStore) Get(ctx context.Context, id string) (*pricing.PricingRule, error) {
	rule, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || rule.Status == types.StatusDeleted {
		return nil, ierr.NewError("pricing rule not found").
			Mark(ierr.ErrNotFound)
	}
	return rule, nil
}

// ListEffective returns global rules plus the organisation's own rules whose
// window covers the instant
func (s *InMemoryPricingStore) ListEffective(ctx context.Context, organisationID string, at time.Time) ([]*pricing.PricingRule, error) {
	rules, err := s.InMemoryStore.List(ctx, nil,
		func(ctx context.Context, r *pricing.PricingRule, _ interface{}) bool {
			if r.Status != types.StatusPublished || !r.IsEffectiveAt(at) {
				return false
			}
			return r.IsGlobal() || *r.OrganisationID == organisationID
		}, nil)
	if err != nil {
		return nil, err
	}
	sortPricingRules(rules)
	return rules, nil
}

func (s *InMemoryPricingStore) ListByOrganisation(ctx context.Context, organisationID string) ([]*pricing.PricingRule, error) {
	rules, err := s.InMemoryStore.List(ctx, nil,
		func(ctx context.Context, r *pricing.PricingRule, _ interface{}) bool {
			if r.Status == types.StatusDeleted {
				return false
			}
			return r.IsGlobal() || *r.OrganisationID == organisationID
		}, nil)
	if err != nil {
		return nil, err
	}
	sortPricingRules(rules)
	return rules, nil
}

func (s *InMemoryPricingStore) Update(ctx context.Context, rule *pricing.PricingRule) error {
	rule.UpdatedAt = time.Now().UTC()
	return s.InMemoryStore.Update(ctx, rule.ID, rule)
}

func sortPricingRules(rules []*pricing.PricingRule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].MetricName != rules[j].MetricName {
			return rules[i].MetricName < rules[j].MetricName
		}
		return rules[i].EffectiveFrom.Before(rules[j].EffectiveFrom)
	})
}

// InMemoryMinimumChargeStore implements pricing.MinimumChargeRepository
type InMemoryMinimumChargeStore struct {
	*InMemoryStore[*pricing.MinimumChargeRule]
}

func NewInMemoryMinimumChargeStore() *InMemoryMinimumChargeStore {
	return &InMemoryMinimumChargeStore{
		InMemoryStore: NewInMemoryStore[*pricing.MinimumChargeRule](),
	}
}

func (s *InMemoryMinimumChargeStore) Create(ctx context.Context, rule *pricing.MinimumChargeRule) error {
	if rule == nil {
		return ierr.NewError("minimum charge rule cannot be nil").
			Mark(ierr.ErrValidation)
	}
	if rule.Status == "" {
		rule.Status = types.StatusPublished
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	return s.InMemoryStore.Create(ctx, rule.ID, rule)
}

func (s *InMemoryMinimumChargeStore) ListEffective(ctx context.Context, organisationID string, at time.Time) ([]*pricing.MinimumChargeRule, error) {
	return s.InMemoryStore.List(ctx, nil,
		func(ctx context.Context, r *pricing.MinimumChargeRule, _ interface{}) bool {
			if r.Status != types.StatusPublished || !r.IsEffectiveAt(at) {
				return false
			}
			return r.OrganisationID == nil || *r.OrganisationID == organisationID
		}, nil)
}

// InMemoryBillingConfigStore implements pricing.BillingConfigRepository
type InMemoryBillingConfigStore struct {
	mu      sync.RWMutex
	configs map[string]*pricing.BillingConfig
}

func NewInMemoryBillingConfigStore() *InMemoryBillingConfigStore {
	return &InMemoryBillingConfigStore{
		configs: make(map[string]*pricing.BillingConfig),
	}
}

func (s *InMemoryBillingConfigStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = make(map[string]*pricing.BillingConfig)
}

func (s *InMemoryBillingConfigStore) Upsert(ctx context.Context, cfg *pricing.BillingConfig) error {
	if cfg == nil {
		return ierr.NewError("billing config cannot be nil").
			Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.Status == "" {
		cfg.Status = types.StatusPublished
	}
	cfg.UpdatedAt = time.Now().UTC()
	s.configs[cfg.OrganisationID] = cfg
	return nil
}

func (s *InMemoryBillingConfigStore) GetByOrganisation(ctx context.Context, organisationID string) (*pricing.BillingConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[organisationID]
	if !ok {
		return nil, ierr.NewError("billing config not found").
			Mark(ierr.ErrNotFound)
	}
	return cfg, nil
}
