package pricing

import (
	"context"
	"time"
)

// Repository stores pricing rules
type Repository interface {
	Create(ctx context.Context, rule *PricingRule) error
	Get(ctx context.Context, id string) (*PricingRule, error)
	// ListEffective returns the global rules plus the organisation's own
	// rules whose window covers the given instant
	ListEffective(ctx context.Context, organisationID string, at time.Time) ([]*PricingRule, error)
	ListByOrganisation(ctx context.Context, organisationID string) ([]*PricingRule, error)
	Update(ctx context.Context, rule *PricingRule) error
}

// MinimumChargeRepository stores minimum-charge rules
type MinimumChargeRepository interface {
	Create(ctx context.Context, rule *MinimumChargeRule) error
	ListEffective(ctx context.Context, organisationID string, at time.Time) ([]*MinimumChargeRule, error)
}

// BillingConfigRepository stores per-organisation billing policy
type BillingConfigRepository interface {
	Upsert(ctx context.Context, config *BillingConfig) error
	GetByOrganisation(ctx context.Context, organisationID string) (*BillingConfig, error)
}
