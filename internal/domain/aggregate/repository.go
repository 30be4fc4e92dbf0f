package aggregate

import (
	"context"

	"github.com/shopspring/decimal"
)

// Delta is one increment applied to a rollup row during migration
type Delta struct {
	OrganisationID string
	ProjectID      string
	MetricName     string
	Unit           string
	Month          int
	Year           int
	Value          decimal.Decimal
	Count          int64
}

type Repository interface {
	// Upsert applies deltas inside the caller's transaction: existing rows
	// get total_value += value and event_count += count, missing rows are
	// created
	Upsert(ctx context.Context, deltas []*Delta) error

	// Replace overwrites the stored totals for one key and period; used by
	// the rebuild path
	Replace(ctx context.Context, agg *UsageAggregate) error

	// GetByPeriod returns all rollups of an organisation for a month
	GetByPeriod(ctx context.Context, organisationID string, month, year int) ([]*UsageAggregate, error)

	// Get returns a single rollup row if present
	Get(ctx context.Context, organisationID, projectID, metricName, unit string, month, year int) (*UsageAggregate, error)

	// ListByPeriod returns rollups across organisations for a month; the
	// invoice sweep and aggregate reconciliation iterate this
	ListByPeriod(ctx context.Context, month, year int) ([]*UsageAggregate, error)
}
