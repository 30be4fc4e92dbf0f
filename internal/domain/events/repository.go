package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository is the hot-store contract for raw usage events
type Repository interface {
	// InsertEvent stores one event; a duplicate idempotency key within the
	// organisation fails with ErrAlreadyExists
	InsertEvent(ctx context.Context, event *Event) error

	// BulkInsertEvents stores a batch of events
	BulkInsertEvents(ctx context.Context, events []*Event) error

	// Exists reports whether an event with the idempotency key was already
	// ingested for the organisation
	Exists(ctx context.Context, organisationID, idempotencyKey string) (bool, error)

	// ScanUnprocessed returns up to limit events with no processed marker,
	// ordered by (ingested_at, id)
	ScanUnprocessed(ctx context.Context, limit int) ([]*Event, error)

	// MarkProcessed stamps processed_at on the given event ids
	MarkProcessed(ctx context.Context, ids []string) error

	// DeleteProcessedOlderThan removes processed events older than the given
	// cutoff and returns the number of deleted rows
	DeleteProcessedOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// CountByDay returns per-day event counts for reconciliation
	CountByDay(ctx context.Context, params *CountByDayParams) ([]*DayCount, error)

	// UsageTotals aggregates raw events for usage queries
	UsageTotals(ctx context.Context, params *UsageParams) ([]*UsageTotal, error)
}

// DurableRepository is the durable-store contract for migrated events;
// rows are insert-only and unique per idempotency key.
type DurableRepository interface {
	// InsertBatch inserts events skipping idempotency-key conflicts and
	// returns the keys actually inserted by this call
	InsertBatch(ctx context.Context, events []*Event) ([]string, error)

	// CountByDay returns per-day event counts for reconciliation
	CountByDay(ctx context.Context, params *CountByDayParams) ([]*DayCount, error)

	// UsageTotals aggregates durable events for usage queries
	UsageTotals(ctx context.Context, params *UsageParams) ([]*UsageTotal, error)

	// AggregateTotals recomputes the rollup for one aggregate key and month,
	// used by reconciliation to verify stored aggregates
	AggregateTotals(ctx context.Context, key AggregateKey, month, year int) (decimal.Decimal, int64, error)
}

// CountByDayParams bounds a reconciliation count window
type CountByDayParams struct {
	OrganisationID string    `json:"organisation_id"`
	StartTime      time.Time `json:"start_time" validate:"required"`
	EndTime        time.Time `json:"end_time" validate:"required"`
}

// DayCount is one side of the events reconciliation grid
type DayCount struct {
	OrganisationID string    `json:"organisation_id" ch:"organisation_id" db:"organisation_id"`
	ProjectID      string    `json:"project_id" ch:"project_id" db:"project_id"`
	MetricName     string    `json:"metric_name" ch:"metric_name" db:"metric_name"`
	Day            time.Time `json:"day" ch:"day" db:"day"`
	Count          uint64    `json:"count" ch:"count" db:"count"`
}

// UsageParams filters usage aggregation queries
type UsageParams struct {
	OrganisationID string    `json:"organisation_id" validate:"required"`
	ProjectID      string    `json:"project_id"`
	MetricName     string    `json:"metric_name"`
	Unit           string    `json:"unit"`
	StartTime      time.Time `json:"start_time" validate:"required"`
	EndTime        time.Time `json:"end_time" validate:"required"`
	GroupByDay     bool      `json:"group_by_day"`
}

// UsageTotal is an aggregated usage row
type UsageTotal struct {
	MetricName string          `json:"metric_name" ch:"metric_name" db:"metric_name"`
	Unit       string          `json:"unit" ch:"unit" db:"unit"`
	Day        *time.Time      `json:"day,omitempty" ch:"day" db:"day"`
	TotalValue decimal.Decimal `json:"total_value" ch:"total_value" db:"total_value"`
	EventCount uint64          `json:"event_count" ch:"event_count" db:"event_count"`
}
