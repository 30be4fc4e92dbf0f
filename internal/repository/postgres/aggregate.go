package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/meterline/meterline/internal/domain/aggregate"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/types"
)

type aggregateRepository struct {
	client postgres.IClient
	log    *logger.Logger
}

func NewAggregateRepository(client postgres.IClient, log *logger.Logger) aggregate.Repository {
	return &aggregateRepository{client: client, log: log}
}

// Upsert applies migration deltas. It runs on the caller's querier so the
// migration transaction covers both the event inserts and the rollups.
func (r *aggregateRepository) Upsert(ctx context.Context, deltas []*aggregate.Delta) error {
	if len(deltas) == 0 {
		return nil
	}

	span := StartRepositorySpan(ctx, "aggregate", "upsert", map[string]interface{}{
		"delta_count": len(deltas),
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		INSERT INTO usage_aggregates (
			id, organisation_id, project_id, metric_name, unit, month, year,
			total_value, event_count, status, created_at, updated_at, created_by, updated_by
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now(), $11, $11
		)
		ON CONFLICT (organisation_id, project_id, metric_name, unit, month, year)
		DO UPDATE SET
			total_value = usage_aggregates.total_value + EXCLUDED.total_value,
			event_count = usage_aggregates.event_count + EXCLUDED.event_count,
			updated_at = now(),
			updated_by = EXCLUDED.updated_by
	`

	actor := types.GetActor(ctx)
	for _, d := range deltas {
		id := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_AGGREGATE)
		_, err := client.ExecContext(ctx, query,
			id, d.OrganisationID, d.ProjectID, d.MetricName, d.Unit,
			d.Month, d.Year, d.Value, d.Count, types.StatusPublished, actor)
		if err != nil {
			SetSpanError(span, err)
			return ierr.WithError(err).
				WithHint("Failed to upsert usage aggregate").
				WithReportableDetails(map[string]interface{}{
					"organisation_id": d.OrganisationID,
					"metric_name":     d.MetricName,
					"month":           d.Month,
					"year":            d.Year,
				}).
				Mark(ierr.ErrDatabase)
		}
	}

	SetSpanSuccess(span)
	return nil
}

// Replace overwrites stored totals; the rebuild path writes authoritative
// values recomputed from durable events.
func (r *aggregateRepository) Replace(ctx context.Context, agg *aggregate.UsageAggregate) error {
	span := StartRepositorySpan(ctx, "aggregate", "replace", map[string]interface{}{
		"organisation_id": agg.OrganisationID,
		"metric_name":     agg.MetricName,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		INSERT INTO usage_aggregates (
			id, organisation_id, project_id, metric_name, unit, month, year,
			total_value, event_count, status, created_at, updated_at, created_by, updated_by
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now(), $11, $11
		)
		ON CONFLICT (organisation_id, project_id, metric_name, unit, month, year)
		DO UPDATE SET
			total_value = EXCLUDED.total_value,
			event_count = EXCLUDED.event_count,
			updated_at = now(),
			updated_by = EXCLUDED.updated_by
	`

	_, err := client.ExecContext(ctx, query,
		agg.ID, agg.OrganisationID, agg.ProjectID, agg.MetricName, agg.Unit,
		agg.Month, agg.Year, agg.TotalValue, agg.EventCount,
		types.StatusPublished, types.GetActor(ctx))
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to replace usage aggregate").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *aggregateRepository) GetByPeriod(ctx context.Context, organisationID string, month, year int) ([]*aggregate.UsageAggregate, error) {
	span := StartRepositorySpan(ctx, "aggregate", "get_by_period", map[string]interface{}{
		"organisation_id": organisationID,
		"month":           month,
		"year":            year,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		SELECT * FROM usage_aggregates
		WHERE organisation_id = $1 AND month = $2 AND year = $3 AND status = $4
		ORDER BY project_id, metric_name, unit
	`

	var result []*aggregate.UsageAggregate
	if err := client.SelectContext(ctx, &result, query, organisationID, month, year, types.StatusPublished); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list usage aggregates").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return result, nil
}

func (r *aggregateRepository) Get(ctx context.Context, organisationID, projectID, metricName, unit string, month, year int) (*aggregate.UsageAggregate, error) {
	span := StartRepositorySpan(ctx, "aggregate", "get", map[string]interface{}{
		"organisation_id": organisationID,
		"metric_name":     metricName,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		SELECT * FROM usage_aggregates
		WHERE organisation_id = $1 AND project_id = $2 AND metric_name = $3
			AND unit = $4 AND month = $5 AND year = $6
	`

	var agg aggregate.UsageAggregate
	err := client.GetContext(ctx, &agg, query, organisationID, projectID, metricName, unit, month, year)
	if err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHint("Usage aggregate not found").
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get usage aggregate").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return &agg, nil
}

func (r *aggregateRepository) ListByPeriod(ctx context.Context, month, year int) ([]*aggregate.UsageAggregate, error) {
	span := StartRepositorySpan(ctx, "aggregate", "list_by_period", map[string]interface{}{
		"month": month,
		"year":  year,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		SELECT * FROM usage_aggregates
		WHERE month = $1 AND year = $2 AND status = $3
		ORDER BY organisation_id, project_id, metric_name, unit
	`

	var result []*aggregate.UsageAggregate
	if err := client.SelectContext(ctx, &result, query, month, year, types.StatusPublished); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list usage aggregates for period").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return result, nil
}
