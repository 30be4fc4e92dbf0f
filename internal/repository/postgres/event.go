package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/domain/events"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/types"
)

// insertBatchChunkSize keeps multi-VALUES inserts well under the driver's
// parameter limit
const insertBatchChunkSize = 500

type eventRepository struct {
	client postgres.IClient
	log    *logger.Logger
}

func NewEventRepository(client postgres.IClient, log *logger.Logger) events.DurableRepository {
	return &eventRepository{client: client, log: log}
}

// InsertBatch layers events into the durable store. Conflicting idempotency
// keys are skipped; the returned keys are exactly the rows this call
// inserted, so the migration worker can aggregate only fresh events.
func (r *eventRepository) InsertBatch(ctx context.Context, evts []*events.Event) ([]string, error) {
	if len(evts) == 0 {
		return nil, nil
	}

	span := StartRepositorySpan(ctx, "event", "insert_batch", map[string]interface{}{
		"event_count": len(evts),
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)
	inserted := make([]string, 0, len(evts))

	for _, chunk := range lo.Chunk(evts, insertBatchChunkSize) {
		var sb strings.Builder
		sb.WriteString(`
			INSERT INTO events (
				id, organisation_id, project_id, metric_name, metric_value, unit,
				timestamp, metadata, idempotency_key, ingested_at, processed_at
			) VALUES `)

		args := make([]interface{}, 0, len(chunk)*11)
		for i, e := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			base := i * 11
			sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11))
			args = append(args,
				e.ID,
				e.OrganisationID,
				e.ProjectID,
				e.MetricName,
				e.MetricValue,
				e.Unit,
				e.Timestamp,
				types.Metadata(e.Metadata),
				e.IdempotencyKey,
				e.IngestedAt,
				e.ProcessedAt,
			)
		}
		sb.WriteString(` ON CONFLICT (organisation_id, idempotency_key) DO NOTHING RETURNING idempotency_key`)

		rows, err := client.QueryContext(ctx, sb.String(), args...)
		if err != nil {
			SetSpanError(span, err)
			return nil, ierr.WithError(err).
				WithHint("Failed to insert event batch").
				WithReportableDetails(map[string]interface{}{
					"event_count": len(chunk),
				}).
				Mark(ierr.ErrDatabase)
		}

		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				SetSpanError(span, err)
				return nil, ierr.WithError(err).
					WithHint("Failed to scan inserted key").
					Mark(ierr.ErrDatabase)
			}
			inserted = append(inserted, key)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			SetSpanError(span, err)
			return nil, ierr.WithError(err).
				WithHint("Failed to read inserted keys").
				Mark(ierr.ErrDatabase)
		}
		rows.Close()
	}

	r.log.Debugw("layered events into durable store",
		"batch_size", len(evts),
		"inserted", len(inserted),
		"skipped", len(evts)-len(inserted),
	)

	SetSpanSuccess(span)
	return inserted, nil
}

func (r *eventRepository) CountByDay(ctx context.Context, params *events.CountByDayParams) ([]*events.DayCount, error) {
	span := StartRepositorySpan(ctx, "event", "count_by_day", map[string]interface{}{
		"start": params.StartTime,
		"end":   params.EndTime,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		SELECT organisation_id, project_id, metric_name,
			date_trunc('day', timestamp) AS day, count(*) AS count
		FROM events
		WHERE timestamp >= $1 AND timestamp < $2
	`
	args := []interface{}{params.StartTime, params.EndTime}
	if params.OrganisationID != "" {
		query += ` AND organisation_id = $3`
		args = append(args, params.OrganisationID)
	}
	query += `
		GROUP BY organisation_id, project_id, metric_name, day
		ORDER BY organisation_id, project_id, metric_name, day
	`

	var result []*events.DayCount
	if err := client.SelectContext(ctx, &result, query, args...); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to count events by day").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return result, nil
}

func (r *eventRepository) UsageTotals(ctx context.Context, params *events.UsageParams) ([]*events.UsageTotal, error) {
	span := StartRepositorySpan(ctx, "event", "usage_totals", map[string]interface{}{
		"organisation_id": params.OrganisationID,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	selectCols := `metric_name, unit, NULL::timestamptz AS day, sum(metric_value) AS total_value, count(*) AS event_count`
	groupBy := `metric_name, unit`
	if params.GroupByDay {
		selectCols = `metric_name, unit, date_trunc('day', timestamp) AS day, sum(metric_value) AS total_value, count(*) AS event_count`
		groupBy = `metric_name, unit, day`
	}

	query := `SELECT ` + selectCols + `
		FROM events
		WHERE organisation_id = $1 AND timestamp >= $2 AND timestamp < $3`
	args := []interface{}{params.OrganisationID, params.StartTime, params.EndTime}
	if params.ProjectID != "" {
		args = append(args, params.ProjectID)
		query += fmt.Sprintf(` AND project_id = $%d`, len(args))
	}
	if params.MetricName != "" {
		args = append(args, params.MetricName)
		query += fmt.Sprintf(` AND metric_name = $%d`, len(args))
	}
	if params.Unit != "" {
		args = append(args, params.Unit)
		query += fmt.Sprintf(` AND unit = $%d`, len(args))
	}
	query += ` GROUP BY ` + groupBy + ` ORDER BY ` + groupBy

	var result []*events.UsageTotal
	if err := client.SelectContext(ctx, &result, query, args...); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to aggregate usage").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return result, nil
}

// AggregateTotals recomputes the rollup for one key and billing month from
// durable events; reconciliation compares the result against the stored row.
func (r *eventRepository) AggregateTotals(ctx context.Context, key events.AggregateKey, month, year int) (decimal.Decimal, int64, error) {
	span := StartRepositorySpan(ctx, "event", "aggregate_totals", map[string]interface{}{
		"organisation_id": key.OrganisationID,
		"metric_name":     key.MetricName,
		"month":           month,
		"year":            year,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)
	periodStart, periodEnd := types.BillingPeriod(month, year)

	query := `
		SELECT COALESCE(sum(metric_value), 0) AS total_value, count(*) AS event_count
		FROM events
		WHERE organisation_id = $1 AND project_id = $2
			AND metric_name = $3 AND unit = $4
			AND timestamp >= $5 AND timestamp < $6
	`

	var row struct {
		TotalValue decimal.Decimal `db:"total_value"`
		EventCount int64           `db:"event_count"`
	}
	err := client.GetContext(ctx, &row, query,
		key.OrganisationID, key.ProjectID, key.MetricName, key.Unit, periodStart, periodEnd)
	if err != nil {
		SetSpanError(span, err)
		return decimal.Zero, 0, ierr.WithError(err).
			WithHint("Failed to recompute aggregate totals").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return row.TotalValue, row.EventCount, nil
}
