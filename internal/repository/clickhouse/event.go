package clickhouse

import (
	"context"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/clickhouse"
	"github.com/meterline/meterline/internal/domain/events"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
)

// EventRepository is the hot event store. Rows land here first at ingest;
// the migration worker drains them into Postgres and stamps processed_at.
// Mutations (mark/delete) are asynchronous in ClickHouse, so a rescan may
// briefly re-return marked rows; the durable store's unique key absorbs the
// replay.
type EventRepository struct {
	store  *clickhouse.ClickHouseStore
	logger *logger.Logger
}

func NewEventRepository(store *clickhouse.ClickHouseStore, logger *logger.Logger) events.Repository {
	return &EventRepository{store: store, logger: logger}
}

const insertEventQuery = `
	INSERT INTO events (
		id, organisation_id, project_id, metric_name, metric_value, unit,
		timestamp, metadata, idempotency_key, ingested_at
	) VALUES (
		?, ?, ?, ?, ?, ?, ?, ?, ?, ?
	)
`

func (r *EventRepository) InsertEvent(ctx context.Context, event *events.Event) error {
	span := StartRepositorySpan(ctx, "event", "insert", map[string]interface{}{
		"event_id":    event.ID,
		"metric_name": event.MetricName,
	})
	defer FinishSpan(span)

	if err := event.Validate(); err != nil {
		SetSpanError(span, err)
		return err
	}

	exists, err := r.Exists(ctx, event.OrganisationID, event.IdempotencyKey)
	if err != nil {
		SetSpanError(span, err)
		return err
	}
	if exists {
		SetSpanSuccess(span)
		return ierr.NewError("event already ingested").
			WithReportableDetails(map[string]interface{}{
				"event_id": event.IdempotencyKey,
			}).
			Mark(ierr.ErrAlreadyExists)
	}

	err = r.store.GetConn().Exec(ctx, insertEventQuery,
		event.ID,
		event.OrganisationID,
		event.ProjectID,
		event.MetricName,
		event.MetricValue,
		event.Unit,
		event.Timestamp,
		event.Metadata,
		event.IdempotencyKey,
		event.IngestedAt,
	)
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to insert event").
			WithReportableDetails(map[string]interface{}{
				"event_id":    event.IdempotencyKey,
				"metric_name": event.MetricName,
			}).
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}

// BulkInsertEvents inserts events in batches for better throughput
func (r *EventRepository) BulkInsertEvents(ctx context.Context, evts []*events.Event) error {
	if len(evts) == 0 {
		return nil
	}

	span := StartRepositorySpan(ctx, "event", "bulk_insert", map[string]interface{}{
		"event_count": len(evts),
	})
	defer FinishSpan(span)

	batches := lo.Chunk(evts, 100)

	for _, chunk := range batches {
		batch, err := r.store.GetConn().PrepareBatch(ctx, `
		INSERT INTO events (
			id, organisation_id, project_id, metric_name, metric_value, unit,
			timestamp, metadata, idempotency_key, ingested_at
		)
	`)
		if err != nil {
			SetSpanError(span, err)
			return ierr.WithError(err).
				WithHint("Failed to prepare batch for events").
				Mark(ierr.ErrDatabase)
		}

		for _, event := range chunk {
			if err := event.Validate(); err != nil {
				SetSpanError(span, err)
				return err
			}

			if err := batch.Append(
				event.ID,
				event.OrganisationID,
				event.ProjectID,
				event.MetricName,
				event.MetricValue,
				event.Unit,
				event.Timestamp,
				event.Metadata,
				event.IdempotencyKey,
				event.IngestedAt,
			); err != nil {
				SetSpanError(span, err)
				return ierr.WithError(err).
					WithHint("Failed to append event to batch").
					WithReportableDetails(map[string]interface{}{
						"event_id": event.IdempotencyKey,
					}).
					Mark(ierr.ErrDatabase)
			}
		}

		if err := batch.Send(); err != nil {
			SetSpanError(span, err)
			return ierr.WithError(err).
				WithHint("Failed to send event batch").
				Mark(ierr.ErrDatabase)
		}
	}

	SetSpanSuccess(span)
	return nil
}

func (r *EventRepository) Exists(ctx context.Context, organisationID, idempotencyKey string) (bool, error) {
	span := StartRepositorySpan(ctx, "event", "exists", map[string]interface{}{
		"event_id": idempotencyKey,
	})
	defer FinishSpan(span)

	query := `
		SELECT 1 FROM events
		WHERE organisation_id = ? AND idempotency_key = ?
		LIMIT 1
	`

	var one uint8
	err := r.store.GetConn().QueryRow(ctx, query, organisationID, idempotencyKey).Scan(&one)
	if err != nil {
		if isNoRows(err) {
			SetSpanSuccess(span)
			return false, nil
		}
		SetSpanError(span, err)
		return false, ierr.WithError(err).
			WithHint("Failed to check event existence").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return true, nil
}

// ScanUnprocessed returns hot events not yet migrated, oldest first
func (r *EventRepository) ScanUnprocessed(ctx context.Context, limit int) ([]*events.Event, error) {
	span := StartRepositorySpan(ctx, "event", "scan_unprocessed", map[string]interface{}{
		"limit": limit,
	})
	defer FinishSpan(span)

	query := `
		SELECT
			id, organisation_id, project_id, metric_name, metric_value, unit,
			timestamp, metadata, idempotency_key, ingested_at, processed_at
		FROM events FINAL
		WHERE processed_at IS NULL
		ORDER BY ingested_at, id
		LIMIT ?
	`

	rows, err := r.store.GetConn().Query(ctx, query, limit)
	if err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to scan unprocessed events").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var result []*events.Event
	for rows.Next() {
		var e events.Event
		if err := rows.Scan(
			&e.ID,
			&e.OrganisationID,
			&e.ProjectID,
			&e.MetricName,
			&e.MetricValue,
			&e.Unit,
			&e.Timestamp,
			&e.Metadata,
			&e.IdempotencyKey,
			&e.IngestedAt,
			&e.ProcessedAt,
		); err != nil {
			SetSpanError(span, err)
			return nil, ierr.WithError(err).
				WithHint("Failed to scan event row").
				Mark(ierr.ErrDatabase)
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to read unprocessed events").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return result, nil
}

// MarkProcessed stamps processed_at on the given rows
func (r *EventRepository) MarkProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	span := StartRepositorySpan(ctx, "event", "mark_processed", map[string]interface{}{
		"event_count": len(ids),
	})
	defer FinishSpan(span)

	query := `ALTER TABLE events UPDATE processed_at = now64(3) WHERE id IN (?)`

	if err := r.store.GetConn().Exec(ctx, query, ids); err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to mark events processed").
			WithReportableDetails(map[string]interface{}{
				"event_count": len(ids),
			}).
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}

// DeleteProcessedOlderThan removes migrated events past retention
func (r *EventRepository) DeleteProcessedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	span := StartRepositorySpan(ctx, "event", "delete_processed", map[string]interface{}{
		"cutoff": cutoff,
	})
	defer FinishSpan(span)

	countQuery := `
		SELECT count() FROM events
		WHERE processed_at IS NOT NULL AND processed_at < ?
	`

	var count uint64
	if err := r.store.GetConn().QueryRow(ctx, countQuery, cutoff).Scan(&count); err != nil {
		SetSpanError(span, err)
		return 0, ierr.WithError(err).
			WithHint("Failed to count events for cleanup").
			Mark(ierr.ErrDatabase)
	}

	if count == 0 {
		SetSpanSuccess(span)
		return 0, nil
	}

	deleteQuery := `DELETE FROM events WHERE processed_at IS NOT NULL AND processed_at < ?`

	if err := r.store.GetConn().Exec(ctx, deleteQuery, cutoff); err != nil {
		SetSpanError(span, err)
		return 0, ierr.WithError(err).
			WithHint("Failed to delete processed events").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return int64(count), nil
}

// CountByDay feeds the events reconciliation grid
func (r *EventRepository) CountByDay(ctx context.Context, params *events.CountByDayParams) ([]*events.DayCount, error) {
	span := StartRepositorySpan(ctx, "event", "count_by_day", map[string]interface{}{
		"start": params.StartTime,
		"end":   params.EndTime,
	})
	defer FinishSpan(span)

	query := `
		SELECT organisation_id, project_id, metric_name,
			toStartOfDay(timestamp) AS day, count() AS count
		FROM events FINAL
		WHERE timestamp >= ? AND timestamp < ?
	`
	args := []interface{}{params.StartTime, params.EndTime}
	if params.OrganisationID != "" {
		query += ` AND organisation_id = ?`
		args = append(args, params.OrganisationID)
	}
	query += `
		GROUP BY organisation_id, project_id, metric_name, day
		ORDER BY organisation_id, project_id, metric_name, day
	`

	rows, err := r.store.GetConn().Query(ctx, query, args...)
	if err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to count events by day").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var result []*events.DayCount
	for rows.Next() {
		var dc events.DayCount
		if err := rows.Scan(&dc.OrganisationID, &dc.ProjectID, &dc.MetricName, &dc.Day, &dc.Count); err != nil {
			SetSpanError(span, err)
			return nil, ierr.WithError(err).
				WithHint("Failed to scan day count row").
				Mark(ierr.ErrDatabase)
		}
		result = append(result, &dc)
	}
	if err := rows.Err(); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to read day counts").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return result, nil
}

// UsageTotals aggregates raw events for realtime usage queries
func (r *EventRepository) UsageTotals(ctx context.Context, params *events.UsageParams) ([]*events.UsageTotal, error) {
	span := StartRepositorySpan(ctx, "event", "usage_totals", map[string]interface{}{
		"organisation_id": params.OrganisationID,
	})
	defer FinishSpan(span)

	selectCols := `metric_name, unit, sum(metric_value) AS total_value, count() AS event_count`
	groupBy := `metric_name, unit`
	if params.GroupByDay {
		selectCols = `metric_name, unit, toStartOfDay(timestamp) AS day, sum(metric_value) AS total_value, count() AS event_count`
		groupBy = `metric_name, unit, day`
	}

	query := `
		SELECT ` + selectCols + `
		FROM events FINAL
		WHERE organisation_id = ? AND timestamp >= ? AND timestamp < ?
	`
	args := []interface{}{params.OrganisationID, params.StartTime, params.EndTime}
	if params.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, params.ProjectID)
	}
	if params.MetricName != "" {
		query += ` AND metric_name = ?`
		args = append(args, params.MetricName)
	}
	if params.Unit != "" {
		query += ` AND unit = ?`
		args = append(args, params.Unit)
	}
	query += ` GROUP BY ` + groupBy + ` ORDER BY ` + groupBy

	rows, err := r.store.GetConn().Query(ctx, query, args...)
	if err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to aggregate usage").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var result []*events.UsageTotal
	for rows.Next() {
		var ut events.UsageTotal
		var total decimal.Decimal
		if params.GroupByDay {
			var day time.Time
			if err := rows.Scan(&ut.MetricName, &ut.Unit, &day, &total, &ut.EventCount); err != nil {
				SetSpanError(span, err)
				return nil, ierr.WithError(err).
					WithHint("Failed to scan usage row").
					Mark(ierr.ErrDatabase)
			}
			ut.Day = &day
		} else {
			if err := rows.Scan(&ut.MetricName, &ut.Unit, &total, &ut.EventCount); err != nil {
				SetSpanError(span, err)
				return nil, ierr.WithError(err).
					WithHint("Failed to scan usage row").
					Mark(ierr.ErrDatabase)
			}
		}
		ut.TotalValue = total
		result = append(result, &ut)
	}
	if err := rows.Err(); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to read usage totals").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return result, nil
}

// isNoRows matches the driver's empty result error
func isNoRows(err error) bool {
	return err != nil && err.Error() == "sql: no rows in result set"
}
