package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/meterline/meterline/internal/domain/reconciliation"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/types"
)

type reconciliationRepository struct {
	client postgres.IClient
	log    *logger.Logger
}

func NewReconciliationRepository(client postgres.IClient, log *logger.Logger) reconciliation.Repository {
	return &reconciliationRepository{client: client, log: log}
}

// reconciliationRow carries the serialized discrepancy list for sqlx
type reconciliationRow struct {
	reconciliation.Run
	DetailsJSON []byte `db:"details"`
}

func (row *reconciliationRow) toDomain() (*reconciliation.Run, error) {
	run := row.Run
	if len(row.DetailsJSON) > 0 {
		if err := json.Unmarshal(row.DetailsJSON, &run.Details); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to decode reconciliation details").
				Mark(ierr.ErrSystem)
		}
	}
	return &run, nil
}

func (r *reconciliationRepository) Create(ctx context.Context, run *reconciliation.Run) error {
	span := StartRepositorySpan(ctx, "reconciliation", "create", map[string]interface{}{
		"run_id": run.ID,
		"scope":  run.Scope,
	})
	defer FinishSpan(span)

	details, err := json.Marshal(run.Details)
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to serialize reconciliation details").
			Mark(ierr.ErrSystem)
	}

	run.BaseModel = types.GetDefaultBaseModel(ctx)
	row := &reconciliationRow{Run: *run, DetailsJSON: details}

	client := r.client.Querier(ctx)

	query := `
		INSERT INTO reconciliation_runs (
			id, scope, window_start, window_end,
			left_count, right_count, discrepancy_count, run_status, details,
			status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :scope, :window_start, :window_end,
			:left_count, :right_count, :discrepancy_count, :run_status, :details,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)
	`

	if _, err := client.NamedExec(query, row); err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to record reconciliation run").
			WithReportableDetails(map[string]interface{}{
				"scope": run.Scope,
			}).
			Mark(ierr.ErrDatabase)
	}

	r.log.Infow("reconciliation run recorded",
		"run_id", run.ID,
		"scope", run.Scope,
		"run_status", run.Status,
		"discrepancies", run.DiscrepancyCount,
	)

	SetSpanSuccess(span)
	return nil
}

func (r *reconciliationRepository) Get(ctx context.Context, id string) (*reconciliation.Run, error) {
	span := StartRepositorySpan(ctx, "reconciliation", "get", map[string]interface{}{
		"run_id": id,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `SELECT * FROM reconciliation_runs WHERE id = $1`

	var row reconciliationRow
	err := client.GetContext(ctx, &row, query, id)
	if err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHintf("Reconciliation run with ID %s was not found", id).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get reconciliation run").
			Mark(ierr.ErrDatabase)
	}

	run, err := row.toDomain()
	if err != nil {
		SetSpanError(span, err)
		return nil, err
	}

	SetSpanSuccess(span)
	return run, nil
}

func (r *reconciliationRepository) List(ctx context.Context, scope types.ReconciliationScope, limit int) ([]*reconciliation.Run, error) {
	span := StartRepositorySpan(ctx, "reconciliation", "list", map[string]interface{}{
		"scope": scope,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	if limit <= 0 {
		limit = 50
	}

	query := `SELECT * FROM reconciliation_runs`
	args := []interface{}{}
	if scope != "" {
		args = append(args, scope)
		query += ` WHERE scope = $1`
	}
	args = append(args, limit)
	if len(args) == 1 {
		query += ` ORDER BY created_at DESC LIMIT $1`
	} else {
		query += ` ORDER BY created_at DESC LIMIT $2`
	}

	var rows []reconciliationRow
	if err := client.SelectContext(ctx, &rows, query, args...); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list reconciliation runs").
			Mark(ierr.ErrDatabase)
	}

	runs := make([]*reconciliation.Run, 0, len(rows))
	for i := range rows {
		run, err := rows[i].toDomain()
		if err != nil {
			SetSpanError(span, err)
			return nil, err
		}
		runs = append(runs, run)
	}

	SetSpanSuccess(span)
	return runs, nil
}
