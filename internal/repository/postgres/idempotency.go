package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/meterline/meterline/internal/domain/idempotency"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
)

type idempotencyRepository struct {
	client postgres.IClient
	log    *logger.Logger
}

func NewIdempotencyRepository(client postgres.IClient, log *logger.Logger) idempotency.Repository {
	return &idempotencyRepository{client: client, log: log}
}

// Reserve claims the key in one statement. The insert either wins, making
// this caller the one that runs the operation, or hits the unique index and
// the read-back returns the prior holder's entity id.
func (r *idempotencyRepository) Reserve(ctx context.Context, key, entityType string) (idempotency.Outcome, error) {
	span := StartRepositorySpan(ctx, "idempotency", "reserve", map[string]interface{}{
		"idempotency_key": key,
		"entity_type":     entityType,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)
	row := idempotency.NewKey(key, entityType, "")

	insert := `
		INSERT INTO idempotency_keys (id, idempotency_key, entity_type, entity_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO NOTHING
	`

	result, err := client.ExecContext(ctx, insert,
		row.ID, row.IdempotencyKey, row.EntityType, row.EntityID, row.CreatedAt)
	if err != nil {
		SetSpanError(span, err)
		return idempotency.Outcome{}, ierr.WithError(err).
			WithHint("Failed to reserve idempotency key").
			Mark(ierr.ErrDatabase)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		SetSpanError(span, err)
		return idempotency.Outcome{}, ierr.WithError(err).
			WithHint("Failed to read rows affected").
			Mark(ierr.ErrDatabase)
	}

	if inserted > 0 {
		SetSpanSuccess(span)
		return idempotency.Outcome{Status: idempotency.OutcomeCreated}, nil
	}

	existing, err := r.Get(ctx, key)
	if err != nil {
		SetSpanError(span, err)
		return idempotency.Outcome{}, err
	}

	r.log.Debugw("idempotency key replayed",
		"idempotency_key", key,
		"entity_type", existing.EntityType,
		"entity_id", existing.EntityID,
	)

	SetSpanSuccess(span)
	return idempotency.Outcome{Status: idempotency.OutcomeExisting, EntityID: existing.EntityID}, nil
}

// Complete fills the entity id of a reserved key
func (r *idempotencyRepository) Complete(ctx context.Context, key, entityID string) error {
	span := StartRepositorySpan(ctx, "idempotency", "complete", map[string]interface{}{
		"idempotency_key": key,
		"entity_id":       entityID,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `UPDATE idempotency_keys SET entity_id = $1 WHERE idempotency_key = $2`

	result, err := client.ExecContext(ctx, query, entityID, key)
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to complete idempotency key").
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
		return ierr.NewErrorf("idempotency key %s not found", key).
			Mark(ierr.ErrNotFound)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (*idempotency.Key, error) {
	span := StartRepositorySpan(ctx, "idempotency", "get", map[string]interface{}{
		"idempotency_key": key,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `SELECT * FROM idempotency_keys WHERE idempotency_key = $1`

	var row idempotency.Key
	err := client.GetContext(ctx, &row, query, key)
	if err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHint("Idempotency key not found").
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get idempotency key").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return &row, nil
}

// GetForUpdate locks the registry row so concurrent holders of the same key
// wait for the first transaction to finish
func (r *idempotencyRepository) GetForUpdate(ctx context.Context, key string) (*idempotency.Key, error) {
	span := StartRepositorySpan(ctx, "idempotency", "get_for_update", map[string]interface{}{
		"idempotency_key": key,
	})
	defer FinishSpan(span)

	if r.client.TxFromContext(ctx) == nil {
		err := ierr.NewError("GetForUpdate requires a transaction").
			Mark(ierr.ErrSystem)
		SetSpanError(span, err)
		return nil, err
	}

	client := r.client.Querier(ctx)

	query := `SELECT * FROM idempotency_keys WHERE idempotency_key = $1 FOR UPDATE`

	var row idempotency.Key
	err := client.GetContext(ctx, &row, query, key)
	if err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHint("Idempotency key not found").
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to lock idempotency key").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return &row, nil
}

func (r *idempotencyRepository) Create(ctx context.Context, row *idempotency.Key) error {
	span := StartRepositorySpan(ctx, "idempotency", "create", map[string]interface{}{
		"idempotency_key": row.IdempotencyKey,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		INSERT INTO idempotency_keys (id, idempotency_key, entity_type, entity_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := client.ExecContext(ctx, query,
		row.ID, row.IdempotencyKey, row.EntityType, row.EntityID, row.CreatedAt)
	if err != nil {
		SetSpanError(span, err)
		if IsUniqueViolation(err, "") {
			return ierr.WithError(err).
				WithHint("Idempotency key already claimed").
				WithReportableDetails(map[string]interface{}{
					"idempotency_key": row.IdempotencyKey,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create idempotency key").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}
