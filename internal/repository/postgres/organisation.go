package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/meterline/meterline/internal/cache"
	"github.com/meterline/meterline/internal/domain/organisation"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/types"
)

type organisationRepository struct {
	client postgres.IClient
	log    *logger.Logger
	cache  cache.Cache
}

func NewOrganisationRepository(client postgres.IClient, log *logger.Logger, cache cache.Cache) organisation.Repository {
	return &organisationRepository{client: client, log: log, cache: cache}
}

func (r *organisationRepository) Create(ctx context.Context, org *organisation.Organisation) error {
	span := StartRepositorySpan(ctx, "organisation", "create", map[string]interface{}{
		"organisation_id": org.ID,
	})
	defer FinishSpan(span)

	if err := org.Validate(); err != nil {
		SetSpanError(span, err)
		return err
	}

	org.BaseModel = types.GetDefaultBaseModel(ctx)
	client := r.client.Querier(ctx)

	query := `
		INSERT INTO organisations (
			id, name, currency, gateway_customer_id,
			status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :name, :currency, :gateway_customer_id,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)
	`

	if _, err := client.NamedExec(query, org); err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to create organisation").
			WithReportableDetails(map[string]interface{}{
				"organisation_id": org.ID,
			}).
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *organisationRepository) Get(ctx context.Context, id string) (*organisation.Organisation, error) {
	span := StartRepositorySpan(ctx, "organisation", "get", map[string]interface{}{
		"organisation_id": id,
	})
	defer FinishSpan(span)

	if cached := r.GetCache(ctx, id); cached != nil {
		SetSpanSuccess(span)
		return cached, nil
	}

	client := r.client.Querier(ctx)

	query := `SELECT * FROM organisations WHERE id = $1 AND status != $2`

	var org organisation.Organisation
	err := client.GetContext(ctx, &org, query, id, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHintf("Organisation with ID %s was not found", id).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get organisation").
			Mark(ierr.ErrDatabase)
	}

	r.SetCache(ctx, &org)
	SetSpanSuccess(span)
	return &org, nil
}

func (r *organisationRepository) List(ctx context.Context) ([]*organisation.Organisation, error) {
	span := StartRepositorySpan(ctx, "organisation", "list", nil)
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `SELECT * FROM organisations WHERE status = $1 ORDER BY created_at`

	var orgs []*organisation.Organisation
	if err := client.SelectContext(ctx, &orgs, query, types.StatusPublished); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list organisations").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return orgs, nil
}

func (r *organisationRepository) Update(ctx context.Context, org *organisation.Organisation) error {
	span := StartRepositorySpan(ctx, "organisation", "update", map[string]interface{}{
		"organisation_id": org.ID,
	})
	defer FinishSpan(span)

	if err := org.Validate(); err != nil {
		SetSpanError(span, err)
		return err
	}

	org.Touch(ctx)
	client := r.client.Querier(ctx)

	query := `
		UPDATE organisations SET
			name = :name,
			currency = :currency,
			gateway_customer_id = :gateway_customer_id,
			updated_at = :updated_at,
			updated_by = :updated_by
		WHERE id = :id AND status != 'deleted'
	`

	result, err := client.NamedExec(query, org)
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to update organisation").
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
		return ierr.NewErrorf("organisation %s not found", org.ID).
			Mark(ierr.ErrNotFound)
	}

	r.DeleteCache(ctx, org.ID)
	SetSpanSuccess(span)
	return nil
}

// Delete archives the organisation; rows are never physically removed
func (r *organisationRepository) Delete(ctx context.Context, id string) error {
	span := StartRepositorySpan(ctx, "organisation", "delete", map[string]interface{}{
		"organisation_id": id,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		UPDATE organisations SET
			status = $1, updated_at = now(), updated_by = $2
		WHERE id = $3 AND status != $1
	`

	result, err := client.ExecContext(ctx, query, types.StatusArchived, types.GetActor(ctx), id)
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to archive organisation").
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
		return ierr.NewErrorf("organisation %s not found", id).
			Mark(ierr.ErrNotFound)
	}

	r.DeleteCache(ctx, id)
	SetSpanSuccess(span)
	return nil
}

func (r *organisationRepository) SetCache(ctx context.Context, org *organisation.Organisation) {
	span := cache.StartCacheSpan(ctx, "organisation", "set", map[string]interface{}{
		"organisation_id": org.ID,
	})
	defer cache.FinishSpan(span)

	cacheKey := cache.GenerateKey(cache.PrefixOrganisation, org.ID)
	r.cache.Set(ctx, cacheKey, org, cache.DefaultExpiration)
}

func (r *organisationRepository) GetCache(ctx context.Context, id string) *organisation.Organisation {
	span := cache.StartCacheSpan(ctx, "organisation", "get", map[string]interface{}{
		"organisation_id": id,
	})
	defer cache.FinishSpan(span)

	cacheKey := cache.GenerateKey(cache.PrefixOrganisation, id)
	if value, found := r.cache.Get(ctx, cacheKey); found {
		return value.(*organisation.Organisation)
	}
	return nil
}

func (r *organisationRepository) DeleteCache(ctx context.Context, id string) {
	span := cache.StartCacheSpan(ctx, "organisation", "delete", map[string]interface{}{
		"organisation_id": id,
	})
	defer cache.FinishSpan(span)

	cacheKey := cache.GenerateKey(cache.PrefixOrganisation, id)
	r.cache.Delete(ctx, cacheKey)
}
