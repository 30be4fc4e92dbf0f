package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/meterline/meterline/internal/cache"
	"github.com/meterline/meterline/internal/domain/project"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/types"
)

type projectRepository struct {
	client postgres.IClient
	log    *logger.Logger
	cache  cache.Cache
}

func NewProjectRepository(client postgres.IClient, log *logger.Logger, cache cache.Cache) project.Repository {
	return &projectRepository{client: client, log: log, cache: cache}
}

func (r *projectRepository) Create(ctx context.Context, p *project.Project) error {
	span := StartRepositorySpan(ctx, "project", "create", map[string]interface{}{
		"project_id":      p.ID,
		"organisation_id": p.OrganisationID,
	})
	defer FinishSpan(span)

	if err := p.Validate(); err != nil {
		SetSpanError(span, err)
		return err
	}

	p.BaseModel = types.GetDefaultBaseModel(ctx)
	client := r.client.Querier(ctx)

	query := `
		INSERT INTO projects (
			id, organisation_id, name, api_key_hash, is_active,
			status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :organisation_id, :name, :api_key_hash, :is_active,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)
	`

	if _, err := client.NamedExec(query, p); err != nil {
		SetSpanError(span, err)
		if IsUniqueViolation(err, "") {
			return ierr.WithError(err).
				WithHint("A project with this API key already exists").
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create project").
			WithReportableDetails(map[string]interface{}{
				"project_id": p.ID,
			}).
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *projectRepository) Get(ctx context.Context, id string) (*project.Project, error) {
	span := StartRepositorySpan(ctx, "project", "get", map[string]interface{}{
		"project_id": id,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `SELECT * FROM projects WHERE id = $1 AND status != $2`

	var p project.Project
	err := client.GetContext(ctx, &p, query, id, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHintf("Project with ID %s was not found", id).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get project").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return &p, nil
}

// GetByAPIKeyHash resolves an ingest credential. This sits on the ingest hot
// path, so hits are cached; rotation and deactivation invalidate through
// Update.
func (r *projectRepository) GetByAPIKeyHash(ctx context.Context, hash string) (*project.Project, error) {
	span := StartRepositorySpan(ctx, "project", "get_by_api_key", nil)
	defer FinishSpan(span)

	if cached := r.GetCacheByKeyHash(ctx, hash); cached != nil {
		SetSpanSuccess(span)
		return cached, nil
	}

	client := r.client.Querier(ctx)

	query := `
		SELECT * FROM projects
		WHERE api_key_hash = $1 AND is_active = true AND status = $2
	`

	var p project.Project
	err := client.GetContext(ctx, &p, query, hash, types.StatusPublished)
	if err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHint("Invalid API key").
				Mark(ierr.ErrPermissionDenied)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to resolve API key").
			Mark(ierr.ErrDatabase)
	}

	r.SetCacheByKeyHash(ctx, &p)
	SetSpanSuccess(span)
	return &p, nil
}

func (r *projectRepository) ListByOrganisation(ctx context.Context, organisationID string) ([]*project.Project, error) {
	span := StartRepositorySpan(ctx, "project", "list_by_organisation", map[string]interface{}{
		"organisation_id": organisationID,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		SELECT * FROM projects
		WHERE organisation_id = $1 AND status != $2
		ORDER BY created_at
	`

	var projects []*project.Project
	if err := client.SelectContext(ctx, &projects, query, organisationID, types.StatusDeleted); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list projects").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return projects, nil
}

func (r *projectRepository) Update(ctx context.Context, p *project.Project) error {
	span := StartRepositorySpan(ctx, "project", "update", map[string]interface{}{
		"project_id": p.ID,
	})
	defer FinishSpan(span)

	if err := p.Validate(); err != nil {
		SetSpanError(span, err)
		return err
	}

	p.Touch(ctx)
	client := r.client.Querier(ctx)

	query := `
		UPDATE projects SET
			name = :name,
			api_key_hash = :api_key_hash,
			is_active = :is_active,
			updated_at = :updated_at,
			updated_by = :updated_by
		WHERE id = :id AND status != 'deleted'
	`

	result, err := client.NamedExec(query, p)
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to update project").
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
		return ierr.NewErrorf("project %s not found", p.ID).
			Mark(ierr.ErrNotFound)
	}

	// Rotation may have changed the hash; drop both old and new entries
	r.cache.DeleteByPrefix(ctx, cache.PrefixProjectKey)
	SetSpanSuccess(span)
	return nil
}

func (r *projectRepository) Delete(ctx context.Context, id string) error {
	span := StartRepositorySpan(ctx, "project", "delete", map[string]interface{}{
		"project_id": id,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		UPDATE projects SET
			status = $1, is_active = false, updated_at = now(), updated_by = $2
		WHERE id = $3 AND status != $1
	`

	result, err := client.ExecContext(ctx, query, types.StatusArchived, types.GetActor(ctx), id)
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to archive project").
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
		return ierr.NewErrorf("project %s not found", id).
			Mark(ierr.ErrNotFound)
	}

	r.cache.DeleteByPrefix(ctx, cache.PrefixProjectKey)
	SetSpanSuccess(span)
	return nil
}

func (r *projectRepository) SetCacheByKeyHash(ctx context.Context, p *project.Project) {
	span := cache.StartCacheSpan(ctx, "project", "set", map[string]interface{}{
		"project_id": p.ID,
	})
	defer cache.FinishSpan(span)

	cacheKey := cache.GenerateKey(cache.PrefixProjectKey, p.APIKeyHash)
	r.cache.Set(ctx, cacheKey, p, cache.DefaultExpiration)
}

func (r *projectRepository) GetCacheByKeyHash(ctx context.Context, hash string) *project.Project {
	span := cache.StartCacheSpan(ctx, "project", "get", nil)
	defer cache.FinishSpan(span)

	cacheKey := cache.GenerateKey(cache.PrefixProjectKey, hash)
	if value, found := r.cache.Get(ctx, cacheKey); found {
		return value.(*project.Project)
	}
	return nil
}
