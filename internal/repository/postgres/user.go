package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/meterline/meterline/internal/domain/user"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/types"
)

type userRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewUserRepository(client postgres.IClient, logger *logger.Logger) user.Repository {
	return &userRepository{client: client, logger: logger}
}

func (r *userRepository) Create(ctx context.Context, u *user.User) error {
	span := StartRepositorySpan(ctx, "user", "create", map[string]interface{}{
		"user_id":         u.ID,
		"organisation_id": u.OrganisationID,
	})
	defer FinishSpan(span)

	if err := u.Validate(); err != nil {
		SetSpanError(span, err)
		return err
	}

	u.BaseModel = types.GetDefaultBaseModel(ctx)
	client := r.client.Querier(ctx)

	query := `
		INSERT INTO users (
			id, email, organisation_id, role,
			status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :email, :organisation_id, :role,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)
	`

	if _, err := client.NamedExec(query, u); err != nil {
		SetSpanError(span, err)
		if IsUniqueViolation(err, "") {
			return ierr.WithError(err).
				WithHint("A user with this email already exists").
				WithReportableDetails(map[string]interface{}{
					"email": u.Email,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create user").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*user.User, error) {
	span := StartRepositorySpan(ctx, "user", "get", map[string]interface{}{
		"user_id": id,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `SELECT * FROM users WHERE id = $1 AND status != $2`

	var u user.User
	err := client.GetContext(ctx, &u, query, id, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHintf("User with ID %s was not found", id).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get user").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return &u, nil
}

// GetByEmail is only exposed for the login endpoint
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	span := StartRepositorySpan(ctx, "user", "get_by_email", nil)
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `SELECT * FROM users WHERE email = $1 AND status != $2`

	var u user.User
	err := client.GetContext(ctx, &u, query, email, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHint("User not found").
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get user by email").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return &u, nil
}

func (r *userRepository) ListByOrganisation(ctx context.Context, organisationID string) ([]*user.User, error) {
	span := StartRepositorySpan(ctx, "user", "list_by_organisation", map[string]interface{}{
		"organisation_id": organisationID,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		SELECT * FROM users
		WHERE organisation_id = $1 AND status != $2
		ORDER BY created_at
	`

	var users []*user.User
	if err := client.SelectContext(ctx, &users, query, organisationID, types.StatusDeleted); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list users").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return users, nil
}
