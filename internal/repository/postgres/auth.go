package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/meterline/meterline/internal/domain/auth"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/types"
)

type authRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewAuthRepository(client postgres.IClient, logger *logger.Logger) auth.Repository {
	return &authRepository{client: client, logger: logger}
}

func (r *authRepository) CreateAuth(ctx context.Context, a *auth.Auth) error {
	span := StartRepositorySpan(ctx, "auth", "create", map[string]interface{}{
		"user_id":  a.UserID,
		"provider": a.Provider,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		INSERT INTO auths (user_id, provider, token, status, created_at, updated_at)
		VALUES (:user_id, :provider, :token, :status, :created_at, :updated_at)
	`

	if _, err := client.NamedExec(query, a); err != nil {
		SetSpanError(span, err)
		if IsUniqueViolation(err, "") {
			return ierr.WithError(err).
				WithHint("Credentials already exist for this user").
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create auth record").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *authRepository) GetAuthByUserID(ctx context.Context, userID string) (*auth.Auth, error) {
	span := StartRepositorySpan(ctx, "auth", "get_by_user", map[string]interface{}{
		"user_id": userID,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `SELECT * FROM auths WHERE user_id = $1 AND status = $2`

	var a auth.Auth
	err := client.GetContext(ctx, &a, query, userID, types.StatusPublished)
	if err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHint("No credentials for user").
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get auth record").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return &a, nil
}

func (r *authRepository) UpdateAuth(ctx context.Context, a *auth.Auth) error {
	span := StartRepositorySpan(ctx, "auth", "update", map[string]interface{}{
		"user_id": a.UserID,
	})
	defer FinishSpan(span)

	a.UpdatedAt = time.Now().UTC()
	client := r.client.Querier(ctx)

	query := `
		UPDATE auths SET
			token = :token,
			status = :status,
			updated_at = :updated_at
		WHERE user_id = :user_id AND provider = :provider
	`

	result, err := client.NamedExec(query, a)
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to update auth record").
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
		return ierr.NewErrorf("no credentials for user %s", a.UserID).
			Mark(ierr.ErrNotFound)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *authRepository) DeleteAuth(ctx context.Context, userID string) error {
	span := StartRepositorySpan(ctx, "auth", "delete", map[string]interface{}{
		"user_id": userID,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `DELETE FROM auths WHERE user_id = $1`

	if _, err := client.ExecContext(ctx, query, userID); err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to delete auth record").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}
