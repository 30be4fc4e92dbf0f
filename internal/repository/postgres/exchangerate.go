package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/meterline/meterline/internal/domain/exchangerate"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/types"
)

type exchangeRateRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewExchangeRateRepository(client postgres.IClient, logger *logger.Logger) exchangerate.Repository {
	return &exchangeRateRepository{client: client, logger: logger}
}

func (r *exchangeRateRepository) Create(ctx context.Context, rate *exchangerate.ExchangeRate) error {
	span := StartRepositorySpan(ctx, "exchange_rate", "create", map[string]interface{}{
		"base":   rate.Base,
		"target": rate.Target,
	})
	defer FinishSpan(span)

	if err := rate.Validate(); err != nil {
		SetSpanError(span, err)
		return err
	}

	rate.BaseModel = types.GetDefaultBaseModel(ctx)
	client := r.client.Querier(ctx)

	query := `
		INSERT INTO exchange_rates (
			id, base, target, rate, effective_from, effective_to, source,
			status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :base, :target, :rate, :effective_from, :effective_to, :source,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)
	`

	if _, err := client.NamedExec(query, rate); err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to create exchange rate").
			WithReportableDetails(map[string]interface{}{
				"base":   rate.Base,
				"target": rate.Target,
			}).
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}

// GetEffective resolves the rate covering the instant, newest window first
func (r *exchangeRateRepository) GetEffective(ctx context.Context, base, target string, at time.Time) (*exchangerate.ExchangeRate, error) {
	span := StartRepositorySpan(ctx, "exchange_rate", "get_effective", map[string]interface{}{
		"base":   base,
		"target": target,
		"at":     at,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		SELECT * FROM exchange_rates
		WHERE base = $1 AND target = $2
			AND effective_from <= $3
			AND (effective_to IS NULL OR effective_to > $3)
			AND status = $4
		ORDER BY effective_from DESC
		LIMIT 1
	`

	var rate exchangerate.ExchangeRate
	err := client.GetContext(ctx, &rate, query,
		types.NormalizeCurrency(base), types.NormalizeCurrency(target), at, types.StatusPublished)
	if err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHintf("No exchange rate from %s to %s", base, target).
				WithReportableDetails(map[string]interface{}{
					"base":   base,
					"target": target,
					"at":     at,
				}).
				Mark(ierr.ErrMissingExchangeRate)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get exchange rate").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return &rate, nil
}

// ListEffective returns every rate covering the instant; the billing
// calculator takes the full table as input
func (r *exchangeRateRepository) ListEffective(ctx context.Context, at time.Time) ([]*exchangerate.ExchangeRate, error) {
	span := StartRepositorySpan(ctx, "exchange_rate", "list_effective", map[string]interface{}{
		"at": at,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		SELECT DISTINCT ON (base, target) * FROM exchange_rates
		WHERE effective_from <= $1
			AND (effective_to IS NULL OR effective_to > $1)
			AND status = $2
		ORDER BY base, target, effective_from DESC
	`

	var rates []*exchangerate.ExchangeRate
	if err := client.SelectContext(ctx, &rates, query, at, types.StatusPublished); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list effective exchange rates").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return rates, nil
}

func (r *exchangeRateRepository) List(ctx context.Context, base, target string, limit int) ([]*exchangerate.ExchangeRate, error) {
	span := StartRepositorySpan(ctx, "exchange_rate", "list", map[string]interface{}{
		"base":   base,
		"target": target,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT * FROM exchange_rates
		WHERE base = $1 AND target = $2 AND status = $3
		ORDER BY effective_from DESC
		LIMIT $4
	`

	var rates []*exchangerate.ExchangeRate
	err := client.SelectContext(ctx, &rates, query,
		types.NormalizeCurrency(base), types.NormalizeCurrency(target), types.StatusPublished, limit)
	if err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list exchange rates").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return rates, nil
}

// CloseOpenWindow stamps effective_to on the open rate of (base, target).
// The upsert path runs it with Create in one transaction so the windows
// stay contiguous.
func (r *exchangeRateRepository) CloseOpenWindow(ctx context.Context, base, target string, at time.Time) error {
	span := StartRepositorySpan(ctx, "exchange_rate", "close_open_window", map[string]interface{}{
		"base":   base,
		"target": target,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		UPDATE exchange_rates
		SET effective_to = $1, updated_at = now(), updated_by = $2
		WHERE base = $3 AND target = $4 AND effective_to IS NULL AND status = $5
	`

	_, err := client.ExecContext(ctx, query,
		at.UTC(), types.GetActor(ctx),
		types.NormalizeCurrency(base), types.NormalizeCurrency(target), types.StatusPublished)
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to close exchange rate window").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}
