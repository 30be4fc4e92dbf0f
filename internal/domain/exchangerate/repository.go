package exchangerate

import (
	"context"
	"time"
)

type Repository interface {
	// Create inserts a rate row
	Create(ctx context.Context, rate *ExchangeRate) error

	// GetEffective returns the rate for (base, target) covering the instant,
	// preferring the most recent effective_from
	GetEffective(ctx context.Context, base, target string, at time.Time) (*ExchangeRate, error)

	// ListEffective returns all rates covering the instant; the calculator
	// receives these as plain data
	ListEffective(ctx context.Context, at time.Time) ([]*ExchangeRate, error)

	List(ctx context.Context, base, target string, limit int) ([]*ExchangeRate, error)

	// CloseOpenWindow stamps effective_to on the currently open rate of
	// (base, target); the upsert path calls it in the same transaction as
	// Create
	CloseOpenWindow(ctx context.Context, base, target string, at time.Time) error
}
