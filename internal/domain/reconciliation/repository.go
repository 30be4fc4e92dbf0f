package reconciliation

import (
	"context"

	"github.com/meterline/meterline/internal/types"
)

type Repository interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, scope types.ReconciliationScope, limit int) ([]*Run, error)
}
