package alert

import (
	"context"
	"time"

	"github.com/meterline/meterline/internal/types"
)

// RuleRepository stores alert rules
type RuleRepository interface {
	Create(ctx context.Context, rule *Rule) error
	Get(ctx context.Context, id string) (*Rule, error)
	ListActive(ctx context.Context) ([]*Rule, error)
	ListByOrganisation(ctx context.Context, organisationID string) ([]*Rule, error)
	Update(ctx context.Context, rule *Rule) error
	Delete(ctx context.Context, id string) error

	// TouchLastAlert stamps last_alert_at after a trigger
	TouchLastAlert(ctx context.Context, id string, at time.Time) error
}

// HistoryRepository stores fired alerts
type HistoryRepository interface {
	Create(ctx context.Context, history *History) error
	Get(ctx context.Context, id string) (*History, error)
	List(ctx context.Context, filter *HistoryFilter) ([]*History, error)
	UpdateStatus(ctx context.Context, id string, status types.AlertHistoryStatus) error
}

// HistoryFilter narrows history listings
type HistoryFilter struct {
	OrganisationID string
	RuleID         string
	Statuses       []types.AlertHistoryStatus
	From           *time.Time
	To             *time.Time
	Limit          int
	Offset         int
}
