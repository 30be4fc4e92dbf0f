package aggregate

import (
	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/types"
)

// UsageAggregate is the monthly rollup of usage per organisation, project,
// metric and unit. Rows are maintained incrementally by the migration worker
// and are always rebuildable from durable events.
type UsageAggregate struct {
	ID             string          `db:"id" json:"id"`
	OrganisationID string          `db:"organisation_id" json:"organisation_id"`
	ProjectID      string          `db:"project_id" json:"project_id"`
	MetricName     string          `db:"metric_name" json:"metric_name"`
	Unit           string          `db:"unit" json:"unit"`
	Month          int             `db:"month" json:"month"`
	Year           int             `db:"year" json:"year"`
	TotalValue     decimal.Decimal `db:"total_value" json:"total_value"`
	EventCount     int64           `db:"event_count" json:"event_count"`
	types.BaseModel
}

// NewUsageAggregate creates an empty rollup row for the given key and period
func NewUsageAggregate(organisationID, projectID, metricName, unit string, month, year int) *UsageAggregate {
	return &UsageAggregate{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_AGGREGATE),
		OrganisationID: organisationID,
		ProjectID:      projectID,
		MetricName:     metricName,
		Unit:           unit,
		Month:          month,
		Year:           year,
		TotalValue:     decimal.Zero,
		EventCount:     0,
	}
}

// Accumulate folds one event value into the rollup
func (a *UsageAggregate) Accumulate(value decimal.Decimal) {
	a.TotalValue = a.TotalValue.Add(value)
	a.EventCount++
}
