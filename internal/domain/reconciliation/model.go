package reconciliation

import (
	"time"

	"github.com/meterline/meterline/internal/types"
)

// Run records one reconciliation pass over a scope: what was compared,
// how many rows each side had and what did not match.
type Run struct {
	ID    string                    `db:"id" json:"id"`
	Scope types.ReconciliationScope `db:"scope" json:"scope"`

	WindowStart time.Time `db:"window_start" json:"window_start"`
	WindowEnd   time.Time `db:"window_end" json:"window_end"`

	LeftCount        int64 `db:"left_count" json:"left_count"`
	RightCount       int64 `db:"right_count" json:"right_count"`
	DiscrepancyCount int64 `db:"discrepancy_count" json:"discrepancy_count"`

	Status types.ReconciliationStatus `db:"run_status" json:"status"`

	// Details carries the discrepancy rows as JSON for operator review
	Details []Discrepancy `db:"-" json:"details,omitempty"`

	types.BaseModel
}

// Discrepancy is one mismatched key found by a run
type Discrepancy struct {
	Kind     string `json:"kind"`
	Key      string `json:"key"`
	Left     string `json:"left"`
	Right    string `json:"right"`
	Resolved bool   `json:"resolved,omitempty"`
}

// NewRun creates a run row for the window
func NewRun(scope types.ReconciliationScope, windowStart, windowEnd time.Time) *Run {
	return &Run{
		ID:          types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RECONCILIATION),
		Scope:       scope,
		WindowStart: windowStart.UTC(),
		WindowEnd:   windowEnd.UTC(),
		Status:      types.ReconciliationStatusClean,
	}
}

// AddDiscrepancy records a mismatch and flips the run status
func (r *Run) AddDiscrepancy(d Discrepancy) {
	r.Details = append(r.Details, d)
	r.DiscrepancyCount = int64(len(r.Details))
	if r.Status == types.ReconciliationStatusClean {
		r.Status = types.ReconciliationStatusDiscrepant
	}
}
