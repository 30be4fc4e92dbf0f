package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/validator"
)

type UsageSummaryRequest struct {
	ProjectID  string    `form:"project_id" json:"project_id"`
	MetricName string    `form:"metric_name" json:"metric_name"`
	Unit       string    `form:"unit" json:"unit"`
	StartTime  time.Time `form:"start_time" json:"start_time" validate:"required" binding:"required"`
	EndTime    time.Time `form:"end_time" json:"end_time" validate:"required" binding:"required"`
}

func (r *UsageSummaryRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// UsageLine is one (metric, unit) total over the queried window.
type UsageLine struct {
	MetricName string          `json:"metric_name"`
	Unit       string          `json:"unit"`
	TotalValue decimal.Decimal `json:"total_value" swaggertype:"string"`
	EventCount uint64          `json:"event_count"`
}

type UsageSummaryResponse struct {
	StartTime time.Time    `json:"start_time"`
	EndTime   time.Time    `json:"end_time"`
	Lines     []*UsageLine `json:"lines"`
}

// UsageTrendPoint is one day of one metric.
type UsageTrendPoint struct {
	Day        time.Time       `json:"day"`
	MetricName string          `json:"metric_name"`
	Unit       string          `json:"unit"`
	TotalValue decimal.Decimal `json:"total_value" swaggertype:"string"`
	EventCount uint64          `json:"event_count"`
}

type UsageTrendsResponse struct {
	StartTime time.Time          `json:"start_time"`
	EndTime   time.Time          `json:"end_time"`
	Points    []*UsageTrendPoint `json:"points"`
}

// CostBreakdownLine prices one usage line with the currently effective rule.
type CostBreakdownLine struct {
	MetricName string          `json:"metric_name"`
	Unit       string          `json:"unit"`
	Quantity   decimal.Decimal `json:"quantity" swaggertype:"string"`
	UnitPrice  decimal.Decimal `json:"unit_price" swaggertype:"string"`
	Cost       decimal.Decimal `json:"cost" swaggertype:"string"`
	Currency   string          `json:"currency"`
	Unpriced   bool            `json:"unpriced,omitempty"`
}

type CostBreakdownResponse struct {
	StartTime time.Time            `json:"start_time"`
	EndTime   time.Time            `json:"end_time"`
	Currency  string               `json:"currency"`
	Lines     []*CostBreakdownLine `json:"lines"`
	Total     decimal.Decimal      `json:"total" swaggertype:"string"`
}

// RealtimeUsageResponse reads the hot store only; it covers events that may
// not have reached the durable tier yet.
type RealtimeUsageResponse struct {
	WindowMinutes int          `json:"window_minutes"`
	Lines         []*UsageLine `json:"lines"`
}
