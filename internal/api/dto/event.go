package dto

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/domain/events"
	"github.com/meterline/meterline/internal/types"
	"github.com/meterline/meterline/internal/validator"
)

type IngestEventRequest struct {
	EventID     string            `json:"event_id" validate:"required,max=255" binding:"required" example:"evt_2024_03_001"`
	MetricName  string            `json:"metric_name" validate:"required,max=100" binding:"required" example:"api_calls"`
	MetricValue decimal.Decimal   `json:"metric_value" binding:"required" swaggertype:"string" example:"42"`
	Unit        string            `json:"unit" validate:"required,max=50" binding:"required" example:"call"`
	Timestamp   time.Time         `json:"timestamp,omitempty" example:"2024-03-20T15:04:05Z"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (r *IngestEventRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// ToEvent builds the domain event using the organisation and project the
// API key authenticated as.
func (r *IngestEventRequest) ToEvent(ctx context.Context) *events.Event {
	return events.NewEvent(
		types.GetOrganisationID(ctx),
		types.GetProjectID(ctx),
		r.MetricName,
		r.MetricValue,
		r.Unit,
		r.Timestamp,
		r.EventID,
		r.Metadata,
	)
}

type IngestEventResponse struct {
	EventID string             `json:"event_id"`
	Status  types.IngestStatus `json:"status"`
}
