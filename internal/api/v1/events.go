package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/api/dto"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/service"
)

type EventsHandler struct {
	service service.EventService
	log     *logger.Logger
}

func NewEventsHandler(service service.EventService, log *logger.Logger) *EventsHandler {
	return &EventsHandler{service: service, log: log}
}

// @Summary Ingest event
// @Description Ingest a usage event into the hot store
// @Tags Events
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param event body dto.IngestEventRequest true "Event data"
// @Success 202 {object} dto.IngestEventResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 429 {object} ierr.ErrorResponse
// @Router /events [post]
func (h *EventsHandler) IngestEvent(c *gin.Context) {
	var req dto.IngestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("Failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.Ingest(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to ingest event", "error", err)
		c.Error(err)
		return
	}

	// Duplicates are acknowledged with the same 202 so retrying clients
	// cannot tell a replay from a first delivery.
	c.JSON(http.StatusAccepted, resp)
}
