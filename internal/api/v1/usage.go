package v1

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/api/dto"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/service"
)

type UsageHandler struct {
	service service.UsageService
	log     *logger.Logger
}

func NewUsageHandler(service service.UsageService, log *logger.Logger) *UsageHandler {
	return &UsageHandler{service: service, log: log}
}

// @Summary Usage summary
// @Description Aggregated usage per metric over a period
// @Tags Usage
// @Produce json
// @Security ApiKeyAuth
// @Param request query dto.UsageSummaryRequest true "Query"
// @Success 200 {object} dto.UsageSummaryResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /usage/summary [get]
func (h *UsageHandler) GetSummary(c *gin.Context) {
	var req dto.UsageSummaryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid query parameters").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.Summary(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to get usage summary", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Usage trends
// @Description Daily usage series over a period
// @Tags Usage
// @Produce json
// @Security ApiKeyAuth
// @Param request query dto.UsageSummaryRequest true "Query"
// @Success 200 {object} dto.UsageTrendsResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /usage/trends [get]
func (h *UsageHandler) GetTrends(c *gin.Context) {
	var req dto.UsageSummaryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid query parameters").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.Trends(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to get usage trends", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Cost breakdown
// @Description Usage priced per metric over a period
// @Tags Usage
// @Produce json
// @Security ApiKeyAuth
// @Param request query dto.UsageSummaryRequest true "Query"
// @Success 200 {object} dto.CostBreakdownResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /usage/cost-breakdown [get]
func (h *UsageHandler) GetCostBreakdown(c *gin.Context) {
	var req dto.UsageSummaryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid query parameters").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.CostBreakdown(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to get cost breakdown", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Realtime usage
// @Description Usage counted from the hot store over the trailing window
// @Tags Usage
// @Produce json
// @Security ApiKeyAuth
// @Param window_minutes query int false "Trailing window, default 60"
// @Success 200 {object} dto.RealtimeUsageResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /usage/realtime [get]
func (h *UsageHandler) GetRealtime(c *gin.Context) {
	windowMinutes := 60
	if raw := c.Query("window_minutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.Error(ierr.NewError("invalid window_minutes").
				WithHint("window_minutes must be a positive integer").
				Mark(ierr.ErrValidation))
			return
		}
		windowMinutes = parsed
	}

	resp, err := h.service.Realtime(c.Request.Context(), windowMinutes)
	if err != nil {
		h.log.Error("Failed to get realtime usage", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
