package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/api/dto"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/service"
)

type AlertHandler struct {
	service service.AlertService
	log     *logger.Logger
}

func NewAlertHandler(service service.AlertService, log *logger.Logger) *AlertHandler {
	return &AlertHandler{service: service, log: log}
}

// @Summary Create alert rule
// @Description Create a usage, spike, cost or unusual-pattern rule
// @Tags Alerts
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param rule body dto.CreateAlertRuleRequest true "Rule"
// @Success 201 {object} dto.AlertRuleResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /alerts/rules [post]
func (h *AlertHandler) CreateRule(c *gin.Context) {
	var req dto.CreateAlertRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("Failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.CreateRule(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to create alert rule", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// @Summary Get alert rule
// @Description Get an alert rule by ID
// @Tags Alerts
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Rule ID"
// @Success 200 {object} dto.AlertRuleResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /alerts/rules/{id} [get]
func (h *AlertHandler) GetRule(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("id is required").
			WithHint("Rule ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.GetRule(c.Request.Context(), id)
	if err != nil {
		h.log.Error("Failed to get alert rule", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary List alert rules
// @Description List the organisation's alert rules
// @Tags Alerts
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} dto.ListAlertRulesResponse
// @Router /alerts/rules [get]
func (h *AlertHandler) ListRules(c *gin.Context) {
	resp, err := h.service.ListRules(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to list alert rules", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Update alert rule
// @Description Update thresholds, channels or active state
// @Tags Alerts
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Rule ID"
// @Param rule body dto.UpdateAlertRuleRequest true "Changes"
// @Success 200 {object} dto.AlertRuleResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /alerts/rules/{id} [put]
func (h *AlertHandler) UpdateRule(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("id is required").
			WithHint("Rule ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	var req dto.UpdateAlertRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("Failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.UpdateRule(c.Request.Context(), id, &req)
	if err != nil {
		h.log.Error("Failed to update alert rule", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Delete alert rule
// @Description Delete an alert rule; its history is kept
// @Tags Alerts
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Rule ID"
// @Success 204
// @Failure 404 {object} ierr.ErrorResponse
// @Router /alerts/rules/{id} [delete]
func (h *AlertHandler) DeleteRule(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("id is required").
			WithHint("Rule ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	if err := h.service.DeleteRule(c.Request.Context(), id); err != nil {
		h.log.Error("Failed to delete alert rule", "error", err)
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

// @Summary List alert history
// @Description Triggered alerts, newest first
// @Tags Alerts
// @Produce json
// @Security ApiKeyAuth
// @Param filter query dto.ListAlertHistoryRequest false "Filter"
// @Success 200 {object} dto.ListAlertHistoryResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /alerts/history [get]
func (h *AlertHandler) ListHistory(c *gin.Context) {
	var req dto.ListAlertHistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid query parameters").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.ListHistory(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to list alert history", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Acknowledge alert
// @Description Mark a triggered alert as acknowledged by the operator
// @Tags Alerts
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "History ID"
// @Success 200 {object} dto.AlertHistoryResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /alerts/history/{id}/acknowledge [post]
func (h *AlertHandler) AcknowledgeAlert(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("id is required").
			WithHint("History ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.Acknowledge(c.Request.Context(), id)
	if err != nil {
		h.log.Error("Failed to acknowledge alert", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
