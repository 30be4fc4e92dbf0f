package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/api/dto"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/service"
)

type PricingHandler struct {
	service service.PricingService
	log     *logger.Logger
}

func NewPricingHandler(service service.PricingService, log *logger.Logger) *PricingHandler {
	return &PricingHandler{service: service, log: log}
}

// @Summary Create pricing rule
// @Description Create a per-unit price for a metric; omit organisation_id for a global rule
// @Tags Pricing
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param rule body dto.CreatePricingRuleRequest true "Rule"
// @Success 201 {object} dto.PricingRuleResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /pricing/rules [post]
func (h *PricingHandler) CreateRule(c *gin.Context) {
	var req dto.CreatePricingRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("Failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.CreateRule(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to create pricing rule", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// @Summary List pricing rules
// @Description The organisation's rules plus the global ones
// @Tags Pricing
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} dto.ListPricingRulesResponse
// @Router /pricing/rules [get]
func (h *PricingHandler) ListRules(c *gin.Context) {
	resp, err := h.service.ListRules(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to list pricing rules", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Close pricing rule
// @Description End a rule's effective window; prices are never edited in place
// @Tags Pricing
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Rule ID"
// @Param request body dto.ClosePricingRuleRequest false "Close instant, default now"
// @Success 200 {object} dto.PricingRuleResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /pricing/rules/{id}/close [post]
func (h *PricingHandler) CloseRule(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("id is required").
			WithHint("Rule ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	var req dto.ClosePricingRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	at := time.Now().UTC()
	if req.At != nil {
		at = req.At.UTC()
	}

	resp, err := h.service.CloseRule(c.Request.Context(), id, at)
	if err != nil {
		h.log.Error("Failed to close pricing rule", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Create minimum charge
// @Description Monthly revenue floor applied before tax
// @Tags Pricing
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param rule body dto.CreateMinimumChargeRequest true "Minimum charge"
// @Success 201 {object} dto.MinimumChargeResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /pricing/minimum-charges [post]
func (h *PricingHandler) CreateMinimumCharge(c *gin.Context) {
	var req dto.CreateMinimumChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("Failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.CreateMinimumCharge(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to create minimum charge", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// @Summary Upsert billing config
// @Description Replace the organisation's tax rate, currency and payment terms
// @Tags Pricing
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param config body dto.UpsertBillingConfigRequest true "Billing config"
// @Success 200 {object} dto.BillingConfigResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /billing-config [put]
func (h *PricingHandler) UpsertBillingConfig(c *gin.Context) {
	var req dto.UpsertBillingConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("Failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.UpsertBillingConfig(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to upsert billing config", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Get billing config
// @Description The organisation's billing config, falling back to process defaults
// @Tags Pricing
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} dto.BillingConfigResponse
// @Router /billing-config [get]
func (h *PricingHandler) GetBillingConfig(c *gin.Context) {
	resp, err := h.service.GetBillingConfig(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to get billing config", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
