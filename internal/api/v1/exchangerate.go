package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/api/dto"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/service"
)

type ExchangeRateHandler struct {
	service service.CurrencyService
	log     *logger.Logger
}

func NewExchangeRateHandler(service service.CurrencyService, log *logger.Logger) *ExchangeRateHandler {
	return &ExchangeRateHandler{service: service, log: log}
}

// @Summary List exchange rates
// @Description Stored rates, newest effective window first
// @Tags ExchangeRates
// @Produce json
// @Security ApiKeyAuth
// @Param filter query dto.ListExchangeRatesRequest false "Filter"
// @Success 200 {object} dto.ListExchangeRatesResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /exchange-rates [get]
func (h *ExchangeRateHandler) ListRates(c *gin.Context) {
	var req dto.ListExchangeRatesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid query parameters").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.List(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to list exchange rates", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Upsert exchange rate
// @Description Insert a rate and close the pair's previous open window
// @Tags ExchangeRates
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param rate body dto.UpsertExchangeRateRequest true "Rate"
// @Success 201 {object} dto.ExchangeRateResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /exchange-rates [post]
func (h *ExchangeRateHandler) UpsertRate(c *gin.Context) {
	var req dto.UpsertExchangeRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("Failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.Upsert(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to upsert exchange rate", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// @Summary Sync exchange rates
// @Description Pull current rates from the configured provider
// @Tags ExchangeRates
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} map[string]string
// @Failure 500 {object} ierr.ErrorResponse
// @Router /exchange-rates/sync [post]
func (h *ExchangeRateHandler) SyncRates(c *gin.Context) {
	if err := h.service.Sync(c.Request.Context()); err != nil {
		h.log.Error("Failed to sync exchange rates", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "synced"})
}
