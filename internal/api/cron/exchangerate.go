package cron

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/service"
)

// ExchangeRateCronHandler drives the provider pull.
type ExchangeRateCronHandler struct {
	logger   *logger.Logger
	currency service.CurrencyService
}

func NewExchangeRateCronHandler(logger *logger.Logger, currency service.CurrencyService) *ExchangeRateCronHandler {
	return &ExchangeRateCronHandler{logger: logger, currency: currency}
}

// @Summary Trigger exchange rate sync
// @Description Pull current rates from the configured provider
// @Tags Cron
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} map[string]string
// @Router /cron/exchange-rates/sync [post]
func (h *ExchangeRateCronHandler) SyncRates(c *gin.Context) {
	if err := h.currency.Sync(c.Request.Context()); err != nil {
		h.logger.Errorw("exchange rate sync failed", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "synced"})
}
