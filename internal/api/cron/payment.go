package cron

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/service"
)

// PaymentCronHandler drives the retry engine.
type PaymentCronHandler struct {
	logger *logger.Logger
	retry  service.RetryService
}

func NewPaymentCronHandler(logger *logger.Logger, retry service.RetryService) *PaymentCronHandler {
	return &PaymentCronHandler{logger: logger, retry: retry}
}

// @Summary Trigger payment retries
// @Description Sweep stale pending payments and retry eligible failed ones
// @Tags Cron
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} service.RetryStats
// @Router /cron/payments/retry [post]
func (h *PaymentCronHandler) RetryPayments(c *gin.Context) {
	stats, err := h.retry.Run(c.Request.Context())
	if err != nil {
		h.logger.Errorw("retry run failed", "error", err)
		c.Error(err)
		return
	}

	h.logger.Infow("retry run finished",
		"swept", stats.Swept,
		"attempted", stats.Attempted,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"exhausted", stats.Exhausted)
	c.JSON(http.StatusOK, stats)
}
