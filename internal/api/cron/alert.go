package cron

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/service"
)

// AlertCronHandler drives the rule evaluation pass.
type AlertCronHandler struct {
	logger *logger.Logger
	alerts service.AlertService
}

func NewAlertCronHandler(logger *logger.Logger, alerts service.AlertService) *AlertCronHandler {
	return &AlertCronHandler{logger: logger, alerts: alerts}
}

// @Summary Trigger alert evaluation
// @Description Evaluate every active rule against the window ending now
// @Tags Cron
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} service.AlertRunStats
// @Router /cron/alerts/evaluate [post]
func (h *AlertCronHandler) EvaluateAlerts(c *gin.Context) {
	stats, err := h.alerts.EvaluateAll(c.Request.Context())
	if err != nil {
		h.logger.Errorw("alert evaluation failed", "error", err)
		c.Error(err)
		return
	}

	h.logger.Infow("alert evaluation finished",
		"evaluated", stats.Evaluated,
		"fired", stats.Fired,
		"skipped", stats.Skipped,
		"failed", stats.Failed)
	c.JSON(http.StatusOK, stats)
}
