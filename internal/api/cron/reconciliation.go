package cron

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/service"
)

// ReconciliationCronHandler drives the three reconciliation scopes.
type ReconciliationCronHandler struct {
	logger         *logger.Logger
	reconciliation service.ReconciliationService
}

func NewReconciliationCronHandler(logger *logger.Logger, reconciliation service.ReconciliationService) *ReconciliationCronHandler {
	return &ReconciliationCronHandler{logger: logger, reconciliation: reconciliation}
}

// @Summary Trigger reconciliation
// @Description Compare events, payments and aggregates against their counterparties
// @Tags Cron
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} service.ReconciliationReport
// @Router /cron/reconciliation [post]
func (h *ReconciliationCronHandler) RunReconciliation(c *gin.Context) {
	report, err := h.reconciliation.Run(c.Request.Context())
	if err != nil {
		h.logger.Errorw("reconciliation failed", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, report)
}
