package cron

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/service"
)

// PipelineCronHandler exposes the hot-to-durable pipeline jobs for manual
// or external triggering. The scheduler calls the same services.
type PipelineCronHandler struct {
	logger    *logger.Logger
	migration service.MigrationService
}

func NewPipelineCronHandler(logger *logger.Logger, migration service.MigrationService) *PipelineCronHandler {
	return &PipelineCronHandler{logger: logger, migration: migration}
}

// @Summary Trigger migration sweep
// @Description Move unprocessed hot events into the durable store
// @Tags Cron
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} service.MigrationStats
// @Router /cron/migration [post]
func (h *PipelineCronHandler) TriggerMigration(c *gin.Context) {
	stats, err := h.migration.Run(c.Request.Context())
	if err != nil {
		h.logger.Errorw("migration sweep failed", "error", err)
		c.Error(err)
		return
	}

	h.logger.Infow("migration sweep finished",
		"batches", stats.Batches,
		"scanned", stats.Scanned,
		"inserted", stats.Inserted)
	c.JSON(http.StatusOK, stats)
}

// @Summary Trigger hot store cleanup
// @Description Delete processed hot events older than the retention window
// @Tags Cron
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} map[string]int64
// @Router /cron/cleanup [post]
func (h *PipelineCronHandler) TriggerCleanup(c *gin.Context) {
	deleted, err := h.migration.Cleanup(c.Request.Context())
	if err != nil {
		h.logger.Errorw("cleanup failed", "error", err)
		c.Error(err)
		return
	}

	h.logger.Infow("cleanup finished", "deleted", deleted)
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
