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

type AuditHandler struct {
	service service.AuditService
	log     *logger.Logger
}

func NewAuditHandler(service service.AuditService, log *logger.Logger) *AuditHandler {
	return &AuditHandler{service: service, log: log}
}

// @Summary List audit logs
// @Description Append-only audit trail, newest first
// @Tags Audit
// @Produce json
// @Security ApiKeyAuth
// @Param filter query dto.ListAuditLogsRequest false "Filter"
// @Success 200 {object} dto.ListAuditLogsResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /audit-logs [get]
func (h *AuditHandler) ListAuditLogs(c *gin.Context) {
	var req dto.ListAuditLogsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid query parameters").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.List(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to list audit logs", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary List email notifications
// @Description Sent emails, read from the audit trail
// @Tags Audit
// @Produce json
// @Security ApiKeyAuth
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} dto.ListAuditLogsResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /email-notifications [get]
func (h *AuditHandler) ListEmailNotifications(c *gin.Context) {
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		c.Error(err)
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		c.Error(err)
		return
	}

	resp, err := h.service.ListEmailNotifications(c.Request.Context(), limit, offset)
	if err != nil {
		h.log.Error("Failed to list email notifications", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func intQuery(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0, ierr.NewErrorf("invalid %s", name).
			WithHintf("%s must be a non-negative integer", name).
			Mark(ierr.ErrValidation)
	}
	return parsed, nil
}
