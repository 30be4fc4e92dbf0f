package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/api/dto"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/service"
)

type RefundHandler struct {
	service service.RefundService
	log     *logger.Logger
}

func NewRefundHandler(service service.RefundService, log *logger.Logger) *RefundHandler {
	return &RefundHandler{service: service, log: log}
}

// @Summary Create refund
// @Description Issue a full or partial refund against a captured payment
// @Tags Refunds
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body dto.CreateRefundRequest true "Refund"
// @Success 201 {object} dto.RefundResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /refunds [post]
func (h *RefundHandler) CreateRefund(c *gin.Context) {
	var req dto.CreateRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("Failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.CreateRefund(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to create refund", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// @Summary Get refund
// @Description Get a refund by ID
// @Tags Refunds
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Refund ID"
// @Success 200 {object} dto.RefundResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /refunds/{id} [get]
func (h *RefundHandler) GetRefund(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("id is required").
			WithHint("Refund ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.log.Error("Failed to get refund", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary List refunds
// @Description List refunds for the authenticated organisation
// @Tags Refunds
// @Produce json
// @Security ApiKeyAuth
// @Param filter query dto.ListRefundsRequest false "Filter"
// @Success 200 {object} dto.ListRefundsResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /refunds [get]
func (h *RefundHandler) ListRefunds(c *gin.Context) {
	var req dto.ListRefundsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid query parameters").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.List(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to list refunds", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
