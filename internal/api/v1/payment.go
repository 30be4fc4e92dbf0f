package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/api/dto"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/service"
)

type PaymentHandler struct {
	service service.PaymentService
	retry   service.RetryService
	log     *logger.Logger
}

func NewPaymentHandler(service service.PaymentService, retry service.RetryService, log *logger.Logger) *PaymentHandler {
	return &PaymentHandler{service: service, retry: retry, log: log}
}

// @Summary Create payment order
// @Description Open a gateway order for a payable invoice
// @Tags Payments
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body dto.CreatePaymentOrderRequest true "Invoice to collect"
// @Success 201 {object} dto.CreatePaymentOrderResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /payments/order [post]
func (h *PaymentHandler) CreateOrder(c *gin.Context) {
	var req dto.CreatePaymentOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("Failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to create payment order", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// @Summary Get payment
// @Description Get a payment by ID
// @Tags Payments
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Payment ID"
// @Success 200 {object} dto.PaymentResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /payments/{id} [get]
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("id is required").
			WithHint("Payment ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.log.Error("Failed to get payment", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary List payments
// @Description List payments for the authenticated organisation
// @Tags Payments
// @Produce json
// @Security ApiKeyAuth
// @Param filter query dto.ListPaymentsRequest false "Filter"
// @Success 200 {object} dto.ListPaymentsResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /payments [get]
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	var req dto.ListPaymentsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid query parameters").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.List(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to list payments", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Retry payment
// @Description Retry a failed payment immediately, ignoring the backoff schedule
// @Tags Payments
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Payment ID"
// @Success 200 {object} dto.PaymentResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 422 {object} ierr.ErrorResponse
// @Router /payments/{id}/retry [post]
func (h *PaymentHandler) RetryPayment(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("id is required").
			WithHint("Payment ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.retry.RetryPayment(c.Request.Context(), id)
	if err != nil {
		h.log.Error("Failed to retry payment", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Payment retry status
// @Description Attempts used, attempts left and the next scheduled retry
// @Tags Payments
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Payment ID"
// @Success 200 {object} dto.RetryStatusResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /payments/{id}/retry-status [get]
func (h *PaymentHandler) GetRetryStatus(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("id is required").
			WithHint("Payment ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.retry.RetryStatus(c.Request.Context(), id)
	if err != nil {
		h.log.Error("Failed to get retry status", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
