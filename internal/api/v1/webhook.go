package v1

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/service"
)

type WebhookHandler struct {
	payments service.PaymentService
	log      *logger.Logger
}

func NewWebhookHandler(payments service.PaymentService, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{payments: payments, log: log}
}

// @Summary Razorpay webhook
// @Description Apply a signed gateway event to the payment state machine
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param X-Razorpay-Signature header string true "Hex HMAC-SHA256 over the raw body"
// @Success 200 {object} dto.WebhookResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /webhooks/razorpay [post]
func (h *WebhookHandler) HandleRazorpayWebhook(c *gin.Context) {
	// The signature covers the raw body, so it must be read before any
	// JSON binding touches the stream.
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.log.Error("Failed to read webhook body", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Unreadable request body").
			Mark(ierr.ErrValidation))
		return
	}

	signature := c.GetHeader("X-Razorpay-Signature")
	if signature == "" {
		h.log.Warnw("webhook without signature header",
			"has_body", len(body) > 0,
			"content_type", c.GetHeader("Content-Type"))
		c.Error(ierr.NewError("missing signature header").
			WithHint("X-Razorpay-Signature header is required").
			Mark(ierr.ErrSignatureVerification))
		return
	}

	resp, err := h.payments.HandleWebhook(c.Request.Context(), body, signature)
	if err != nil {
		h.log.Error("Failed to process webhook", "error", err)
		c.Error(err)
		return
	}

	// Replays and ignored event types land here too; a 200 stops the
	// gateway from retrying.
	c.JSON(http.StatusOK, resp)
}
