package cron

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/service"
)

// BillingCronHandler drives the monthly invoice sweep and the payment
// reminder ladder.
type BillingCronHandler struct {
	logger    *logger.Logger
	invoices  service.InvoiceService
	reminders service.ReminderService
}

func NewBillingCronHandler(logger *logger.Logger, invoices service.InvoiceService, reminders service.ReminderService) *BillingCronHandler {
	return &BillingCronHandler{logger: logger, invoices: invoices, reminders: reminders}
}

// @Summary Trigger invoice generation
// @Description Bill every organisation for the period; defaults to the previous month
// @Tags Cron
// @Produce json
// @Security ApiKeyAuth
// @Param month query int false "Billing month 1-12"
// @Param year query int false "Billing year"
// @Success 200 {object} service.InvoiceSweepStats
// @Failure 400 {object} ierr.ErrorResponse
// @Router /cron/invoices/generate [post]
func (h *BillingCronHandler) GenerateInvoices(c *gin.Context) {
	month, year, err := billingPeriod(c)
	if err != nil {
		c.Error(err)
		return
	}

	stats, err := h.invoices.GenerateAll(c.Request.Context(), month, year)
	if err != nil {
		h.logger.Errorw("invoice sweep failed", "error", err, "month", month, "year", year)
		c.Error(err)
		return
	}

	h.logger.Infow("invoice sweep finished",
		"month", month,
		"year", year,
		"organisations", stats.Organisations,
		"created", stats.Created,
		"existing", stats.Existing,
		"failed", len(stats.Failed))
	c.JSON(http.StatusOK, stats)
}

// @Summary Trigger payment reminders
// @Description Mark unpaid past-due invoices overdue and send ladder reminders
// @Tags Cron
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} service.ReminderStats
// @Router /cron/reminders [post]
func (h *BillingCronHandler) SendReminders(c *gin.Context) {
	stats, err := h.reminders.Run(c.Request.Context())
	if err != nil {
		h.logger.Errorw("reminder run failed", "error", err)
		c.Error(err)
		return
	}

	h.logger.Infow("reminder run finished",
		"marked_overdue", stats.MarkedOverdue,
		"sent", stats.Sent,
		"failed", stats.Failed)
	c.JSON(http.StatusOK, stats)
}

// billingPeriod reads the period from the query, defaulting to the month
// before the current one. The monthly schedule fires on the 1st, closing
// the month that just ended. Anchoring on the first of the month keeps
// AddDate from normalising short months.
func billingPeriod(c *gin.Context) (int, int, error) {
	now := time.Now().UTC()
	prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	month, year := int(prev.Month()), prev.Year()

	if raw := c.Query("month"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return 0, 0, ierr.NewError("invalid month").
				WithHint("month must be an integer between 1 and 12").
				Mark(ierr.ErrValidation)
		}
		month = parsed
	}
	if raw := c.Query("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return 0, 0, ierr.NewError("invalid year").
				WithHint("year must be an integer").
				Mark(ierr.ErrValidation)
		}
		year = parsed
	}
	return month, year, nil
}
