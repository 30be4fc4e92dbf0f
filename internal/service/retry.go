package service

import (
	"context"
	"strconv"
	"time"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/domain/auditlog"
	"github.com/meterline/meterline/internal/domain/payment"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/notifier"
	"github.com/meterline/meterline/internal/types"
)

// RetryService walks failed payments up the exponential-backoff ladder. Each
// attempt opens a new gateway order on the same payment row; the webhook
// decides whether the attempt ultimately succeeds.
type RetryService interface {
	// Run sweeps stale pending payments, then retries every eligible failed
	// payment. Per-payment errors are isolated.
	Run(ctx context.Context) (*RetryStats, error)

	// RetryPayment retries one failed payment immediately, ignoring
	// next_retry_at. Admin override for "the customer is on the phone".
	RetryPayment(ctx context.Context, id string) (*dto.PaymentResponse, error)

	RetryStatus(ctx context.Context, id string) (*dto.RetryStatusResponse, error)
}

// RetryStats summarises one retry engine run.
type RetryStats struct {
	Swept     int `json:"swept"`
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
}

type retryService struct {
	ServiceParams
}

func NewRetryService(params ServiceParams) RetryService {
	return &retryService{ServiceParams: params}
}

func (s *retryService) Run(ctx context.Context) (*RetryStats, error) {
	stats := &RetryStats{}
	if !s.Config.Payment.Retry.Enabled || s.Gateway == nil {
		s.Logger.Debugw("payment retries disabled")
		return stats, nil
	}

	// Stale pending payments become failed first so this run can already
	// pick them up once their slot arrives.
	swept, err := NewPaymentService(s.ServiceParams).SweepPending(ctx)
	if err != nil {
		s.Logger.Errorw("pending payment sweep failed", "error", err)
	}
	stats.Swept = swept

	now := time.Now().UTC()
	eligible, err := s.PaymentRepo.ListRetryEligible(ctx, now)
	if err != nil {
		return stats, err
	}

	for _, candidate := range eligible {
		p, exhausted, err := s.retryOne(ctx, candidate.ID, false)
		if err != nil {
			stats.Attempted++
			stats.Failed++
			s.Logger.Errorw("payment retry failed",
				"payment_id", candidate.ID,
				"error", err,
			)
			continue
		}
		if p == nil {
			// Slot moved between the scan and the lock.
			continue
		}
		stats.Attempted++
		stats.Succeeded++
		if exhausted {
			stats.Exhausted++
		}
	}

	if stats.Attempted > 0 || stats.Swept > 0 {
		s.Logger.Infow("payment retry run finished",
			"swept", stats.Swept,
			"attempted", stats.Attempted,
			"succeeded", stats.Succeeded,
			"failed", stats.Failed,
			"exhausted", stats.Exhausted,
		)
	}
	return stats, nil
}

func (s *retryService) RetryPayment(ctx context.Context, id string) (*dto.PaymentResponse, error) {
	if s.Gateway == nil {
		return nil, ierr.NewError("payments are disabled").
			WithHint("Enable payment in the configuration").
			Mark(ierr.ErrInvalidOperation)
	}

	if _, _, err := s.retryOne(ctx, id, true); err != nil {
		return nil, err
	}

	p, err := s.PaymentRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.PaymentResponse{Payment: p}, nil
}

func (s *retryService) RetryStatus(ctx context.Context, id string) (*dto.RetryStatusResponse, error) {
	p, err := s.PaymentRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	return &dto.RetryStatusResponse{
		PaymentID:    p.ID,
		Status:       p.Status,
		RetryCount:   p.RetryCount,
		MaxRetries:   p.MaxRetries,
		NextRetryAt:  p.NextRetryAt,
		LastRetryAt:  p.LastRetryAt,
		Exhausted:    p.Status == types.PaymentStatusFailed && p.RetryCount >= p.MaxRetries,
		RetryHistory: p.RetryHistory,
	}, nil
}

// retryOne performs a single retry attempt under the payment row lock. The
// attempt consumes a ladder slot whether or not the gateway accepted the new
// order, so the history and backoff commit even when the gateway call failed;
// that failure is surfaced separately after the commit.
func (s *retryService) retryOne(ctx context.Context, id string, manual bool) (*payment.Payment, bool, error) {
	var (
		locked    *payment.Payment
		exhausted bool
		gwErr     error
	)

	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.PaymentRepo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if p.Status != types.PaymentStatusFailed {
			return ierr.NewError("payment is not failed").
				WithHintf("Payment is %s; only failed payments are retried", p.Status).
				WithReportableDetails(map[string]any{"payment_id": p.ID, "status": p.Status}).
				Mark(ierr.ErrInvalidOperation)
		}
		if p.RetryCount >= p.MaxRetries {
			return ierr.NewError("payment retries exhausted").
				WithHintf("All %d retries have been used", p.MaxRetries).
				WithReportableDetails(map[string]any{"payment_id": p.ID}).
				Mark(ierr.ErrMaxRetriesExhausted)
		}
		if !manual && !p.IsRetryEligible(now) {
			return nil
		}

		attempt := payment.RetryAttempt{
			Attempt: p.RetryCount + 1,
			At:      now,
		}

		inv, err := s.InvoiceRepo.Get(ctx, p.InvoiceID)
		if err != nil {
			return err
		}

		order, orderErr := s.Gateway.CreateOrder(ctx, &payment.GatewayOrderRequest{
			AmountMinor: types.NewMoney(p.Amount, p.Currency).MinorUnits(),
			Currency:    p.Currency,
			Receipt:     inv.InvoiceNumber,
			Notes: map[string]interface{}{
				"invoice_id":    p.InvoiceID,
				"retry_attempt": attempt.Attempt,
			},
		})
		if orderErr != nil {
			gwErr = orderErr
			attempt.Success = false
			attempt.Error = orderErr.Error()
		} else {
			attempt.Success = true
			attempt.NewOrderID = order.ID
			p.GatewayOrderID = order.ID
			p.Status = types.PaymentStatusPending
		}

		p.RecordRetry(attempt, s.Config.Payment.Retry.BaseInterval(), now)
		exhausted = p.RetryCount >= p.MaxRetries
		if err := s.PaymentRepo.Update(ctx, p); err != nil {
			return err
		}

		after := types.Metadata{
			"attempt":     strconv.Itoa(attempt.Attempt),
			"retry_count": strconv.Itoa(p.RetryCount),
		}
		if attempt.Success {
			after["new_order_id"] = attempt.NewOrderID
		} else {
			after["error"] = attempt.Error
		}
		log := auditlog.New(auditlog.EntityPayment, p.ID, types.GetActor(ctx), auditlog.ActionUpdate).
			WithChange(types.Metadata{"status": string(types.PaymentStatusFailed)}, after)
		if err := s.AuditLogRepo.Create(ctx, log); err != nil {
			return err
		}

		locked = p
		return nil
	})
	if err != nil {
		s.Metrics.PaymentRetries.WithLabelValues("failure").Inc()
		return nil, false, err
	}
	if locked == nil {
		return nil, false, nil
	}

	if exhausted {
		s.Metrics.PaymentRetries.WithLabelValues("exhausted").Inc()
		s.notifyExhausted(ctx, locked)
	}

	if gwErr != nil {
		// The consumed slot is durable; the caller still needs to know the
		// gateway said no.
		s.Metrics.PaymentRetries.WithLabelValues("failure").Inc()
		return nil, exhausted, gwErr
	}

	s.Metrics.PaymentRetries.WithLabelValues("success").Inc()
	s.Logger.Infow("payment retry attempted",
		"payment_id", locked.ID,
		"retry_count", locked.RetryCount,
		"next_retry_at", locked.NextRetryAt,
		"gateway_order_id", locked.GatewayOrderID,
	)
	return locked, exhausted, nil
}

// notifyExhausted raises the operational alert that the ladder is used up and
// nobody will retry this payment again.
func (s *retryService) notifyExhausted(ctx context.Context, p *payment.Payment) {
	org, err := s.OrganisationRepo.Get(ctx, p.OrganisationID)
	orgName := p.OrganisationID
	if err == nil {
		orgName = org.Name
	}

	n := &notifier.Notification{
		OrganisationID:   p.OrganisationID,
		OrganisationName: orgName,
		RuleName:         "payment retries exhausted",
		Title:            "Payment retries exhausted",
		Message: "All retry attempts for payment " + p.ID + " have failed. " +
			"The invoice remains unpaid and needs manual follow-up.",
		TriggeredAt: time.Now().UTC(),
		Details: map[string]interface{}{
			"payment_id":  p.ID,
			"invoice_id":  p.InvoiceID,
			"amount":      p.Amount.String(),
			"currency":    p.Currency,
			"retry_count": p.RetryCount,
		},
	}
	if err := s.Notifier.Dispatch(ctx, systemAlertChannels, n); err != nil {
		s.Logger.Errorw("failed to notify exhausted payment retries",
			"payment_id", p.ID,
			"error", err,
		)
	}
}
