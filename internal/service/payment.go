package service

import (
	"context"
	"fmt"
	"time"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/domain/auditlog"
	"github.com/meterline/meterline/internal/domain/idempotency"
	"github.com/meterline/meterline/internal/domain/payment"
	"github.com/meterline/meterline/internal/domain/refund"
	emailSvc "github.com/meterline/meterline/internal/email"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/integration/razorpay"
	"github.com/meterline/meterline/internal/types"
)

const (
	paymentReceiptTemplate  = "payment_receipt.html"
	refundProcessedTemplate = "refund_processed.html"
)

// PaymentService creates gateway orders and drives the payment state machine
// from signed webhooks. Capture couples the invoice to paid in the same
// transaction; failure arms the retry ladder.
type PaymentService interface {
	// CreateOrder opens a gateway order for a payable invoice. Idempotent
	// per invoice: an existing non-failed payment is returned as-is.
	CreateOrder(ctx context.Context, req *dto.CreatePaymentOrderRequest) (*dto.CreatePaymentOrderResponse, error)

	Get(ctx context.Context, id string) (*dto.PaymentResponse, error)
	List(ctx context.Context, req *dto.ListPaymentsRequest) (*dto.ListPaymentsResponse, error)

	// HandleWebhook verifies the signature, decodes the event and applies
	// the transition exactly once. Replays return without a state change.
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*dto.WebhookResponse, error)

	// SweepPending fails pending payments older than the configured TTL so
	// the retry engine can pick them up.
	SweepPending(ctx context.Context) (int, error)
}

type paymentService struct {
	ServiceParams
}

func NewPaymentService(params ServiceParams) PaymentService {
	return &paymentService{ServiceParams: params}
}

func (s *paymentService) CreateOrder(ctx context.Context, req *dto.CreatePaymentOrderRequest) (*dto.CreatePaymentOrderResponse, error) {
	if s.Gateway == nil {
		return nil, ierr.NewError("payments are disabled").
			WithHint("Enable payment in the configuration").
			Mark(ierr.ErrInvalidOperation)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	inv, err := s.InvoiceRepo.Get(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if !inv.IsPayable() {
		return nil, ierr.NewError("invoice is not payable").
			WithHintf("Invoice is %s; finalize it before collecting payment", inv.InvoiceStatus).
			WithReportableDetails(map[string]any{"invoice_id": inv.ID, "status": inv.InvoiceStatus}).
			Mark(ierr.ErrInvalidOperation)
	}
	if !inv.Total.IsPositive() {
		return nil, ierr.NewError("invoice total is not positive").
			WithHint("Zero-total invoices need no payment").
			Mark(ierr.ErrInvalidOperation)
	}

	existing, err := s.PaymentRepo.GetActiveByInvoice(ctx, inv.ID)
	if err != nil && !ierr.IsNotFound(err) {
		return nil, err
	}
	if existing != nil {
		return &dto.CreatePaymentOrderResponse{
			PaymentID:      existing.ID,
			GatewayOrderID: existing.GatewayOrderID,
			AmountMinor:    types.NewMoney(existing.Amount, existing.Currency).MinorUnits(),
			Currency:       existing.Currency,
			Status:         "existing",
		}, nil
	}

	charge := types.NewMoney(inv.Total, inv.Currency)
	notes := types.Metadata{}
	if !s.gatewaySupports(inv.Currency) {
		target := s.gatewayCurrency()
		converted, err := NewCurrencyService(s.ServiceParams).Convert(ctx, charge, target, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		notes["original_amount"] = inv.Total.String()
		notes["original_currency"] = inv.Currency
		s.Logger.Infow("converted invoice total for gateway order",
			"invoice_id", inv.ID,
			"from", charge.Display(),
			"to", converted.Display(),
		)
		charge = converted
	}

	order, err := s.Gateway.CreateOrder(ctx, &payment.GatewayOrderRequest{
		AmountMinor: charge.MinorUnits(),
		Currency:    charge.Currency,
		Receipt:     inv.InvoiceNumber,
		Notes: map[string]interface{}{
			"invoice_id":      inv.ID,
			"organisation_id": inv.OrganisationID,
		},
	})
	if err != nil {
		return nil, err
	}

	p := payment.New(inv.OrganisationID, inv.ID, order.ID, charge.Amount, charge.Currency, s.Config.Payment.Retry.MaxRetries)
	if len(notes) > 0 {
		p.Notes = notes
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.PaymentRepo.Create(ctx, p); err != nil {
			return err
		}
		log := auditlog.New(auditlog.EntityPayment, p.ID, types.GetActor(ctx), auditlog.ActionCreate).
			WithChange(nil, types.Metadata{
				"invoice_id":       inv.ID,
				"gateway_order_id": order.ID,
				"amount":           charge.Amount.String(),
				"currency":         charge.Currency,
			})
		return s.AuditLogRepo.Create(ctx, log)
	})
	if err != nil {
		return nil, err
	}

	s.Metrics.PaymentsByStatus.WithLabelValues(types.PaymentStatusPending.String()).Inc()
	s.Logger.Infow("payment order created",
		"payment_id", p.ID,
		"invoice_id", inv.ID,
		"gateway_order_id", order.ID,
		"amount_minor", charge.MinorUnits(),
		"currency", charge.Currency,
	)

	return &dto.CreatePaymentOrderResponse{
		PaymentID:      p.ID,
		GatewayOrderID: order.ID,
		AmountMinor:    charge.MinorUnits(),
		Currency:       charge.Currency,
		Status:         "created",
	}, nil
}

func (s *paymentService) Get(ctx context.Context, id string) (*dto.PaymentResponse, error) {
	p, err := s.PaymentRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.PaymentResponse{Payment: p}, nil
}

func (s *paymentService) List(ctx context.Context, req *dto.ListPaymentsRequest) (*dto.ListPaymentsResponse, error) {
	payments, err := s.PaymentRepo.List(ctx, &payment.Filter{
		OrganisationID: req.OrganisationID,
		InvoiceID:      req.InvoiceID,
		Statuses:       req.Status,
		Limit:          req.Limit,
		Offset:         req.Offset,
	})
	if err != nil {
		return nil, err
	}

	resp := &dto.ListPaymentsResponse{Items: make([]*dto.PaymentResponse, 0, len(payments)), Total: len(payments)}
	for _, p := range payments {
		resp.Items = append(resp.Items, &dto.PaymentResponse{Payment: p})
	}
	return resp, nil
}

func (s *paymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*dto.WebhookResponse, error) {
	if s.Gateway == nil {
		return nil, ierr.NewError("payments are disabled").
			WithHint("Enable payment in the configuration").
			Mark(ierr.ErrInvalidOperation)
	}

	if err := s.Gateway.VerifyWebhookSignature(payload, signature); err != nil {
		s.Metrics.WebhooksReceived.WithLabelValues("unknown", "rejected").Inc()
		return nil, err
	}

	event, err := razorpay.ParseWebhookEvent(payload)
	if err != nil {
		s.Metrics.WebhooksReceived.WithLabelValues("unknown", "rejected").Inc()
		return nil, err
	}

	var result string
	switch event.Event {
	case razorpay.EventPaymentAuthorized:
		result, err = s.applyPaymentEvent(ctx, event, types.PaymentStatusAuthorized)
	case razorpay.EventPaymentCaptured:
		result, err = s.applyPaymentEvent(ctx, event, types.PaymentStatusCaptured)
	case razorpay.EventPaymentFailed:
		result, err = s.applyPaymentEvent(ctx, event, types.PaymentStatusFailed)
	case razorpay.EventRefundProcessed:
		result, err = s.applyRefundEvent(ctx, event, types.RefundStatusProcessed)
	case razorpay.EventRefundFailed:
		result, err = s.applyRefundEvent(ctx, event, types.RefundStatusFailed)
	default:
		s.Logger.Debugw("ignoring unhandled webhook event", "event", event.Event)
		result = "ignored"
	}
	if err != nil {
		s.Metrics.WebhooksReceived.WithLabelValues(string(event.Event), "failed").Inc()
		return nil, err
	}

	s.Metrics.WebhooksReceived.WithLabelValues(string(event.Event), result).Inc()
	return &dto.WebhookResponse{Status: result, Event: string(event.Event)}, nil
}

// webhookKey dedupes deliveries of one lifecycle event. The event name is part
// of the key so authorized and captured for the same gateway payment are
// separate units of work; only true replays collapse.
func webhookKey(kind string, entityID string, event razorpay.EventType) string {
	return fmt.Sprintf("gateway_%s_%s_%s", kind, entityID, event)
}

func (s *paymentService) applyPaymentEvent(ctx context.Context, event *razorpay.WebhookEvent, target types.PaymentStatus) (string, error) {
	if event.Payload.Payment == nil {
		return "", ierr.NewError("webhook payload missing payment entity").
			WithHint("Malformed webhook payload").
			Mark(ierr.ErrValidation)
	}
	entity := event.Payload.Payment.Entity
	if entity.ID == "" || entity.OrderID == "" {
		return "", ierr.NewError("webhook payment entity missing id or order_id").
			WithHint("Malformed webhook payload").
			Mark(ierr.ErrValidation)
	}

	var (
		stale    bool
		captured *payment.Payment
	)

	key := webhookKey("payment", entity.ID, event.Event)
	outcome, err := s.WithIdempotency(ctx, key, auditlog.EntityPayment, func(ctx context.Context) (string, error) {
		p, err := s.lockPaymentForWebhook(ctx, &entity)
		if err != nil {
			return "", err
		}

		if p.Status == target {
			stale = true
			return p.ID, nil
		}
		if !p.CanTransitionTo(target) {
			// Out-of-order delivery; the row already moved past this event.
			// Reconciliation reports any disagreement that matters.
			s.Logger.Warnw("ignoring stale payment webhook",
				"payment_id", p.ID,
				"status", p.Status,
				"event", event.Event,
			)
			stale = true
			return p.ID, nil
		}

		before := types.Metadata{"status": p.Status.String()}
		gatewayPaymentID := entity.ID
		p.GatewayPaymentID = &gatewayPaymentID
		if entity.Method != "" {
			method := entity.Method
			p.Method = &method
		}
		p.Status = target

		now := time.Now().UTC()
		switch target {
		case types.PaymentStatusCaptured:
			if err := s.applyCapture(ctx, p, &entity, event.CreatedAt, now); err != nil {
				return "", err
			}
			captured = p
		case types.PaymentStatusFailed:
			p.ScheduleFirstRetry(s.Config.Payment.Retry.BaseInterval(), now)
			if entity.ErrorCode != "" {
				if p.Notes == nil {
					p.Notes = types.Metadata{}
				}
				p.Notes["last_error_code"] = entity.ErrorCode
				p.Notes["last_error_description"] = entity.ErrorDescription
			}
		}

		if err := s.PaymentRepo.Update(ctx, p); err != nil {
			return "", err
		}

		log := auditlog.New(auditlog.EntityPayment, p.ID, s.gatewayActor(), auditlog.ActionUpdate).
			WithChange(before, types.Metadata{
				"status":             target.String(),
				"gateway_payment_id": entity.ID,
			})
		if err := s.AuditLogRepo.Create(ctx, log); err != nil {
			return "", err
		}
		return p.ID, nil
	})
	if err != nil {
		return "", err
	}
	if outcome.Status == idempotency.OutcomeExisting || stale {
		return "replayed", nil
	}

	s.Metrics.PaymentsByStatus.WithLabelValues(target.String()).Inc()
	s.Logger.Infow("payment transitioned",
		"payment_id", outcome.EntityID,
		"status", target,
		"event", event.Event,
	)

	if captured != nil {
		s.sendReceipt(ctx, captured)
	}
	return "processed", nil
}

// applyCapture stamps paid_at and couples the invoice in the same
// transaction. The gateway clock wins for paid_at when it is present.
func (s *paymentService) applyCapture(ctx context.Context, p *payment.Payment, entity *razorpay.PaymentEntity, eventCreatedAt int64, now time.Time) error {
	paidAt := now
	if eventCreatedAt > 0 {
		paidAt = time.Unix(eventCreatedAt, 0).UTC()
	}
	p.PaidAt = &paidAt

	if minor := types.NewMoney(p.Amount, p.Currency).MinorUnits(); entity.Amount != minor {
		s.Logger.Warnw("captured amount differs from payment row",
			"payment_id", p.ID,
			"expected_minor", minor,
			"captured_minor", entity.Amount,
		)
	}

	inv, err := s.InvoiceRepo.Get(ctx, p.InvoiceID)
	if err != nil {
		return err
	}
	if inv.InvoiceStatus == types.InvoiceStatusPaid {
		return nil
	}
	if !inv.CanTransitionTo(types.InvoiceStatusPaid) {
		s.Logger.Warnw("captured payment for an invoice that cannot be marked paid",
			"payment_id", p.ID,
			"invoice_id", inv.ID,
			"invoice_status", inv.InvoiceStatus,
		)
		return nil
	}

	if err := s.InvoiceRepo.UpdateStatus(ctx, inv.ID, types.InvoiceStatusPaid, paidAt); err != nil {
		return err
	}
	log := auditlog.New(auditlog.EntityInvoice, inv.ID, s.gatewayActor(), auditlog.ActionUpdate).
		WithChange(
			types.Metadata{"status": string(inv.InvoiceStatus)},
			types.Metadata{"status": string(types.InvoiceStatusPaid), "payment_id": p.ID},
		)
	return s.AuditLogRepo.Create(ctx, log)
}

func (s *paymentService) applyRefundEvent(ctx context.Context, event *razorpay.WebhookEvent, target types.RefundStatus) (string, error) {
	if event.Payload.Refund == nil {
		return "", ierr.NewError("webhook payload missing refund entity").
			WithHint("Malformed webhook payload").
			Mark(ierr.ErrValidation)
	}
	entity := event.Payload.Refund.Entity
	if entity.ID == "" {
		return "", ierr.NewError("webhook refund entity missing id").
			WithHint("Malformed webhook payload").
			Mark(ierr.ErrValidation)
	}

	known, err := s.RefundRepo.GetByGatewayRefundID(ctx, entity.ID)
	if err != nil {
		if ierr.IsNotFound(err) {
			// Refunds issued straight from the gateway dashboard have no
			// local row. Reconciliation surfaces the status mismatch.
			s.Logger.Warnw("webhook for unknown gateway refund",
				"gateway_refund_id", entity.ID,
				"gateway_payment_id", entity.PaymentID,
			)
			return "ignored", nil
		}
		return "", err
	}

	var (
		stale     bool
		processed *refund.Refund
		receipt   *payment.Payment
	)

	key := webhookKey("refund", entity.ID, event.Event)
	outcome, err := s.WithIdempotency(ctx, key, auditlog.EntityRefund, func(ctx context.Context) (string, error) {
		// The payment row lock serialises every settlement touching this
		// payment, including concurrent refund webhooks.
		p, err := s.PaymentRepo.GetForUpdate(ctx, known.PaymentID)
		if err != nil {
			return "", err
		}
		r, err := s.RefundRepo.Get(ctx, known.ID)
		if err != nil {
			return "", err
		}

		if r.Status == target {
			stale = true
			return r.ID, nil
		}
		if r.Status != types.RefundStatusPending {
			s.Logger.Warnw("ignoring webhook for settled refund",
				"refund_id", r.ID,
				"status", r.Status,
				"event", event.Event,
			)
			stale = true
			return r.ID, nil
		}

		before := types.Metadata{"status": r.Status.String()}
		r.Status = target
		if err := s.RefundRepo.Update(ctx, r); err != nil {
			return "", err
		}
		log := auditlog.New(auditlog.EntityRefund, r.ID, s.gatewayActor(), auditlog.ActionUpdate).
			WithChange(before, types.Metadata{"status": target.String()})
		if err := s.AuditLogRepo.Create(ctx, log); err != nil {
			return "", err
		}

		if target == types.RefundStatusProcessed {
			if err := s.settlePayment(ctx, p, r); err != nil {
				return "", err
			}
			processed = r
			receipt = p
		}
		return r.ID, nil
	})
	if err != nil {
		return "", err
	}
	if outcome.Status == idempotency.OutcomeExisting || stale {
		return "replayed", nil
	}

	if processed != nil {
		s.Metrics.PaymentsByStatus.WithLabelValues(receipt.Status.String()).Inc()
		s.sendRefundNotice(ctx, processed)
	}
	return "processed", nil
}

// settlePayment recomputes the cumulative processed amount and moves the
// payment, and when fully returned the invoice, in the same transaction.
func (s *paymentService) settlePayment(ctx context.Context, p *payment.Payment, r *refund.Refund) error {
	settled, err := s.RefundRepo.SettledAmount(ctx, p.ID)
	if err != nil {
		return err
	}

	target := types.PaymentStatusPartiallyRefunded
	if settled.GreaterThanOrEqual(p.Amount) {
		target = types.PaymentStatusRefunded
	}
	if p.Status == target {
		return nil
	}
	if !p.CanTransitionTo(target) {
		s.Logger.Warnw("refund settled against payment in unexpected state",
			"payment_id", p.ID,
			"status", p.Status,
			"settled", settled.String(),
		)
		return nil
	}

	before := types.Metadata{"status": p.Status.String()}
	p.Status = target
	if err := s.PaymentRepo.Update(ctx, p); err != nil {
		return err
	}
	log := auditlog.New(auditlog.EntityPayment, p.ID, s.gatewayActor(), auditlog.ActionUpdate).
		WithChange(before, types.Metadata{
			"status":    target.String(),
			"refund_id": r.ID,
			"settled":   settled.String(),
		})
	if err := s.AuditLogRepo.Create(ctx, log); err != nil {
		return err
	}

	if target != types.PaymentStatusRefunded {
		return nil
	}

	inv, err := s.InvoiceRepo.Get(ctx, p.InvoiceID)
	if err != nil {
		return err
	}
	if inv.InvoiceStatus == types.InvoiceStatusRefunded || !inv.CanTransitionTo(types.InvoiceStatusRefunded) {
		return nil
	}
	if err := s.InvoiceRepo.UpdateStatus(ctx, inv.ID, types.InvoiceStatusRefunded, time.Now().UTC()); err != nil {
		return err
	}
	invLog := auditlog.New(auditlog.EntityInvoice, inv.ID, s.gatewayActor(), auditlog.ActionUpdate).
		WithChange(
			types.Metadata{"status": string(inv.InvoiceStatus)},
			types.Metadata{"status": string(types.InvoiceStatusRefunded), "refund_id": r.ID},
		)
	return s.AuditLogRepo.Create(ctx, invLog)
}

func (s *paymentService) SweepPending(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.Config.Payment.PendingTTL())
	pending, err := s.PaymentRepo.ListPendingOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, candidate := range pending {
		failed := false
		err := s.DB.WithTx(ctx, func(ctx context.Context) error {
			p, err := s.PaymentRepo.GetForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if p.Status != types.PaymentStatusPending {
				// A webhook settled it between the scan and the lock.
				return nil
			}

			now := time.Now().UTC()
			p.Status = types.PaymentStatusFailed
			if p.Notes == nil {
				p.Notes = types.Metadata{}
			}
			p.Notes["failure_reason"] = "pending ttl expired"
			p.ScheduleFirstRetry(s.Config.Payment.Retry.BaseInterval(), now)
			if err := s.PaymentRepo.Update(ctx, p); err != nil {
				return err
			}

			log := auditlog.New(auditlog.EntityPayment, p.ID, types.SystemActor, auditlog.ActionUpdate).
				WithChange(
					types.Metadata{"status": string(types.PaymentStatusPending)},
					types.Metadata{"status": string(types.PaymentStatusFailed), "reason": "pending ttl expired"},
				)
			if err := s.AuditLogRepo.Create(ctx, log); err != nil {
				return err
			}
			failed = true
			return nil
		})
		if err != nil {
			s.Logger.Errorw("failed to sweep pending payment",
				"payment_id", candidate.ID,
				"error", err,
			)
			continue
		}
		if failed {
			swept++
			s.Metrics.PaymentsByStatus.WithLabelValues(types.PaymentStatusFailed.String()).Inc()
		}
	}

	if swept > 0 {
		s.Logger.Infow("swept stale pending payments", "count", swept, "cutoff", cutoff)
	}
	return swept, nil
}

// lockPaymentForWebhook resolves the local payment row for a webhook entity
// and takes the row lock. Retries replace gateway_order_id on the row, so an
// order id miss falls back to the gateway payment id.
func (s *paymentService) lockPaymentForWebhook(ctx context.Context, entity *razorpay.PaymentEntity) (*payment.Payment, error) {
	p, err := s.PaymentRepo.GetByGatewayOrderID(ctx, entity.OrderID)
	if err != nil {
		if !ierr.IsNotFound(err) {
			return nil, err
		}
		p, err = s.PaymentRepo.GetByGatewayPaymentID(ctx, entity.ID)
		if err != nil {
			return nil, err
		}
	}
	return s.PaymentRepo.GetForUpdate(ctx, p.ID)
}

func (s *paymentService) gatewayActor() string {
	return "gateway:" + s.Gateway.Name()
}

func (s *paymentService) gatewaySupports(currency string) bool {
	supported := s.Config.Payment.SupportedCurrencies
	if len(supported) == 0 {
		return true
	}
	for _, c := range supported {
		if types.IsSameCurrency(c, currency) {
			return true
		}
	}
	return false
}

// gatewayCurrency is the settlement currency used when the invoice currency
// is not accepted by the gateway.
func (s *paymentService) gatewayCurrency() string {
	if len(s.Config.Payment.SupportedCurrencies) > 0 {
		return types.NormalizeCurrency(s.Config.Payment.SupportedCurrencies[0])
	}
	return s.Config.Billing.DefaultCurrency
}

// sendReceipt mails the capture receipt. Best-effort: the captured state is
// already durable.
func (s *paymentService) sendReceipt(ctx context.Context, p *payment.Payment) {
	inv, err := s.InvoiceRepo.Get(ctx, p.InvoiceID)
	if err != nil {
		s.Logger.Errorw("receipt email skipped, invoice lookup failed",
			"payment_id", p.ID,
			"error", err,
		)
		return
	}
	org, err := s.OrganisationRepo.Get(ctx, p.OrganisationID)
	if err != nil {
		s.Logger.Errorw("receipt email skipped, organisation lookup failed",
			"payment_id", p.ID,
			"error", err,
		)
		return
	}
	users, err := s.UserRepo.ListByOrganisation(ctx, p.OrganisationID)
	if err != nil || len(users) == 0 {
		return
	}

	paidAt := time.Now().UTC()
	if p.PaidAt != nil {
		paidAt = *p.PaidAt
	}
	gatewayPaymentID := ""
	if p.GatewayPaymentID != nil {
		gatewayPaymentID = *p.GatewayPaymentID
	}
	data := map[string]interface{}{
		"invoice_number":     inv.InvoiceNumber,
		"organisation_name":  org.Name,
		"amount":             p.Amount.String(),
		"currency":           p.Currency,
		"gateway_payment_id": gatewayPaymentID,
		"paid_at":            paidAt.Format("2006-01-02 15:04 MST"),
	}

	for _, u := range users {
		resp, err := s.Email.SendEmailWithTemplate(ctx, emailSvc.SendEmailWithTemplateRequest{
			ToAddress:    u.Email,
			Subject:      fmt.Sprintf("Payment received for invoice %s", inv.InvoiceNumber),
			TemplatePath: paymentReceiptTemplate,
			Data:         data,
		})
		if err != nil {
			s.Logger.Errorw("receipt email send failed",
				"payment_id", p.ID,
				"to", u.Email,
				"error", err,
			)
			continue
		}
		if resp.Success {
			s.audit(ctx, auditlog.New(auditlog.EntityEmail, p.ID, types.SystemActor, auditlog.ActionSent).
				WithChange(nil, types.Metadata{
					"to":       u.Email,
					"template": paymentReceiptTemplate,
				}))
		}
	}
}

func (s *paymentService) sendRefundNotice(ctx context.Context, r *refund.Refund) {
	inv, err := s.InvoiceRepo.Get(ctx, r.InvoiceID)
	if err != nil {
		s.Logger.Errorw("refund email skipped, invoice lookup failed",
			"refund_id", r.ID,
			"error", err,
		)
		return
	}
	org, err := s.OrganisationRepo.Get(ctx, inv.OrganisationID)
	if err != nil {
		return
	}
	users, err := s.UserRepo.ListByOrganisation(ctx, inv.OrganisationID)
	if err != nil || len(users) == 0 {
		return
	}

	data := map[string]interface{}{
		"refund_number":     r.RefundNumber,
		"invoice_number":    inv.InvoiceNumber,
		"organisation_name": org.Name,
		"amount":            r.Amount.String(),
		"currency":          r.Currency,
	}

	for _, u := range users {
		resp, err := s.Email.SendEmailWithTemplate(ctx, emailSvc.SendEmailWithTemplateRequest{
			ToAddress:    u.Email,
			Subject:      fmt.Sprintf("Refund %s processed", r.RefundNumber),
			TemplatePath: refundProcessedTemplate,
			Data:         data,
		})
		if err != nil {
			s.Logger.Errorw("refund email send failed",
				"refund_id", r.ID,
				"to", u.Email,
				"error", err,
			)
			continue
		}
		if resp.Success {
			s.audit(ctx, auditlog.New(auditlog.EntityEmail, r.ID, types.SystemActor, auditlog.ActionSent).
				WithChange(nil, types.Metadata{
					"to":       u.Email,
					"template": refundProcessedTemplate,
				}))
		}
	}
}
