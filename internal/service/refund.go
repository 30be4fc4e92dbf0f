package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/domain/auditlog"
	"github.com/meterline/meterline/internal/domain/idempotency"
	"github.com/meterline/meterline/internal/domain/refund"
	ierr "github.com/meterline/meterline/internal/errors"
	keygen "github.com/meterline/meterline/internal/idempotency"
	"github.com/meterline/meterline/internal/types"
)

// RefundService issues refunds against captured payments. Rows are inserted
// pending and settle on the gateway's refund webhook; headroom accounting uses
// reserved (pending + processed) amounts so over-refunding cannot race.
type RefundService interface {
	CreateRefund(ctx context.Context, req *dto.CreateRefundRequest) (*dto.RefundResponse, error)
	Get(ctx context.Context, id string) (*dto.RefundResponse, error)
	List(ctx context.Context, req *dto.ListRefundsRequest) (*dto.ListRefundsResponse, error)
}

type refundService struct {
	ServiceParams
}

func NewRefundService(params ServiceParams) RefundService {
	return &refundService{ServiceParams: params}
}

func (s *refundService) CreateRefund(ctx context.Context, req *dto.CreateRefundRequest) (*dto.RefundResponse, error) {
	if s.Gateway == nil {
		return nil, ierr.NewError("payments are disabled").
			WithHint("Enable payment in the configuration").
			Mark(ierr.ErrInvalidOperation)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Amount != nil && !req.Amount.IsPositive() {
		return nil, ierr.NewError("refund amount must be positive").
			WithReportableDetails(map[string]any{"amount": req.Amount.String()}).
			Mark(ierr.ErrValidation)
	}

	actor := types.GetActor(ctx)
	key := s.KeyGen.GenerateKey(keygen.ScopeRefund, map[string]interface{}{
		"payment_id": req.PaymentID,
		"amount":     amountKeyPart(req.Amount),
		"request_id": types.GetRequestID(ctx),
	})

	var created *refund.Refund
	outcome, err := s.WithIdempotency(ctx, key, auditlog.EntityRefund, func(ctx context.Context) (string, error) {
		p, err := s.PaymentRepo.GetForUpdate(ctx, req.PaymentID)
		if err != nil {
			return "", err
		}

		if p.Status != types.PaymentStatusCaptured && p.Status != types.PaymentStatusPartiallyRefunded {
			return "", ierr.NewError("payment is not refundable").
				WithHintf("Payment is %s; only captured payments can be refunded", p.Status).
				WithReportableDetails(map[string]any{"payment_id": p.ID, "status": p.Status}).
				Mark(ierr.ErrInvalidOperation)
		}

		// Pending refunds reserve headroom too; two half-amount refunds in
		// flight cannot both pass the remainder check.
		reserved, err := s.RefundRepo.ReservedAmount(ctx, p.ID)
		if err != nil {
			return "", err
		}
		remaining := p.Amount.Sub(reserved)

		amount := remaining
		refundType := types.RefundTypeFull
		if req.Amount != nil {
			amount = *req.Amount
			if amount.LessThan(remaining) {
				refundType = types.RefundTypePartial
			}
		}
		if !remaining.IsPositive() || amount.GreaterThan(remaining) {
			return "", ierr.NewError("refund exceeds the remaining captured amount").
				WithHintf("At most %s %s can still be refunded", remaining, p.Currency).
				WithReportableDetails(map[string]any{
					"payment_id": p.ID,
					"requested":  amount.String(),
					"remaining":  remaining.String(),
				}).
				Mark(ierr.ErrInvalidOperation)
		}
		if !amount.IsPositive() {
			return "", ierr.NewError("refund amount must be positive").
				Mark(ierr.ErrValidation)
		}

		number, err := s.nextRefundNumber(ctx)
		if err != nil {
			return "", err
		}

		r := refund.New(p.ID, p.InvoiceID, number, amount, p.Currency, refundType, req.Reason, actor)
		if err := r.Validate(); err != nil {
			return "", err
		}

		if p.GatewayPaymentID == nil {
			return "", ierr.NewError("payment has no gateway payment id").
				WithHint("The capture webhook has not recorded the gateway payment yet").
				Mark(ierr.ErrInvalidOperation)
		}

		minor := types.NewMoney(amount, p.Currency).MinorUnits()
		gw, err := s.Gateway.CreateRefund(ctx, *p.GatewayPaymentID, minor, map[string]interface{}{
			"refund_number": number,
			"invoice_id":    p.InvoiceID,
			"reason":        req.Reason,
		})
		if err != nil {
			return "", err
		}
		r.GatewayRefundID = &gw.ID

		if err := s.RefundRepo.Create(ctx, r); err != nil {
			return "", err
		}

		log := auditlog.New(auditlog.EntityRefund, r.ID, actor, auditlog.ActionCreate).
			WithChange(nil, types.Metadata{
				"payment_id":        p.ID,
				"refund_number":     number,
				"amount":            amount.String(),
				"currency":          p.Currency,
				"refund_type":       string(refundType),
				"gateway_refund_id": gw.ID,
			})
		if err := s.AuditLogRepo.Create(ctx, log); err != nil {
			return "", err
		}

		created = r
		return r.ID, nil
	})
	if err != nil {
		return nil, err
	}

	if outcome.Status == idempotency.OutcomeExisting {
		existing, err := s.RefundRepo.Get(ctx, outcome.EntityID)
		if err != nil {
			return nil, err
		}
		return &dto.RefundResponse{Refund: existing, Status: "existing"}, nil
	}

	s.Logger.Infow("refund created",
		"refund_id", created.ID,
		"payment_id", created.PaymentID,
		"refund_number", created.RefundNumber,
		"amount", created.Amount.String(),
		"refund_type", created.Type,
	)
	return &dto.RefundResponse{Refund: created, Status: "created"}, nil
}

func (s *refundService) Get(ctx context.Context, id string) (*dto.RefundResponse, error) {
	r, err := s.RefundRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.RefundResponse{Refund: r}, nil
}

func (s *refundService) List(ctx context.Context, req *dto.ListRefundsRequest) (*dto.ListRefundsResponse, error) {
	refunds, err := s.RefundRepo.List(ctx, &refund.Filter{
		PaymentID: req.PaymentID,
		InvoiceID: req.InvoiceID,
		Limit:     req.Limit,
		Offset:    req.Offset,
	})
	if err != nil {
		return nil, err
	}

	resp := &dto.ListRefundsResponse{Items: make([]*dto.RefundResponse, 0, len(refunds)), Total: len(refunds)}
	for _, r := range refunds {
		resp.Items = append(resp.Items, &dto.RefundResponse{Refund: r})
	}
	return resp, nil
}

// nextRefundNumber reserves the next number under the current month's prefix,
// e.g. REF-202503-0004.
func (s *refundService) nextRefundNumber(ctx context.Context) (string, error) {
	now := time.Now().UTC()
	prefix := fmt.Sprintf("REF-%d%02d", now.Year(), int(now.Month()))
	seq, err := s.RefundRepo.NextSequence(ctx, prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d", prefix, seq), nil
}

// amountKeyPart folds the optional amount into the idempotency key. A full
// refund request and an explicit-amount request hash differently.
func amountKeyPart(amount *decimal.Decimal) string {
	if amount == nil {
		return "full"
	}
	return amount.String()
}
