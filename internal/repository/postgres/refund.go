package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/domain/refund"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/types"
)

type refundRepository struct {
	client postgres.IClient
	log    *logger.Logger
}

func NewRefundRepository(client postgres.IClient, log *logger.Logger) refund.Repository {
	return &refundRepository{client: client, log: log}
}

func (r *refundRepository) Create(ctx context.Context, ref *refund.Refund) error {
	r.log.Debugw("creating refund",
		"refund_id", ref.ID,
		"payment_id", ref.PaymentID,
		"amount", ref.Amount,
	)

	span := StartRepositorySpan(ctx, "refund", "create", map[string]interface{}{
		"refund_id":  ref.ID,
		"payment_id": ref.PaymentID,
	})
	defer FinishSpan(span)

	if err := ref.Validate(); err != nil {
		SetSpanError(span, err)
		return err
	}

	ref.BaseModel = types.GetDefaultBaseModel(ctx)
	client := r.client.Querier(ctx)

	query := `
		INSERT INTO refunds (
			id, payment_id, invoice_id, refund_number, amount, currency,
			refund_status, refund_type, reason, gateway_refund_id, initiated_by,
			status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :payment_id, :invoice_id, :refund_number, :amount, :currency,
			:refund_status, :refund_type, :reason, :gateway_refund_id, :initiated_by,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)
	`

	if _, err := client.NamedExec(query, ref); err != nil {
		SetSpanError(span, err)
		if IsUniqueViolation(err, "") {
			return ierr.WithError(err).
				WithHint("Refund number or gateway reference already taken").
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create refund").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *refundRepository) Get(ctx context.Context, id string) (*refund.Refund, error) {
	span := StartRepositorySpan(ctx, "refund", "get", map[string]interface{}{
		"refund_id": id,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `SELECT * FROM refunds WHERE id = $1 AND status != $2`

	var ref refund.Refund
	err := client.GetContext(ctx, &ref, query, id, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHintf("Refund with ID %s was not found", id).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get refund").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return &ref, nil
}

func (r *refundRepository) GetByGatewayRefundID(ctx context.Context, gatewayRefundID string) (*refund.Refund, error) {
	span := StartRepositorySpan(ctx, "refund", "get_by_gateway_refund", map[string]interface{}{
		"gateway_refund_id": gatewayRefundID,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `SELECT * FROM refunds WHERE gateway_refund_id = $1 AND status != $2`

	var ref refund.Refund
	err := client.GetContext(ctx, &ref, query, gatewayRefundID, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHint("No refund for gateway reference").
				WithReportableDetails(map[string]interface{}{
					"gateway_refund_id": gatewayRefundID,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get refund by gateway reference").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return &ref, nil
}

func (r *refundRepository) ListByPayment(ctx context.Context, paymentID string) ([]*refund.Refund, error) {
	span := StartRepositorySpan(ctx, "refund", "list_by_payment", map[string]interface{}{
		"payment_id": paymentID,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		SELECT * FROM refunds
		WHERE payment_id = $1 AND status != $2
		ORDER BY created_at
	`

	var refunds []*refund.Refund
	if err := client.SelectContext(ctx, &refunds, query, paymentID, types.StatusDeleted); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list refunds").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return refunds, nil
}

func (r *refundRepository) List(ctx context.Context, filter *refund.Filter) ([]*refund.Refund, error) {
	span := StartRepositorySpan(ctx, "refund", "list", nil)
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		SELECT r.* FROM refunds r
		JOIN payments p ON p.id = r.payment_id
		WHERE r.status != $1
	`
	args := []interface{}{types.StatusDeleted}

	if filter != nil {
		if filter.PaymentID != "" {
			args = append(args, filter.PaymentID)
			query += fmt.Sprintf(` AND r.payment_id = $%d`, len(args))
		}
		if filter.InvoiceID != "" {
			args = append(args, filter.InvoiceID)
			query += fmt.Sprintf(` AND r.invoice_id = $%d`, len(args))
		}
		if filter.OrganisationID != "" {
			args = append(args, filter.OrganisationID)
			query += fmt.Sprintf(` AND p.organisation_id = $%d`, len(args))
		}
	}

	query += ` ORDER BY r.created_at DESC`

	if filter != nil && filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if filter != nil && filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	var refunds []*refund.Refund
	if err := client.SelectContext(ctx, &refunds, query, args...); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list refunds").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return refunds, nil
}

func (r *refundRepository) Update(ctx context.Context, ref *refund.Refund) error {
	span := StartRepositorySpan(ctx, "refund", "update", map[string]interface{}{
		"refund_id":     ref.ID,
		"refund_status": ref.Status,
	})
	defer FinishSpan(span)

	ref.Touch(ctx)
	client := r.client.Querier(ctx)

	// Amount and coupling identifiers are immutable after creation
	query := `
		UPDATE refunds SET
			refund_status = :refund_status,
			reason = :reason,
			gateway_refund_id = :gateway_refund_id,
			updated_at = :updated_at,
			updated_by = :updated_by
		WHERE id = :id AND status != 'deleted'
	`

	result, err := client.NamedExec(query, ref)
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to update refund").
			Mark(ierr.ErrDatabase)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to read rows affected").
			Mark(ierr.ErrDatabase)
	}
	if rows == 0 {
		return ierr.NewErrorf("refund %s not found", ref.ID).
			Mark(ierr.ErrNotFound)
	}

	SetSpanSuccess(span)
	return nil
}

// SettledAmount sums processed refunds of a payment
func (r *refundRepository) SettledAmount(ctx context.Context, paymentID string) (decimal.Decimal, error) {
	span := StartRepositorySpan(ctx, "refund", "settled_amount", map[string]interface{}{
		"payment_id": paymentID,
	})
	defer FinishSpan(span)

	total, err := r.sumByStatuses(ctx, paymentID, types.RefundStatusProcessed)
	if err != nil {
		SetSpanError(span, err)
		return decimal.Zero, err
	}

	SetSpanSuccess(span)
	return total, nil
}

// ReservedAmount sums pending and processed refunds; over-refund checks use
// it so racing requests cannot overshoot between creation and settlement
func (r *refundRepository) ReservedAmount(ctx context.Context, paymentID string) (decimal.Decimal, error) {
	span := StartRepositorySpan(ctx, "refund", "reserved_amount", map[string]interface{}{
		"payment_id": paymentID,
	})
	defer FinishSpan(span)

	total, err := r.sumByStatuses(ctx, paymentID, types.RefundStatusPending, types.RefundStatusProcessed)
	if err != nil {
		SetSpanError(span, err)
		return decimal.Zero, err
	}

	SetSpanSuccess(span)
	return total, nil
}

func (r *refundRepository) NextSequence(ctx context.Context, prefix string) (int64, error) {
	span := StartRepositorySpan(ctx, "refund", "next_sequence", map[string]interface{}{
		"prefix": prefix,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		INSERT INTO number_sequences (prefix, last_value)
		VALUES ($1, 1)
		ON CONFLICT (prefix)
		DO UPDATE SET last_value = number_sequences.last_value + 1
		RETURNING last_value
	`

	var next int64
	if err := client.QueryRowContext(ctx, query, prefix).Scan(&next); err != nil {
		SetSpanError(span, err)
		return 0, ierr.WithError(err).
			WithHint("Failed to reserve document sequence").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return next, nil
}

func (r *refundRepository) sumByStatuses(ctx context.Context, paymentID string, statuses ...types.RefundStatus) (decimal.Decimal, error) {
	client := r.client.Querier(ctx)

	placeholders := ""
	args := []interface{}{paymentID}
	for i, s := range statuses {
		if i > 0 {
			placeholders += ", "
		}
		args = append(args, s)
		placeholders += fmt.Sprintf("$%d", len(args))
	}

	query := `
		SELECT COALESCE(sum(amount), 0) FROM refunds
		WHERE payment_id = $1 AND refund_status IN (` + placeholders + `)`

	var total decimal.Decimal
	if err := client.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return decimal.Zero, ierr.WithError(err).
			WithHint("Failed to sum refunds").
			WithReportableDetails(map[string]interface{}{
				"payment_id": paymentID,
			}).
			Mark(ierr.ErrDatabase)
	}

	return total, nil
}
