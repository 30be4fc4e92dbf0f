package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/meterline/meterline/internal/domain/payment"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/types"
)

type paymentRepository struct {
	client postgres.IClient
	log    *logger.Logger
}

func NewPaymentRepository(client postgres.IClient, log *logger.Logger) payment.Repository {
	return &paymentRepository{client: client, log: log}
}

// paymentRow adds the serialized retry history to the domain struct for
// sqlx binding and scanning
type paymentRow struct {
	payment.Payment
	RetryHistoryJSON []byte `db:"retry_history"`
}

func newPaymentRow(p *payment.Payment) (*paymentRow, error) {
	history, err := json.Marshal(p.RetryHistory)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to serialize retry history").
			Mark(ierr.ErrSystem)
	}
	return &paymentRow{Payment: *p, RetryHistoryJSON: history}, nil
}

func (row *paymentRow) toDomain() (*payment.Payment, error) {
	p := row.Payment
	if len(row.RetryHistoryJSON) > 0 {
		if err := json.Unmarshal(row.RetryHistoryJSON, &p.RetryHistory); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to decode retry history").
				Mark(ierr.ErrSystem)
		}
	}
	return &p, nil
}

const paymentColumns = `
	id, organisation_id, invoice_id, gateway_order_id, gateway_payment_id,
	amount, currency, payment_status, method, paid_at, reconciled_at,
	retry_count, max_retries, next_retry_at, last_retry_at, retry_history,
	notes, status, created_at, updated_at, created_by, updated_by
`

func (r *paymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	r.log.Debugw("creating payment",
		"payment_id", p.ID,
		"invoice_id", p.InvoiceID,
		"gateway_order_id", p.GatewayOrderID,
		"amount", p.Amount,
	)

	span := StartRepositorySpan(ctx, "payment", "create", map[string]interface{}{
		"payment_id": p.ID,
		"invoice_id": p.InvoiceID,
	})
	defer FinishSpan(span)

	if err := p.Validate(); err != nil {
		SetSpanError(span, err)
		return err
	}

	p.BaseModel = types.GetDefaultBaseModel(ctx)
	row, err := newPaymentRow(p)
	if err != nil {
		SetSpanError(span, err)
		return err
	}

	client := r.client.Querier(ctx)

	query := `
		INSERT INTO payments (` + paymentColumns + `) VALUES (
			:id, :organisation_id, :invoice_id, :gateway_order_id, :gateway_payment_id,
			:amount, :currency, :payment_status, :method, :paid_at, :reconciled_at,
			:retry_count, :max_retries, :next_retry_at, :last_retry_at, :retry_history,
			:notes, :status, :created_at, :updated_at, :created_by, :updated_by
		)
	`

	if _, err := client.NamedExec(query, row); err != nil {
		SetSpanError(span, err)
		if IsUniqueViolation(err, "") {
			return ierr.WithError(err).
				WithHint("A payment with this gateway order already exists").
				WithReportableDetails(map[string]interface{}{
					"gateway_order_id": p.GatewayOrderID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create payment").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *paymentRepository) Get(ctx context.Context, id string) (*payment.Payment, error) {
	span := StartRepositorySpan(ctx, "payment", "get", map[string]interface{}{
		"payment_id": id,
	})
	defer FinishSpan(span)

	query := `SELECT * FROM payments WHERE id = $1 AND status != $2`
	p, err := r.getOne(ctx, query, id, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		return nil, err
	}

	SetSpanSuccess(span)
	return p, nil
}

func (r *paymentRepository) GetByGatewayOrderID(ctx context.Context, orderID string) (*payment.Payment, error) {
	span := StartRepositorySpan(ctx, "payment", "get_by_gateway_order", map[string]interface{}{
		"gateway_order_id": orderID,
	})
	defer FinishSpan(span)

	query := `SELECT * FROM payments WHERE gateway_order_id = $1 AND status != $2`
	p, err := r.getOne(ctx, query, orderID, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		return nil, err
	}

	SetSpanSuccess(span)
	return p, nil
}

func (r *paymentRepository) GetByGatewayPaymentID(ctx context.Context, paymentID string) (*payment.Payment, error) {
	span := StartRepositorySpan(ctx, "payment", "get_by_gateway_payment", map[string]interface{}{
		"gateway_payment_id": paymentID,
	})
	defer FinishSpan(span)

	query := `SELECT * FROM payments WHERE gateway_payment_id = $1 AND status != $2`
	p, err := r.getOne(ctx, query, paymentID, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		return nil, err
	}

	SetSpanSuccess(span)
	return p, nil
}

// GetForUpdate takes a row lock. Webhook handling and retries serialise on
// it so concurrent deliveries observe each other's writes.
func (r *paymentRepository) GetForUpdate(ctx context.Context, id string) (*payment.Payment, error) {
	span := StartRepositorySpan(ctx, "payment", "get_for_update", map[string]interface{}{
		"payment_id": id,
	})
	defer FinishSpan(span)

	if r.client.TxFromContext(ctx) == nil {
		err := ierr.NewError("GetForUpdate requires a transaction").
			Mark(ierr.ErrSystem)
		SetSpanError(span, err)
		return nil, err
	}

	query := `SELECT * FROM payments WHERE id = $1 AND status != $2 FOR UPDATE`
	p, err := r.getOne(ctx, query, id, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		return nil, err
	}

	SetSpanSuccess(span)
	return p, nil
}

// GetActiveByInvoice returns the newest payment of the invoice that is not
// failed; order creation reuses it instead of opening another gateway order
func (r *paymentRepository) GetActiveByInvoice(ctx context.Context, invoiceID string) (*payment.Payment, error) {
	span := StartRepositorySpan(ctx, "payment", "get_active_by_invoice", map[string]interface{}{
		"invoice_id": invoiceID,
	})
	defer FinishSpan(span)

	query := `
		SELECT * FROM payments
		WHERE invoice_id = $1 AND payment_status != $2 AND status != $3
		ORDER BY created_at DESC
		LIMIT 1
	`
	p, err := r.getOne(ctx, query, invoiceID, types.PaymentStatusFailed, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		return nil, err
	}

	SetSpanSuccess(span)
	return p, nil
}

func (r *paymentRepository) List(ctx context.Context, filter *payment.Filter) ([]*payment.Payment, error) {
	span := StartRepositorySpan(ctx, "payment", "list", nil)
	defer FinishSpan(span)

	query := `SELECT * FROM payments WHERE status != $1`
	args := []interface{}{types.StatusDeleted}

	if filter != nil {
		if filter.OrganisationID != "" {
			args = append(args, filter.OrganisationID)
			query += fmt.Sprintf(` AND organisation_id = $%d`, len(args))
		}
		if filter.InvoiceID != "" {
			args = append(args, filter.InvoiceID)
			query += fmt.Sprintf(` AND invoice_id = $%d`, len(args))
		}
		if len(filter.Statuses) > 0 {
			placeholders := ""
			for i, s := range filter.Statuses {
				if i > 0 {
					placeholders += ", "
				}
				args = append(args, s)
				placeholders += fmt.Sprintf("$%d", len(args))
			}
			query += ` AND payment_status IN (` + placeholders + `)`
		}
	}

	query += ` ORDER BY created_at DESC`

	if filter != nil && filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if filter != nil && filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	payments, err := r.getMany(ctx, query, args...)
	if err != nil {
		SetSpanError(span, err)
		return nil, err
	}

	SetSpanSuccess(span)
	return payments, nil
}

func (r *paymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	r.log.Debugw("updating payment",
		"payment_id", p.ID,
		"payment_status", p.Status,
		"retry_count", p.RetryCount,
	)

	span := StartRepositorySpan(ctx, "payment", "update", map[string]interface{}{
		"payment_id":     p.ID,
		"payment_status": p.Status,
	})
	defer FinishSpan(span)

	p.Touch(ctx)
	row, err := newPaymentRow(p)
	if err != nil {
		SetSpanError(span, err)
		return err
	}

	client := r.client.Querier(ctx)

	query := `
		UPDATE payments SET
			gateway_order_id = :gateway_order_id,
			gateway_payment_id = :gateway_payment_id,
			payment_status = :payment_status,
			method = :method,
			paid_at = :paid_at,
			reconciled_at = :reconciled_at,
			retry_count = :retry_count,
			next_retry_at = :next_retry_at,
			last_retry_at = :last_retry_at,
			retry_history = :retry_history,
			notes = :notes,
			updated_at = :updated_at,
			updated_by = :updated_by
		WHERE id = :id AND status != 'deleted'
	`

	result, err := client.NamedExec(query, row)
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to update payment").
			WithReportableDetails(map[string]interface{}{
				"payment_id": p.ID,
			}).
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
		return ierr.NewErrorf("payment %s not found", p.ID).
			Mark(ierr.ErrNotFound)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *paymentRepository) ListRetryEligible(ctx context.Context, now time.Time) ([]*payment.Payment, error) {
	span := StartRepositorySpan(ctx, "payment", "list_retry_eligible", nil)
	defer FinishSpan(span)

	query := `
		SELECT * FROM payments
		WHERE payment_status = $1
			AND retry_count < max_retries
			AND next_retry_at IS NOT NULL
			AND next_retry_at <= $2
			AND status != $3
		ORDER BY next_retry_at
	`

	payments, err := r.getMany(ctx, query, types.PaymentStatusFailed, now, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		return nil, err
	}

	SetSpanSuccess(span)
	return payments, nil
}

func (r *paymentRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*payment.Payment, error) {
	span := StartRepositorySpan(ctx, "payment", "list_pending_older_than", map[string]interface{}{
		"cutoff": cutoff,
	})
	defer FinishSpan(span)

	query := `
		SELECT * FROM payments
		WHERE payment_status = $1 AND created_at < $2 AND status != $3
		ORDER BY created_at
	`

	payments, err := r.getMany(ctx, query, types.PaymentStatusPending, cutoff, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		return nil, err
	}

	SetSpanSuccess(span)
	return payments, nil
}

func (r *paymentRepository) ListByWindow(ctx context.Context, from, to time.Time) ([]*payment.Payment, error) {
	span := StartRepositorySpan(ctx, "payment", "list_by_window", map[string]interface{}{
		"from": from,
		"to":   to,
	})
	defer FinishSpan(span)

	query := `
		SELECT * FROM payments
		WHERE created_at >= $1 AND created_at < $2 AND status != $3
		ORDER BY created_at
	`

	payments, err := r.getMany(ctx, query, from, to, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		return nil, err
	}

	SetSpanSuccess(span)
	return payments, nil
}

func (r *paymentRepository) MarkReconciled(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	span := StartRepositorySpan(ctx, "payment", "mark_reconciled", map[string]interface{}{
		"payment_count": len(ids),
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	placeholders := ""
	args := []interface{}{at.UTC(), types.GetActor(ctx)}
	for i, id := range ids {
		if i > 0 {
			placeholders += ", "
		}
		args = append(args, id)
		placeholders += fmt.Sprintf("$%d", len(args))
	}

	query := `
		UPDATE payments SET reconciled_at = $1, updated_at = $1, updated_by = $2
		WHERE id IN (` + placeholders + `)`

	if _, err := client.ExecContext(ctx, query, args...); err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to mark payments reconciled").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *paymentRepository) getOne(ctx context.Context, query string, args ...interface{}) (*payment.Payment, error) {
	client := r.client.Querier(ctx)

	var row paymentRow
	err := client.GetContext(ctx, &row, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHint("Payment not found").
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get payment").
			Mark(ierr.ErrDatabase)
	}

	return row.toDomain()
}

func (r *paymentRepository) getMany(ctx context.Context, query string, args ...interface{}) ([]*payment.Payment, error) {
	client := r.client.Querier(ctx)

	var rows []paymentRow
	if err := client.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list payments").
			Mark(ierr.ErrDatabase)
	}

	payments := make([]*payment.Payment, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, nil
}
