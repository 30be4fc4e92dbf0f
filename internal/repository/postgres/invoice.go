package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/meterline/meterline/internal/domain/invoice"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/types"
)

type invoiceRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewInvoiceRepository(client postgres.IClient, logger *logger.Logger) invoice.Repository {
	return &invoiceRepository{client: client, logger: logger}
}

// CreateWithLineItems creates an invoice with its line items in a single
// transaction. The partial unique index on (organisation_id, month, year)
// over non-cancelled invoices is the period arbiter.
func (r *invoiceRepository) CreateWithLineItems(ctx context.Context, inv *invoice.Invoice) error {
	r.logger.Debugw("creating invoice with line items",
		"invoice_id", inv.ID,
		"organisation_id", inv.OrganisationID,
		"line_items_count", len(inv.LineItems),
	)

	span := StartRepositorySpan(ctx, "invoice", "create_with_line_items", map[string]interface{}{
		"invoice_id":       inv.ID,
		"organisation_id":  inv.OrganisationID,
		"line_items_count": len(inv.LineItems),
	})
	defer FinishSpan(span)

	if err := inv.Validate(); err != nil {
		SetSpanError(span, err)
		return err
	}

	inv.BaseModel = types.GetDefaultBaseModel(ctx)

	err := r.client.WithTx(ctx, func(ctx context.Context) error {
		client := r.client.Querier(ctx)

		invoiceQuery := `
			INSERT INTO invoices (
				id, organisation_id, invoice_number, invoice_status,
				subtotal, tax, discount, total, currency,
				month, year, period_start, period_end, due_date,
				issued_at, paid_at, pdf_url, metadata,
				status, created_at, updated_at, created_by, updated_by
			) VALUES (
				:id, :organisation_id, :invoice_number, :invoice_status,
				:subtotal, :tax, :discount, :total, :currency,
				:month, :year, :period_start, :period_end, :due_date,
				:issued_at, :paid_at, :pdf_url, :metadata,
				:status, :created_at, :updated_at, :created_by, :updated_by
			)
		`

		if _, err := client.NamedExec(invoiceQuery, inv); err != nil {
			if IsUniqueViolation(err, "idx_invoices_org_period_active") {
				return ierr.WithError(err).
					WithHint("An invoice for this billing period already exists").
					WithReportableDetails(map[string]interface{}{
						"organisation_id": inv.OrganisationID,
						"month":           inv.Month,
						"year":            inv.Year,
					}).
					Mark(ierr.ErrAlreadyExists)
			}
			if IsUniqueViolation(err, "") {
				return ierr.WithError(err).
					WithHint("Invoice number already taken").
					Mark(ierr.ErrAlreadyExists)
			}
			return ierr.WithError(err).
				WithHint("Failed to create invoice").
				Mark(ierr.ErrDatabase)
		}

		lineQuery := `
			INSERT INTO invoice_line_items (
				id, invoice_id, line_number, description, metric_name, unit,
				quantity, unit_price, total, metadata,
				status, created_at, updated_at, created_by, updated_by
			) VALUES (
				:id, :invoice_id, :line_number, :description, :metric_name, :unit,
				:quantity, :unit_price, :total, :metadata,
				:status, :created_at, :updated_at, :created_by, :updated_by
			)
		`

		for _, item := range inv.LineItems {
			item.InvoiceID = inv.ID
			item.BaseModel = inv.BaseModel
			if _, err := client.NamedExec(lineQuery, item); err != nil {
				return ierr.WithError(err).
					WithHint("Failed to create invoice line item").
					WithReportableDetails(map[string]interface{}{
						"invoice_id":  inv.ID,
						"line_number": item.LineNumber,
					}).
					Mark(ierr.ErrDatabase)
			}
		}

		return nil
	})
	if err != nil {
		SetSpanError(span, err)
		return err
	}

	SetSpanSuccess(span)
	return nil
}

func (r *invoiceRepository) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	span := StartRepositorySpan(ctx, "invoice", "get", map[string]interface{}{
		"invoice_id": id,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `SELECT * FROM invoices WHERE id = $1 AND status != $2`

	var inv invoice.Invoice
	err := client.GetContext(ctx, &inv, query, id, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHintf("Invoice with ID %s was not found", id).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get invoice").
			Mark(ierr.ErrDatabase)
	}

	if err := r.loadLineItems(ctx, &inv); err != nil {
		SetSpanError(span, err)
		return nil, err
	}

	SetSpanSuccess(span)
	return &inv, nil
}

func (r *invoiceRepository) GetByPeriod(ctx context.Context, organisationID string, month, year int) (*invoice.Invoice, error) {
	span := StartRepositorySpan(ctx, "invoice", "get_by_period", map[string]interface{}{
		"organisation_id": organisationID,
		"month":           month,
		"year":            year,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		SELECT * FROM invoices
		WHERE organisation_id = $1 AND month = $2 AND year = $3
			AND invoice_status != $4 AND status != $5
	`

	var inv invoice.Invoice
	err := client.GetContext(ctx, &inv, query,
		organisationID, month, year, types.InvoiceStatusCancelled, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHintf("No invoice for organisation %s in %d-%02d", organisationID, year, month).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get invoice by period").
			Mark(ierr.ErrDatabase)
	}

	if err := r.loadLineItems(ctx, &inv); err != nil {
		SetSpanError(span, err)
		return nil, err
	}

	SetSpanSuccess(span)
	return &inv, nil
}

func (r *invoiceRepository) List(ctx context.Context, filter *invoice.Filter) ([]*invoice.Invoice, error) {
	span := StartRepositorySpan(ctx, "invoice", "list", nil)
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `SELECT * FROM invoices WHERE status != $1`
	args := []interface{}{types.StatusDeleted}

	if filter != nil {
		if filter.OrganisationID != "" {
			args = append(args, filter.OrganisationID)
			query += fmt.Sprintf(` AND organisation_id = $%d`, len(args))
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
			query += ` AND invoice_status IN (` + placeholders + `)`
		}
		if filter.Month > 0 {
			args = append(args, filter.Month)
			query += fmt.Sprintf(` AND month = $%d`, len(args))
		}
		if filter.Year > 0 {
			args = append(args, filter.Year)
			query += fmt.Sprintf(` AND year = $%d`, len(args))
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

	var invoices []*invoice.Invoice
	if err := client.SelectContext(ctx, &invoices, query, args...); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list invoices").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return invoices, nil
}

// UpdateStatus moves the lifecycle state. Financial columns are deliberately
// absent from the statement; the database trigger rejects them anyway once
// the invoice left draft.
func (r *invoiceRepository) UpdateStatus(ctx context.Context, id string, status types.InvoiceStatus, at time.Time) error {
	span := StartRepositorySpan(ctx, "invoice", "update_status", map[string]interface{}{
		"invoice_id": id,
		"status":     status,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `UPDATE invoices SET invoice_status = $1, updated_at = $2, updated_by = $3`
	args := []interface{}{status, at.UTC(), types.GetActor(ctx)}

	switch status {
	case types.InvoiceStatusFinalized:
		args = append(args, at.UTC())
		query += fmt.Sprintf(`, issued_at = $%d`, len(args))
	case types.InvoiceStatusPaid:
		args = append(args, at.UTC())
		query += fmt.Sprintf(`, paid_at = $%d`, len(args))
	}

	args = append(args, id)
	query += fmt.Sprintf(` WHERE id = $%d AND status != 'deleted'`, len(args))

	result, err := client.ExecContext(ctx, query, args...)
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to update invoice status").
			WithReportableDetails(map[string]interface{}{
				"invoice_id": id,
				"status":     status,
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
		return ierr.NewErrorf("invoice %s not found", id).
			Mark(ierr.ErrNotFound)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *invoiceRepository) SetPDFURL(ctx context.Context, id string, url string) error {
	span := StartRepositorySpan(ctx, "invoice", "set_pdf_url", map[string]interface{}{
		"invoice_id": id,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `UPDATE invoices SET pdf_url = $1, updated_at = now(), updated_by = $2 WHERE id = $3`

	if _, err := client.ExecContext(ctx, query, url, types.GetActor(ctx), id); err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to set invoice PDF URL").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}

// NextSequence reserves the next ordinal for a document number prefix. The
// upsert takes a row lock, so concurrent callers inside transactions get
// distinct ordinals.
func (r *invoiceRepository) NextSequence(ctx context.Context, prefix string) (int64, error) {
	span := StartRepositorySpan(ctx, "invoice", "next_sequence", map[string]interface{}{
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
			WithReportableDetails(map[string]interface{}{
				"prefix": prefix,
			}).
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return next, nil
}

func (r *invoiceRepository) ListDueForReminder(ctx context.Context, from, to time.Time) ([]*invoice.Invoice, error) {
	span := StartRepositorySpan(ctx, "invoice", "list_due_for_reminder", map[string]interface{}{
		"from": from,
		"to":   to,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		SELECT * FROM invoices
		WHERE invoice_status IN ($1, $2, $3)
			AND paid_at IS NULL
			AND due_date >= $4 AND due_date < $5
			AND status = $6
		ORDER BY due_date
	`

	var invoices []*invoice.Invoice
	err := client.SelectContext(ctx, &invoices, query,
		types.InvoiceStatusFinalized, types.InvoiceStatusSent, types.InvoiceStatusOverdue,
		from, to, types.StatusPublished)
	if err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list invoices due for reminder").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return invoices, nil
}

func (r *invoiceRepository) ListUnpaidPastDue(ctx context.Context, now time.Time) ([]*invoice.Invoice, error) {
	span := StartRepositorySpan(ctx, "invoice", "list_unpaid_past_due", nil)
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		SELECT * FROM invoices
		WHERE invoice_status IN ($1, $2)
			AND paid_at IS NULL
			AND due_date < $3
			AND status = $4
		ORDER BY due_date
	`

	var invoices []*invoice.Invoice
	err := client.SelectContext(ctx, &invoices, query,
		types.InvoiceStatusFinalized, types.InvoiceStatusSent, now, types.StatusPublished)
	if err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list unpaid past-due invoices").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return invoices, nil
}

func (r *invoiceRepository) loadLineItems(ctx context.Context, inv *invoice.Invoice) error {
	client := r.client.Querier(ctx)

	query := `
		SELECT * FROM invoice_line_items
		WHERE invoice_id = $1 AND status != $2
		ORDER BY line_number
	`

	var items []*invoice.LineItem
	if err := client.SelectContext(ctx, &items, query, inv.ID, types.StatusDeleted); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to load invoice line items").
			WithReportableDetails(map[string]interface{}{
				"invoice_id": inv.ID,
			}).
			Mark(ierr.ErrDatabase)
	}

	inv.LineItems = items
	return nil
}
