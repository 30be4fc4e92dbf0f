package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/billing"
	"github.com/meterline/meterline/internal/domain/auditlog"
	"github.com/meterline/meterline/internal/domain/idempotency"
	"github.com/meterline/meterline/internal/domain/invoice"
	"github.com/meterline/meterline/internal/domain/organisation"
	domainPDF "github.com/meterline/meterline/internal/domain/pdf"
	"github.com/meterline/meterline/internal/domain/pricing"
	emailSvc "github.com/meterline/meterline/internal/email"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/s3"
	"github.com/meterline/meterline/internal/types"
)

const (
	invoiceSentTemplate = "invoice_sent.html"

	// invoiceSweepConcurrency bounds how many organisations the monthly
	// sweep bills at once.
	invoiceSweepConcurrency = 4
)

// InvoiceService turns the month's aggregates into invoices and walks them
// through the lifecycle. Generation is idempotent per (organisation, month):
// the registry key and the period-unique constraint both guard it, so a
// concurrent sweep and a manual trigger produce exactly one invoice.
type InvoiceService interface {
	Generate(ctx context.Context, req *dto.GenerateInvoiceRequest) (*dto.GenerateInvoiceResponse, error)

	// GenerateAll bills every organisation for the month. Per-organisation
	// failures are collected; one bad tenant never blocks the rest.
	GenerateAll(ctx context.Context, month, year int) (*InvoiceSweepStats, error)

	Get(ctx context.Context, id string) (*dto.InvoiceResponse, error)
	List(ctx context.Context, req *dto.ListInvoicesRequest) (*dto.ListInvoicesResponse, error)

	// Finalize freezes the invoice's financials and kicks off delivery:
	// PDF render and upload, `sent` marking, email with the invoice.
	Finalize(ctx context.Context, id string) (*dto.InvoiceResponse, error)
	Void(ctx context.Context, id string) (*dto.InvoiceResponse, error)

	// PDFURL returns a presigned link to the rendered document, rendering
	// it first if the invoice has none yet.
	PDFURL(ctx context.Context, id string) (*dto.InvoicePDFResponse, error)
}

// InvoiceSweepStats summarises one monthly generation sweep.
type InvoiceSweepStats struct {
	Organisations int      `json:"organisations"`
	Created       int      `json:"created"`
	Existing      int      `json:"existing"`
	Failed        []string `json:"failed,omitempty"`
}

type invoiceService struct {
	ServiceParams
}

func NewInvoiceService(params ServiceParams) InvoiceService {
	return &invoiceService{ServiceParams: params}
}

// invoiceIdempotencyKey is the natural key for period invoice generation.
func invoiceIdempotencyKey(organisationID string, month, year int) string {
	return fmt.Sprintf("invoice_%s_%d_%d", organisationID, year, month)
}

func (s *invoiceService) Generate(ctx context.Context, req *dto.GenerateInvoiceRequest) (*dto.GenerateInvoiceResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := types.ValidateBillingMonth(req.Month, req.Year); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrValidation)
	}

	org, err := s.OrganisationRepo.Get(ctx, req.OrganisationID)
	if err != nil {
		return nil, err
	}

	key := invoiceIdempotencyKey(org.ID, req.Month, req.Year)
	var unpriced []string

	outcome, err := s.WithIdempotency(ctx, key, auditlog.EntityInvoice, func(ctx context.Context) (string, error) {
		calc, err := s.calculate(ctx, org, req.Month, req.Year)
		if err != nil {
			return "", err
		}
		unpriced = calc.UnpricedMetrics

		if len(calc.UnpricedMetrics) > 0 && !s.Config.Billing.AllowUnpricedMetrics {
			return "", ierr.NewError("aggregates without a pricing rule").
				WithHint("Add pricing rules for the listed metrics or enable billing.allow_unpriced_metrics").
				WithReportableDetails(map[string]any{"unpriced_metrics": calc.UnpricedMetrics}).
				Mark(ierr.ErrValidation)
		}

		// The gate recomputes every total from the lines; a mismatch means
		// a calculator defect and nothing is written.
		if err := billing.Verify(calc); err != nil {
			s.Logger.Errorw("invoice verification failed",
				"organisation_id", org.ID,
				"month", req.Month,
				"year", req.Year,
				"error", err,
			)
			return "", err
		}

		inv, err := s.buildInvoice(ctx, calc)
		if err != nil {
			return "", err
		}

		if err := s.InvoiceRepo.CreateWithLineItems(ctx, inv); err != nil {
			return "", err
		}

		log := auditlog.New(auditlog.EntityInvoice, inv.ID, types.GetActor(ctx), auditlog.ActionGenerate).
			WithChange(nil, types.Metadata{
				"invoice_number": inv.InvoiceNumber,
				"total":          inv.Total.String(),
				"currency":       inv.Currency,
			})
		if err := s.AuditLogRepo.Create(ctx, log); err != nil {
			return "", err
		}

		return inv.ID, nil
	})
	if err != nil {
		if ierr.IsAlreadyExists(err) {
			// A period invoice exists without a registry row, e.g. created
			// before the registry key was written. Resolve to it.
			if existing, gerr := s.InvoiceRepo.GetByPeriod(ctx, org.ID, req.Month, req.Year); gerr == nil {
				outcome = idempotency.Outcome{Status: idempotency.OutcomeExisting, EntityID: existing.ID}
				err = nil
			}
		}
		if err != nil {
			return nil, err
		}
	}

	s.Metrics.InvoicesGenerated.WithLabelValues(string(outcome.Status)).Inc()

	inv, err := s.InvoiceRepo.Get(ctx, outcome.EntityID)
	if err != nil {
		return nil, err
	}

	return &dto.GenerateInvoiceResponse{
		InvoiceID: inv.ID,
		Status:    string(outcome.Status),
		Invoice:   &dto.InvoiceResponse{Invoice: inv},
		Unpriced:  unpriced,
	}, nil
}

// calculate assembles the pure calculator's input from the stores.
func (s *invoiceService) calculate(ctx context.Context, org *organisation.Organisation, month, year int) (*billing.CalculatedInvoice, error) {
	billingDate := billing.BillingDate(month, year)

	cfg, err := s.BillingConfigRepo.GetByOrganisation(ctx, org.ID)
	if err != nil {
		if !ierr.IsNotFound(err) {
			return nil, err
		}
		cfg = s.defaultBillingConfig(org)
	}

	aggregates, err := s.AggregateRepo.GetByPeriod(ctx, org.ID, month, year)
	if err != nil {
		return nil, err
	}

	rules, err := s.PricingRepo.ListEffective(ctx, org.ID, billingDate)
	if err != nil {
		return nil, err
	}

	minimums, err := s.MinimumChargeRepo.ListEffective(ctx, org.ID, billingDate)
	if err != nil {
		return nil, err
	}

	rates, err := s.ExchangeRateRepo.ListEffective(ctx, billingDate)
	if err != nil {
		return nil, err
	}

	return billing.Calculate(billing.CalculationInput{
		OrganisationID: org.ID,
		Month:          month,
		Year:           year,
		Aggregates:     aggregates,
		PricingRules:   rules,
		MinimumCharges: minimums,
		BillingConfig:  cfg,
		ExchangeRates:  rates,
	})
}

// defaultBillingConfig applies platform defaults for organisations that
// never configured billing.
func (s *invoiceService) defaultBillingConfig(org *organisation.Organisation) *pricing.BillingConfig {
	taxRate, err := decimal.NewFromString(s.Config.Billing.DefaultTaxRate)
	if err != nil {
		taxRate = decimal.Zero
	}
	currency := org.Currency
	if currency == "" {
		currency = s.Config.Billing.DefaultCurrency
	}
	return pricing.NewBillingConfig(org.ID, taxRate, currency, s.Config.Billing.PaymentTermsDays)
}

// buildInvoice maps the calculator output onto a draft invoice with the
// next number in the month's sequence.
func (s *invoiceService) buildInvoice(ctx context.Context, calc *billing.CalculatedInvoice) (*invoice.Invoice, error) {
	prefix := fmt.Sprintf("INV-%d%02d", calc.Year, calc.Month)
	seq, err := s.InvoiceRepo.NextSequence(ctx, prefix)
	if err != nil {
		return nil, err
	}

	inv := invoice.New(calc.OrganisationID, fmt.Sprintf("%s-%04d", prefix, seq), calc.Currency, calc.Month, calc.Year)
	inv.Subtotal = calc.Subtotal
	inv.Tax = calc.Tax
	inv.Discount = calc.Discount
	inv.Total = calc.Total
	inv.DueDate = calc.DueDate

	if len(calc.UnpricedMetrics) > 0 {
		inv.Metadata = types.Metadata{"unpriced_metrics": fmt.Sprintf("%v", calc.UnpricedMetrics)}
	}

	for _, line := range calc.Lines {
		item := invoice.NewLineItem(
			inv.ID,
			line.LineNumber,
			line.Description,
			line.MetricName,
			line.Unit,
			line.Quantity,
			line.UnitPrice,
			line.Total,
		)
		item.Metadata = line.Metadata
		inv.LineItems = append(inv.LineItems, item)
	}

	return inv, inv.Validate()
}

func (s *invoiceService) GenerateAll(ctx context.Context, month, year int) (*InvoiceSweepStats, error) {
	if err := types.ValidateBillingMonth(month, year); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrValidation)
	}

	orgs, err := s.OrganisationRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &InvoiceSweepStats{Organisations: len(orgs)}
	results := make([]string, len(orgs))

	p := pool.New().WithContext(ctx).WithMaxGoroutines(invoiceSweepConcurrency)
	for i, org := range orgs {
		i, org := i, org
		p.Go(func(ctx context.Context) error {
			resp, err := s.Generate(ctx, &dto.GenerateInvoiceRequest{
				OrganisationID: org.ID,
				Month:          month,
				Year:           year,
			})
			if err != nil {
				s.Logger.Errorw("invoice generation failed for organisation",
					"organisation_id", org.ID,
					"month", month,
					"year", year,
					"error", err,
				)
				results[i] = "failed:" + org.ID
				return err
			}
			results[i] = resp.Status
			return nil
		})
	}

	// Collected errors surface together; successful organisations have
	// already committed their invoices.
	sweepErr := p.Wait()

	for i, r := range results {
		switch r {
		case string(idempotency.OutcomeCreated):
			stats.Created++
		case string(idempotency.OutcomeExisting):
			stats.Existing++
		default:
			if r != "" {
				stats.Failed = append(stats.Failed, orgs[i].ID)
			}
		}
	}

	s.Logger.Infow("invoice sweep finished",
		"month", month,
		"year", year,
		"organisations", stats.Organisations,
		"created", stats.Created,
		"existing", stats.Existing,
		"failed", len(stats.Failed),
	)
	return stats, sweepErr
}

func (s *invoiceService) Get(ctx context.Context, id string) (*dto.InvoiceResponse, error) {
	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.InvoiceResponse{Invoice: inv}, nil
}

func (s *invoiceService) List(ctx context.Context, req *dto.ListInvoicesRequest) (*dto.ListInvoicesResponse, error) {
	invoices, err := s.InvoiceRepo.List(ctx, &invoice.Filter{
		OrganisationID: req.OrganisationID,
		Statuses:       req.Status,
		Month:          req.Month,
		Year:           req.Year,
		Limit:          req.Limit,
		Offset:         req.Offset,
	})
	if err != nil {
		return nil, err
	}

	resp := &dto.ListInvoicesResponse{Items: make([]*dto.InvoiceResponse, 0, len(invoices)), Total: len(invoices)}
	for _, inv := range invoices {
		resp.Items = append(resp.Items, &dto.InvoiceResponse{Invoice: inv})
	}
	return resp, nil
}

func (s *invoiceService) Finalize(ctx context.Context, id string) (*dto.InvoiceResponse, error) {
	var inv *invoice.Invoice

	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		loaded, err := s.InvoiceRepo.Get(ctx, id)
		if err != nil {
			return err
		}

		if !loaded.CanTransitionTo(types.InvoiceStatusFinalized) {
			return ierr.NewError("invoice cannot be finalized").
				WithHintf("Invoice is %s; only draft invoices can be finalized", loaded.InvoiceStatus).
				WithReportableDetails(map[string]any{"invoice_id": id, "status": loaded.InvoiceStatus}).
				Mark(ierr.ErrInvalidOperation)
		}

		now := time.Now().UTC()
		if err := s.InvoiceRepo.UpdateStatus(ctx, id, types.InvoiceStatusFinalized, now); err != nil {
			return err
		}

		log := auditlog.New(auditlog.EntityInvoice, id, types.GetActor(ctx), auditlog.ActionFinalize).
			WithChange(
				types.Metadata{"status": string(loaded.InvoiceStatus)},
				types.Metadata{"status": string(types.InvoiceStatusFinalized)},
			)
		if err := s.AuditLogRepo.Create(ctx, log); err != nil {
			return err
		}

		inv = loaded
		inv.InvoiceStatus = types.InvoiceStatusFinalized
		inv.IssuedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Delivery is best-effort: the finalized state is already durable and
	// each side effect logs its own failure.
	s.deliverInvoice(ctx, inv)

	refreshed, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.InvoiceResponse{Invoice: refreshed}, nil
}

func (s *invoiceService) Void(ctx context.Context, id string) (*dto.InvoiceResponse, error) {
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		loaded, err := s.InvoiceRepo.Get(ctx, id)
		if err != nil {
			return err
		}

		if !loaded.CanTransitionTo(types.InvoiceStatusVoid) {
			return ierr.NewError("invoice cannot be voided").
				WithHintf("Invoice is %s", loaded.InvoiceStatus).
				WithReportableDetails(map[string]any{"invoice_id": id, "status": loaded.InvoiceStatus}).
				Mark(ierr.ErrInvalidOperation)
		}

		if err := s.InvoiceRepo.UpdateStatus(ctx, id, types.InvoiceStatusVoid, time.Now().UTC()); err != nil {
			return err
		}

		log := auditlog.New(auditlog.EntityInvoice, id, types.GetActor(ctx), auditlog.ActionVoid).
			WithChange(
				types.Metadata{"status": string(loaded.InvoiceStatus)},
				types.Metadata{"status": string(types.InvoiceStatusVoid)},
			)
		return s.AuditLogRepo.Create(ctx, log)
	})
	if err != nil {
		return nil, err
	}

	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.InvoiceResponse{Invoice: inv}, nil
}

func (s *invoiceService) PDFURL(ctx context.Context, id string) (*dto.InvoicePDFResponse, error) {
	if s.S3 == nil {
		return nil, ierr.NewError("document storage is disabled").
			WithHint("Enable s3 in the configuration").
			Mark(ierr.ErrInvalidOperation)
	}

	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inv.InvoiceStatus.IsFinal() {
		return nil, ierr.NewError("draft invoices have no document").
			WithHint("Finalize the invoice first").
			Mark(ierr.ErrInvalidOperation)
	}

	if inv.PDFURL == nil {
		if err := s.renderAndStorePDF(ctx, inv); err != nil {
			return nil, err
		}
	}

	url, err := s.S3.GetPresignedUrl(ctx, inv.ID, s3.DocumentTypeInvoice)
	if err != nil {
		return nil, err
	}
	return &dto.InvoicePDFResponse{InvoiceID: inv.ID, URL: url}, nil
}

// deliverInvoice runs the post-finalisation side effects. Each failure is
// logged and the rest continue; the invoice only gains the `sent` mark when
// the email actually went out.
func (s *invoiceService) deliverInvoice(ctx context.Context, inv *invoice.Invoice) {
	if s.PDFGenerator != nil && s.S3 != nil {
		if err := s.renderAndStorePDF(ctx, inv); err != nil {
			s.Logger.Errorw("invoice pdf render failed",
				"invoice_id", inv.ID,
				"error", err,
			)
		}
	}

	sent, err := s.emailInvoice(ctx, inv)
	if err != nil {
		s.Logger.Errorw("invoice email failed",
			"invoice_id", inv.ID,
			"error", err,
		)
		return
	}
	if !sent {
		return
	}

	if err := s.InvoiceRepo.UpdateStatus(ctx, inv.ID, types.InvoiceStatusSent, time.Now().UTC()); err != nil {
		s.Logger.Errorw("failed to mark invoice sent",
			"invoice_id", inv.ID,
			"error", err,
		)
	}
}

func (s *invoiceService) renderAndStorePDF(ctx context.Context, inv *invoice.Invoice) error {
	org, err := s.OrganisationRepo.Get(ctx, inv.OrganisationID)
	if err != nil {
		return err
	}

	data := buildInvoicePDFData(inv, org.Name)
	pdfBytes, err := s.PDFGenerator.RenderInvoicePdf(ctx, data)
	if err != nil {
		return err
	}

	doc := s3.NewPdfDocument(inv.ID, pdfBytes, s3.DocumentTypeInvoice)
	if err := s.S3.UploadDocument(ctx, doc); err != nil {
		return err
	}

	// pdf_url stores the object key; presigning happens on read.
	return s.InvoiceRepo.SetPDFURL(ctx, inv.ID, inv.ID)
}

// emailInvoice mails the invoice to the organisation's users. Returns
// whether at least one message was delivered.
func (s *invoiceService) emailInvoice(ctx context.Context, inv *invoice.Invoice) (bool, error) {
	users, err := s.UserRepo.ListByOrganisation(ctx, inv.OrganisationID)
	if err != nil {
		return false, err
	}
	if len(users) == 0 {
		s.Logger.Warnw("organisation has no users to email the invoice to",
			"invoice_id", inv.ID,
			"organisation_id", inv.OrganisationID,
		)
		return false, nil
	}

	org, err := s.OrganisationRepo.Get(ctx, inv.OrganisationID)
	if err != nil {
		return false, err
	}

	data := map[string]interface{}{
		"invoice_number":    inv.InvoiceNumber,
		"organisation_name": org.Name,
		"billing_period":    fmt.Sprintf("%04d-%02d", inv.Year, inv.Month),
		"total":             inv.Total.String(),
		"currency":          inv.Currency,
		"due_date":          inv.DueDate.Format("2006-01-02"),
		"invoice_url":       s.invoiceLink(inv),
	}

	delivered := false
	for _, u := range users {
		resp, err := s.Email.SendEmailWithTemplate(ctx, emailSvc.SendEmailWithTemplateRequest{
			ToAddress:    u.Email,
			Subject:      fmt.Sprintf("Invoice %s", inv.InvoiceNumber),
			TemplatePath: invoiceSentTemplate,
			Data:         data,
		})
		if err != nil {
			s.Logger.Errorw("invoice email send failed",
				"invoice_id", inv.ID,
				"to", u.Email,
				"error", err,
			)
			continue
		}
		if resp.Success {
			delivered = true
			s.audit(ctx, auditlog.New(auditlog.EntityEmail, inv.ID, types.SystemActor, auditlog.ActionSent).
				WithChange(nil, types.Metadata{
					"to":       u.Email,
					"template": invoiceSentTemplate,
				}))
		}
	}
	return delivered, nil
}

// invoiceLink is the address customers open the invoice at. The PDF itself
// is presigned on demand; the link points at the API's pdf endpoint.
func (s *invoiceService) invoiceLink(inv *invoice.Invoice) string {
	return fmt.Sprintf("/api/v1/invoices/%s/pdf", inv.ID)
}

func buildInvoicePDFData(inv *invoice.Invoice, organisationName string) *domainPDF.InvoiceData {
	data := &domainPDF.InvoiceData{
		ID:               inv.ID,
		InvoiceNumber:    inv.InvoiceNumber,
		Status:           string(inv.InvoiceStatus),
		OrganisationName: organisationName,
		Currency:         inv.Currency,
		PeriodStart:      domainPDF.CustomTime{Time: inv.PeriodStart},
		PeriodEnd:        domainPDF.CustomTime{Time: inv.PeriodEnd},
		DueDate:          domainPDF.CustomTime{Time: inv.DueDate},
		Subtotal:         inv.Subtotal.String(),
		Tax:              inv.Tax.String(),
		Total:            inv.Total.String(),
	}
	if inv.IssuedAt != nil {
		data.IssuedAt = domainPDF.CustomTime{Time: *inv.IssuedAt}
	}
	for _, item := range inv.LineItems {
		data.LineItems = append(data.LineItems, domainPDF.LineItemData{
			LineNumber:  item.LineNumber,
			Description: item.Description,
			MetricName:  item.MetricName,
			Unit:        item.Unit,
			Quantity:    item.Quantity.String(),
			UnitPrice:   item.UnitPrice.String(),
			Total:       item.Total.String(),
		})
	}
	return data
}
