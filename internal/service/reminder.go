package service

import (
	"context"
	"fmt"
	"time"

	"github.com/meterline/meterline/internal/domain/auditlog"
	"github.com/meterline/meterline/internal/domain/invoice"
	emailSvc "github.com/meterline/meterline/internal/email"
	"github.com/meterline/meterline/internal/s3"
	"github.com/meterline/meterline/internal/types"
)

const paymentReminderTemplate = "payment_reminder.html"

// reminderStage is one rung of the reminder ladder, expressed as whole days
// until the due date (negative means past due).
type reminderStage struct {
	daysUntilDue int
	subject      string
	duePhrase    string
}

// The job runs once a day, so each invoice matches at most one stage per run
// and receives each reminder exactly once.
var reminderLadder = []reminderStage{
	{3, "Invoice %s is due soon", "is due in 3 days"},
	{0, "Invoice %s is due today", "is due today"},
	{-3, "Payment overdue for invoice %s", "is 3 days overdue"},
	{-7, "Final reminder for invoice %s", "is 7 days overdue; this is the final reminder"},
}

// ReminderService marks unpaid invoices overdue and emails the reminder
// ladder around each due date.
type ReminderService interface {
	Run(ctx context.Context) (*ReminderStats, error)
}

// ReminderStats summarises one reminder pass.
type ReminderStats struct {
	MarkedOverdue int `json:"marked_overdue"`
	Sent          int `json:"sent"`
	Failed        int `json:"failed"`
}

type reminderService struct {
	ServiceParams
}

func NewReminderService(params ServiceParams) ReminderService {
	return &reminderService{ServiceParams: params}
}

func (s *reminderService) Run(ctx context.Context) (*ReminderStats, error) {
	now := time.Now().UTC()
	stats := &ReminderStats{}

	s.markOverdue(ctx, now, stats)

	if !s.Config.Email.Enabled {
		s.Logger.Debugw("reminder emails disabled, overdue marking only")
		return stats, nil
	}

	today := now.Truncate(24 * time.Hour)
	from := today.AddDate(0, 0, -7)
	to := today.AddDate(0, 0, 4)

	invoices, err := s.InvoiceRepo.ListDueForReminder(ctx, from, to)
	if err != nil {
		return stats, err
	}

	for _, inv := range invoices {
		stage, ok := stageFor(inv, today)
		if !ok {
			continue
		}
		if s.sendReminder(ctx, inv, stage) {
			stats.Sent++
		} else {
			stats.Failed++
		}
	}

	s.Logger.Infow("reminder pass finished",
		"marked_overdue", stats.MarkedOverdue,
		"sent", stats.Sent,
		"failed", stats.Failed,
	)
	return stats, nil
}

// markOverdue flips unpaid invoices past their due date to overdue. Failures
// are logged per invoice; one bad row never blocks the rest.
func (s *reminderService) markOverdue(ctx context.Context, now time.Time, stats *ReminderStats) {
	pastDue, err := s.InvoiceRepo.ListUnpaidPastDue(ctx, now)
	if err != nil {
		s.Logger.Errorw("overdue scan failed", "error", err)
		return
	}

	for _, inv := range pastDue {
		if !inv.CanTransitionTo(types.InvoiceStatusOverdue) {
			continue
		}
		if err := s.InvoiceRepo.UpdateStatus(ctx, inv.ID, types.InvoiceStatusOverdue, now); err != nil {
			s.Logger.Errorw("failed to mark invoice overdue",
				"invoice_id", inv.ID,
				"error", err,
			)
			continue
		}
		s.audit(ctx, auditlog.New(auditlog.EntityInvoice, inv.ID, types.SystemActor, auditlog.ActionUpdate).
			WithChange(types.Metadata{"invoice_status": string(inv.InvoiceStatus)},
				types.Metadata{"invoice_status": string(types.InvoiceStatusOverdue)}))
		stats.MarkedOverdue++
	}
}

func stageFor(inv *invoice.Invoice, today time.Time) (reminderStage, bool) {
	dueDay := inv.DueDate.UTC().Truncate(24 * time.Hour)
	days := int(dueDay.Sub(today) / (24 * time.Hour))
	for _, stage := range reminderLadder {
		if stage.daysUntilDue == days {
			return stage, true
		}
	}
	return reminderStage{}, false
}

func (s *reminderService) sendReminder(ctx context.Context, inv *invoice.Invoice, stage reminderStage) bool {
	org, err := s.OrganisationRepo.Get(ctx, inv.OrganisationID)
	if err != nil {
		s.Logger.Errorw("reminder skipped, organisation lookup failed",
			"invoice_id", inv.ID,
			"error", err,
		)
		return false
	}
	users, err := s.UserRepo.ListByOrganisation(ctx, inv.OrganisationID)
	if err != nil || len(users) == 0 {
		return false
	}

	invoiceURL := ""
	if s.S3 != nil && inv.PDFURL != nil {
		if url, err := s.S3.GetPresignedUrl(ctx, inv.ID, s3.DocumentTypeInvoice); err == nil {
			invoiceURL = url
		}
	}

	data := map[string]interface{}{
		"organisation_name": org.Name,
		"invoice_number":    inv.InvoiceNumber,
		"total":             types.NewMoney(inv.Total, inv.Currency).Display(),
		"currency":          inv.Currency,
		"due_phrase":        stage.duePhrase,
		"invoice_url":       invoiceURL,
	}

	sent := false
	for _, u := range users {
		resp, err := s.Email.SendEmailWithTemplate(ctx, emailSvc.SendEmailWithTemplateRequest{
			ToAddress:    u.Email,
			Subject:      fmt.Sprintf(stage.subject, inv.InvoiceNumber),
			TemplatePath: paymentReminderTemplate,
			Data:         data,
		})
		if err != nil {
			s.Logger.Errorw("reminder email send failed",
				"invoice_id", inv.ID,
				"to", u.Email,
				"error", err,
			)
			continue
		}
		if resp.Success {
			sent = true
			s.audit(ctx, auditlog.New(auditlog.EntityEmail, inv.ID, types.SystemActor, auditlog.ActionSent).
				WithChange(nil, types.Metadata{
					"template":       paymentReminderTemplate,
					"to":             u.Email,
					"days_until_due": fmt.Sprintf("%d", stage.daysUntilDue),
				}))
		}
	}
	return sent
}
