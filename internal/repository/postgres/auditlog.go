package postgres

import (
	"context"
	"fmt"

	"github.com/meterline/meterline/internal/domain/auditlog"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/types"
)

type auditLogRepository struct {
	client postgres.IClient
	log    *logger.Logger
}

func NewAuditLogRepository(client postgres.IClient, log *logger.Logger) auditlog.Repository {
	return &auditLogRepository{client: client, log: log}
}

// Create appends an audit row. Callers on financial paths run it inside the
// same transaction as the change they record.
func (r *auditLogRepository) Create(ctx context.Context, entry *auditlog.AuditLog) error {
	span := StartRepositorySpan(ctx, "audit_log", "create", map[string]interface{}{
		"entity_type": entry.EntityType,
		"entity_id":   entry.EntityID,
		"action":      entry.Action,
	})
	defer FinishSpan(span)

	entry.BaseModel = types.GetDefaultBaseModel(ctx)
	if entry.Actor == "" {
		entry.Actor = types.GetActor(ctx)
	}

	client := r.client.Querier(ctx)

	query := `
		INSERT INTO audit_logs (
			id, entity_type, entity_id, actor, action, before, after,
			ip, user_agent,
			status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :entity_type, :entity_id, :actor, :action, :before, :after,
			:ip, :user_agent,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)
	`

	if _, err := client.NamedExec(query, entry); err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to write audit log").
			WithReportableDetails(map[string]interface{}{
				"entity_type": entry.EntityType,
				"entity_id":   entry.EntityID,
			}).
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *auditLogRepository) List(ctx context.Context, filter *auditlog.Filter) ([]*auditlog.AuditLog, error) {
	span := StartRepositorySpan(ctx, "audit_log", "list", nil)
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `SELECT * FROM audit_logs WHERE 1=1`
	var args []interface{}

	if filter != nil {
		if filter.EntityType != "" {
			args = append(args, filter.EntityType)
			query += fmt.Sprintf(` AND entity_type = $%d`, len(args))
		}
		if filter.EntityID != "" {
			args = append(args, filter.EntityID)
			query += fmt.Sprintf(` AND entity_id = $%d`, len(args))
		}
		if filter.Actor != "" {
			args = append(args, filter.Actor)
			query += fmt.Sprintf(` AND actor = $%d`, len(args))
		}
		if filter.Action != "" {
			args = append(args, filter.Action)
			query += fmt.Sprintf(` AND action = $%d`, len(args))
		}
		if filter.From != nil {
			args = append(args, *filter.From)
			query += fmt.Sprintf(` AND created_at >= $%d`, len(args))
		}
		if filter.To != nil {
			args = append(args, *filter.To)
			query += fmt.Sprintf(` AND created_at < $%d`, len(args))
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

	var logs []*auditlog.AuditLog
	if err := client.SelectContext(ctx, &logs, query, args...); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list audit logs").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return logs, nil
}
