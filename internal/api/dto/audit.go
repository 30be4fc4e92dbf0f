package dto

import (
	"time"

	"github.com/meterline/meterline/internal/domain/auditlog"
)

type ListAuditLogsRequest struct {
	EntityType string     `form:"entity_type" json:"entity_type"`
	EntityID   string     `form:"entity_id" json:"entity_id"`
	Actor      string     `form:"actor" json:"actor"`
	Action     string     `form:"action" json:"action"`
	From       *time.Time `form:"from" json:"from,omitempty"`
	To         *time.Time `form:"to" json:"to,omitempty"`
	Limit      int        `form:"limit" json:"limit"`
	Offset     int        `form:"offset" json:"offset"`
}

func (r *ListAuditLogsRequest) ToFilter() *auditlog.Filter {
	return &auditlog.Filter{
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Actor:      r.Actor,
		Action:     r.Action,
		From:       r.From,
		To:         r.To,
		Limit:      r.Limit,
		Offset:     r.Offset,
	}
}

type AuditLogResponse struct {
	*auditlog.AuditLog
}

type ListAuditLogsResponse struct {
	Items []*AuditLogResponse `json:"items"`
	Total int                 `json:"total"`
}
