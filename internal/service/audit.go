package service

import (
	"context"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/domain/auditlog"
	"github.com/meterline/meterline/internal/types"
)

// AuditService reads the append-only audit trail.
type AuditService interface {
	List(ctx context.Context, req *dto.ListAuditLogsRequest) (*dto.ListAuditLogsResponse, error)
	ListEmailNotifications(ctx context.Context, limit, offset int) (*dto.ListAuditLogsResponse, error)
}

type auditService struct {
	ServiceParams
}

func NewAuditService(params ServiceParams) AuditService {
	return &auditService{ServiceParams: params}
}

func (s *auditService) List(ctx context.Context, req *dto.ListAuditLogsRequest) (*dto.ListAuditLogsResponse, error) {
	filter := req.ToFilter()
	clampAuditFilter(filter)

	logs, err := s.AuditLogRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	return auditListResponse(logs), nil
}

// ListEmailNotifications lists sent emails. Every delivered email writes an
// audit row, so the notification feed is a filtered view of the trail.
func (s *auditService) ListEmailNotifications(ctx context.Context, limit, offset int) (*dto.ListAuditLogsResponse, error) {
	filter := &auditlog.Filter{
		EntityType: auditlog.EntityEmail,
		Action:     auditlog.ActionSent,
		Limit:      limit,
		Offset:     offset,
	}
	clampAuditFilter(filter)

	logs, err := s.AuditLogRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	return auditListResponse(logs), nil
}

func clampAuditFilter(f *auditlog.Filter) {
	if f.Limit <= 0 {
		f.Limit = types.DefaultQueryLimit
	}
	if f.Limit > types.MaxQueryLimit {
		f.Limit = types.MaxQueryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

func auditListResponse(logs []*auditlog.AuditLog) *dto.ListAuditLogsResponse {
	items := make([]*dto.AuditLogResponse, len(logs))
	for i, l := range logs {
		items[i] = &dto.AuditLogResponse{AuditLog: l}
	}
	return &dto.ListAuditLogsResponse{Items: items, Total: len(items)}
}
