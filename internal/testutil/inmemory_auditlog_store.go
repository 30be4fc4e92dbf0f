package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meterline/meterline/internal/domain/auditlog"
	ierr "github.com/meterline/meterline/internal/errors"
)

// InMemoryAuditLogStore implements auditlog.Repository; rows are append-only
type InMemoryAuditLogStore struct {
	mu   sync.Mutex
	logs []*auditlog.AuditLog
}

func NewInMemoryAuditLogStore() *InMemoryAuditLogStore {
	return &InMemoryAuditLogStore{}
}

func (s *InMemoryAuditLogStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = nil
}

func (s *InMemoryAuditLogStore) Create(ctx context.Context, log *auditlog.AuditLog) error {
	if log == nil {
		return ierr.NewError("audit log cannot be nil").
			Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	s.logs = append(s.logs, log)
	return nil
}

func (s *InMemoryAuditLogStore) List(ctx context.Context, filter *auditlog.Filter) ([]*auditlog.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*auditlog.AuditLog
	for _, l := range s.logs {
		if filter != nil {
			if filter.EntityType != "" && l.EntityType != filter.EntityType {
				continue
			}
			if filter.EntityID != "" && l.EntityID != filter.EntityID {
				continue
			}
			if filter.Actor != "" && l.Actor != filter.Actor {
				continue
			}
			if filter.Action != "" && l.Action != filter.Action {
				continue
			}
			if filter.From != nil && l.CreatedAt.Before(*filter.From) {
				continue
			}
			if filter.To != nil && !l.CreatedAt.Before(*filter.To) {
				continue
			}
		}
		result = append(result, l)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if filter != nil {
		result = paginate(result, filter.Limit, filter.Offset)
	}
	return result, nil
}

// Entries returns a snapshot of everything logged, for assertions
func (s *InMemoryAuditLogStore) Entries() []*auditlog.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]*auditlog.AuditLog, len(s.logs))
	copy(result, s.logs)
	return result
}
