package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meterline/meterline/internal/domain/alert"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// InMemoryAlertRuleStore implements alert.RuleRepository
type InMemoryAlertRuleStore struct {
	mu    sync.Mutex
	rules map[string]*alert.Rule
}

func NewInMemoryAlertRuleStore() *InMemoryAlertRuleStore {
	return &InMemoryAlertRuleStore{
		rules: make(map[string]*alert.Rule),
	}
}

func (s *InMemoryAlertRuleStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = make(map[string]*alert.Rule)
}

func (s *InMemoryAlertRuleStore) Create(ctx context.Context, rule *alert.Rule) error {
	if rule == nil {
		return ierr.NewError("alert rule cannot be nil").
			Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return ierr.NewError("alert rule already exists").
			Mark(ierr.ErrAlreadyExists)
	}
	if rule.Status == "" {
		rule.Status = types.StatusPublished
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	s.rules[rule.ID] = rule
	return nil
}

func (s *InMemoryAlertRuleStore) Get(ctx context.Context, id string) (*alert.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok || rule.Status == types.StatusDeleted {
		return nil, ierr.NewError("alert rule not found").
			Mark(ierr.ErrNotFound)
	}
	return rule, nil
}

func (s *InMemoryAlertRuleStore) ListActive(ctx context.Context) ([]*alert.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*alert.Rule
	for _, r := range s.rules {
		if r.IsActive && r.Status == types.StatusPublished {
			result = append(result, r)
		}
	}
	sortAlertRules(result)
	return result, nil
}

func (s *InMemoryAlertRuleStore) ListByOrganisation(ctx context.Context, organisationID string) ([]*alert.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*alert.Rule
	for _, r := range s.rules {
		if r.OrganisationID == organisationID && r.Status != types.StatusDeleted {
			result = append(result, r)
		}
	}
	sortAlertRules(result)
	return result, nil
}

func (s *InMemoryAlertRuleStore) Update(ctx context.Context, rule *alert.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[rule.ID]; !ok {
		return ierr.NewError("alert rule not found").
			Mark(ierr.ErrNotFound)
	}
	rule.UpdatedAt = time.Now().UTC()
	s.rules[rule.ID] = rule
	return nil
}

func (s *InMemoryAlertRuleStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok || rule.Status == types.StatusDeleted {
		return ierr.NewError("alert rule not found").
			Mark(ierr.ErrNotFound)
	}
	rule.Status = types.StatusDeleted
	return nil
}

func (s *InMemoryAlertRuleStore) TouchLastAlert(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok {
		return ierr.NewError("alert rule not found").
			Mark(ierr.ErrNotFound)
	}
	stamp := at.UTC()
	rule.LastAlertAt = &stamp
	return nil
}

func sortAlertRules(rules []*alert.Rule) {
	sort.Slice(rules, func(i, j int) bool { return rules[i].CreatedAt.Before(rules[j].CreatedAt) })
}

// InMemoryAlertHistoryStore implements alert.HistoryRepository
type InMemoryAlertHistoryStore struct {
	mu      sync.Mutex
	history map[string]*alert.History
}

func NewInMemoryAlertHistoryStore() *InMemoryAlertHistoryStore {
	return &InMemoryAlertHistoryStore{
		history: make(map[string]*alert.History),
	}
}

func (s *InMemoryAlertHistoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = make(map[string]*alert.History)
}

func (s *InMemoryAlertHistoryStore) Create(ctx context.Context, h *alert.History) error {
	if h == nil {
		return ierr.NewError("alert history cannot be nil").
			Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.history[h.ID]; exists {
		return ierr.NewError("alert history already exists").
			Mark(ierr.ErrAlreadyExists)
	}
	if h.BaseModel.Status == "" {
		h.BaseModel.Status = types.StatusPublished
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	s.history[h.ID] = h
	return nil
}

func (s *InMemoryAlertHistoryStore) Get(ctx context.Context, id string) (*alert.History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.history[id]
	if !ok || h.BaseModel.Status == types.StatusDeleted {
		return nil, ierr.NewError("alert history not found").
			Mark(ierr.ErrNotFound)
	}
	return h, nil
}

func (s *InMemoryAlertHistoryStore) List(ctx context.Context, filter *alert.HistoryFilter) ([]*alert.History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*alert.History
	for _, h := range s.history {
		if h.BaseModel.Status == types.StatusDeleted {
			continue
		}
		if filter != nil {
			if filter.OrganisationID != "" && h.OrganisationID != filter.OrganisationID {
				continue
			}
			if filter.RuleID != "" && h.RuleID != filter.RuleID {
				continue
			}
			if len(filter.Statuses) > 0 && !containsHistoryStatus(filter.Statuses, h.Status) {
				continue
			}
			if filter.From != nil && h.CreatedAt.Before(*filter.From) {
				continue
			}
			if filter.To != nil && !h.CreatedAt.Before(*filter.To) {
				continue
			}
		}
		result = append(result, h)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if filter != nil {
		result = paginate(result, filter.Limit, filter.Offset)
	}
	return result, nil
}

func (s *InMemoryAlertHistoryStore) UpdateStatus(ctx context.Context, id string, status types.AlertHistoryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.history[id]
	if !ok {
		return ierr.NewError("alert history not found").
			Mark(ierr.ErrNotFound)
	}
	h.Status = status
	h.UpdatedAt = time.Now().UTC()
	return nil
}

func containsHistoryStatus(list []types.AlertHistoryStatus, status types.AlertHistoryStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}
