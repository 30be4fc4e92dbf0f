package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meterline/meterline/internal/domain/payment"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// InMemoryPaymentStore implements payment.Repository
type InMemoryPaymentStore struct {
	mu       sync.Mutex
	payments map[string]*payment.Payment
}

func NewInMemoryPaymentStore() *InMemoryPaymentStore {
	return &InMemoryPaymentStore{
		payments: make(map[string]*payment.Payment),
	}
}

func (s *InMemoryPaymentStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments = make(map[string]*payment.Payment)
}

func (s *InMemoryPaymentStore) Create(ctx context.Context, p *payment.Payment) error {
	if p == nil {
		return ierr.NewError("payment cannot be nil").
			Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[p.ID]; exists {
		return ierr.NewError("payment already exists").
			Mark(ierr.ErrAlreadyExists)
	}
	if p.Status == "" {
		p.Status = types.PaymentStatusPending
	}
	if p.BaseModel.Status == "" {
		p.BaseModel.Status = types.StatusPublished
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.payments[p.ID] = p
	return nil
}

func (s *InMemoryPaymentStore) Get(ctx context.Context, id string) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *InMemoryPaymentStore) get(id string) (*payment.Payment, error) {
	p, ok := s.payments[id]
	if !ok || p.BaseModel.Status == types.StatusDeleted {
		return nil, ierr.NewError("payment not found").
			Mark(ierr.ErrNotFound)
	}
	return p, nil
}

func (s *InMemoryPaymentStore) GetByGatewayOrderID(ctx context.Context, orderID string) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.payments {
		if p.GatewayOrderID == orderID && p.BaseModel.Status != types.StatusDeleted {
			return p, nil
		}
	}
	return nil, ierr.NewError("payment not found").
		WithReportableDetails(map[string]any{"gateway_order_id": orderID}).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryPaymentStore) GetByGatewayPaymentID(ctx context.Context, paymentID string) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.payments {
		if p.GatewayPaymentID != nil && *p.GatewayPaymentID == paymentID && p.BaseModel.Status != types.StatusDeleted {
			return p, nil
		}
	}
	return nil, ierr.NewError("payment not found").
		WithReportableDetails(map[string]any{"gateway_payment_id": paymentID}).
		Mark(ierr.ErrNotFound)
}

// GetForUpdate behaves like Get; in-memory tests have no row locks
func (s *InMemoryPaymentStore) GetForUpdate(ctx context.Context, id string) (*payment.Payment, error) {
	return s.Get(ctx, id)
}

func (s *InMemoryPaymentStore) GetActiveByInvoice(ctx context.Context, invoiceID string) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newest *payment.Payment
	for _, p := range s.payments {
		if p.InvoiceID != invoiceID || p.BaseModel.Status == types.StatusDeleted {
			continue
		}
		if p.Status == types.PaymentStatusFailed {
			continue
		}
		if newest == nil || p.CreatedAt.After(newest.CreatedAt) {
			newest = p
		}
	}
	if newest == nil {
		return nil, ierr.NewError("no active payment for invoice").
			Mark(ierr.ErrNotFound)
	}
	return newest, nil
}

func (s *InMemoryPaymentStore) List(ctx context.Context, filter *payment.Filter) ([]*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*payment.Payment
	for _, p := range s.payments {
		if p.BaseModel.Status == types.StatusDeleted {
			continue
		}
		if filter != nil {
			if filter.OrganisationID != "" && p.OrganisationID != filter.OrganisationID {
				continue
			}
			if filter.InvoiceID != "" && p.InvoiceID != filter.InvoiceID {
				continue
			}
			if len(filter.Statuses) > 0 && !containsPaymentStatus(filter.Statuses, p.Status) {
				continue
			}
		}
		result = append(result, p)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if filter != nil {
		result = paginate(result, filter.Limit, filter.Offset)
	}
	return result, nil
}

func (s *InMemoryPaymentStore) Update(ctx context.Context, p *payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(p.ID); err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()
	s.payments[p.ID] = p
	return nil
}

func (s *InMemoryPaymentStore) ListRetryEligible(ctx context.Context, now time.Time) ([]*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*payment.Payment
	for _, p := range s.payments {
		if p.BaseModel.Status == types.StatusDeleted {
			continue
		}
		if p.Status != types.PaymentStatusFailed {
			continue
		}
		if p.RetryCount >= p.MaxRetries {
			continue
		}
		if p.NextRetryAt == nil || p.NextRetryAt.After(now) {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].NextRetryAt.Before(*result[j].NextRetryAt) })
	return result, nil
}

func (s *InMemoryPaymentStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*payment.Payment
	for _, p := range s.payments {
		if p.BaseModel.Status == types.StatusDeleted {
			continue
		}
		if p.Status == types.PaymentStatusPending && p.CreatedAt.Before(cutoff) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *InMemoryPaymentStore) ListByWindow(ctx context.Context, from, to time.Time) ([]*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*payment.Payment
	for _, p := range s.payments {
		if p.BaseModel.Status == types.StatusDeleted {
			continue
		}
		if p.CreatedAt.Before(from) || !p.CreatedAt.Before(to) {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *InMemoryPaymentStore) MarkReconciled(ctx context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp := at.UTC()
	for _, id := range ids {
		if p, ok := s.payments[id]; ok {
			p.ReconciledAt = &stamp
		}
	}
	return nil
}

func containsPaymentStatus(list []types.PaymentStatus, status types.PaymentStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}
