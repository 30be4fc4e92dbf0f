package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/domain/refund"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// InMemoryRefundStore implements refund.Repository. The payment store
// reference stands in for the join the real repository does to resolve an
// organisation filter.
type InMemoryRefundStore struct {
	mu        sync.Mutex
	refunds   map[string]*refund.Refund
	sequences map[string]int64
	payments  *InMemoryPaymentStore
}

func NewInMemoryRefundStore(payments *InMemoryPaymentStore) *InMemoryRefundStore {
	return &InMemoryRefundStore{
		refunds:   make(map[string]*refund.Refund),
		sequences: make(map[string]int64),
		payments:  payments,
	}
}

func (s *InMemoryRefundStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refunds = make(map[string]*refund.Refund)
	s.sequences = make(map[string]int64)
}

func (s *InMemoryRefundStore) Create(ctx context.Context, r *refund.Refund) error {
	if r == nil {
		return ierr.NewError("refund cannot be nil").
			Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refunds[r.ID]; exists {
		return ierr.NewError("refund already exists").
			Mark(ierr.ErrAlreadyExists)
	}
	if r.BaseModel.Status == "" {
		r.BaseModel.Status = types.StatusPublished
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.refunds[r.ID] = r
	return nil
}

func (s *InMemoryRefundStore) Get(ctx context.Context, id string) (*refund.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.refunds[id]
	if !ok || r.BaseModel.Status == types.StatusDeleted {
		return nil, ierr.NewError("refund not found").
			Mark(ierr.ErrNotFound)
	}
	return r, nil
}

func (s *InMemoryRefundStore) GetByGatewayRefundID(ctx context.Context, gatewayRefundID string) (*refund.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.refunds {
		if r.GatewayRefundID != nil && *r.GatewayRefundID == gatewayRefundID && r.BaseModel.Status != types.StatusDeleted {
			return r, nil
		}
	}
	return nil, ierr.NewError("refund not found").
		WithReportableDetails(map[string]any{"gateway_refund_id": gatewayRefundID}).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryRefundStore) ListByPayment(ctx context.Context, paymentID string) ([]*refund.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*refund.Refund
	for _, r := range s.refunds {
		if r.PaymentID == paymentID && r.BaseModel.Status != types.StatusDeleted {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *InMemoryRefundStore) List(ctx context.Context, filter *refund.Filter) ([]*refund.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*refund.Refund
	for _, r := range s.refunds {
		if r.BaseModel.Status == types.StatusDeleted {
			continue
		}
		if filter != nil {
			if filter.PaymentID != "" && r.PaymentID != filter.PaymentID {
				continue
			}
			if filter.InvoiceID != "" && r.InvoiceID != filter.InvoiceID {
				continue
			}
			if filter.OrganisationID != "" && !s.refundInOrganisation(ctx, r, filter.OrganisationID) {
				continue
			}
		}
		result = append(result, r)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if filter != nil {
		result = paginate(result, filter.Limit, filter.Offset)
	}
	return result, nil
}

// refundInOrganisation resolves the organisation through the payment row,
// like the join the real repository does.
func (s *InMemoryRefundStore) refundInOrganisation(ctx context.Context, r *refund.Refund, organisationID string) bool {
	if s.payments == nil {
		return true
	}
	p, err := s.payments.Get(ctx, r.PaymentID)
	if err != nil {
		return false
	}
	return p.OrganisationID == organisationID
}

func (s *InMemoryRefundStore) Update(ctx context.Context, r *refund.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refunds[r.ID]; !ok {
		return ierr.NewError("refund not found").
			Mark(ierr.ErrNotFound)
	}
	r.UpdatedAt = time.Now().UTC()
	s.refunds[r.ID] = r
	return nil
}

func (s *InMemoryRefundStore) SettledAmount(ctx context.Context, paymentID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := decimal.Zero
	for _, r := range s.refunds {
		if r.PaymentID != paymentID || r.BaseModel.Status == types.StatusDeleted {
			continue
		}
		if r.Status == types.RefundStatusProcessed {
			total = total.Add(r.Amount)
		}
	}
	return total, nil
}

func (s *InMemoryRefundStore) ReservedAmount(ctx context.Context, paymentID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := decimal.Zero
	for _, r := range s.refunds {
		if r.PaymentID != paymentID || r.BaseModel.Status == types.StatusDeleted {
			continue
		}
		if r.Status == types.RefundStatusPending || r.Status == types.RefundStatusProcessed {
			total = total.Add(r.Amount)
		}
	}
	return total, nil
}

func (s *InMemoryRefundStore) NextSequence(ctx context.Context, prefix string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequences[prefix]++
	return s.sequences[prefix], nil
}
