package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meterline/meterline/internal/domain/invoice"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// InMemoryInvoiceStore implements invoice.Repository. The period map stands
// in for the partial unique index over non-cancelled invoices; the sequence
// map stands in for number_sequences.
type InMemoryInvoiceStore struct {
	mu        sync.Mutex
	invoices  map[string]*invoice.Invoice
	sequences map[string]int64
}

func NewInMemoryInvoiceStore() *InMemoryInvoiceStore {
	return &InMemoryInvoiceStore{
		invoices:  make(map[string]*invoice.Invoice),
		sequences: make(map[string]int64),
	}
}

func (s *InMemoryInvoiceStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices = make(map[string]*invoice.Invoice)
	s.sequences = make(map[string]int64)
}

func (s *InMemoryInvoiceStore) CreateWithLineItems(ctx context.Context, inv *invoice.Invoice) error {
	if inv == nil {
		return ierr.NewError("invoice cannot be nil").
			Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.invoices {
		if existing.OrganisationID == inv.OrganisationID &&
			existing.Month == inv.Month && existing.Year == inv.Year &&
			existing.InvoiceStatus != types.InvoiceStatusCancelled &&
			existing.Status != types.StatusDeleted {
			return ierr.NewError("invoice already exists for billing period").
				WithReportableDetails(map[string]any{
					"organisation_id": inv.OrganisationID,
					"month":           inv.Month,
					"year":            inv.Year,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
	}

	if inv.Status == "" {
		inv.Status = types.StatusPublished
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	s.invoices[inv.ID] = inv
	return nil
}

func (s *InMemoryInvoiceStore) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok || inv.Status == types.StatusDeleted {
		return nil, ierr.NewError("invoice not found").
			Mark(ierr.ErrNotFound)
	}
	return inv, nil
}

func (s *InMemoryInvoiceStore) GetByPeriod(ctx context.Context, organisationID string, month, year int) (*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inv := range s.invoices {
		if inv.OrganisationID == organisationID &&
			inv.Month == month && inv.Year == year &&
			inv.InvoiceStatus != types.InvoiceStatusCancelled &&
			inv.Status != types.StatusDeleted {
			return inv, nil
		}
	}
	return nil, ierr.NewErrorf("no invoice for organisation %s in %d-%02d", organisationID, year, month).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryInvoiceStore) List(ctx context.Context, filter *invoice.Filter) ([]*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*invoice.Invoice
	for _, inv := range s.invoices {
		if inv.Status == types.StatusDeleted {
			continue
		}
		if filter != nil {
			if filter.OrganisationID != "" && inv.OrganisationID != filter.OrganisationID {
				continue
			}
			if len(filter.Statuses) > 0 && !containsInvoiceStatus(filter.Statuses, inv.InvoiceStatus) {
				continue
			}
			if filter.Month > 0 && inv.Month != filter.Month {
				continue
			}
			if filter.Year > 0 && inv.Year != filter.Year {
				continue
			}
		}
		result = append(result, inv)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if filter != nil {
		result = paginate(result, filter.Limit, filter.Offset)
	}
	return result, nil
}

func (s *InMemoryInvoiceStore) UpdateStatus(ctx context.Context, id string, status types.InvoiceStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok || inv.Status == types.StatusDeleted {
		return ierr.NewErrorf("invoice %s not found", id).
			Mark(ierr.ErrNotFound)
	}

	inv.InvoiceStatus = status
	inv.UpdatedAt = at.UTC()
	switch status {
	case types.InvoiceStatusFinalized:
		issued := at.UTC()
		inv.IssuedAt = &issued
	case types.InvoiceStatusPaid:
		paid := at.UTC()
		inv.PaidAt = &paid
	}
	return nil
}

func (s *InMemoryInvoiceStore) SetPDFURL(ctx context.Context, id string, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok {
		return ierr.NewErrorf("invoice %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	inv.PDFURL = &url
	return nil
}

func (s *InMemoryInvoiceStore) NextSequence(ctx context.Context, prefix string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequences[prefix]++
	return s.sequences[prefix], nil
}

func (s *InMemoryInvoiceStore) ListDueForReminder(ctx context.Context, from, to time.Time) ([]*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*invoice.Invoice
	for _, inv := range s.invoices {
		if inv.Status != types.StatusPublished || inv.PaidAt != nil {
			continue
		}
		switch inv.InvoiceStatus {
		case types.InvoiceStatusFinalized, types.InvoiceStatusSent, types.InvoiceStatusOverdue:
		default:
			continue
		}
		if inv.DueDate.Before(from) || !inv.DueDate.Before(to) {
			continue
		}
		result = append(result, inv)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DueDate.Before(result[j].DueDate) })
	return result, nil
}

func (s *InMemoryInvoiceStore) ListUnpaidPastDue(ctx context.Context, now time.Time) ([]*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*invoice.Invoice
	for _, inv := range s.invoices {
		if inv.Status != types.StatusPublished || inv.PaidAt != nil {
			continue
		}
		switch inv.InvoiceStatus {
		case types.InvoiceStatusFinalized, types.InvoiceStatusSent:
		default:
			continue
		}
		if !inv.DueDate.Before(now) {
			continue
		}
		result = append(result, inv)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DueDate.Before(result[j].DueDate) })
	return result, nil
}

func containsInvoiceStatus(list []types.InvoiceStatus, status types.InvoiceStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}
