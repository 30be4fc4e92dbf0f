package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meterline/meterline/internal/domain/exchangerate"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// InMemoryExchangeRateStore implements exchangerate.Repository
type InMemoryExchangeRateStore struct {
	mu    sync.Mutex
	rates []*exchangerate.ExchangeRate
}

func NewInMemoryExchangeRateStore() *InMemoryExchangeRateStore {
	return &InMemoryExchangeRateStore{}
}

func (s *InMemoryExchangeRateStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates = nil
}

func (s *InMemoryExchangeRateStore) Create(ctx context.Context, rate *exchangerate.ExchangeRate) error {
	if rate == nil {
		return ierr.NewError("exchange rate cannot be nil").
			Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rate.Status == "" {
		rate.Status = types.StatusPublished
	}
	if rate.CreatedAt.IsZero() {
		rate.CreatedAt = time.Now().UTC()
	}
	s.rates = append(s.rates, rate)
	return nil
}

func (s *InMemoryExchangeRateStore) GetEffective(ctx context.Context, base, target string, at time.Time) (*exchangerate.ExchangeRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *exchangerate.ExchangeRate
	for _, r := range s.rates {
		if r.Base != types.NormalizeCurrency(base) || r.Target != types.NormalizeCurrency(target) {
			continue
		}
		if r.Status != types.StatusPublished || !r.IsEffectiveAt(at) {
			continue
		}
		if best == nil || r.EffectiveFrom.After(best.EffectiveFrom) {
			best = r
		}
	}
	if best == nil {
		return nil, ierr.NewErrorf("no exchange rate for %s/%s", base, target).
			Mark(ierr.ErrNotFound)
	}
	return best, nil
}

func (s *InMemoryExchangeRateStore) ListEffective(ctx context.Context, at time.Time) ([]*exchangerate.ExchangeRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Latest effective_from wins per pair, like the DISTINCT ON the real
	// repository runs.
	latest := make(map[string]*exchangerate.ExchangeRate)
	for _, r := range s.rates {
		if r.Status != types.StatusPublished || !r.IsEffectiveAt(at) {
			continue
		}
		key := r.Base + "/" + r.Target
		if prev, ok := latest[key]; !ok || r.EffectiveFrom.After(prev.EffectiveFrom) {
			latest[key] = r
		}
	}

	result := make([]*exchangerate.ExchangeRate, 0, len(latest))
	for _, r := range latest {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Base != result[j].Base {
			return result[i].Base < result[j].Base
		}
		return result[i].Target < result[j].Target
	})
	return result, nil
}

func (s *InMemoryExchangeRateStore) List(ctx context.Context, base, target string, limit int) ([]*exchangerate.ExchangeRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*exchangerate.ExchangeRate
	for _, r := range s.rates {
		if base != "" && r.Base != types.NormalizeCurrency(base) {
			continue
		}
		if target != "" && r.Target != types.NormalizeCurrency(target) {
			continue
		}
		if r.Status == types.StatusDeleted {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EffectiveFrom.After(result[j].EffectiveFrom) })
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (s *InMemoryExchangeRateStore) CloseOpenWindow(ctx context.Context, base, target string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp := at.UTC()
	for _, r := range s.rates {
		if r.Base == types.NormalizeCurrency(base) && r.Target == types.NormalizeCurrency(target) && r.EffectiveTo == nil {
			r.EffectiveTo = &stamp
		}
	}
	return nil
}
