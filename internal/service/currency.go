package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	jsoniter "github.com/json-iterator/go"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/domain/exchangerate"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CurrencyService resolves exchange rates and converts money across
// currencies. It is the only place cross-currency arithmetic happens; the
// money kernel itself refuses mixed-currency operations.
type CurrencyService interface {
	// Rate returns how many units of target one unit of base buys at the
	// given instant. Same currency is always 1.
	Rate(ctx context.Context, base, target string, at time.Time) (decimal.Decimal, error)

	// Convert returns a fresh Money tagged with the target currency,
	// rounded half-even at the target currency's scale.
	Convert(ctx context.Context, m types.Money, target string, at time.Time) (types.Money, error)

	// Upsert inserts the rate and closes the previous open window of the
	// same pair in one transaction.
	Upsert(ctx context.Context, req *dto.UpsertExchangeRateRequest) (*dto.ExchangeRateResponse, error)

	List(ctx context.Context, req *dto.ListExchangeRatesRequest) (*dto.ListExchangeRatesResponse, error)

	// Sync pulls current rates from the configured provider. Failures leave
	// existing rows untouched; billing keeps using the last known rates.
	Sync(ctx context.Context) error
}

type currencyService struct {
	ServiceParams
}

func NewCurrencyService(params ServiceParams) CurrencyService {
	return &currencyService{ServiceParams: params}
}

func (s *currencyService) Rate(ctx context.Context, base, target string, at time.Time) (decimal.Decimal, error) {
	base = types.NormalizeCurrency(base)
	target = types.NormalizeCurrency(target)
	if types.IsSameCurrency(base, target) {
		return decimal.NewFromInt(1), nil
	}

	rate, err := s.ExchangeRateRepo.GetEffective(ctx, base, target, at)
	if err != nil {
		if ierr.IsNotFound(err) {
			return decimal.Zero, ierr.NewErrorf("no exchange rate from %s to %s", base, target).
				WithHint("Add an exchange rate covering the requested instant").
				WithReportableDetails(map[string]any{"base": base, "target": target, "at": at}).
				Mark(ierr.ErrMissingExchangeRate)
		}
		return decimal.Zero, err
	}
	return rate.Rate, nil
}

func (s *currencyService) Convert(ctx context.Context, m types.Money, target string, at time.Time) (types.Money, error) {
	target = types.NormalizeCurrency(target)
	if types.IsSameCurrency(m.Currency, target) {
		return m, nil
	}

	rate, err := s.Rate(ctx, m.Currency, target, at)
	if err != nil {
		return types.Money{}, err
	}

	return types.NewMoney(m.Amount.Mul(rate), target).Round(), nil
}

func (s *currencyService) Upsert(ctx context.Context, req *dto.UpsertExchangeRateRequest) (*dto.ExchangeRateResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	rate := req.ToExchangeRate()
	if err := rate.Validate(); err != nil {
		return nil, err
	}

	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.ExchangeRateRepo.CloseOpenWindow(ctx, rate.Base, rate.Target, rate.EffectiveFrom); err != nil {
			return err
		}
		return s.ExchangeRateRepo.Create(ctx, rate)
	})
	if err != nil {
		return nil, err
	}

	return &dto.ExchangeRateResponse{ExchangeRate: rate}, nil
}

func (s *currencyService) List(ctx context.Context, req *dto.ListExchangeRatesRequest) (*dto.ListExchangeRatesResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}

	rates, err := s.ExchangeRateRepo.List(ctx, types.NormalizeCurrency(req.Base), types.NormalizeCurrency(req.Target), limit)
	if err != nil {
		return nil, err
	}

	resp := &dto.ListExchangeRatesResponse{Items: make([]*dto.ExchangeRateResponse, 0, len(rates)), Total: len(rates)}
	for _, r := range rates {
		resp.Items = append(resp.Items, &dto.ExchangeRateResponse{ExchangeRate: r})
	}
	return resp, nil
}

// providerRates is the shape of the sync provider's response, e.g.
// https://open.er-api.com/v6/latest/USD.
type providerRates struct {
	Base  string                     `json:"base_code"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

func (s *currencyService) Sync(ctx context.Context) error {
	if !s.Config.ExchangeRates.SyncEnabled || s.Config.ExchangeRates.SourceURL == "" {
		s.Logger.Debugw("exchange rate sync disabled")
		return nil
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil

	now := time.Now().UTC()
	var lastErr error

	for _, base := range s.Config.ExchangeRates.BaseCurrencies {
		base = types.NormalizeCurrency(base)
		rates, err := s.fetchRates(ctx, client, base)
		if err != nil {
			// Degrade gracefully: billing keeps the last stored rates.
			s.Logger.Errorw("exchange rate sync failed",
				"base", base,
				"error", err,
			)
			lastErr = err
			continue
		}

		for target, value := range rates.Rates {
			target = types.NormalizeCurrency(target)
			if types.IsSameCurrency(base, target) || !value.IsPositive() {
				continue
			}

			rate := exchangerate.New(base, target, value, now, "sync:"+s.Config.ExchangeRates.SourceURL)
			err := s.DB.WithTx(ctx, func(ctx context.Context) error {
				if err := s.ExchangeRateRepo.CloseOpenWindow(ctx, base, target, now); err != nil {
					return err
				}
				return s.ExchangeRateRepo.Create(ctx, rate)
			})
			if err != nil {
				s.Logger.Errorw("failed to store synced rate",
					"base", base,
					"target", target,
					"error", err,
				)
				lastErr = err
			}
		}

		s.Logger.Infow("exchange rates synced",
			"base", base,
			"targets", len(rates.Rates),
		)
	}

	return lastErr
}

func (s *currencyService) fetchRates(ctx context.Context, client *retryablehttp.Client, base string) (*providerRates, error) {
	url := fmt.Sprintf("%s/%s", s.Config.ExchangeRates.SourceURL, base)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Invalid exchange rate source URL").
			Mark(ierr.ErrValidation)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Exchange rate provider unreachable").
			Mark(ierr.ErrHTTPClient)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ierr.NewErrorf("exchange rate provider returned %d", resp.StatusCode).
			Mark(ierr.ErrHTTPClient)
	}

	var rates providerRates
	if err := json.NewDecoder(resp.Body).Decode(&rates); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Malformed exchange rate response").
			Mark(ierr.ErrHTTPClient)
	}
	return &rates, nil
}
