package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/api/dto"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/testutil"
	"github.com/meterline/meterline/internal/types"
)

type CurrencyServiceSuite struct {
	testutil.BaseServiceTestSuite
	service CurrencyService
}

func TestCurrencyService(t *testing.T) {
	suite.Run(t, new(CurrencyServiceSuite))
}

func (s *CurrencyServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewCurrencyService(newTestParams(&s.BaseServiceTestSuite))
}

func (s *CurrencyServiceSuite) upsertRate(base, target, rate string, from time.Time) {
	_, err := s.service.Upsert(s.GetContext(), &dto.UpsertExchangeRateRequest{
		Base:          base,
		Target:        target,
		Rate:          decimal.RequireFromString(rate),
		EffectiveFrom: from,
	})
	s.Require().NoError(err)
}

func (s *CurrencyServiceSuite) TestRateSameCurrencyIsAlwaysOne() {
	rate, err := s.service.Rate(s.GetContext(), "INR", "inr", time.Now().UTC())
	s.Require().NoError(err)
	s.True(rate.Equal(decimal.NewFromInt(1)))
}

func (s *CurrencyServiceSuite) TestRateResolvesEffectiveWindow() {
	now := time.Now().UTC()
	s.upsertRate("USD", "INR", "82.00", now.AddDate(0, 0, -2))
	s.upsertRate("USD", "INR", "83.25", now.AddDate(0, 0, -1))

	rate, err := s.service.Rate(s.GetContext(), "USD", "INR", now)
	s.Require().NoError(err)
	s.True(rate.Equal(decimal.RequireFromString("83.25")))

	// Yesterday's invoice keeps pricing at yesterday's rate.
	rate, err = s.service.Rate(s.GetContext(), "USD", "INR", now.Add(-36*time.Hour))
	s.Require().NoError(err)
	s.True(rate.Equal(decimal.RequireFromString("82.00")))
}

func (s *CurrencyServiceSuite) TestRateMissingPair() {
	_, err := s.service.Rate(s.GetContext(), "USD", "GBP", time.Now().UTC())
	s.Require().Error(err)
	s.True(ierr.Is(err, ierr.ErrMissingExchangeRate))
}

func (s *CurrencyServiceSuite) TestUpsertClosesPreviousWindow() {
	now := time.Now().UTC()
	first := now.AddDate(0, 0, -2)
	second := now.AddDate(0, 0, -1)
	s.upsertRate("USD", "INR", "82.00", first)
	s.upsertRate("USD", "INR", "83.25", second)

	list, err := s.service.List(s.GetContext(), &dto.ListExchangeRatesRequest{Base: "USD", Target: "INR"})
	s.Require().NoError(err)
	s.Require().Equal(2, list.Total)

	// Newest first; the older row's window ends where the new one begins.
	s.Nil(list.Items[0].EffectiveTo)
	s.Require().NotNil(list.Items[1].EffectiveTo)
	s.True(list.Items[1].EffectiveTo.Equal(second))
}

func (s *CurrencyServiceSuite) TestConvertRoundsHalfEvenAtTargetScale() {
	now := time.Now().UTC()
	s.upsertRate("USD", "JPY", "150.05", now.AddDate(0, 0, -1))

	// 10 * 150.05 = 1500.5; JPY has no minor unit, half-even rounds to 1500.
	got, err := s.service.Convert(s.GetContext(),
		types.NewMoney(decimal.NewFromInt(10), "USD"), "JPY", now)
	s.Require().NoError(err)
	s.Equal("JPY", got.Currency)
	s.True(got.Amount.Equal(decimal.NewFromInt(1500)), "got %s", got.Amount)
}

func (s *CurrencyServiceSuite) TestConvertSameCurrencyIsUntouched() {
	m := types.NewMoney(decimal.RequireFromString("10.999"), "INR")
	got, err := s.service.Convert(s.GetContext(), m, "inr", time.Now().UTC())
	s.Require().NoError(err)
	s.True(got.Amount.Equal(m.Amount), "no rounding without conversion")
}

func (s *CurrencyServiceSuite) TestListFiltersByPair() {
	now := time.Now().UTC()
	s.upsertRate("USD", "INR", "83.25", now.AddDate(0, 0, -1))
	s.upsertRate("EUR", "INR", "90.10", now.AddDate(0, 0, -1))

	list, err := s.service.List(s.GetContext(), &dto.ListExchangeRatesRequest{Base: "usd"})
	s.Require().NoError(err)
	s.Require().Equal(1, list.Total)
	s.Equal("USD", list.Items[0].Base)
}

func (s *CurrencyServiceSuite) TestSyncPullsProviderRates() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"base_code":"USD","rates":{"INR":83.25,"JPY":150.4,"USD":1}}`))
	}))
	defer server.Close()

	cfg := s.GetConfig()
	cfg.ExchangeRates.SyncEnabled = true
	cfg.ExchangeRates.SourceURL = server.URL
	cfg.ExchangeRates.BaseCurrencies = []string{"USD"}
	defer func() {
		cfg.ExchangeRates.SyncEnabled = false
		cfg.ExchangeRates.SourceURL = ""
		cfg.ExchangeRates.BaseCurrencies = nil
	}()

	s.Require().NoError(s.service.Sync(s.GetContext()))

	rate, err := s.service.Rate(s.GetContext(), "USD", "INR", time.Now().UTC())
	s.Require().NoError(err)
	s.True(rate.Equal(decimal.RequireFromString("83.25")))

	list, err := s.service.List(s.GetContext(), &dto.ListExchangeRatesRequest{})
	s.Require().NoError(err)
	s.Equal(2, list.Total, "the base currency itself is not stored")
}

func (s *CurrencyServiceSuite) TestSyncProviderFailureKeepsStoredRates() {
	now := time.Now().UTC()
	s.upsertRate("USD", "INR", "82.00", now.AddDate(0, 0, -1))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	cfg := s.GetConfig()
	cfg.ExchangeRates.SyncEnabled = true
	cfg.ExchangeRates.SourceURL = server.URL
	cfg.ExchangeRates.BaseCurrencies = []string{"USD"}
	defer func() {
		cfg.ExchangeRates.SyncEnabled = false
		cfg.ExchangeRates.SourceURL = ""
		cfg.ExchangeRates.BaseCurrencies = nil
	}()

	err := s.service.Sync(s.GetContext())
	s.Require().Error(err)

	rate, rerr := s.service.Rate(s.GetContext(), "USD", "INR", time.Now().UTC())
	s.Require().NoError(rerr)
	s.True(rate.Equal(decimal.RequireFromString("82.00")), "stale rates beat no rates")
}

func (s *CurrencyServiceSuite) TestSyncDisabledIsNoop() {
	s.Require().NoError(s.service.Sync(s.GetContext()))

	list, err := s.service.List(s.GetContext(), &dto.ListExchangeRatesRequest{})
	s.Require().NoError(err)
	s.Equal(0, list.Total)
}
