package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/domain/exchangerate"
	"github.com/meterline/meterline/internal/validator"
)

type UpsertExchangeRateRequest struct {
	Base          string          `json:"base" validate:"required,len=3" binding:"required" example:"USD"`
	Target        string          `json:"target" validate:"required,len=3" binding:"required" example:"INR"`
	Rate          decimal.Decimal `json:"rate" binding:"required" swaggertype:"string" example:"83.25"`
	EffectiveFrom time.Time       `json:"effective_from" binding:"required"`
	Source        string          `json:"source" validate:"omitempty" example:"manual"`
}

func (r *UpsertExchangeRateRequest) Validate() error {
	return validator.ValidateRequest(r)
}

func (r *UpsertExchangeRateRequest) ToExchangeRate() *exchangerate.ExchangeRate {
	source := r.Source
	if source == "" {
		source = "manual"
	}
	return exchangerate.New(r.Base, r.Target, r.Rate, r.EffectiveFrom, source)
}

type ExchangeRateResponse struct {
	*exchangerate.ExchangeRate
}

type ListExchangeRatesRequest struct {
	Base   string `form:"base" json:"base"`
	Target string `form:"target" json:"target"`
	Limit  int    `form:"limit" json:"limit"`
}

type ListExchangeRatesResponse struct {
	Items []*ExchangeRateResponse `json:"items"`
	Total int                     `json:"total"`
}

type ConvertRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required" swaggertype:"string"`
	From   string          `json:"from" validate:"required,len=3" binding:"required"`
	To     string          `json:"to" validate:"required,len=3" binding:"required"`
	At     *time.Time      `json:"at,omitempty"`
}

func (r *ConvertRequest) Validate() error {
	return validator.ValidateRequest(r)
}

type ConvertResponse struct {
	Amount   decimal.Decimal `json:"amount" swaggertype:"string"`
	Currency string          `json:"currency"`
	Rate     decimal.Decimal `json:"rate" swaggertype:"string"`
}
