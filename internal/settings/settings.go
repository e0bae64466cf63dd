// Package settings provides the tax, service and currency configuration the
// totals calculator and order store read at call time.
package settings

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/ariefcatur/go-pos-orders/internal/totals"
)

// Settings is an immutable snapshot. Rates are fractions, not percents.
type Settings struct {
	TaxRate     decimal.Decimal `json:"tax_rate"`
	ServiceRate decimal.Decimal `json:"service_rate"`
	Currency    string          `json:"currency"`
	// ExchangeRates maps a currency code to units of that currency per one
	// unit of the base currency.
	ExchangeRates map[string]decimal.Decimal `json:"exchange_rates"`
}

var fallbackRates = map[string]decimal.Decimal{
	"USD": decimal.RequireFromString("0.01705"),
	"EUR": decimal.RequireFromString("0.016"),
	"JPY": decimal.RequireFromString("2.57"),
}

// Defaults builds the settings used when nothing is persisted.
func Defaults(taxRate, serviceRate float64, baseCurrency string) Settings {
	return Settings{
		TaxRate:       decimal.NewFromFloat(taxRate),
		ServiceRate:   decimal.NewFromFloat(serviceRate),
		Currency:      strings.ToUpper(baseCurrency),
		ExchangeRates: maps.Clone(fallbackRates),
	}
}

func (s Settings) Rates() totals.Rates {
	return totals.Rates{Tax: s.TaxRate, Service: s.ServiceRate}
}

// ExchangeRate returns the rate for code; the base currency is always 1.
func (s Settings) ExchangeRate(code string) (decimal.Decimal, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || code == s.Currency {
		return decimal.NewFromInt(1), true
	}
	r, ok := s.ExchangeRates[code]
	return r, ok
}

var ErrInvalid = errors.New("invalid settings")

func (s Settings) Validate() error {
	if err := s.Rates().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := currency.ParseISO(s.Currency); err != nil {
		return fmt.Errorf("%w: currency[%s] is not valid", ErrInvalid, s.Currency)
	}
	for code, r := range s.ExchangeRates {
		if _, err := currency.ParseISO(code); err != nil {
			return fmt.Errorf("%w: exchange rate code[%s] is not valid", ErrInvalid, code)
		}
		if err := totals.ValidateExchangeRate(r); err != nil {
			return fmt.Errorf("%w: exchange rate for %s: %w", ErrInvalid, code, err)
		}
	}
	return nil
}

// Patch carries a partial update. Nil fields are left unchanged; exchange
// rates are merged per code.
type Patch struct {
	TaxRate       *decimal.Decimal           `json:"tax_rate,omitempty"`
	ServiceRate   *decimal.Decimal           `json:"service_rate,omitempty"`
	Currency      *string                    `json:"currency,omitempty"`
	ExchangeRates map[string]decimal.Decimal `json:"exchange_rates,omitempty"`
}

func (s Settings) apply(p Patch) Settings {
	out := s
	out.ExchangeRates = maps.Clone(s.ExchangeRates)
	if out.ExchangeRates == nil {
		out.ExchangeRates = map[string]decimal.Decimal{}
	}
	if p.TaxRate != nil {
		out.TaxRate = *p.TaxRate
	}
	if p.ServiceRate != nil {
		out.ServiceRate = *p.ServiceRate
	}
	if p.Currency != nil {
		out.Currency = strings.ToUpper(strings.TrimSpace(*p.Currency))
	}
	for code, r := range p.ExchangeRates {
		out.ExchangeRates[strings.ToUpper(code)] = r
	}
	return out
}
