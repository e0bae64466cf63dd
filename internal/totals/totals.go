// Package totals computes cart and order totals. The same computation backs the
// terminal preview, finalization and the sales report, so all three agree.
//
// Discount is a fraction of the subtotal (0 <= d <= 1). Service charge and tax
// are fractions of the subtotal as well; the discount does not reduce them.
package totals

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Column scales of the stored values. Anything finer would be rounded
// silently by postgres, so it is rejected instead.
const (
	currencyPlaces     = 2
	fractionPlaces     = 4
	exchangeRatePlaces = 8
)

var (
	ErrNegativeRate    = errors.New("rate must not be negative")
	ErrDiscountRange   = errors.New("discount must be between 0 and 1")
	ErrNegativeLine    = errors.New("line price and quantity must not be negative")
	ErrNonPositiveRate = errors.New("exchange rate must be positive")
	ErrRateRange       = errors.New("rate must be between 0 and 1")
	ErrPrecision       = errors.New("too many decimal places")
)

type Line struct {
	UnitPrice decimal.Decimal
	Qty       int
}

type Rates struct {
	Tax     decimal.Decimal
	Service decimal.Decimal
}

type Totals struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	ServiceCharge decimal.Decimal `json:"service_charge"`
	Tax           decimal.Decimal `json:"tax"`
	Discount      decimal.Decimal `json:"discount"`
	Payable       decimal.Decimal `json:"payable"`
}

var one = decimal.NewFromInt(1)

func (r Rates) Validate() error {
	for _, rate := range []decimal.Decimal{r.Tax, r.Service} {
		switch {
		case rate.IsNegative():
			return ErrNegativeRate
		case rate.GreaterThan(one):
			return ErrRateRange
		case exceeds(rate, fractionPlaces):
			return fmt.Errorf("%w: rate %s has more than %d places", ErrPrecision, rate, fractionPlaces)
		}
	}
	return nil
}

func ValidateDiscount(d decimal.Decimal) error {
	if d.IsNegative() || d.GreaterThan(one) {
		return ErrDiscountRange
	}
	if exceeds(d, fractionPlaces) {
		return fmt.Errorf("%w: discount %s has more than %d places", ErrPrecision, d, fractionPlaces)
	}
	return nil
}

// ValidateAmount rejects money values finer than cents.
func ValidateAmount(d decimal.Decimal) error {
	if exceeds(d, currencyPlaces) {
		return fmt.Errorf("%w: amount %s has more than %d places", ErrPrecision, d, currencyPlaces)
	}
	return nil
}

func ValidateExchangeRate(rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return ErrNonPositiveRate
	}
	if exceeds(rate, exchangeRatePlaces) {
		return fmt.Errorf("%w: exchange rate %s has more than %d places", ErrPrecision, rate, exchangeRatePlaces)
	}
	return nil
}

func exceeds(d decimal.Decimal, places int32) bool {
	return !d.Equal(d.Round(places))
}

// Compute rounds every component to cents; Payable is derived from the
// unrounded components and rounded once.
func Compute(lines []Line, rates Rates, discount decimal.Decimal) (Totals, error) {
	if err := rates.Validate(); err != nil {
		return Totals{}, err
	}
	if err := ValidateDiscount(discount); err != nil {
		return Totals{}, err
	}

	subtotal := decimal.Zero
	for _, l := range lines {
		if l.UnitPrice.IsNegative() || l.Qty < 0 {
			return Totals{}, ErrNegativeLine
		}
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Qty))))
	}

	service := subtotal.Mul(rates.Service)
	tax := subtotal.Mul(rates.Tax)
	disc := subtotal.Mul(discount)
	payable := subtotal.Add(service).Add(tax).Sub(disc)

	return Totals{
		Subtotal:      subtotal.Round(currencyPlaces),
		ServiceCharge: service.Round(currencyPlaces),
		Tax:           tax.Round(currencyPlaces),
		Discount:      disc.Round(currencyPlaces),
		Payable:       payable.Round(currencyPlaces),
	}, nil
}

// Convert expresses base-currency totals in a display currency.
// rate is units of the display currency per one unit of base currency.
func (t Totals) Convert(rate decimal.Decimal) (Totals, error) {
	if !rate.IsPositive() {
		return Totals{}, ErrNonPositiveRate
	}
	conv := func(d decimal.Decimal) decimal.Decimal { return d.Mul(rate).Round(currencyPlaces) }
	return Totals{
		Subtotal:      conv(t.Subtotal),
		ServiceCharge: conv(t.ServiceCharge),
		Tax:           conv(t.Tax),
		Discount:      conv(t.Discount),
		Payable:       conv(t.Payable),
	}, nil
}
