package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Amount is an exact fixed-point quantity of a currency. Quantity is held in
// the currency's minor units (pence for GBP, yen for JPY).
type Amount struct {
	Quantity int64  `json:"quantity"`
	Currency string `json:"currency"`
}

// CurrencyMismatchError reports arithmetic attempted across two currencies.
type CurrencyMismatchError struct {
	Left  string
	Right string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("Token mismatch: %s vs %s", e.Left, e.Right)
}

// Is makes errors.Is(err, ErrCurrencyMismatch) match.
func (e *CurrencyMismatchError) Is(target error) bool {
	return target == ErrCurrencyMismatch
}

// NewAmount returns an Amount of qty minor units of ccy.
func NewAmount(qty int64, ccy string) Amount {
	return Amount{Quantity: qty, Currency: strings.ToUpper(ccy)}
}

// Zero returns the zero Amount of ccy.
func Zero(ccy string) Amount {
	return NewAmount(0, ccy)
}

// CurrencyScale returns the number of minor-unit digits for an ISO 4217 code.
func CurrencyScale(ccy string) (int32, error) {
	unit, err := currency.ParseISO(ccy)
	if err != nil {
		return 0, fmt.Errorf("domain: unknown currency %q: %w", ccy, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale), nil
}

// ParseAmount parses a decimal string such as "10.50" into an Amount of ccy.
// It rejects values with more fractional digits than the currency allows.
func ParseAmount(s, ccy string) (Amount, error) {
	scale, err := CurrencyScale(ccy)
	if err != nil {
		return Amount{}, err
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, fmt.Errorf("domain: parse amount %q: %w", s, err)
	}
	minor := d.Shift(scale)
	if !minor.IsInteger() {
		return Amount{}, fmt.Errorf("domain: amount %q has more than %d decimal places for %s", s, scale, ccy)
	}
	return NewAmount(minor.IntPart(), ccy), nil
}

// Decimal returns the amount in major units.
func (a Amount) Decimal() decimal.Decimal {
	scale, err := CurrencyScale(a.Currency)
	if err != nil {
		scale = 2
	}
	return decimal.New(a.Quantity, -scale)
}

// String renders the amount as "10.00 GBP".
func (a Amount) String() string {
	scale, err := CurrencyScale(a.Currency)
	if err != nil {
		scale = 2
	}
	return a.Decimal().StringFixed(scale) + " " + a.Currency
}

func (a Amount) sameCurrency(b Amount) error {
	if a.Currency != b.Currency {
		return &CurrencyMismatchError{Left: a.Currency, Right: b.Currency}
	}
	return nil
}

// Add returns a+b, or ErrAmountOverflow when the sum leaves the int64 range.
func (a Amount) Add(b Amount) (Amount, error) {
	if err := a.sameCurrency(b); err != nil {
		return Amount{}, err
	}
	q := a.Quantity + b.Quantity
	if (b.Quantity >= 0) != (q >= a.Quantity) {
		return Amount{}, fmt.Errorf("domain: %d + %d %s: %w", a.Quantity, b.Quantity, a.Currency, ErrAmountOverflow)
	}
	return Amount{Quantity: q, Currency: a.Currency}, nil
}

// Sub returns a-b, or ErrAmountOverflow when the difference leaves the int64
// range.
func (a Amount) Sub(b Amount) (Amount, error) {
	if err := a.sameCurrency(b); err != nil {
		return Amount{}, err
	}
	q := a.Quantity - b.Quantity
	if (b.Quantity >= 0) != (q <= a.Quantity) {
		return Amount{}, fmt.Errorf("domain: %d - %d %s: %w", a.Quantity, b.Quantity, a.Currency, ErrAmountOverflow)
	}
	return Amount{Quantity: q, Currency: a.Currency}, nil
}

// Cmp compares a and b, returning -1, 0 or +1.
func (a Amount) Cmp(b Amount) (int, error) {
	if err := a.sameCurrency(b); err != nil {
		return 0, err
	}
	switch {
	case a.Quantity < b.Quantity:
		return -1, nil
	case a.Quantity > b.Quantity:
		return 1, nil
	default:
		return 0, nil
	}
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool {
	return a.Quantity > 0
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool {
	return a.Quantity == 0
}

// Sum adds amounts of ccy. An empty slice sums to Zero(ccy).
func Sum(ccy string, amounts ...Amount) (Amount, error) {
	total := Zero(ccy)
	for _, a := range amounts {
		var err error
		if total, err = total.Add(a); err != nil {
			return Amount{}, err
		}
	}
	return total, nil
}
