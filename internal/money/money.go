// Package money implements exact monetary arithmetic on integer minor units.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var (
	// ErrCurrencyMismatch indicates an operation mixed two currencies.
	ErrCurrencyMismatch = errors.New("money: currency mismatch")
	// ErrInvalidCurrency indicates the code is not a known ISO 4217 currency.
	ErrInvalidCurrency = errors.New("money: invalid currency code")
	// ErrInvalidParts indicates a split into zero or fewer parts.
	ErrInvalidParts = errors.New("money: split requires at least one part")
	// ErrOverflow indicates the result does not fit in int64 minor units.
	ErrOverflow = errors.New("money: amount overflows int64 minor units")
)

// MismatchError reports the two currencies that were combined.
type MismatchError struct {
	Left  string
	Right string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("money: currency mismatch (%s vs %s)", e.Left, e.Right)
}

// Is lets callers match with errors.Is(err, ErrCurrencyMismatch).
func (e *MismatchError) Is(target error) bool {
	return target == ErrCurrencyMismatch
}

// Money is an amount expressed in the smallest unit of its currency.
type Money struct {
	Minor    int64  `json:"minor"`
	Currency string `json:"currency"`
}

// New builds a Money value. The currency code is upper-cased but not validated.
func New(minor int64, code string) Money {
	return Money{Minor: minor, Currency: strings.ToUpper(strings.TrimSpace(code))}
}

// Zero returns an empty amount in the given currency.
func Zero(code string) Money {
	return New(0, code)
}

// NormalizeCurrency validates an ISO 4217 code and returns its canonical form.
func NormalizeCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return unit.String(), nil
}

// Scale returns the number of decimal places used by the currency's minor unit.
func Scale(code string) (int, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale, nil
}

// FromDecimal converts a decimal major-unit amount to minor units, rounding half
// away from zero at the currency's precision.
func FromDecimal(amount decimal.Decimal, code string) (Money, error) {
	normalized, err := NormalizeCurrency(code)
	if err != nil {
		return Money{}, err
	}
	scale, err := Scale(normalized)
	if err != nil {
		return Money{}, err
	}
	minor := amount.Shift(int32(scale)).Round(0)
	if !minor.IsInteger() || minor.Abs().GreaterThan(decimal.New(1, 18)) {
		return Money{}, fmt.Errorf("money: amount %s out of range", amount.String())
	}
	return Money{Minor: minor.IntPart(), Currency: normalized}, nil
}

// Decimal returns the amount in major units. Display only.
func (m Money) Decimal() decimal.Decimal {
	scale, err := Scale(m.Currency)
	if err != nil {
		scale = 2
	}
	return decimal.New(m.Minor, -int32(scale))
}

// String renders the amount as "12.50 USD".
func (m Money) String() string {
	scale, err := Scale(m.Currency)
	if err != nil {
		scale = 2
	}
	return m.Decimal().StringFixed(int32(scale)) + " " + m.Currency
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.Minor == 0 }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.Minor < 0 }

// SameCurrency reports whether both values share a currency.
func (m Money) SameCurrency(other Money) bool { return m.Currency == other.Currency }

func (m Money) ensureSameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return &MismatchError{Left: m.Currency, Right: other.Currency}
	}
	return nil
}

// Add returns m + other, or ErrOverflow when the sum leaves the int64 range.
func (m Money) Add(other Money) (Money, error) {
	if err := m.ensureSameCurrency(other); err != nil {
		return Money{}, err
	}
	sum := m.Minor + other.Minor
	if (other.Minor > 0 && sum < m.Minor) || (other.Minor < 0 && sum > m.Minor) {
		return Money{}, fmt.Errorf("%w: %d + %d", ErrOverflow, m.Minor, other.Minor)
	}
	return Money{Minor: sum, Currency: m.Currency}, nil
}

// Subtract returns m - other, or ErrOverflow.
func (m Money) Subtract(other Money) (Money, error) {
	if err := m.ensureSameCurrency(other); err != nil {
		return Money{}, err
	}
	diff := m.Minor - other.Minor
	if (other.Minor > 0 && diff > m.Minor) || (other.Minor < 0 && diff < m.Minor) {
		return Money{}, fmt.Errorf("%w: %d - %d", ErrOverflow, m.Minor, other.Minor)
	}
	return Money{Minor: diff, Currency: m.Currency}, nil
}

// Scale multiplies the amount by an integer factor, or returns ErrOverflow.
func (m Money) Scale(n int64) (Money, error) {
	if m.Minor == 0 || n == 0 {
		return Money{Minor: 0, Currency: m.Currency}, nil
	}
	product := m.Minor * n
	// MinInt64 / -1 wraps back to MinInt64, so the division check misses it.
	if (n == -1 && m.Minor == math.MinInt64) || product/n != m.Minor {
		return Money{}, fmt.Errorf("%w: %d x %d", ErrOverflow, m.Minor, n)
	}
	return Money{Minor: product, Currency: m.Currency}, nil
}

// Compare returns -1, 0 or 1.
func (m Money) Compare(other Money) (int, error) {
	if err := m.ensureSameCurrency(other); err != nil {
		return 0, err
	}
	switch {
	case m.Minor < other.Minor:
		return -1, nil
	case m.Minor > other.Minor:
		return 1, nil
	default:
		return 0, nil
	}
}

// SplitEvenly divides the amount into n parts that sum exactly to m. Each part
// gets floor(m/n); the first m mod n parts receive one extra minor unit.
func (m Money) SplitEvenly(n int) ([]Money, error) {
	if n <= 0 {
		return nil, ErrInvalidParts
	}
	count := int64(n)
	base := m.Minor / count
	rem := m.Minor % count
	if rem < 0 {
		base--
		rem += count
	}
	parts := make([]Money, n)
	for i := range parts {
		minor := base
		if int64(i) < rem {
			minor++
		}
		parts[i] = Money{Minor: minor, Currency: m.Currency}
	}
	return parts, nil
}

// Sum adds values that must all be in the given currency.
func Sum(code string, values ...Money) (Money, error) {
	total := Zero(code)
	for _, v := range values {
		next, err := total.Add(v)
		if err != nil {
			return Money{}, err
		}
		total = next
	}
	return total, nil
}
