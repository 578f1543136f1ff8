// Package money implements fixed-precision currency amounts.
//
// A Money is an integer count of minor units (cents for USD) plus an ISO 4217
// code. Fractional minor units only appear when parsing major-unit input or
// taking a percentage; both round half away from zero, which is round-half-up
// for the non-negative amounts the ledger works with.
package money

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"bizledger/internal/apperrors"

	"github.com/shopspring/decimal"
)

// Common currency codes (ISO 4217)
const (
	USD = "USD"
	EUR = "EUR"
	GBP = "GBP"
	JPY = "JPY"
	CAD = "CAD"
)

// exponents lists supported currencies and their minor-unit exponent.
var exponents = map[string]int32{
	USD: 2, EUR: 2, GBP: 2, CAD: 2, JPY: 0,
	"AUD": 2, "CHF": 2, "CNY": 2, "SEK": 2, "NZD": 2, "INR": 2, "MXN": 2,
}

var symbols = map[string]string{
	USD:   "$",
	EUR:   "€",
	GBP:   "£",
	JPY:   "¥",
	CAD:   "C$",
	"INR": "₹",
}

var (
	hundred  = decimal.NewFromInt(100)
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// Money is an amount in minor units of a single currency.
type Money struct {
	minor    int64
	currency string
}

// ValidateCurrency checks that code is a supported ISO 4217 code.
func ValidateCurrency(code string) error {
	if code == "" {
		return apperrors.New(apperrors.KindValidation, "currency cannot be empty")
	}
	if _, ok := exponents[strings.ToUpper(code)]; !ok {
		return apperrors.Newf(apperrors.KindValidation, "unsupported currency: %s", code)
	}
	return nil
}

// Exponent returns the number of minor-unit digits for currency.
func Exponent(currency string) int32 {
	if e, ok := exponents[strings.ToUpper(currency)]; ok {
		return e
	}
	return 2
}

// New creates Money from a minor-unit count.
func New(minor int64, currency string) (Money, error) {
	if err := ValidateCurrency(currency); err != nil {
		return Money{}, err
	}
	return Money{minor: minor, currency: strings.ToUpper(currency)}, nil
}

// FromMinor creates Money from a minor-unit count and panics on an unsupported
// currency. Intended for constants, tests and values read back from storage.
func FromMinor(minor int64, currency string) Money {
	m, err := New(minor, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// FromMajor converts a major-unit decimal (12.345 USD) to Money, rounding to
// the nearest minor unit.
func FromMajor(amount decimal.Decimal, currency string) (Money, error) {
	if err := ValidateCurrency(currency); err != nil {
		return Money{}, err
	}
	minor := amount.Shift(Exponent(currency)).Round(0)
	if minor.GreaterThan(maxMinor) || minor.LessThan(minMinor) {
		return Money{}, apperrors.Newf(apperrors.KindInvalidAmount, "amount %s out of range", amount.String())
	}
	return Money{minor: minor.IntPart(), currency: strings.ToUpper(currency)}, nil
}

// Parse reads a major-unit decimal string such as "163.29".
func Parse(amount, currency string) (Money, error) {
	dec, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, apperrors.Newf(apperrors.KindInvalidAmount, "invalid amount %q", amount).WithCause(err)
	}
	return FromMajor(dec, currency)
}

// ParseExact is Parse without rounding: an amount finer than the currency's
// minor unit is rejected.
func ParseExact(amount, currency string) (Money, error) {
	dec, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, apperrors.Newf(apperrors.KindInvalidAmount, "invalid amount %q", amount).WithCause(err)
	}
	if err := ValidateCurrency(currency); err != nil {
		return Money{}, err
	}
	exp := Exponent(currency)
	if !dec.Equal(dec.Truncate(exp)) {
		return Money{}, apperrors.Newf(apperrors.KindInvalidAmount, "amount %s has more than %d decimal places for %s", amount, exp, strings.ToUpper(currency))
	}
	return FromMajor(dec, currency)
}

// MustParse is Parse that panics, for tests and fixed values.
func MustParse(amount, currency string) Money {
	m, err := Parse(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero amount in currency.
func Zero(currency string) Money {
	return Money{currency: strings.ToUpper(currency)}
}

// Minor returns the amount in minor units.
func (m Money) Minor() int64 {
	return m.minor
}

// Currency returns the currency code.
func (m Money) Currency() string {
	return m.currency
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.minor, -Exponent(m.currency))
}

// String formats the amount with its symbol, e.g. "$163.29".
func (m Money) String() string {
	amount := m.Decimal().StringFixed(Exponent(m.currency))
	if symbol, ok := symbols[m.currency]; ok {
		if m.minor < 0 {
			return "-" + symbol + strings.TrimPrefix(amount, "-")
		}
		return symbol + amount
	}
	return amount + " " + m.currency
}

// StringFixed returns the major-unit amount without a symbol, e.g. "163.29".
func (m Money) StringFixed() string {
	return m.Decimal().StringFixed(Exponent(m.currency))
}

func (m Money) IsZero() bool     { return m.minor == 0 }
func (m Money) IsPositive() bool { return m.minor > 0 }
func (m Money) IsNegative() bool { return m.minor < 0 }

// Equal reports whether both amount and currency match.
func (m Money) Equal(other Money) bool {
	return m.minor == other.minor && m.currency == other.currency
}

func (m Money) sameCurrency(other Money, op string) error {
	if m.currency != other.currency {
		return apperrors.ErrCurrencyMismatch.WithDetails(map[string]interface{}{
			"operation": op,
			"left":      m.currency,
			"right":     other.currency,
		})
	}
	return nil
}

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other, "add"); err != nil {
		return Money{}, err
	}
	sum := m.minor + other.minor
	if (other.minor > 0 && sum < m.minor) || (other.minor < 0 && sum > m.minor) {
		return Money{}, overflow("add", m, other)
	}
	return Money{minor: sum, currency: m.currency}, nil
}

// Sub returns m - other. The result may be negative; clamping is up to the caller.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other, "subtract"); err != nil {
		return Money{}, err
	}
	diff := m.minor - other.minor
	if (other.minor > 0 && diff > m.minor) || (other.minor < 0 && diff < m.minor) {
		return Money{}, overflow("subtract", m, other)
	}
	return Money{minor: diff, currency: m.currency}, nil
}

func overflow(op string, a, b Money) error {
	return apperrors.Newf(apperrors.KindInvalidAmount, "amount out of range: cannot %s %s and %s", op, a.StringFixed(), b.StringFixed()).
		WithDetails(map[string]interface{}{"operation": op, "currency": a.currency})
}

// Compare returns -1, 0 or 1.
func (m Money) Compare(other Money) (int, error) {
	if err := m.sameCurrency(other, "compare"); err != nil {
		return 0, err
	}
	switch {
	case m.minor < other.minor:
		return -1, nil
	case m.minor > other.minor:
		return 1, nil
	default:
		return 0, nil
	}
}

// PercentOf returns rate percent of m rounded to the nearest minor unit.
// 8.5 percent of $150.50 is $12.79 (1279.25 cents rounded).
func (m Money) PercentOf(rate decimal.Decimal) (Money, error) {
	minor := decimal.NewFromInt(m.minor).Mul(rate).Div(hundred).Round(0)
	if minor.GreaterThan(maxMinor) || minor.LessThan(minMinor) {
		return Money{}, apperrors.Newf(apperrors.KindInvalidAmount, "%s percent of %s is out of range", rate.String(), m.StringFixed())
	}
	return Money{minor: minor.IntPart(), currency: m.currency}, nil
}

// ClampZero returns m, or zero when m is negative.
func (m Money) ClampZero() Money {
	if m.minor < 0 {
		return Zero(m.currency)
	}
	return m
}

// Min returns the smaller of a and b. Both must share a currency.
func Min(a, b Money) (Money, error) {
	c, err := a.Compare(b)
	if err != nil {
		return Money{}, err
	}
	if c <= 0 {
		return a, nil
	}
	return b, nil
}

// Max returns the larger of a and b. Both must share a currency.
func Max(a, b Money) (Money, error) {
	c, err := a.Compare(b)
	if err != nil {
		return Money{}, err
	}
	if c >= 0 {
		return a, nil
	}
	return b, nil
}

// Sum adds amounts that all share currency. An empty slice sums to zero.
func Sum(currency string, amounts ...Money) (Money, error) {
	total := Zero(currency)
	for _, a := range amounts {
		var err error
		if total, err = total.Add(a); err != nil {
			return Money{}, err
		}
	}
	return total, nil
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON encodes as {"amount":"163.29","currency":"USD"}.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.StringFixed(), Currency: m.currency})
}

// UnmarshalJSON decodes the MarshalJSON form. Amounts finer than the minor unit
// are rejected rather than rounded.
func (m *Money) UnmarshalJSON(data []byte) error {
	var temp moneyJSON
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}
	if temp.Currency == "" {
		*m = Money{}
		return nil
	}
	parsed, err := ParseExact(temp.Amount, temp.Currency)
	if err != nil {
		return fmt.Errorf("decode money: %w", err)
	}
	*m = parsed
	return nil
}
