package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ============================================================
// Money
// ============================================================

// moneyScale is the number of decimal digits kept by Money.
const moneyScale = 2

// Bounds on textual amounts, checked before any decimal arithmetic.
// Exponents outside them would make rescaling build huge integers.
const (
	maxAmountLength = 40
	maxExponent     = 18
	minExponent     = -maxAmountLength
)

var (
	maxMinorUnits = decimal.NewFromInt(math.MaxInt64)
	minMinorUnits = decimal.NewFromInt(math.MinInt64)
)

// Money is an exact monetary value with a fixed scale of two decimal digits,
// stored as an integer number of minor units (centavos).
//
// Values must fit in an int64 of minor units. Add and Sub do not check for
// overflow beyond that width; operations that mutate balances use the
// checked variants.
type Money struct {
	minor int64
}

// Zero is the zero amount.
var Zero = Money{}

// NewMoneyFromMinor builds a Money from an integer amount of minor units.
func NewMoneyFromMinor(minor int64) Money {
	return Money{minor: minor}
}

// ParseMoney parses a decimal string such as "150.00", "150" or "150,5".
// Inputs carrying significant digits beyond the second decimal place are
// rejected instead of rounded.
func ParseMoney(raw string) (Money, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Zero, &ErrInvalidAmount{Input: raw, Reason: "amount is required"}
	}
	if len(s) > maxAmountLength {
		return Zero, &ErrInvalidAmount{Input: raw[:maxAmountLength] + "...", Reason: "too long"}
	}
	s = strings.Replace(s, ",", ".", 1)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, &ErrInvalidAmount{Input: raw, Reason: "not a number"}
	}
	switch exp := d.Exponent(); {
	case exp > maxExponent:
		return Zero, &ErrInvalidAmount{Input: raw, Reason: "out of range"}
	case exp < minExponent:
		return Zero, &ErrInvalidAmount{Input: raw, Reason: "more than 2 decimal places"}
	}
	if !d.Equal(d.Truncate(moneyScale)) {
		return Zero, &ErrInvalidAmount{Input: raw, Reason: "more than 2 decimal places"}
	}
	return fromDecimal(raw, d)
}

// MoneyFromFloat quantizes a float to two decimal places using banker's
// rounding. The conversion fails when rounding would change the sign of
// the value (e.g. 0.004 becoming 0.00).
func MoneyFromFloat(f float64) (Money, error) {
	input := fmt.Sprintf("%v", f)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Zero, &ErrInvalidAmount{Input: input, Reason: "not a finite number"}
	}
	d := decimal.NewFromFloat(f)
	q := d.RoundBank(moneyScale)
	if q.Sign() != d.Sign() {
		return Zero, &ErrInvalidAmount{Input: input, Reason: "precision loss changes sign"}
	}
	return fromDecimal(input, q)
}

func fromDecimal(input string, d decimal.Decimal) (Money, error) {
	minor := d.Shift(moneyScale)
	if minor.GreaterThan(maxMinorUnits) || minor.LessThan(minMinorUnits) {
		return Zero, &ErrInvalidAmount{Input: input, Reason: "out of range"}
	}
	return Money{minor: minor.IntPart()}, nil
}

// MustParseMoney is like ParseMoney but panics on error. Intended for
// constants and tests.
func MustParseMoney(raw string) Money {
	m, err := ParseMoney(raw)
	if err != nil {
		panic(err)
	}
	return m
}

// MinorUnits returns the amount in minor units.
func (m Money) MinorUnits() int64 { return m.minor }

// Decimal returns the amount as an exact decimal.
func (m Money) Decimal() decimal.Decimal { return decimal.New(m.minor, -moneyScale) }

// Add returns m + o.
func (m Money) Add(o Money) Money { return Money{minor: m.minor + o.minor} }

// Sub returns m - o.
func (m Money) Sub(o Money) Money { return Money{minor: m.minor - o.minor} }

// Neg returns -m.
func (m Money) Neg() Money { return Money{minor: -m.minor} }

// checkedAdd returns m + o, or false if the result does not fit in int64.
func (m Money) checkedAdd(o Money) (Money, bool) {
	sum := m.minor + o.minor
	if (o.minor > 0 && sum < m.minor) || (o.minor < 0 && sum > m.minor) {
		return Zero, false
	}
	return Money{minor: sum}, true
}

// Cmp compares m and o and returns -1, 0 or +1.
func (m Money) Cmp(o Money) int {
	switch {
	case m.minor < o.minor:
		return -1
	case m.minor > o.minor:
		return 1
	default:
		return 0
	}
}

func (m Money) Equal(o Money) bool       { return m.minor == o.minor }
func (m Money) LessThan(o Money) bool    { return m.minor < o.minor }
func (m Money) LessOrEqual(o Money) bool { return m.minor <= o.minor }
func (m Money) IsPositive() bool         { return m.minor > 0 }
func (m Money) IsNegative() bool         { return m.minor < 0 }
func (m Money) IsZero() bool             { return m.minor == 0 }

// String formats the amount with exactly two decimals, e.g. "150.00".
func (m Money) String() string {
	return m.Decimal().StringFixed(moneyScale)
}

// BRL formats the amount for display, e.g. "R$ 1500,00".
func (m Money) BRL() string {
	return "R$ " + strings.Replace(m.String(), ".", ",", 1)
}

// MarshalJSON encodes Money as a decimal string to avoid float drift in clients.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either a decimal string or a JSON number.
func (m *Money) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return &ErrInvalidAmount{Input: string(data), Reason: "not a number"}
		}
		s = n.String()
	}
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
