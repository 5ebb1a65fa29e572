package domain

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// MinorUnitsPerMajor is the number of cents in one currency unit.
const MinorUnitsPerMajor = 100

const minorExp = 2

// Money is an exact amount in integer minor units (cents).
type Money struct {
	Amount int64
}

// NewMoney creates a Money from minor units.
func NewMoney(minor int64) Money {
	return Money{Amount: minor}
}

// Zero is the empty amount.
var Zero = Money{}

// MoneyFromDecimal converts a major-unit decimal ("12.34") into Money.
// The amount must be positive and representable in whole cents.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	if !d.IsPositive() {
		return Zero, fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	return fromMajor(d)
}

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// fromMajor converts d to cents, rejecting sub-cent precision and anything
// outside the int64 range.
func fromMajor(d decimal.Decimal) (Money, error) {
	scaled := d.Shift(minorExp)
	if !scaled.IsInteger() {
		return Zero, fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, minorExp)
	}
	if scaled.GreaterThan(maxMinor) || scaled.LessThan(minMinor) {
		return Zero, fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	return Money{Amount: scaled.IntPart()}, nil
}

// ParseMoney parses a major-unit string such as "150.00".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return MoneyFromDecimal(d)
}

// Add returns a+b, failing with ErrInvalidAmount when the sum does not fit
// in int64.
func Add(a, b Money) (Money, error) {
	if (b.Amount > 0 && a.Amount > math.MaxInt64-b.Amount) ||
		(b.Amount < 0 && a.Amount < math.MinInt64-b.Amount) {
		return a, fmt.Errorf("%w: balance overflow", ErrInvalidAmount)
	}
	return Money{Amount: a.Amount + b.Amount}, nil
}

// Subtract returns a-b, failing with ErrInsufficientFunds when b exceeds a.
func Subtract(a, b Money) (Money, error) {
	if a.Amount < b.Amount {
		return a, ErrInsufficientFunds
	}
	return Money{Amount: a.Amount - b.Amount}, nil
}

func (m Money) IsPositive() bool { return m.Amount > 0 }

func (m Money) IsNegative() bool { return m.Amount < 0 }

// ToDecimal converts minor units to a major-unit decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.New(m.Amount, -minorExp)
}

// String returns the amount with two decimal places.
func (m Money) String() string {
	return m.ToDecimal().StringFixed(minorExp)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	parsed, err := fromMajor(d)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
