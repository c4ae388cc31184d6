// Package core provides money parsing and handling utilities.
//
// Amounts are held as int64 cents. Parsing and formatting go through
// shopspring/decimal so no float ever touches a ledger value.
package core

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAmountCents bounds a single amount (100 billion). Ledger sums of
// bounded amounts stay far inside int64.
const MaxAmountCents int64 = 10_000_000_000_000

var maxCents = decimal.NewFromInt(MaxAmountCents)

// ParseAmount converts a decimal string to Money with half-up rounding
// on the third decimal place.
//
// Both dot (12.34) and comma (12,34) separators are accepted. Zero is a
// valid amount; negative, empty, non-numeric or input above MaxAmountCents
// returns ErrInvalidAmount.
//
// Examples:
//
//	ParseAmount("12.34")  -> 1234 cents
//	ParseAmount("12,345") -> 1235 cents
//	ParseAmount("0")      -> 0 cents
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	if d.IsNegative() {
		return Money{}, ErrInvalidAmount
	}
	cents := d.Round(2).Shift(2)
	if cents.GreaterThan(maxCents) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: cents.IntPart()}, nil
}

// Decimal returns m as an exact decimal value.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String renders m with exactly two fraction digits, e.g. "1234.50".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// MarshalJSON encodes m as a decimal string so clients never see float rounding.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(m.String())), nil
}

// UnmarshalJSON accepts a quoted decimal string or a bare JSON number.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := string(b)
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	negative := strings.HasPrefix(strings.TrimSpace(s), "-")
	if negative {
		s = strings.TrimPrefix(strings.TrimSpace(s), "-")
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	if negative {
		parsed.Cents = -parsed.Cents
	}
	*m = parsed
	return nil
}
