// Package money holds the fixed-point helpers used for currency amounts and
// periodic interest rates. Nothing in here touches float64.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// AmountPlaces is the number of fractional digits kept for currency amounts.
	AmountPlaces int32 = 2
	// RatePlaces is the number of fractional digits kept for interest rates.
	RatePlaces int32 = 4
)

// Amount rounds d to currency precision, half away from zero.
func Amount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountPlaces)
}

// Rate rounds d to rate precision.
func Rate(d decimal.Decimal) decimal.Decimal {
	return d.Round(RatePlaces)
}

// ParseAmount parses a decimal string and rounds it to currency precision.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount(d), nil
}

// ParseRate parses a decimal string and rounds it to rate precision.
func ParseRate(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	return Rate(d), nil
}

// Interest returns balance * rate at currency precision.
func Interest(balance, rate decimal.Decimal) decimal.Decimal {
	return Amount(balance.Mul(rate))
}

// Sum adds the given amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// IsPositive reports whether d > 0.
func IsPositive(d decimal.Decimal) bool {
	return d.GreaterThan(decimal.Zero)
}

// ToUnits converts d into an integer count of 10^-places units, e.g. cents
// for AmountPlaces.
func ToUnits(d decimal.Decimal, places int32) int64 {
	return d.Shift(places).Round(0).IntPart()
}

// FromUnits is the inverse of ToUnits.
func FromUnits(n int64, places int32) decimal.Decimal {
	return decimal.New(n, -places)
}
