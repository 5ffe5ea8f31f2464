package domain

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is assumed when a plugin does not declare one.
const DefaultCurrency = "USD"

// MinorUnits returns the number of decimal places of the currency's minor unit
// (2 for USD, 0 for JPY).
func MinorUnits(code string) (int32, error) {
	cur := money.GetCurrency(strings.ToUpper(code))
	if cur == nil {
		return 0, fmt.Errorf("unknown currency %q", code)
	}
	return int32(cur.Fraction), nil
}

// RoundMinor rounds an amount to the currency's minor-unit precision.
func RoundMinor(amount decimal.Decimal, code string) (decimal.Decimal, error) {
	places, err := MinorUnits(code)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Round(places), nil
}

// MinorUnit returns one minor unit of the currency (0.01 for USD).
func MinorUnit(code string) (decimal.Decimal, error) {
	places, err := MinorUnits(code)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(1, -places), nil
}

// WithinTolerance reports whether |a - b| <= tolerance.
func WithinTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}

// FormatAmount renders an amount with the currency's minor-unit precision.
func FormatAmount(amount decimal.Decimal, code string) string {
	places, err := MinorUnits(code)
	if err != nil {
		places = 2
	}
	return amount.StringFixed(places)
}
