package tokenregistry

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	// ErrNegativeAmount is returned when a human-readable amount is below zero.
	ErrNegativeAmount = errors.New("amount must not be negative")
	// ErrTooPrecise is returned when an amount has more fractional digits than the token supports.
	ErrTooPrecise = errors.New("amount has more fractional digits than the token")
)

// ParseUnits converts a decimal string such as "1.5" into base units scaled by 10^decimals.
func ParseUnits(s string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrNegativeAmount, s)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s with %d decimals", ErrTooPrecise, s, decimals)
	}
	return scaled.BigInt(), nil
}

// FormatUnits renders base units as a decimal string with trailing zeros trimmed.
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}
