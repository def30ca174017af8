// Package decimals performs exact fixed-point arithmetic on raw integer-string
// token amounts. Floating point is never used so rates stay drift-free across
// disparate decimal scales (8-decimal vs 6-decimal assets).
package decimals

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// rate divisions are rounded to this many fractional digits, well past any
// token decimal scale in the wild
const divisionPrecision = 32

var (
	ErrMalformedAmount = errors.New("amount is not a non-negative integer string")
	ErrZeroFromAmount  = errors.New("from amount normalizes to zero")
	ErrNegativeDecimal = errors.New("decimals must be non-negative")
	ErrZeroExpected    = errors.New("expected amount must be positive")
)

// ParseRawAmount parses a smallest-unit amount, which must be a non-negative
// integer string.
func ParseRawAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, ErrMalformedAmount
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformedAmount, raw)
	}

	if amount.IsNegative() || !amount.IsInteger() {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformedAmount, raw)
	}

	return amount, nil
}

// Normalize converts a smallest-unit integer string into its human-readable
// decimal form, i.e. raw / 10^decimals.
func Normalize(raw string, tokenDecimals int) (decimal.Decimal, error) {
	if tokenDecimals < 0 {
		return decimal.Zero, ErrNegativeDecimal
	}

	amount, err := ParseRawAmount(raw)
	if err != nil {
		return decimal.Zero, err
	}

	return amount.Shift(int32(-tokenDecimals)), nil
}

// Denormalize converts a human-readable amount back into a smallest-unit
// integer string. Fractional dust below one smallest unit is truncated
// (rounded down) so amounts are never overstated.
func Denormalize(amount decimal.Decimal, tokenDecimals int) (string, error) {
	if tokenDecimals < 0 {
		return "", ErrNegativeDecimal
	}

	if amount.IsNegative() {
		return "", ErrMalformedAmount
	}

	return amount.Shift(int32(tokenDecimals)).Floor().String(), nil
}

// EffectiveRate computes (toAmount / 10^toDecimals) / (fromAmount / 10^fromDecimals),
// the destination-per-source exchange rate.
func EffectiveRate(fromAmount, toAmount string, fromDecimals, toDecimals int) (decimal.Decimal, error) {
	fromNorm, err := Normalize(fromAmount, fromDecimals)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid from amount: %w", err)
	}

	toNorm, err := Normalize(toAmount, toDecimals)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid to amount: %w", err)
	}

	if fromNorm.IsZero() {
		return decimal.Zero, ErrZeroFromAmount
	}

	return toNorm.DivRound(fromNorm, divisionPrecision), nil
}

// SumFees adds up decimal fee amounts (typically USD figures from the
// provider's fee cost breakdown).
func SumFees(amounts []string) (decimal.Decimal, error) {
	total := decimal.Zero

	for _, raw := range amounts {
		fee, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformedAmount, raw)
		}

		if fee.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformedAmount, raw)
		}

		total = total.Add(fee)
	}

	return total, nil
}

// SlippageBps computes |expected-actual| / expected in basis points.
func SlippageBps(expected, actual decimal.Decimal) (decimal.Decimal, error) {
	if !expected.IsPositive() {
		return decimal.Zero, ErrZeroExpected
	}

	return expected.Sub(actual).Abs().
		DivRound(expected, divisionPrecision).
		Mul(decimal.NewFromInt(10000)), nil
}
