package amount

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToSmallestUnit scales a human-readable amount to the token's smallest unit,
// rounding half away from zero at the last representable digit
func ToSmallestUnit(amount decimal.Decimal, decimals uint8) *big.Int {
	return amount.Shift(int32(decimals)).Round(0).BigInt()
}

// FromSmallestUnit converts a smallest-unit integer back to a human-readable amount
func FromSmallestUnit(value *big.Int, decimals uint8) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, -int32(decimals))
}

// Parse reads a decimal amount from user input
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// Format renders a smallest-unit value with the token's precision, trailing zeros dropped
func Format(value *big.Int, decimals uint8) string {
	return FromSmallestUnit(value, decimals).String()
}
