package chain

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseDecimalAmount parses a decimal amount string into base units with the given decimal places.
// For example, "1.5" with 10 decimals returns 15000000000. Extra fractional digits are truncated.
func ParseDecimalAmount(amount string, decimalPlaces int, invalidAmountErr error) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" || strings.HasPrefix(amount, "-") || strings.HasPrefix(amount, "+") {
		return nil, invalidAmountErr
	}
	if strings.ContainsAny(amount, "eE") {
		return nil, invalidAmountErr
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, invalidAmountErr
	}

	return d.Shift(int32(decimalPlaces)).Truncate(0).BigInt(), nil //nolint:gosec // decimals are small
}

// FormatDecimalAmount converts base units to a human-readable string with the given decimal places.
// Trailing zeros after the decimal point are removed.
// For example, 15000000000 with 10 decimals returns "1.5".
func FormatDecimalAmount(amount *big.Int, decimalPlaces int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimalPlaces)).String() //nolint:gosec // decimals are small
}

// FormatBalance renders b with the given decimals and symbol, for example "1.5 DOT".
func FormatBalance(b Balance, decimalPlaces int, symbol string) string {
	s := FormatDecimalAmount(b.Big(), decimalPlaces)
	if symbol == "" {
		return s
	}
	return s + " " + symbol
}

// ToDecimal converts base units into a decimal token amount.
func ToDecimal(b Balance, decimalPlaces int) decimal.Decimal {
	return decimal.NewFromBigInt(b.Big(), -int32(decimalPlaces)) //nolint:gosec // decimals are small
}

// Ratio returns num/den as a float, or 0 when den is zero.
func Ratio(num, den Balance) float64 {
	if den.IsZero() {
		return 0
	}
	return decimal.NewFromBigInt(num.Big(), 0).
		DivRound(decimal.NewFromBigInt(den.Big(), 0), 18).
		InexactFloat64()
}
