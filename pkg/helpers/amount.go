package helpers

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FormatAmount renders an amount in smallest units as a decimal string.
// FormatAmount(1000000000000000000, 18) is "1".
func FormatAmount(amount uint64, decimals uint8) string {
	return decimal.NewFromUint64(amount).Shift(-int32(decimals)).String()
}

// ParseAmount parses a decimal string into smallest units. Fractional digits
// beyond the chain's precision are truncated.
func ParseAmount(s string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative amount: %s", s)
	}

	units := d.Shift(int32(decimals)).Truncate(0).BigInt()
	if !units.IsUint64() {
		return 0, fmt.Errorf("amount out of range: %s", s)
	}
	return units.Uint64(), nil
}
