package ntt

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// NativeAmount converts a human-readable token amount ("2.15") to native
// units under the resource's decimal precision. Rejects negative amounts,
// sub-precision remainders and values past the u64 range.
func NativeAmount(human string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(human)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", human, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %s is negative", d)
	}
	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", d, decimals)
	}
	if shifted.Cmp(decimal.NewFromUint64(math.MaxUint64)) > 0 {
		return 0, fmt.Errorf("amount %s does not fit in 64 bits at %d decimals", d, decimals)
	}
	return shifted.BigInt().Uint64(), nil
}

// HumanAmount renders native units back to a human-readable amount.
func HumanAmount(native uint64, decimals int32) string {
	return decimal.NewFromUint64(native).Shift(-decimals).String()
}
