// Package money converts decimal amounts carried as text at the protocol
// boundary into integer micro-units for atomic accumulation, and back.
package money

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// MicroDecimals is the number of fractional digits kept internally.
const MicroDecimals = 6

// MicroPerUnit is 10^MicroDecimals.
const MicroPerUnit = 1_000_000

var (
	// ErrInvalidAmount is returned for text that is not a decimal number.
	ErrInvalidAmount = errors.New("money: invalid decimal amount")
	// ErrNegativeAmount is returned for amounts below zero.
	ErrNegativeAmount = errors.New("money: amount must not be negative")
	// ErrOverflow is returned when the amount does not fit in micro-units.
	ErrOverflow = errors.New("money: amount overflows micro-units")
)

// ToMicro parses a decimal string and returns value × 10^6, truncated
// toward zero. "1.00" → 1000000, "0.0000019" → 1.
func ToMicro(amount string) (uint64, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %q", ErrNegativeAmount, amount)
	}
	micro := d.Shift(MicroDecimals).Truncate(0)
	if !micro.BigInt().IsUint64() {
		return 0, fmt.Errorf("%w: %q", ErrOverflow, amount)
	}
	return micro.BigInt().Uint64(), nil
}

// FromMicro renders micro-units as a decimal string with six fractional digits.
func FromMicro(micro uint64) string {
	return fromMicro(micro).StringFixed(MicroDecimals)
}

// MicroToFloat is a display conversion only; never accumulate its result.
func MicroToFloat(micro uint64) float64 {
	f, _ := fromMicro(micro).Float64()
	return f
}

func fromMicro(micro uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(micro), -MicroDecimals)
}

// Valid reports whether amount parses as a non-negative decimal.
func Valid(amount string) bool {
	_, err := ToMicro(amount)
	return err == nil
}
