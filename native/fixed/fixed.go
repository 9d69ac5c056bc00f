// Package fixed implements the 18 decimal place fixed point arithmetic used
// for every rate, balance and debt figure in the protocol. Values are plain
// *big.Int amounts scaled by 1e18; all products and quotients floor.
package fixed

import (
	"fmt"
	"math/big"
	"strings"
)

var unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Unit returns a fresh copy of the scaling factor (1e18).
func Unit() *big.Int {
	return new(big.Int).Set(unit)
}

// Zero returns a fresh zero value.
func Zero() *big.Int {
	return big.NewInt(0)
}

// FromUnits converts a whole-unit count into its fixed point representation.
func FromUnits(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), unit)
}

// FromDecimal parses a decimal string such as "0.25" into its fixed point
// representation. The fractional part beyond 18 places is truncated.
func FromDecimal(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("fixed: empty decimal")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("fixed: invalid decimal %q", s)
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(unit))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}

// MulUnit multiplies two fixed point values, flooring the result.
func MulUnit(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, unit)
}

// DivUnit divides a by b in fixed point terms, flooring the result. A zero or
// nil divisor yields zero rather than an error; callers that must distinguish
// "no rate" do so before dividing.
func DivUnit(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, unit)
	return out.Quo(out, b)
}

// DivUnitCeil divides a by b in fixed point terms, rounding up. Used where a
// floored result would leave an invariant violated by one unit.
func DivUnitCeil(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(a, unit)
	out, rem := new(big.Int).QuoRem(num, b, new(big.Int))
	if rem.Sign() != 0 {
		out.Add(out, big.NewInt(1))
	}
	return out
}

// Clamp bounds v into [lo, hi].
func Clamp(v, lo, hi *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	if lo != nil && v.Cmp(lo) < 0 {
		return new(big.Int).Set(lo)
	}
	if hi != nil && v.Cmp(hi) > 0 {
		return new(big.Int).Set(hi)
	}
	return new(big.Int).Set(v)
}

// Set returns a defensive copy of v, treating nil as zero.
func Set(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// IsZero reports whether v is nil or exactly zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// Format renders a fixed point value as a decimal string for events and logs.
func Format(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return new(big.Rat).SetFrac(v, unit).FloatString(18)
}
