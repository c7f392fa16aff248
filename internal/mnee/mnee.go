// Package mnee provides shared MNEE parsing and formatting utilities.
//
// MNEE is a standard 18-decimal ERC-20 token. All amounts are carried as
// big.Int in the smallest unit (1 MNEE = 10^18 units).
package mnee

import (
	"math/big"
	"strings"
)

const Decimals = 18

// Parse converts a decimal string (e.g. "45.50") to its smallest-unit
// big.Int representation. Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded to 18 decimal places; more than 18
//     fractional digits cannot be represented and are rejected rather
//     than silently rounded
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	// Pad to 18 decimals; anything finer than the token can carry is an
	// error, not a truncation.
	if len(frac) > Decimals {
		return nil, false
	}
	for len(frac) < Decimals {
		frac += "0"
	}

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// Format converts a smallest-unit big.Int to a human-readable decimal
// string with trailing zeros trimmed (e.g. "45.5").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	frac := strings.TrimRight(s[decimal:], "0")
	result := s[:decimal]
	if frac != "" {
		result += "." + frac
	}
	if neg {
		result = "-" + result
	}
	return result
}

// Cmp parses both decimal strings and compares them numerically.
// Returns (0, false) if either side fails to parse.
func Cmp(a, b string) (int, bool) {
	ra, ok := Parse(a)
	if !ok {
		return 0, false
	}
	rb, ok := Parse(b)
	if !ok {
		return 0, false
	}
	return ra.Cmp(rb), true
}
