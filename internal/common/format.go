package common

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Monetary values are carried as raw integer token units everywhere in
// the core. Conversion to and from human decimal strings happens only
// here, at the presentation boundary, so no rounding drift can creep in
// between ingestion and ledger credit.

// FormatRawAmount renders raw token units as a human decimal string,
// e.g. 5000000 with 6 decimals -> "5".
func FormatRawAmount(raw int64, decimals int) string {
	return decimal.New(raw, -int32(decimals)).String()
}

// ParseRawAmount converts a human decimal string to raw token units.
// Rejects negative values, malformed input, and values with more
// fractional digits than the token supports.
func ParseRawAmount(s string, decimals int) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount must not be negative: %s", s)
	}

	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", s, decimals)
	}
	raw := shifted.IntPart()
	if !shifted.Equal(decimal.NewFromInt(raw)) {
		return 0, fmt.Errorf("amount %s out of range", s)
	}
	return raw, nil
}
