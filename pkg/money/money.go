package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CentsFromDecimal converts a catalog price (numeric dollars) into integer
// cents, rounding half away from zero. This is the only place a price
// crosses from decimal to cents; everything downstream stays integral.
func CentsFromDecimal(price decimal.Decimal) int64 {
	return price.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// CentsFromDecimalPtr treats a nil price as free.
func CentsFromDecimalPtr(price *decimal.Decimal) int64 {
	if price == nil {
		return 0
	}
	return CentsFromDecimal(*price)
}

// FormatCents renders cents as a dollar string for descriptions and logs,
// e.g. 12345 -> "$123.45".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

// NormalizeCurrency lowercases a currency code, defaulting to usd.
func NormalizeCurrency(code string) string {
	code = strings.TrimSpace(strings.ToLower(code))
	if code == "" {
		return "usd"
	}
	return code
}
