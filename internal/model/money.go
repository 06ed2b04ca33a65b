package model

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultCurrency is used when the backend omits the currency code.
// The store is single-currency.
const DefaultCurrency = "INR"

// currencyScale returns the number of minor-unit digits for an ISO code.
// Unknown codes fall back to 2.
func currencyScale(code string) int32 {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// ParseMinor converts a major-unit decimal string (e.g., "199.50") into minor units
// for the given currency. Handles JSON numbers and quoted strings alike.
// Examples (INR): "199.50" → 19950, "100" → 10000, "" → 0
func ParseMinor(s, currencyCode string) (int64, error) {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	if s == "" || s == "null" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.Shift(currencyScale(currencyCode)).Round(0).IntPart(), nil
}

// MinorToDecimal converts minor units back to a major-unit decimal.
func MinorToDecimal(minor int64, currencyCode string) decimal.Decimal {
	return decimal.New(minor, -currencyScale(currencyCode))
}

// FormatAmount renders minor units for display, e.g. 19950/INR → "₹ 199.50".
// The digits come from the exact decimal, so large amounts keep every unit.
func FormatAmount(minor int64, currencyCode string) string {
	if currencyCode == "" {
		currencyCode = DefaultCurrency
	}
	scale := currencyScale(currencyCode)
	digits := groupThousands(MinorToDecimal(minor, currencyCode).StringFixed(scale))

	unit, err := currency.ParseISO(currencyCode)
	if err != nil {
		return digits + " " + currencyCode
	}
	symbol := message.NewPrinter(language.English).Sprint(currency.NarrowSymbol(unit))
	return symbol + " " + digits
}

// groupThousands inserts commas into the integer part of a fixed-point string.
func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return sign + b.String()
}
