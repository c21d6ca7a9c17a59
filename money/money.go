package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Locale describes how a decimal amount is formatted as text.
type Locale struct {
	DecimalPoint string
	ThousandsSep string
}

var (
	// DotDecimal formats amounts as 1,234.56
	DotDecimal = Locale{DecimalPoint: ".", ThousandsSep: ","}
	// CommaDecimal formats amounts as 1.234,56 (nl_NL, de_DE)
	CommaDecimal = Locale{DecimalPoint: ",", ThousandsSep: "."}
)

var hundred = decimal.NewFromInt(100)

// LocaleByName returns the locale for "dot" or "comma".
func LocaleByName(name string) (Locale, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "dot", "en_us", "en_gb":
		return DotDecimal, nil
	case "comma", "nl_nl", "de_de":
		return CommaDecimal, nil
	}
	return Locale{}, fmt.Errorf("unknown amount locale %q", name)
}

// ParseAmount parses a locale formatted amount. Separators are replaced in a
// single pass so "1.234,56" never turns into "1.234.56".
func ParseAmount(s string, loc Locale) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}

	if loc.DecimalPoint != "." {
		pairs := []string{loc.DecimalPoint, "."}
		if loc.ThousandsSep != "" {
			pairs = append([]string{loc.ThousandsSep, ""}, pairs...)
		}
		s = strings.NewReplacer(pairs...).Replace(s)
	} else if loc.ThousandsSep != "" {
		s = strings.ReplaceAll(s, loc.ThousandsSep, "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// Cents converts a major-unit amount to integer cents, rounding half away from zero.
func Cents(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// ParseCents is ParseAmount followed by Cents.
func ParseCents(s string, loc Locale) (int64, error) {
	d, err := ParseAmount(s, loc)
	if err != nil {
		return 0, err
	}
	return Cents(d), nil
}

// FromCents converts integer cents back to a major-unit amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
