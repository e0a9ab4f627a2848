package domain

import (
	"regexp"
	"strings"
)

var (
	currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)
	symbolRe   = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-^=]{0,19}$`)
)

// ValidCurrency reports whether c looks like an ISO 4217 alpha code.
func ValidCurrency(c string) bool {
	return currencyRe.MatchString(c)
}

// ValidSymbol reports whether s is a plausible exchange ticker.
func ValidSymbol(s string) bool {
	return symbolRe.MatchString(s)
}

// NormalizeCode trims and upper-cases a ticker or currency code.
func NormalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
