package tabular

import (
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// currencySymbols maps overview "Currency" codes to display symbols.
var currencySymbols = map[string]string{
	"USD": "$",
	"INR": "₹",
	"EUR": "€",
	"GBP": "£",
	"CAD": "C$",
	"SGD": "S$",
	"AUD": "A$",
	"NZD": "NZ$",
	"JPY": "¥",
	"CHF": "CHF",
	"CNY": "¥",
	"SEK": "kr",
	"NOK": "kr",
}

var currencyPrinter = message.NewPrinter(language.English)

// FormatCurrency renders an amount for display, e.g. "$1,250.00". The result
// is presentation-only and is never stored back into the document.
func FormatCurrency(code string, amount float64) string {
	symbol, ok := currencySymbols[strings.ToUpper(code)]
	if !ok {
		symbol = "$"
	}
	return currencyPrinter.Sprintf("%s%v", symbol,
		number.Decimal(amount, number.MinFractionDigits(2), number.MaxFractionDigits(2)))
}

// StripCurrency removes display formatting (symbols, group separators) from
// an amount, leaving the unformatted numeric text.
func StripCurrency(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return s
	}
	if _, err := strconv.ParseFloat(b.String(), 64); err != nil {
		return s
	}
	return b.String()
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
