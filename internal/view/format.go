package view

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var indianEnglish = language.MustParse("en-IN")

// FormatINR renders d with two decimals and Indian digit grouping
// (1,25,000.00). Only the integer rupees go through the locale printer; the
// paise come from the decimal itself so no float rounding is involved.
func FormatINR(d decimal.Decimal) string {
	rounded := d.Round(2)
	abs := rounded.Abs()
	_, frac, _ := strings.Cut(abs.StringFixed(2), ".")

	var rupees string
	if whole := abs.Truncate(0).BigInt(); whole.IsInt64() {
		rupees = message.NewPrinter(indianEnglish).Sprint(number.Decimal(whole.Int64()))
	} else {
		rupees = whole.String()
	}

	sign := ""
	if rounded.IsNegative() {
		sign = "-"
	}
	return sign + rupees + "." + frac
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
