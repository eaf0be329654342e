// Package utils holds IST market-clock, rupee formatting, price rounding and
// retry helpers shared by the CLI, API and gateways.
package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatIndianCurrency renders amount in rupees with lakh/crore grouping,
// e.g. ₹12,34,567.50.
func FormatIndianCurrency(amount float64) string {
	d := decimal.NewFromFloat(amount).Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}
	whole, frac, _ := strings.Cut(d.StringFixed(2), ".")
	return sign + "₹" + groupLakhs(whole) + "." + frac
}

// groupLakhs puts a comma before the last three digits and then between
// every pair to the left.
func groupLakhs(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]

	var groups []string
	if len(head)%2 == 1 {
		groups = append(groups, head[:1])
		head = head[1:]
	}
	for i := 0; i < len(head); i += 2 {
		groups = append(groups, head[i:i+2])
	}
	return strings.Join(append(groups, tail), ",")
}

// FormatPnL is FormatIndianCurrency with an explicit + for gains.
func FormatPnL(pnl float64) string {
	if decimal.NewFromFloat(pnl).Round(2).IsPositive() {
		return "+" + FormatIndianCurrency(pnl)
	}
	return FormatIndianCurrency(pnl)
}
