// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatUSD formats a dollar amount with thousands separators, e.g. -$1,234.50.
func FormatUSD(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	parts := strings.Split(str, ".")

	result := "$" + groupThousands(parts[0]) + "." + parts[1]
	if negative {
		result = "-" + result
	}
	return result
}

// FormatDecimalUSD formats a decimal dollar amount.
func FormatDecimalUSD(amount decimal.Decimal) string {
	return FormatUSD(amount.Round(2).InexactFloat64())
}

// FormatWholeUSD formats a dollar amount without cents, e.g. $10,000.
func FormatWholeUSD(amount float64) string {
	s := FormatUSD(amount)
	return s[:len(s)-3]
}

// groupThousands inserts commas into an integer string.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	var b strings.Builder
	head := n % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatPnL formats P&L with an explicit sign.
func FormatPnL(pnl float64) string {
	formatted := FormatUSD(pnl)
	if pnl > 0 {
		return "+" + formatted
	}
	return formatted
}

// FormatQuantity formats a quantity with commas.
func FormatQuantity(qty int64) string {
	if qty < 0 {
		return "-" + groupThousands(fmt.Sprintf("%d", -qty))
	}
	return groupThousands(fmt.Sprintf("%d", qty))
}

// FormatCompact formats a dollar amount in compact form ($1.2K, $3.4M).
func FormatCompact(amount float64) string {
	sign, abs := "", amount
	if abs < 0 {
		sign, abs = "-", -abs
	}

	switch {
	case abs >= 1_000_000:
		return fmt.Sprintf("%s$%.2fM", sign, abs/1_000_000)
	case abs >= 10_000:
		return fmt.Sprintf("%s$%.1fK", sign, abs/1_000)
	}
	return FormatUSD(amount)
}
