package cli

import (
	"fmt"
	"strings"
	"time"

	"wheel-trader/internal/models"
	"wheel-trader/internal/occ"
)

// FormatContract formats an option as "SOFI 01/16/26 $24P".
func FormatContract(underlying string, expiration time.Time, strike float64, typ models.OptionType) string {
	suffix := "C"
	if typ == models.OptionTypePut {
		suffix = "P"
	}
	return fmt.Sprintf("%s %s %s%s", underlying, FormatExpiration(expiration), FormatStrike(strike), suffix)
}

// FormatExpiration formats an expiration date in exchange time.
func FormatExpiration(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(occ.Exchange).Format("01/02/06")
}

// FormatDate formats a date in exchange time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(occ.Exchange).Format("Jan 02, 2006")
}

// FormatDateTime formats a timestamp in exchange time.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(occ.Exchange).Format("Jan 02 15:04 MST")
}

// FormatStrike formats a strike without trailing zeros, e.g. $24 or $2.5.
func FormatStrike(strike float64) string {
	s := fmt.Sprintf("%.3f", strike)
	s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	return "$" + s
}

// FormatDelta formats an absolute delta to two places.
func FormatDelta(delta float64) string {
	if delta < 0 {
		delta = -delta
	}
	return fmt.Sprintf("%.2f", delta)
}

// FormatPct formats a percentage without sign.
func FormatPct(pct float64) string {
	return fmt.Sprintf("%.2f%%", pct)
}

// FormatIVRank formats an optional IV rank.
func FormatIVRank(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f", *v)
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// ProgressBar renders pct (0-100) as a bar of the given width.
func ProgressBar(pct float64, width int) string {
	if width <= 0 {
		return ""
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int(pct / 100 * float64(width))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// PadLeft pads a string to the left.
func PadLeft(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return strings.Repeat(" ", length-len(s)) + s
}
