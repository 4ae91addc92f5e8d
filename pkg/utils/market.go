package utils

import (
	"time"

	"wheel-trader/internal/models"
	"wheel-trader/internal/occ"
)

// Regular session boundaries in minutes after midnight, exchange time.
const (
	marketOpenMinutes        = 9*60 + 30
	marketClosingSoonMinutes = 15 * 60
	marketCloseMinutes       = 16 * 60
)

// MarketStatusAt returns the US equity market status at t.
// Exchange holidays are not modelled.
func MarketStatusAt(t time.Time) models.MarketStatus {
	now := t.In(occ.Exchange)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return models.MarketClosed
	}

	minutes := now.Hour()*60 + now.Minute()
	switch {
	case minutes < marketOpenMinutes || minutes >= marketCloseMinutes:
		return models.MarketClosed
	case minutes >= marketClosingSoonMinutes:
		return models.MarketClosingSoon
	default:
		return models.MarketOpen
	}
}

// GetMarketStatus returns the current market status.
func GetMarketStatus() models.MarketStatus {
	return MarketStatusAt(time.Now())
}

// IsMarketOpen returns true if the market is currently open.
func IsMarketOpen() bool {
	status := GetMarketStatus()
	return status == models.MarketOpen || status == models.MarketClosingSoon
}

// NextMarketOpen returns the next regular session open after t.
func NextMarketOpen(t time.Time) time.Time {
	now := t.In(occ.Exchange)

	next := time.Date(now.Year(), now.Month(), now.Day(), 9, 30, 0, 0, occ.Exchange)
	if !now.Before(next) {
		next = next.AddDate(0, 0, 1)
	}
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// MarketCloseOn returns the regular session close on t's exchange date.
func MarketCloseOn(t time.Time) time.Time {
	now := t.In(occ.Exchange)
	return time.Date(now.Year(), now.Month(), now.Day(), 16, 0, 0, 0, occ.Exchange)
}

// TimeUntilMarketClose returns the duration until today's close.
func TimeUntilMarketClose() time.Duration {
	return time.Until(MarketCloseOn(time.Now()))
}
