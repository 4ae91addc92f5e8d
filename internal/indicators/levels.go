package indicators

import (
	"wheel-trader/internal/models"
)

// TradingDaysPerYear is the lookback of the 52-week range.
const TradingDaysPerYear = 252

// RangePosition returns where the last close sits in the trailing range of
// up to lookback bars, 0 at the low and 100 at the high. A flat range
// returns 50.
func RangePosition(candles []models.Candle, lookback int) (float64, error) {
	if len(candles) == 0 {
		return 0, ErrInsufficientData
	}
	closes := tail(closePrices(candles), lookback)
	lo, hi := minMax(closes)
	if hi == lo {
		return 50, nil
	}
	last := closes[len(closes)-1]
	return (last - lo) / (hi - lo) * 100, nil
}

// SupportDistance is the percentage the last close sits above the trailing
// low. It reports false when the low is not positive.
func SupportDistance(candles []models.Candle, lookback int) (float64, bool) {
	if len(candles) == 0 {
		return 0, false
	}
	closes := tail(closePrices(candles), lookback)
	lo, _ := minMax(closes)
	if lo <= 0 {
		return 0, false
	}
	return (closes[len(closes)-1] - lo) / lo * 100, true
}

// MADistance is the percentage the last close sits above its simple moving
// average of period bars.
func MADistance(candles []models.Candle, period int) (float64, error) {
	if period <= 0 {
		return 0, ErrInvalidPeriod
	}
	if len(candles) < period {
		return 0, ErrInsufficientData
	}
	closes := closePrices(candles)
	ma := mean(tail(closes, period))
	if ma == 0 {
		return 0, ErrInsufficientData
	}
	return (closes[len(closes)-1] - ma) / ma * 100, nil
}

// AverageVolume is the mean volume of the last period bars.
func AverageVolume(candles []models.Candle, period int) int64 {
	if len(candles) == 0 || period <= 0 {
		return 0
	}
	if len(candles) > period {
		candles = candles[len(candles)-period:]
	}
	var total int64
	for _, c := range candles {
		total += c.Volume
	}
	return total / int64(len(candles))
}
