package indicators

import (
	"fmt"

	"wheel-trader/internal/models"
)

// BollingerBands calculates Bollinger Bands.
type BollingerBands struct {
	period    int
	stdDevMul float64
}

// NewBollingerBands creates a new Bollinger Bands indicator.
func NewBollingerBands(period int, stdDevMul float64) *BollingerBands {
	return &BollingerBands{
		period:    period,
		stdDevMul: stdDevMul,
	}
}

func (b *BollingerBands) Name() string {
	return fmt.Sprintf("BollingerBands_%d_%.1f", b.period, b.stdDevMul)
}

func (b *BollingerBands) Period() int {
	return b.period
}

// Bands is the band set for the most recent bar.
type Bands struct {
	Middle float64
	Upper  float64
	Lower  float64
	// PercentB is the close's position between the bands, 0 at the lower
	// band and 100 at the upper. It falls outside that range when price
	// closes beyond a band.
	PercentB float64
}

// Calculate returns the bands for the latest bar.
func (b *BollingerBands) Calculate(candles []models.Candle) (Bands, error) {
	if b.period <= 1 || b.stdDevMul <= 0 {
		return Bands{}, ErrInvalidPeriod
	}
	if len(candles) < b.period {
		return Bands{}, ErrInsufficientData
	}

	closes := closePrices(candles)
	window := tail(closes, b.period)
	sma := mean(window)
	sd := sampleStdDev(window)

	out := Bands{
		Middle: sma,
		Upper:  sma + b.stdDevMul*sd,
		Lower:  sma - b.stdDevMul*sd,
	}

	// A flat window has no width; treat the close as mid-band.
	width := out.Upper - out.Lower
	if width == 0 {
		out.PercentB = 50
	} else {
		out.PercentB = (closes[len(closes)-1] - out.Lower) / width * 100
	}
	return out, nil
}
