package indicators

import (
	"math"

	"wheel-trader/internal/models"
)

// Component weights of the readiness score.
const (
	rsiWeight    = 0.40
	bandsWeight  = 0.30
	week52Weight = 0.30
)

// Snapshot is the indicator set for one underlying. Nil fields could not be
// computed from the available history.
type Snapshot struct {
	Symbol          string   `json:"symbol"`
	Price           float64  `json:"price"`
	Bars            int      `json:"bars"`
	RSI             *float64 `json:"rsi"`
	PercentB        *float64 `json:"bb_percent"`
	Week52Percent   *float64 `json:"week_52_percent"`
	MAPercent       *float64 `json:"ma_percent"`
	SupportDistance *float64 `json:"support_distance"`
	AvgVolume       int64    `json:"avg_volume"`
}

// Compute derives a snapshot from daily candles, oldest first.
func Compute(symbol string, candles []models.Candle) Snapshot {
	s := Snapshot{Symbol: symbol, Bars: len(candles)}
	if len(candles) == 0 {
		return s
	}
	s.Price = candles[len(candles)-1].Close

	if v, err := NewRSI(14).Last(candles); err == nil {
		s.RSI = &v
	}
	if b, err := NewBollingerBands(20, 2).Calculate(candles); err == nil {
		s.PercentB = &b.PercentB
	}
	if v, err := RangePosition(candles, TradingDaysPerYear); err == nil {
		s.Week52Percent = &v
	}
	if v, err := MADistance(candles, 50); err == nil {
		s.MAPercent = &v
	}
	if v, ok := SupportDistance(candles, TradingDaysPerYear); ok {
		s.SupportDistance = &v
	}
	s.AvgVolume = AverageVolume(candles, 30)
	return s
}

// Breakdown is the banded score of each component.
type Breakdown struct {
	RSIScore    float64 `json:"rsi_score"`
	BandsScore  float64 `json:"bb_score"`
	Week52Score float64 `json:"week_52_score"`
	Total       float64 `json:"total"`
}

// ReadinessScore rates how attractive an underlying is for selling puts, 0
// to 100. Oversold momentum, a close near the lower band and a price near
// the 52-week low all score higher. Missing components score zero.
func ReadinessScore(s Snapshot) Breakdown {
	b := Breakdown{
		RSIScore:    rsiBand(s.RSI),
		BandsScore:  positionBand(s.PercentB),
		Week52Score: positionBand(s.Week52Percent),
	}
	total := b.RSIScore*rsiWeight + b.BandsScore*bandsWeight + b.Week52Score*week52Weight
	b.Total = math.Round(total*10) / 10
	return b
}

func rsiBand(v *float64) float64 {
	if v == nil {
		return 0
	}
	switch r := *v; {
	case r < 30:
		return 100
	case r < 35:
		return 80
	case r < 40:
		return 60
	case r < 50:
		return 40
	case r <= 70:
		return 20
	}
	return 0
}

// positionBand scores a 0-100 position where lower is better.
func positionBand(v *float64) float64 {
	if v == nil {
		return 0
	}
	switch p := *v; {
	case p <= 20:
		return 100
	case p <= 30:
		return 80
	case p <= 40:
		return 60
	case p <= 50:
		return 40
	case p <= 60:
		return 20
	}
	return 0
}
