package trading

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"wheel-trader/internal/models"
	"wheel-trader/internal/occ"
)

// Recommendation is the suggested handling of an open short option.
type Recommendation string

const (
	RecommendClose Recommendation = "CLOSE"
	RecommendWatch Recommendation = "WATCH"
	RecommendHold  Recommendation = "HOLD"
)

// PremiumRealization returns the share of the opening premium already
// captured, (open-current)/open*100. It may be negative. Zero when open <= 0.
func PremiumRealization(openPrice, currentPrice float64) float64 {
	if openPrice <= 0 {
		return 0
	}
	return (openPrice - currentPrice) / openPrice * 100
}

// Recommend maps realization and days to expiration to a recommendation.
func Recommend(realizedPct float64, dte int) Recommendation {
	switch {
	case realizedPct >= 80:
		return RecommendClose
	case realizedPct >= 60, realizedPct >= 50, dte <= 7:
		return RecommendWatch
	default:
		return RecommendHold
	}
}

// ShortOptionStatus is the P/L picture of one open short option.
type ShortOptionStatus struct {
	Symbol           string            `json:"symbol"`
	Underlying       string            `json:"underlying"`
	OptionType       models.OptionType `json:"option_type"`
	Strike           float64           `json:"strike"`
	Expiration       time.Time         `json:"expiration"`
	DTE              int               `json:"dte"`
	Contracts        int               `json:"contracts"`
	PremiumCollected decimal.Decimal   `json:"premium_collected"`
	CurrentValue     decimal.Decimal   `json:"current_value"`
	PnL              decimal.Decimal   `json:"pnl"`
	RealizedPct      float64           `json:"realized_pct"`
	Recommendation   Recommendation    `json:"recommendation"`
}

// EvaluateShortOptions computes premium realization for every short option
// in positions, ordered by expiration then symbol.
func EvaluateShortOptions(positions []models.NormalizedPosition, now time.Time) []ShortOptionStatus {
	var out []ShortOptionStatus
	for _, p := range positions {
		if !p.IsOption() || !p.IsShort {
			continue
		}
		mult := decimal.NewFromInt(int64(p.Contracts) * models.ContractMultiplier)
		current := p.MarkPrice
		if current == 0 {
			current = p.ClosePrice
		}

		collected := decimal.NewFromFloat(p.AverageOpenPrice).Mul(mult)
		value := decimal.NewFromFloat(current).Mul(mult)
		realized := PremiumRealization(p.AverageOpenPrice, current)
		dte := occ.DaysBetween(now, p.Expiration)

		out = append(out, ShortOptionStatus{
			Symbol:           p.Symbol,
			Underlying:       p.Underlying,
			OptionType:       p.OptionType,
			Strike:           p.StrikePrice,
			Expiration:       p.Expiration,
			DTE:              dte,
			Contracts:        p.Contracts,
			PremiumCollected: collected,
			CurrentValue:     value,
			PnL:              collected.Sub(value),
			RealizedPct:      realized,
			Recommendation:   Recommend(realized, dte),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Expiration.Equal(out[j].Expiration) {
			return out[i].Expiration.Before(out[j].Expiration)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// UnderwaterPosition is a long stock position below cost, with the covered
// call premium collected against it.
type UnderwaterPosition struct {
	Symbol         string          `json:"symbol"`
	Shares         int             `json:"shares"`
	CostBasis      float64         `json:"cost_basis"`
	CurrentPrice   float64         `json:"current_price"`
	UnrealizedLoss decimal.Decimal `json:"unrealized_loss"`
	CCPremium      decimal.Decimal `json:"cc_premium"`
	RecoveryPct    float64         `json:"recovery_pct"`
	AdjustedBasis  decimal.Decimal `json:"adjusted_basis"`
	RemainingLoss  decimal.Decimal `json:"remaining_loss"`
}

// RecoverySummary aggregates the underwater book.
type RecoverySummary struct {
	Positions           []UnderwaterPosition `json:"positions"`
	TotalUnrealizedLoss decimal.Decimal      `json:"total_unrealized_loss"`
	TotalCCPremium      decimal.Decimal      `json:"total_cc_premium"`
	OverallRecoveryPct  float64              `json:"overall_recovery_pct"`
	NetPosition         decimal.Decimal      `json:"net_position"`
}

// RecoveryMetrics measures how far covered call premium has offset the
// losses of long stock positions trading below cost.
func RecoveryMetrics(stocks []models.NormalizedPosition, ccPremium map[string]decimal.Decimal) RecoverySummary {
	summary := RecoverySummary{}

	for _, p := range stocks {
		if p.InstrumentType != models.InstrumentEquity || p.IsShort || p.Contracts <= 0 {
			continue
		}
		price := p.ClosePrice
		if price == 0 {
			price = p.MarkPrice
		}

		shares := decimal.NewFromInt(int64(p.Contracts))
		cost := decimal.NewFromFloat(p.AverageOpenPrice).Mul(shares)
		unrealized := decimal.NewFromFloat(price).Mul(shares).Sub(cost)
		if !unrealized.IsNegative() {
			continue
		}

		premium := ccPremium[p.Underlying]
		pos := UnderwaterPosition{
			Symbol:         p.Symbol,
			Shares:         p.Contracts,
			CostBasis:      p.AverageOpenPrice,
			CurrentPrice:   price,
			UnrealizedLoss: unrealized,
			CCPremium:      premium,
			RecoveryPct:    premium.Div(unrealized.Abs()).Mul(hundred).InexactFloat64(),
			AdjustedBasis:  decimal.NewFromFloat(p.AverageOpenPrice).Sub(premium.Div(shares)),
			RemainingLoss:  unrealized.Add(premium),
		}
		summary.Positions = append(summary.Positions, pos)
		summary.TotalUnrealizedLoss = summary.TotalUnrealizedLoss.Add(unrealized)
		summary.TotalCCPremium = summary.TotalCCPremium.Add(premium)
	}

	if !summary.TotalUnrealizedLoss.IsZero() {
		summary.OverallRecoveryPct = summary.TotalCCPremium.Div(summary.TotalUnrealizedLoss.Abs()).Mul(hundred).InexactFloat64()
	}
	summary.NetPosition = summary.TotalUnrealizedLoss.Add(summary.TotalCCPremium)

	sort.Slice(summary.Positions, func(i, j int) bool {
		return summary.Positions[i].RemainingLoss.LessThan(summary.Positions[j].RemainingLoss)
	})
	return summary
}

// MonthsToBreakeven estimates months of premium at monthlyRate needed to
// cover remainingLoss. +Inf when the rate is not positive.
func MonthsToBreakeven(remainingLoss, monthlyRate decimal.Decimal) float64 {
	if !monthlyRate.IsPositive() {
		return math.Inf(1)
	}
	if !remainingLoss.IsNegative() {
		return 0
	}
	return remainingLoss.Abs().Div(monthlyRate).InexactFloat64()
}
