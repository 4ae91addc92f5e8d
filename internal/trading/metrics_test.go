package trading

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheel-trader/internal/models"
	"wheel-trader/internal/occ"
)

var testToday = time.Date(2026, 1, 5, 10, 30, 0, 0, occ.Exchange)

func putContract(symbol string, strike, bid, ask float64, dte int, delta float64) models.OptionContract {
	return models.OptionContract{
		Symbol:       symbol,
		Underlying:   "AAPL",
		Strike:       strike,
		Expiration:   occ.StartOfDay(testToday).AddDate(0, 0, dte),
		OptionType:   models.OptionTypePut,
		Bid:          bid,
		Ask:          ask,
		OpenInterest: 500,
		Greeks:       &models.OptionGreeks{Delta: delta},
	}
}

func TestNormalizeComputesPremiumEconomics(t *testing.T) {
	rec, rej := Normalize(putContract("AAPL260119P00150000", 150, 2.50, 2.60, 14, -0.2), testToday)
	require.Nil(t, rej)

	assert.Equal(t, 14, rec.DTE)
	assert.InDelta(t, 2.55, rec.Mid, 1e-9)
	assert.InDelta(t, 1.6667, rec.PremiumPct, 1e-3)
	assert.InDelta(t, 0.8333, rec.WeeklyReturnPct, 1e-3)
	assert.InDelta(t, 3.5714, rec.MonthlyReturnPct, 1e-3)
	assert.InDelta(t, 43.452, rec.AnnualReturnPct, 1e-2)
	// (ask-bid)/mid*100 with mid 2.55
	assert.InDelta(t, 3.9216, rec.SpreadPct, 1e-3)
	assert.InDelta(t, 0.2, rec.AbsDelta, 1e-12)
	assert.False(t, rec.MidFallback)
}

func TestNormalizeIgnoresTimeOfDay(t *testing.T) {
	c := putContract("AAPL260119P00150000", 150, 2.50, 2.60, 14, -0.2)
	late := time.Date(2026, 1, 5, 23, 59, 0, 0, occ.Exchange)
	rec, rej := Normalize(c, late)
	require.Nil(t, rej)
	assert.Equal(t, 14, rec.DTE)
}

func TestNormalizeRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *models.OptionContract)
		reason RejectReason
	}{
		{"no bid and no ask", func(c *models.OptionContract) { c.Bid, c.Ask = 0, 0 }, ReasonNonPositiveBid},
		{"negative bid and no ask", func(c *models.OptionContract) { c.Bid, c.Ask = -1, 0 }, ReasonNonPositiveBid},
		{"zero strike", func(c *models.OptionContract) { c.Strike = 0 }, ReasonNonPositiveStrike},
		{"expires today", func(c *models.OptionContract) { c.Expiration = occ.StartOfDay(testToday) }, ReasonNonPositiveDTE},
		{"expired", func(c *models.OptionContract) { c.Expiration = testToday.AddDate(0, 0, -3) }, ReasonNonPositiveDTE},
		{"zero expiration", func(c *models.OptionContract) { c.Expiration = time.Time{} }, ReasonUnparsableExpiration},
		{"no greeks", func(c *models.OptionContract) { c.Greeks = nil }, ReasonMissingGreeks},
		{"bid checked before strike", func(c *models.OptionContract) { c.Bid, c.Ask, c.Strike = 0, 0, 0 }, ReasonNonPositiveBid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := putContract("AAPL260119P00150000", 150, 2.50, 2.60, 14, -0.2)
			tt.mutate(&c)
			_, rej := Normalize(c, testToday)
			require.NotNil(t, rej)
			assert.Equal(t, tt.reason, rej.Reason)
		})
	}
}

func TestNormalizeWideSpreadSentinel(t *testing.T) {
	// A crossed quote whose mid is zero cannot be measured.
	c := putContract("AAPL260119P00150000", 150, 1.0, -1.0, 14, -0.2)
	rec, rej := Normalize(c, testToday)
	require.Nil(t, rej)
	assert.Equal(t, WideSpreadSentinel, rec.SpreadPct)
}

func TestNormalizeAllCountsReasons(t *testing.T) {
	raws := []models.OptionContract{
		putContract("A", 150, 2.50, 2.60, 14, -0.2),
		putContract("B", 150, 0, 0.40, 14, -0.2),
		putContract("C", 150, 0, 0, 14, -0.2),
		putContract("D", 0, 1, 1.1, 14, -0.2),
	}
	recs, stats := NormalizeAll(raws, testToday)

	assert.Len(t, recs, 2)
	assert.Equal(t, 2, stats.Accepted)
	assert.Equal(t, 1, stats.MidFallbacks)
	assert.Equal(t, 1, stats.ByReason[ReasonNonPositiveBid])
	assert.Equal(t, 1, stats.ByReason[ReasonNonPositiveStrike])
	assert.Equal(t, 2, stats.Total())
	assert.Equal(t, []RejectReason{ReasonNonPositiveStrike, ReasonNonPositiveBid}, stats.Reasons())
}

// Property: A contract with no bid and a positive ask is priced at half the
// ask; with no ask either it is rejected for its bid.
func TestProperty_MidFallback(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("bid becomes ask/2 when bid is missing", prop.ForAll(
		func(ask, strike float64, dte int) bool {
			rec, rej := Normalize(putContract("X", strike, 0, ask, dte, -0.3), testToday)
			return rej == nil && rec.MidFallback && rec.Bid == ask/2
		},
		gen.Float64Range(0.01, 50),
		gen.Float64Range(1, 1000),
		gen.IntRange(1, 90),
	))

	properties.Property("zero ask and zero bid is rejected", prop.ForAll(
		func(strike float64, dte int) bool {
			_, rej := Normalize(putContract("X", strike, 0, 0, dte, -0.3), testToday)
			return rej != nil && rej.Reason == ReasonNonPositiveBid
		},
		gen.Float64Range(1, 1000),
		gen.IntRange(1, 90),
	))

	properties.TestingRun(t)
}

// Property: Annualized, monthly and weekly returns are the same base rate
// scaled by 365, 30 and 7, so they are always ordered.
func TestProperty_ReturnOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("annual >= monthly >= weekly", prop.ForAll(
		func(strike, bid float64, dte int) bool {
			rec, rej := Normalize(putContract("X", strike, bid, bid+0.05, dte, -0.3), testToday)
			if rej != nil {
				return false
			}
			return rec.AnnualReturnPct >= rec.MonthlyReturnPct && rec.MonthlyReturnPct >= rec.WeeklyReturnPct
		},
		gen.Float64Range(1, 1000),
		gen.Float64Range(0.01, 20),
		gen.IntRange(1, 365),
	))

	properties.TestingRun(t)
}
