package trading

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheel-trader/internal/models"
	"wheel-trader/internal/occ"
)

func shortPut(underlying string, strike float64, contracts int, exp time.Time) models.NormalizedPosition {
	return models.NormalizedPosition{
		Position: models.Position{
			InstrumentType: models.InstrumentEquityOption,
			Symbol:         underlying,
			StrikePrice:    strike,
			Expiration:     exp,
			OptionType:     models.OptionTypePut,
		},
		IsShort:    true,
		Contracts:  contracts,
		Underlying: underlying,
	}
}

func TestNextFriday(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{"monday", time.Date(2026, 1, 5, 9, 0, 0, 0, occ.Exchange), "2026-01-09"},
		{"friday morning", time.Date(2026, 1, 9, 10, 0, 0, 0, occ.Exchange), "2026-01-09"},
		{"friday at close", time.Date(2026, 1, 9, 16, 0, 0, 0, occ.Exchange), "2026-01-16"},
		{"saturday", time.Date(2026, 1, 10, 12, 0, 0, 0, occ.Exchange), "2026-01-16"},
		// 20:30 UTC is 15:30 in New York, still before the close.
		{"friday in utc", time.Date(2026, 1, 9, 20, 30, 0, 0, time.UTC), "2026-01-09"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, occ.DateKey(NextFriday(tt.now, 0)))
		})
	}

	now := time.Date(2026, 1, 5, 9, 0, 0, 0, occ.Exchange)
	assert.Equal(t, "2026-01-30", occ.DateKey(NextFriday(now, 3)))
}

func TestPlanLadderOverTargetTranche(t *testing.T) {
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, occ.Exchange)
	week1 := NextFriday(now, 0)
	positions := []models.NormalizedPosition{
		shortPut("SOFI", 30, 4, week1),
		shortPut("PLTR", 60, 1, week1),
		shortPut("AMD", 100, 1, NextFriday(now, 2)),
	}

	ladder := PlanLadder(decimal.NewFromInt(40000), positions, 4, now)
	require.Len(t, ladder.Tranches, 4)

	assert.True(t, ladder.TrancheTarget.Equal(decimal.NewFromInt(10000)))
	w1 := ladder.Tranches[0]
	assert.True(t, w1.Deployed.Equal(decimal.NewFromInt(18000)), "got %s", w1.Deployed)
	assert.True(t, w1.Gap.Equal(decimal.NewFromInt(-8000)))
	assert.Equal(t, TrancheFull, w1.Status)
	assert.Equal(t, 4, w1.Days)
	assert.False(t, w1.ActionRequired)

	w2 := ladder.Tranches[1]
	assert.True(t, w2.Deployed.IsZero())
	assert.Equal(t, TrancheEmpty, w2.Status)
	assert.Equal(t, 11, w2.Days)

	w3 := ladder.Tranches[2]
	assert.Equal(t, 100.0, w3.ProgressPct)

	assert.True(t, ladder.TotalDeployed.Equal(decimal.NewFromInt(28000)))
	assert.True(t, ladder.Available.Equal(decimal.NewFromInt(12000)))
	assert.InDelta(t, 70, ladder.DeploymentPct, 1e-9)
	assert.True(t, ladder.NewCapital)
	assert.True(t, ladder.EstimatedWeeklyPremium.Equal(decimal.NewFromInt(280)))
	assert.True(t, ladder.PotentialWeeklyPremium.Equal(decimal.NewFromInt(400)))
}

func TestPlanLadderGapAndActionRequired(t *testing.T) {
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, occ.Exchange)
	positions := []models.NormalizedPosition{shortPut("SOFI", 30, 2, NextFriday(now, 0))}

	ladder := PlanLadder(decimal.NewFromInt(40000), positions, 4, now)
	w1 := ladder.Tranches[0]
	assert.True(t, w1.Gap.Equal(decimal.NewFromInt(4000)))
	assert.Equal(t, TranchePartial, w1.Status)
	assert.True(t, w1.ActionRequired)
	assert.Len(t, ladder.ActionRequired(), 1, "only week one is inside the action window")
}

func TestPlanLadderDefaultsAndRemainder(t *testing.T) {
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, occ.Exchange)
	ladder := PlanLadder(decimal.RequireFromString("10000.01"), nil, 0, now)
	require.Len(t, ladder.Tranches, DefaultTranches)

	sum := decimal.Zero
	for _, tr := range ladder.Tranches {
		sum = sum.Add(tr.Target)
	}
	assert.True(t, sum.Equal(decimal.RequireFromString("10000.01")))
	assert.False(t, PlanLadder(decimal.NewFromInt(-5), nil, 4, now).BuyingPower.IsNegative())
}

func TestDeployedByExpirationIgnoresNonPuts(t *testing.T) {
	exp := time.Date(2026, 1, 9, 0, 0, 0, 0, occ.Exchange)
	call := shortPut("AAPL", 200, 1, exp)
	call.OptionType = models.OptionTypeCall
	long := shortPut("AAPL", 150, 1, exp)
	long.IsShort = false

	byDate, total := DeployedByExpiration([]models.NormalizedPosition{call, long, shortPut("AAPL", 150, 1, exp)})
	assert.True(t, total.Equal(decimal.NewFromInt(15000)))
	assert.True(t, byDate["2026-01-09"].Equal(decimal.NewFromInt(15000)))
}

// Property: Tranche targets always sum to buying power.
func TestProperty_TrancheTargetsSumToBuyingPower(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	now := time.Date(2026, 1, 5, 9, 0, 0, 0, occ.Exchange)
	properties.Property("sum of targets equals buying power", prop.ForAll(
		func(cents int64, n int) bool {
			bp := decimal.New(cents, -2)
			ladder := PlanLadder(bp, nil, n, now)
			sum := decimal.Zero
			for _, tr := range ladder.Tranches {
				if tr.Deployed.IsNegative() {
					return false
				}
				sum = sum.Add(tr.Target)
			}
			return len(ladder.Tranches) == n && sum.Equal(bp)
		},
		gen.Int64Range(0, 100000000),
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}
