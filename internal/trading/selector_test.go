package trading

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheel-trader/internal/models"
)

func record(underlying, symbol string, delta float64, dte int, oi int64, weekly float64) models.OpportunityRecord {
	return models.OpportunityRecord{
		OptionContract: models.OptionContract{
			Symbol:       symbol,
			Underlying:   underlying,
			Strike:       100,
			Expiration:   testToday.AddDate(0, 0, dte),
			OptionType:   models.OptionTypePut,
			Bid:          1,
			Ask:          1.1,
			OpenInterest: oi,
		},
		AbsDelta:        delta,
		DTE:             dte,
		WeeklyReturnPct: weekly,
	}
}

var testConstraints = Constraints{
	DeltaMin:        0.10,
	DeltaMax:        0.20,
	DTEMin:          7,
	DTEMax:          21,
	OpenInterestMin: 100,
	WeeklyReturnMin: 0.5,
}

func TestSelectBestClosestToDeltaTarget(t *testing.T) {
	recs := []models.OpportunityRecord{
		record("AAPL", "AAPL-25", 0.25, 14, 1000, 1.2),
		record("AAPL", "AAPL-18", 0.18, 14, 1000, 0.8),
	}
	sel := SelectBest(recs, testConstraints, SizingConservative, map[string]int{"AAPL": 5})

	require.Contains(t, sel, "AAPL")
	assert.Equal(t, "AAPL-18", sel["AAPL"].Record.Symbol)
	assert.Equal(t, StageStrict, sel["AAPL"].Stage)
	assert.Equal(t, 1, sel["AAPL"].Quantity)
}

func TestSelectBestTiebreakOnWeeklyReturn(t *testing.T) {
	recs := []models.OpportunityRecord{
		record("AAPL", "LOW", 0.14, 14, 1000, 0.6),
		record("AAPL", "HIGH", 0.16, 14, 1000, 0.9),
	}
	sel := SelectBest(recs, testConstraints, SizingConservative, map[string]int{"AAPL": 1})
	assert.Equal(t, "HIGH", sel["AAPL"].Record.Symbol)
}

func TestSelectBestRelaxation(t *testing.T) {
	t.Run("drops weekly return first", func(t *testing.T) {
		recs := []models.OpportunityRecord{record("SOFI", "S1", 0.15, 10, 500, 0.1)}
		sel := SelectBest(recs, testConstraints, SizingConservative, map[string]int{"SOFI": 1})
		require.Contains(t, sel, "SOFI")
		assert.Equal(t, StageRelaxedReturn, sel["SOFI"].Stage)
	})

	t.Run("then open interest", func(t *testing.T) {
		recs := []models.OpportunityRecord{record("SOFI", "S1", 0.15, 10, 5, 0.1)}
		sel := SelectBest(recs, testConstraints, SizingConservative, map[string]int{"SOFI": 1})
		require.Contains(t, sel, "SOFI")
		assert.Equal(t, StageRelaxedLiquidity, sel["SOFI"].Stage)
	})

	t.Run("never delta or dte", func(t *testing.T) {
		recs := []models.OpportunityRecord{
			record("SOFI", "S1", 0.35, 10, 5000, 3),
			record("SOFI", "S2", 0.15, 45, 5000, 3),
		}
		sel := SelectBest(recs, testConstraints, SizingConservative, map[string]int{"SOFI": 1})
		assert.NotContains(t, sel, "SOFI")
	})
}

func TestSelectBestSizing(t *testing.T) {
	recs := []models.OpportunityRecord{record("AMD", "AMD1", 0.15, 10, 500, 1)}
	caps := map[string]int{"AMD": 5}

	assert.Equal(t, 1, SelectBest(recs, testConstraints, SizingConservative, caps)["AMD"].Quantity)
	assert.Equal(t, 3, SelectBest(recs, testConstraints, SizingMedium, caps)["AMD"].Quantity)
	assert.Equal(t, 5, SelectBest(recs, testConstraints, SizingAggressive, caps)["AMD"].Quantity)

	assert.Empty(t, SelectBest(recs, testConstraints, SizingAggressive, map[string]int{"AMD": 0}))
	assert.Empty(t, SelectBest(recs, testConstraints, SizingAggressive, nil))
	assert.Empty(t, SelectBest(recs, testConstraints, SizingMedium, nil))
}

func TestConservativeSizingIgnoresCapacity(t *testing.T) {
	recs := []models.OpportunityRecord{record("AMD", "AMD1", 0.15, 10, 500, 1)}

	sel := SelectBest(recs, testConstraints, SizingConservative, nil)
	require.Contains(t, sel, "AMD")
	assert.Equal(t, 1, sel["AMD"].Quantity)

	sel = SelectBest(recs, testConstraints, SizingConservative, map[string]int{"AMD": 0})
	require.Contains(t, sel, "AMD")
	assert.Equal(t, 1, sel["AMD"].Quantity)

	for _, capacity := range []int{-3, 0, 1, 40} {
		assert.Equal(t, 1, SizingConservative.Quantity(capacity))
	}
	assert.Equal(t, 0, SizingMedium.Quantity(0))
	assert.Equal(t, 1, SizingMedium.Quantity(1))
}

func TestParseSizingMode(t *testing.T) {
	m, err := ParseSizingMode(" Medium ")
	require.NoError(t, err)
	assert.Equal(t, SizingMedium, m)

	_, err = ParseSizingMode("yolo")
	assert.Error(t, err)
}

func TestConstraintsValidate(t *testing.T) {
	assert.NoError(t, testConstraints.Validate())

	bad := testConstraints
	bad.DeltaMin, bad.DeltaMax = 0.3, 0.2
	assert.Error(t, bad.Validate())

	bad = testConstraints
	bad.DTEMin = 30
	assert.Error(t, bad.Validate())
}

func TestSelectBestIsOrderIndependent(t *testing.T) {
	recs := []models.OpportunityRecord{
		record("AAPL", "A1", 0.14, 14, 1000, 0.9),
		record("AAPL", "A2", 0.16, 14, 1000, 0.9),
		record("AAPL", "A3", 0.16, 7, 1000, 0.9),
		record("MSFT", "M1", 0.12, 10, 1000, 0.7),
	}
	caps := map[string]int{"AAPL": 2, "MSFT": 2}
	want := SelectBest(recs, testConstraints, SizingMedium, caps)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]models.OpportunityRecord(nil), recs...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.True(t, reflect.DeepEqual(want, SelectBest(shuffled, testConstraints, SizingMedium, caps)))
	}
	assert.Equal(t, []string{"AAPL", "MSFT"}, SortedUnderlyings(want))
}

// Property: Whatever stage produced a selection, the record satisfies the
// delta and DTE ranges.
func TestProperty_RelaxationKeepsDeltaAndDTE(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	recGen := gopter.CombineGens(
		gen.Float64Range(0, 1),
		gen.IntRange(1, 60),
		gen.Int64Range(0, 2000),
		gen.Float64Range(0, 3),
	).Map(func(v []interface{}) models.OpportunityRecord {
		return record("X", "X", v[0].(float64), v[1].(int), v[2].(int64), v[3].(float64))
	})

	properties.Property("selected record respects hard limits", prop.ForAll(
		func(recs []models.OpportunityRecord, dMin, width float64, dteMin, dteWidth int) bool {
			c := Constraints{
				DeltaMin:        dMin,
				DeltaMax:        dMin + width,
				DTEMin:          dteMin,
				DTEMax:          dteMin + dteWidth,
				OpenInterestMin: 1000,
				WeeklyReturnMin: 2,
			}
			sel, ok := SelectBest(recs, c, SizingConservative, map[string]int{"X": 1})["X"]
			if !ok {
				return true
			}
			r := sel.Record
			return r.AbsDelta >= c.DeltaMin && r.AbsDelta <= c.DeltaMax && r.DTE >= c.DTEMin && r.DTE <= c.DTEMax
		},
		gen.SliceOf(recGen),
		gen.Float64Range(0, 0.5),
		gen.Float64Range(0, 0.5),
		gen.IntRange(0, 30),
		gen.IntRange(0, 30),
	))

	properties.TestingRun(t)
}
