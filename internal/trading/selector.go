package trading

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"wheel-trader/internal/models"
)

// SizingMode controls how many contracts are assigned to a selection.
type SizingMode string

const (
	SizingConservative SizingMode = "conservative"
	SizingMedium       SizingMode = "medium"
	SizingAggressive   SizingMode = "aggressive"
)

// ParseSizingMode parses a sizing mode name.
func ParseSizingMode(s string) (SizingMode, error) {
	switch SizingMode(strings.ToLower(strings.TrimSpace(s))) {
	case SizingConservative:
		return SizingConservative, nil
	case SizingMedium:
		return SizingMedium, nil
	case SizingAggressive:
		return SizingAggressive, nil
	}
	return "", fmt.Errorf("unknown sizing mode %q (conservative, medium, aggressive)", s)
}

// Quantity returns the number of contracts for the given capacity.
// Conservative sizing is always one contract; callers that hold no capacity
// for an underlying leave it out of the scan.
func (m SizingMode) Quantity(capacity int) int {
	if m != SizingAggressive && m != SizingMedium {
		return 1
	}
	if capacity <= 0 {
		return 0
	}
	switch m {
	case SizingAggressive:
		return capacity
	case SizingMedium:
		return int(math.Ceil(float64(capacity) * 0.5))
	default:
		return 1
	}
}

// Constraints are the user's scan filters.
type Constraints struct {
	DeltaMin        float64 `json:"delta_min"`
	DeltaMax        float64 `json:"delta_max"`
	DTEMin          int     `json:"dte_min"`
	DTEMax          int     `json:"dte_max"`
	OpenInterestMin int64   `json:"open_interest_min"`
	WeeklyReturnMin float64 `json:"weekly_return_min"`
}

// Validate checks the constraint ranges.
func (c Constraints) Validate() error {
	if c.DeltaMin < 0 || c.DeltaMax > 1 || c.DeltaMin > c.DeltaMax {
		return fmt.Errorf("delta range [%.2f, %.2f] must lie within [0, 1]", c.DeltaMin, c.DeltaMax)
	}
	if c.DTEMin < 0 || c.DTEMin > c.DTEMax {
		return fmt.Errorf("dte range [%d, %d] is invalid", c.DTEMin, c.DTEMax)
	}
	if c.OpenInterestMin < 0 {
		return fmt.Errorf("open interest minimum must be non-negative")
	}
	return nil
}

// DeltaTarget is the midpoint of the delta range.
func (c Constraints) DeltaTarget() float64 {
	return (c.DeltaMin + c.DeltaMax) / 2
}

// withinHardLimits applies the delta and DTE ranges, which are never relaxed.
func (c Constraints) withinHardLimits(r models.OpportunityRecord) bool {
	return r.AbsDelta >= c.DeltaMin && r.AbsDelta <= c.DeltaMax &&
		r.DTE >= c.DTEMin && r.DTE <= c.DTEMax
}

// SelectionStage records how far the constraints were relaxed.
type SelectionStage string

const (
	StageStrict           SelectionStage = "strict"
	StageRelaxedReturn    SelectionStage = "relaxed_return"
	StageRelaxedLiquidity SelectionStage = "relaxed_liquidity"
)

// Selection is the best record chosen for one underlying.
type Selection struct {
	Record     models.OpportunityRecord `json:"record"`
	Quantity   int                      `json:"quantity"`
	Stage      SelectionStage           `json:"stage"`
	Candidates int                      `json:"candidates"`
}

type stage struct {
	name   SelectionStage
	accept func(models.OpportunityRecord) bool
}

func (c Constraints) stages() []stage {
	return []stage{
		{StageStrict, func(r models.OpportunityRecord) bool {
			return c.withinHardLimits(r) && r.OpenInterest >= c.OpenInterestMin && r.WeeklyReturnPct >= c.WeeklyReturnMin
		}},
		{StageRelaxedReturn, func(r models.OpportunityRecord) bool {
			return c.withinHardLimits(r) && r.OpenInterest >= c.OpenInterestMin
		}},
		{StageRelaxedLiquidity, c.withinHardLimits},
	}
}

// SelectBest picks at most one record per underlying.
//
// Each underlying is filtered against all constraints; if nothing survives,
// the weekly-return minimum is dropped, then the open-interest minimum.
// Delta and DTE ranges always hold. Survivors are ranked by distance of
// |delta| from the middle of the delta range, then by weekly return. An
// underlying with no survivors is omitted, as is one without capacity under
// medium or aggressive sizing.
func SelectBest(records []models.OpportunityRecord, c Constraints, mode SizingMode, capacity map[string]int) map[string]Selection {
	byUnderlying := make(map[string][]models.OpportunityRecord)
	for _, r := range records {
		byUnderlying[r.Underlying] = append(byUnderlying[r.Underlying], r)
	}

	result := make(map[string]Selection)
	for underlying, recs := range byUnderlying {
		qty := mode.Quantity(capacity[underlying])
		if qty <= 0 {
			continue
		}
		sel, ok := selectOne(recs, c)
		if !ok {
			continue
		}
		sel.Quantity = qty
		result[underlying] = sel
	}
	return result
}

func selectOne(recs []models.OpportunityRecord, c Constraints) (Selection, bool) {
	for _, st := range c.stages() {
		var pool []models.OpportunityRecord
		for _, r := range recs {
			if st.accept(r) {
				pool = append(pool, r)
			}
		}
		if len(pool) == 0 {
			continue
		}
		RankByDeltaTarget(pool, c.DeltaTarget())
		return Selection{Record: pool[0], Stage: st.name, Candidates: len(pool)}, true
	}
	return Selection{}, false
}

// RankByDeltaTarget sorts records best-first: closest |delta| to target, then
// highest weekly return. Remaining ties fall back to strike, expiration and
// symbol so the order never depends on input order.
func RankByDeltaTarget(recs []models.OpportunityRecord, target float64) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		da, db := math.Abs(a.AbsDelta-target), math.Abs(b.AbsDelta-target)
		if da != db {
			return da < db
		}
		if a.WeeklyReturnPct != b.WeeklyReturnPct {
			return a.WeeklyReturnPct > b.WeeklyReturnPct
		}
		if a.Strike != b.Strike {
			return a.Strike < b.Strike
		}
		if !a.Expiration.Equal(b.Expiration) {
			return a.Expiration.Before(b.Expiration)
		}
		return a.Symbol < b.Symbol
	})
}

// SortedUnderlyings returns the keys of a selection map in order.
func SortedUnderlyings(sel map[string]Selection) []string {
	keys := make([]string, 0, len(sel))
	for k := range sel {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UniformCapacity gives every symbol the same capacity, e.g. for puts where
// the cap is a user-chosen contract limit.
func UniformCapacity(symbols []string, capacity int) map[string]int {
	out := make(map[string]int, len(symbols))
	for _, s := range symbols {
		out[s] = capacity
	}
	return out
}
