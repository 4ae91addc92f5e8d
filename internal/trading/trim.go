package trading

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"wheel-trader/internal/models"
)

// TrimStrategy decides which selections survive when a tranche is over target.
type TrimStrategy string

const (
	KeepLowestDelta       TrimStrategy = "lowest_delta"
	KeepHighestPremium    TrimStrategy = "highest_premium"
	KeepHighestEfficiency TrimStrategy = "highest_efficiency"
	KeepHighestVolatility TrimStrategy = "highest_volatility"
)

// ParseTrimStrategy parses a trim strategy name.
func ParseTrimStrategy(s string) (TrimStrategy, error) {
	switch TrimStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case KeepLowestDelta:
		return KeepLowestDelta, nil
	case KeepHighestPremium:
		return KeepHighestPremium, nil
	case KeepHighestEfficiency:
		return KeepHighestEfficiency, nil
	case KeepHighestVolatility:
		return KeepHighestVolatility, nil
	}
	return "", fmt.Errorf("unknown trim strategy %q", s)
}

// Candidate is a selected position awaiting order placement.
type Candidate struct {
	Record   models.OpportunityRecord `json:"record"`
	Quantity int                      `json:"quantity"`
}

// Collateral returns strike * quantity * 100.
func (c Candidate) Collateral() decimal.Decimal {
	return decimal.NewFromFloat(c.Record.Strike).Mul(decimal.NewFromInt(int64(c.Quantity) * models.ContractMultiplier))
}

// CandidatesFrom converts selections into candidates in underlying order.
func CandidatesFrom(sel map[string]Selection) []Candidate {
	out := make([]Candidate, 0, len(sel))
	for _, u := range SortedUnderlyings(sel) {
		s := sel[u]
		out = append(out, Candidate{Record: s.Record, Quantity: s.Quantity})
	}
	return out
}

// TotalCollateral sums the collateral of cs.
func TotalCollateral(cs []Candidate) decimal.Decimal {
	total := decimal.Zero
	for _, c := range cs {
		total = total.Add(c.Collateral())
	}
	return total
}

// removalOrder returns indexes of cs, lowest priority first.
func removalOrder(cs []Candidate, strategy TrimStrategy) []int {
	idx := make([]int, len(cs))
	for i := range idx {
		idx[i] = i
	}

	less := func(a, b models.OpportunityRecord) (bool, bool) {
		switch strategy {
		case KeepHighestPremium:
			return a.Bid < b.Bid, a.Bid != b.Bid
		case KeepHighestEfficiency:
			return a.WeeklyReturnPct < b.WeeklyReturnPct, a.WeeklyReturnPct != b.WeeklyReturnPct
		case KeepHighestVolatility:
			av, bv := ivRankOrLowest(a.IVRank), ivRankOrLowest(b.IVRank)
			return av < bv, av != bv
		default:
			return a.AbsDelta > b.AbsDelta, a.AbsDelta != b.AbsDelta
		}
	}

	sort.SliceStable(idx, func(i, j int) bool {
		a, b := cs[idx[i]].Record, cs[idx[j]].Record
		if l, decided := less(a, b); decided {
			return l
		}
		return a.Symbol < b.Symbol
	})
	return idx
}

func ivRankOrLowest(v *float64) float64 {
	if v == nil {
		return -1
	}
	return *v
}

// TrimToTarget removes candidates until their total collateral is at or
// under target, preferring removals that leave the total at or above target.
//
// The removal order walks from lowest to highest priority for the strategy.
// At each step the first candidate whose removal keeps the total >= target is
// removed. When no such candidate exists the smallest remaining position is
// removed, ties going to the lower priority, which ends the trim as little
// below target as a single removal allows.
func TrimToTarget(selected []Candidate, target decimal.Decimal, strategy TrimStrategy) (keep, drop []Candidate) {
	if target.IsNegative() {
		target = decimal.Zero
	}

	total := TotalCollateral(selected)
	if total.LessThanOrEqual(target) {
		return append([]Candidate(nil), selected...), nil
	}

	order := removalOrder(selected, strategy)
	removed := make([]bool, len(selected))

	for total.GreaterThan(target) {
		pick := -1
		for _, i := range order {
			if removed[i] {
				continue
			}
			if total.Sub(selected[i].Collateral()).GreaterThanOrEqual(target) {
				pick = i
				break
			}
		}
		if pick < 0 {
			pick = smallestRemaining(selected, order, removed)
		}
		if pick < 0 {
			break
		}
		removed[pick] = true
		total = total.Sub(selected[pick].Collateral())
	}

	for i, c := range selected {
		if removed[i] {
			drop = append(drop, c)
		} else {
			keep = append(keep, c)
		}
	}
	return keep, drop
}

// smallestRemaining returns the unremoved candidate with the least collateral,
// the earliest in order on ties, or -1.
func smallestRemaining(cs []Candidate, order []int, removed []bool) int {
	pick := -1
	for _, i := range order {
		if removed[i] {
			continue
		}
		if pick < 0 || cs[i].Collateral().LessThan(cs[pick].Collateral()) {
			pick = i
		}
	}
	return pick
}
