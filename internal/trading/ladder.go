package trading

import (
	"time"

	"github.com/shopspring/decimal"

	"wheel-trader/internal/models"
	"wheel-trader/internal/occ"
)

// DefaultTranches is the number of weekly tranches in a ladder.
const DefaultTranches = 4

// MarketCloseHour is the hour (exchange time) after which Friday counts as past.
const MarketCloseHour = 16

// TrancheStatus is the deployment state of one tranche.
type TrancheStatus string

const (
	TrancheFull    TrancheStatus = "full"
	TranchePartial TrancheStatus = "partial"
	TrancheEmpty   TrancheStatus = "empty"
)

const (
	fullThresholdPct    = 95.0
	partialThresholdPct = 50.0
	actionWindowDays    = 7
)

var weeklyPremiumRate = decimal.NewFromFloat(0.01)

// Tranche is one week of the ladder.
type Tranche struct {
	Week           int             `json:"week"`
	Expiration     time.Time       `json:"expiration"`
	Days           int             `json:"days"`
	Target         decimal.Decimal `json:"target"`
	Deployed       decimal.Decimal `json:"deployed"`
	Gap            decimal.Decimal `json:"gap"`
	ProgressPct    float64         `json:"progress_pct"`
	Status         TrancheStatus   `json:"status"`
	ActionRequired bool            `json:"action_required"`
}

// Ladder is the full capital plan.
type Ladder struct {
	BuyingPower            decimal.Decimal `json:"buying_power"`
	TrancheTarget          decimal.Decimal `json:"tranche_target"`
	TotalDeployed          decimal.Decimal `json:"total_deployed"`
	Available              decimal.Decimal `json:"available"`
	DeploymentPct          float64         `json:"deployment_pct"`
	EstimatedWeeklyPremium decimal.Decimal `json:"estimated_weekly_premium"`
	PotentialWeeklyPremium decimal.Decimal `json:"potential_weekly_premium"`
	NewCapital             bool            `json:"new_capital"`
	Tranches               []Tranche       `json:"tranches"`
}

// ActionRequired returns the tranches expiring soon that are not fully deployed.
func (l Ladder) ActionRequired() []Tranche {
	var out []Tranche
	for _, t := range l.Tranches {
		if t.ActionRequired {
			out = append(out, t)
		}
	}
	return out
}

// NextFriday returns the weekly expiration Friday weeksAhead weeks from now,
// as midnight in the exchange time zone. On a Friday at or after the close
// the current week is considered expired.
func NextFriday(now time.Time, weeksAhead int) time.Time {
	local := now.In(occ.Exchange)
	days := (int(time.Friday) - int(local.Weekday()) + 7) % 7
	if days == 0 && local.Hour() >= MarketCloseHour {
		days = 7
	}
	return occ.StartOfDay(local).AddDate(0, 0, days+7*weeksAhead)
}

// DeployedByExpiration sums short put collateral per expiration date key.
func DeployedByExpiration(positions []models.NormalizedPosition) (map[string]decimal.Decimal, decimal.Decimal) {
	byDate := make(map[string]decimal.Decimal)
	total := decimal.Zero
	for _, p := range positions {
		if !p.IsShortPut() || p.Expiration.IsZero() {
			continue
		}
		c := p.Collateral()
		if c.IsNegative() {
			continue
		}
		key := occ.DateKey(p.Expiration)
		byDate[key] = byDate[key].Add(c)
		total = total.Add(c)
	}
	return byDate, total
}

// PlanLadder splits buying power into equal weekly tranches over the next
// numTranches Fridays and measures what is already deployed in each.
func PlanLadder(buyingPower decimal.Decimal, positions []models.NormalizedPosition, numTranches int, now time.Time) Ladder {
	if numTranches <= 0 {
		numTranches = DefaultTranches
	}
	if buyingPower.IsNegative() {
		buyingPower = decimal.Zero
	}

	byDate, totalDeployed := DeployedByExpiration(positions)

	n := decimal.NewFromInt(int64(numTranches))
	target := buyingPower.Div(n).Truncate(2)
	last := buyingPower.Sub(target.Mul(decimal.NewFromInt(int64(numTranches - 1))))

	ladder := Ladder{
		BuyingPower:            buyingPower,
		TrancheTarget:          target,
		TotalDeployed:          totalDeployed,
		Available:              buyingPower.Sub(totalDeployed),
		EstimatedWeeklyPremium: totalDeployed.Mul(weeklyPremiumRate),
		PotentialWeeklyPremium: buyingPower.Mul(weeklyPremiumRate),
		Tranches:               make([]Tranche, 0, numTranches),
	}
	if buyingPower.IsPositive() {
		ladder.DeploymentPct = totalDeployed.Div(buyingPower).Mul(hundred).InexactFloat64()
	}
	ladder.NewCapital = ladder.Available.GreaterThan(target.Div(decimal.NewFromInt(2)))

	for week := 0; week < numTranches; week++ {
		exp := NextFriday(now, week)
		t := Tranche{
			Week:       week + 1,
			Expiration: exp,
			Days:       occ.DaysBetween(now, exp),
			Target:     target,
			Deployed:   byDate[occ.DateKey(exp)],
		}
		if week == numTranches-1 {
			t.Target = last
		}
		t.Gap = t.Target.Sub(t.Deployed)
		if t.Target.IsPositive() {
			t.ProgressPct = t.Deployed.Div(t.Target).Mul(hundred).InexactFloat64()
		}

		switch {
		case t.ProgressPct >= fullThresholdPct:
			t.Status = TrancheFull
		case t.ProgressPct >= partialThresholdPct:
			t.Status = TranchePartial
		default:
			t.Status = TrancheEmpty
		}
		t.ActionRequired = t.Days <= actionWindowDays && t.ProgressPct < fullThresholdPct

		ladder.Tranches = append(ladder.Tranches, t)
	}

	return ladder
}
