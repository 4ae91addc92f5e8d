package trading

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"wheel-trader/internal/models"
	"wheel-trader/internal/occ"
)

// TransactionOrder is the transactions sharing one execution timestamp,
// treated as a single logical order. Multi-leg orders such as rolls post as
// several rows with the same timestamp.
type TransactionOrder struct {
	ExecutedAt   time.Time            `json:"executed_at"`
	Underlying   string               `json:"underlying"`
	Transactions []models.Transaction `json:"-"`
	Credits      decimal.Decimal      `json:"credits"`
	Debits       decimal.Decimal      `json:"debits"`
	NetValue     decimal.Decimal      `json:"net_value"`
	IsMultiLeg   bool                 `json:"is_multi_leg"`
	IsRoll       bool                 `json:"is_roll"`
	Mixed        bool                 `json:"mixed"`
	Strategy     models.Strategy      `json:"strategy"`
}

// StrategyTotals are gross, buyback and net premium for one strategy.
type StrategyTotals struct {
	Gross   decimal.Decimal `json:"gross"`
	Buyback decimal.Decimal `json:"buyback"`
	Net     decimal.Decimal `json:"net"`
	Orders  int             `json:"orders"`
}

func (t *StrategyTotals) add(o TransactionOrder) {
	t.Gross = t.Gross.Add(o.Credits)
	t.Buyback = t.Buyback.Add(o.Debits)
	t.Net = t.Net.Add(o.NetValue)
	t.Orders++
}

// PremiumSummary is the aggregate of a transaction history.
type PremiumSummary struct {
	Total StrategyTotals `json:"total"`
	CSP   StrategyTotals `json:"csp"`
	CC    StrategyTotals `json:"cc"`

	CSPBySymbol map[string]decimal.Decimal `json:"csp_by_symbol"`
	CCBySymbol  map[string]decimal.Decimal `json:"cc_by_symbol"`

	Orders                []TransactionOrder `json:"orders"`
	SingleLegCount        int                `json:"single_leg_count"`
	MultiLegCount         int                `json:"multi_leg_count"`
	RollCount             int                `json:"roll_count"`
	ZeroValueTransactions int                `json:"zero_value_transactions"`
	ZeroValueOrders       int                `json:"zero_value_orders"`
	SkippedTransactions   int                `json:"skipped_transactions"`
}

// Aggregate groups option transactions by execution timestamp and computes
// net premium per order, per strategy and per underlying.
//
// Groups whose transactions all carry a zero value (expirations, assignments)
// are counted but excluded from totals.
func Aggregate(txns []models.Transaction) PremiumSummary {
	summary := PremiumSummary{
		CSPBySymbol: make(map[string]decimal.Decimal),
		CCBySymbol:  make(map[string]decimal.Decimal),
	}

	groups := make(map[int64][]models.Transaction)
	for _, t := range txns {
		if !isOptionTransaction(t) || t.ExecutedAt.IsZero() {
			summary.SkippedTransactions++
			continue
		}
		key := t.ExecutedAt.UnixNano()
		groups[key] = append(groups[key], t)
	}

	keys := make([]int64, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, k := range keys {
		group := groups[k]
		order, ok := BuildOrder(group)
		if !ok {
			summary.ZeroValueOrders++
			summary.ZeroValueTransactions += len(group)
			continue
		}

		summary.Orders = append(summary.Orders, order)
		summary.Total.add(order)

		switch order.Strategy {
		case models.StrategyCC:
			summary.CC.add(order)
			summary.CCBySymbol[order.Underlying] = summary.CCBySymbol[order.Underlying].Add(order.NetValue)
		default:
			summary.CSP.add(order)
			summary.CSPBySymbol[order.Underlying] = summary.CSPBySymbol[order.Underlying].Add(order.NetValue)
		}

		if order.IsMultiLeg {
			summary.MultiLegCount++
		} else {
			summary.SingleLegCount++
		}
		if order.IsRoll {
			summary.RollCount++
		}
	}

	return summary
}

// BuildOrder nets one timestamp group. It reports false when every
// transaction in the group has a zero value.
func BuildOrder(group []models.Transaction) (TransactionOrder, bool) {
	if len(group) == 0 {
		return TransactionOrder{}, false
	}

	legs := make([]models.Transaction, len(group))
	copy(legs, group)
	sort.SliceStable(legs, func(i, j int) bool {
		if legs[i].Symbol != legs[j].Symbol {
			return legs[i].Symbol < legs[j].Symbol
		}
		return legs[i].ID < legs[j].ID
	})

	order := TransactionOrder{
		ExecutedAt:   legs[0].ExecutedAt,
		Transactions: legs,
		IsMultiLeg:   len(legs) > 1,
	}

	nonZero := false
	var puts, calls int
	var hasBTC, hasSTO bool
	for _, t := range legs {
		if !t.Value.IsZero() {
			nonZero = true
		}
		signed := t.SignedValue()
		if signed.IsPositive() {
			order.Credits = order.Credits.Add(signed)
		} else {
			order.Debits = order.Debits.Add(signed.Neg())
		}
		order.NetValue = order.NetValue.Add(signed)

		switch legType(t) {
		case models.OptionTypePut:
			puts++
		case models.OptionTypeCall:
			calls++
		}

		switch t.Action {
		case models.ActionBuyToClose:
			hasBTC = true
		case models.ActionSellToOpen:
			hasSTO = true
		}

		if order.Underlying == "" {
			order.Underlying = underlyingOf(t)
		}
	}
	if !nonZero {
		return TransactionOrder{}, false
	}

	order.IsRoll = order.IsMultiLeg && hasBTC && hasSTO
	order.Mixed = puts > 0 && calls > 0

	// Equal put and call leg counts classify as CSP.
	if calls > puts {
		order.Strategy = models.StrategyCC
	} else {
		order.Strategy = models.StrategyCSP
	}

	return order, true
}

func isOptionTransaction(t models.Transaction) bool {
	if t.InstrumentType == models.InstrumentEquityOption {
		return true
	}
	if t.InstrumentType != "" {
		return false
	}
	_, err := occ.Parse(t.Symbol)
	return err == nil
}

// legType classifies a leg from its description, falling back to the symbol.
func legType(t models.Transaction) models.OptionType {
	switch {
	case strings.Contains(t.Description, "Put"):
		return models.OptionTypePut
	case strings.Contains(t.Description, "Call"):
		return models.OptionTypeCall
	}
	if id, err := occ.Parse(t.Symbol); err == nil {
		return id.Type
	}
	return ""
}

func underlyingOf(t models.Transaction) string {
	if t.UnderlyingSymbol != "" {
		return t.UnderlyingSymbol
	}
	if id, err := occ.Parse(t.Symbol); err == nil {
		return id.Underlying
	}
	return ""
}

// MonthKey identifies a calendar month.
type MonthKey struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

// MonthOf returns the exchange-time-zone month of t.
func MonthOf(t time.Time) MonthKey {
	t = t.In(occ.Exchange)
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// Prev returns the preceding month.
func (m MonthKey) Prev() MonthKey {
	if m.Month == time.January {
		return MonthKey{Year: m.Year - 1, Month: time.December}
	}
	return MonthKey{Year: m.Year, Month: m.Month - 1}
}

// Before reports whether m precedes other.
func (m MonthKey) Before(other MonthKey) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Month < other.Month
}

// String renders "Jan 2026".
func (m MonthKey) String() string {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC).Format("Jan 2006")
}

// MonthlyPremium is one month of the premium trend.
type MonthlyPremium struct {
	Month     MonthKey        `json:"month"`
	Name      string          `json:"name"`
	IsCurrent bool            `json:"is_current"`
	Net       decimal.Decimal `json:"net"`
	CSPNet    decimal.Decimal `json:"csp_net"`
	CCNet     decimal.Decimal `json:"cc_net"`
	CSPShare  float64         `json:"csp_share"`
	CCShare   float64         `json:"cc_share"`
	ChangePct float64         `json:"change_pct"`
	Orders    int             `json:"orders"`
	Rolls     int             `json:"rolls"`
}

// MonthlyRollup buckets order net values by month for the trailing months
// ending at now's month, oldest first. Months without activity are present
// with zero values.
func MonthlyRollup(orders []TransactionOrder, now time.Time, months int) []MonthlyPremium {
	if months <= 0 {
		return nil
	}

	current := MonthOf(now)
	keys := make([]MonthKey, months)
	k := current
	for i := months - 1; i >= 0; i-- {
		keys[i] = k
		k = k.Prev()
	}

	buckets := make(map[MonthKey]*MonthlyPremium, months)
	for _, key := range keys {
		buckets[key] = &MonthlyPremium{Month: key, Name: key.String(), IsCurrent: key == current}
	}

	for _, o := range orders {
		b, ok := buckets[MonthOf(o.ExecutedAt)]
		if !ok {
			continue
		}
		b.Net = b.Net.Add(o.NetValue)
		if o.Strategy == models.StrategyCC {
			b.CCNet = b.CCNet.Add(o.NetValue)
		} else {
			b.CSPNet = b.CSPNet.Add(o.NetValue)
		}
		b.Orders++
		if o.IsRoll {
			b.Rolls++
		}
	}

	out := make([]MonthlyPremium, 0, months)
	var prev *MonthlyPremium
	for _, key := range keys {
		b := buckets[key]
		if b.Net.IsPositive() {
			b.CSPShare = b.CSPNet.Div(b.Net).Mul(hundred).InexactFloat64()
			b.CCShare = b.CCNet.Div(b.Net).Mul(hundred).InexactFloat64()
		}
		if prev != nil {
			b.ChangePct = PercentChange(prev.Net, b.Net)
		}
		out = append(out, *b)
		prev = b
	}
	return out
}

var hundred = decimal.NewFromInt(100)

// PercentChange returns (current-previous)/previous*100, or 0 when previous
// is not positive.
func PercentChange(previous, current decimal.Decimal) float64 {
	if !previous.IsPositive() {
		return 0
	}
	return current.Sub(previous).Div(previous).Mul(hundred).InexactFloat64()
}
