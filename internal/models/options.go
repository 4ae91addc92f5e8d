package models

import "time"

// ContractMultiplier is the number of shares controlled by one equity option contract.
const ContractMultiplier = 100

// OptionType represents put or call.
type OptionType string

const (
	OptionTypePut  OptionType = "PUT"
	OptionTypeCall OptionType = "CALL"
)

// Strategy classifies premium-selling activity.
type Strategy string

const (
	StrategyCSP   Strategy = "CSP" // cash-secured put
	StrategyCC    Strategy = "CC"  // covered call
	StrategyMixed Strategy = "MIXED"
)

// OptionGreeks represents option Greeks.
type OptionGreeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
	IV    float64
}

// OptionContract is one entry of an option chain as supplied by market data.
// Greeks is nil when the provider returned none.
type OptionContract struct {
	Symbol       string // OCC symbol
	Underlying   string
	Strike       float64
	Expiration   time.Time
	OptionType   OptionType
	Bid          float64
	Ask          float64
	OpenInterest int64
	Volume       int64
	Greeks       *OptionGreeks

	// Context captured at fetch time.
	UnderlyingPrice float64
	IVRank          *float64
}

// Mid returns the midpoint of bid and ask.
func (c OptionContract) Mid() float64 {
	return (c.Bid + c.Ask) / 2
}

// OptionChain is the set of contracts for one underlying.
type OptionChain struct {
	Symbol          string
	UnderlyingPrice float64
	IVRank          *float64
	Contracts       []OptionContract
}

// OpportunityRecord is a normalized contract with its premium economics.
type OpportunityRecord struct {
	OptionContract

	AbsDelta         float64
	DTE              int
	Mid              float64
	MidFallback      bool
	PremiumPct       float64
	WeeklyReturnPct  float64
	MonthlyReturnPct float64
	AnnualReturnPct  float64
	SpreadPct        float64
}

// PremiumPerContract returns the credit for one contract at the bid.
func (r OpportunityRecord) PremiumPerContract() float64 {
	return r.Bid * ContractMultiplier
}

// CollateralPerContract returns the cash required to secure one put.
func (r OpportunityRecord) CollateralPerContract() float64 {
	return r.Strike * ContractMultiplier
}
