// Package models provides domain models for the options desk.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentType represents the broker instrument class of a position or transaction.
type InstrumentType string

const (
	InstrumentEquity       InstrumentType = "Equity"
	InstrumentEquityOption InstrumentType = "Equity Option"
)

// QuantityDirection is the broker's explicit direction field on a position.
type QuantityDirection string

const (
	DirectionLong  QuantityDirection = "Long"
	DirectionShort QuantityDirection = "Short"
	DirectionZero  QuantityDirection = "Zero"
)

// MarketStatus represents the current US equity market status.
type MarketStatus string

const (
	MarketOpen        MarketStatus = "OPEN"
	MarketClosingSoon MarketStatus = "CLOSING_SOON"
	MarketClosed      MarketStatus = "CLOSED"
)

// Candle represents daily OHLCV data.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Quote represents an equity quote.
type Quote struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	Volume    int64
	Timestamp time.Time
}

// Account is a brokerage account the session can trade.
type Account struct {
	Number   string
	Nickname string
}

// Balance represents account balances. Only the fields the desk uses are kept.
type Balance struct {
	AccountNumber         string
	CashBalance           decimal.Decimal
	DerivativeBuyingPower decimal.Decimal
	EquityBuyingPower     decimal.Decimal
	NetLiquidatingValue   decimal.Decimal
}

// Position is a broker position as received, before normalization.
// Quantity is unsigned on some payloads and signed on others; Direction
// is empty when the payload does not carry it.
type Position struct {
	AccountNumber    string
	InstrumentType   InstrumentType
	Symbol           string
	UnderlyingSymbol string
	Quantity         int
	Direction        QuantityDirection
	AverageOpenPrice float64
	MarkPrice        float64
	ClosePrice       float64

	// Structured option fields; zero when the payload omits them.
	StrikePrice float64
	Expiration  time.Time
	OptionType  OptionType
}

// NormalizedPosition is a position with an explicit short flag and, for
// options, a verified option identity.
type NormalizedPosition struct {
	Position
	IsShort    bool
	Contracts  int // absolute quantity
	Underlying string
}

// IsOption reports whether the position is an equity option.
func (p NormalizedPosition) IsOption() bool {
	return p.InstrumentType == InstrumentEquityOption
}

// IsShortPut reports whether the position is a cash-secured put.
func (p NormalizedPosition) IsShortPut() bool {
	return p.IsOption() && p.IsShort && p.OptionType == OptionTypePut
}

// IsShortCall reports whether the position is a short call.
func (p NormalizedPosition) IsShortCall() bool {
	return p.IsOption() && p.IsShort && p.OptionType == OptionTypeCall
}

// Collateral returns strike * contracts * 100 for option positions.
func (p NormalizedPosition) Collateral() decimal.Decimal {
	return decimal.NewFromFloat(p.StrikePrice).Mul(decimal.NewFromInt(int64(p.Contracts) * ContractMultiplier))
}
