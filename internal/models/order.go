package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderAction is the broker order-leg action.
type OrderAction string

const (
	ActionSellToOpen  OrderAction = "Sell to Open"
	ActionBuyToClose  OrderAction = "Buy to Close"
	ActionBuyToOpen   OrderAction = "Buy to Open"
	ActionSellToClose OrderAction = "Sell to Close"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeLimit  OrderType = "Limit"
	OrderTypeMarket OrderType = "Market"
)

// OrderRequest is a single-leg option order keyed by OCC symbol.
type OrderRequest struct {
	AccountNumber string
	Symbol        string
	Action        OrderAction
	Quantity      int
	Type          OrderType
	LimitPrice    decimal.Decimal
	TimeInForce   string // Day, GTC
}

// Order is a working or historical order.
type Order struct {
	ID            string
	AccountNumber string
	Symbol        string
	Action        OrderAction
	Quantity      int
	Type          OrderType
	LimitPrice    decimal.Decimal
	Status        string
	PlacedAt      time.Time
}

// ValueEffect marks the cash direction of a transaction.
type ValueEffect string

const (
	EffectCredit ValueEffect = "Credit"
	EffectDebit  ValueEffect = "Debit"
	EffectNone   ValueEffect = "None"
)

// Transaction is one raw row of broker transaction history.
type Transaction struct {
	ID               string
	ExecutedAt       time.Time
	TransactionType  string // Trade, Receive Deliver, ...
	InstrumentType   InstrumentType
	Action           OrderAction
	Symbol           string
	UnderlyingSymbol string
	Description      string
	Quantity         int
	Value            decimal.Decimal // unsigned
	ValueEffect      ValueEffect
}

// SignedValue returns +value for credits and -value for debits.
func (t Transaction) SignedValue() decimal.Decimal {
	switch t.ValueEffect {
	case EffectCredit:
		return t.Value.Abs()
	case EffectDebit:
		return t.Value.Abs().Neg()
	default:
		return decimal.Zero
	}
}
