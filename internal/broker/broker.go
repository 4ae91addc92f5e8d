// Package broker provides brokerage and market-data integrations.
package broker

import (
	"context"
	"strings"
	"time"

	apperrors "wheel-trader/internal/errors"
	"wheel-trader/internal/models"
	"wheel-trader/internal/occ"
)

// Broker defines the interface for brokerage account operations.
type Broker interface {
	Name() string

	// Authentication
	Login(ctx context.Context) error
	IsAuthenticated() bool

	// Account
	GetAccounts(ctx context.Context) ([]models.Account, error)
	GetBalances(ctx context.Context, account string) (*models.Balance, error)
	GetPositions(ctx context.Context, account string) ([]models.Position, error)
	GetTransactions(ctx context.Context, account string, from, to time.Time) ([]models.Transaction, error)

	// Orders
	PlaceOrder(ctx context.Context, req models.OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, account, orderID string) error
	GetLiveOrders(ctx context.Context, account string) ([]models.Order, error)
}

// MarketData defines the interface for quotes and option chains.
type MarketData interface {
	// GetOptionChain returns contracts expiring between minDTE and maxDTE
	// days from today, inclusive. Contracts without greeks are included
	// with a nil Greeks field.
	GetOptionChain(ctx context.Context, symbol string, minDTE, maxDTE int) (*models.OptionChain, error)
	GetQuote(ctx context.Context, symbol string) (*models.Quote, error)
	GetDailyHistory(ctx context.Context, symbol string, days int) ([]models.Candle, error)
	IVRankSource
}

// IVRankSource looks up an underlying's implied volatility rank.
type IVRankSource interface {
	// GetIVRank returns nil when the provider does not know the rank.
	GetIVRank(ctx context.Context, symbol string) (*float64, error)
}

// OrderResult represents the result of an order placement.
type OrderResult struct {
	OrderID string
	Status  string
	Message string
}

// ValidateOrder checks an order request before it is sent anywhere.
func ValidateOrder(req models.OrderRequest) error {
	if strings.TrimSpace(req.AccountNumber) == "" {
		return apperrors.NewValidationError("account", req.AccountNumber, "account number is required")
	}
	if _, err := occ.Parse(req.Symbol); err != nil {
		return apperrors.NewValidationError("symbol", req.Symbol, "must be an OCC option symbol")
	}
	switch req.Action {
	case models.ActionSellToOpen, models.ActionBuyToClose, models.ActionBuyToOpen, models.ActionSellToClose:
	default:
		return apperrors.NewValidationError("action", req.Action, "unknown order action")
	}
	if req.Quantity <= 0 {
		return apperrors.NewValidationError("quantity", req.Quantity, "must be positive")
	}
	switch req.Type {
	case models.OrderTypeLimit:
		if !req.LimitPrice.IsPositive() {
			return apperrors.NewValidationError("limit_price", req.LimitPrice.String(), "limit orders need a positive price")
		}
	case models.OrderTypeMarket:
	default:
		return apperrors.NewValidationError("type", req.Type, "unknown order type")
	}
	return nil
}

// IsCredit reports whether the action receives premium.
func IsCredit(a models.OrderAction) bool {
	return a == models.ActionSellToOpen || a == models.ActionSellToClose
}
