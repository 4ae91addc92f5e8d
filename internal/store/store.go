// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"wheel-trader/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Candles
	SaveCandles(ctx context.Context, symbol string, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error)
	GetCandlesFreshness(ctx context.Context, symbol string) (time.Time, error)

	// Watchlist
	AddToWatchlist(ctx context.Context, symbol, listName string) error
	RemoveFromWatchlist(ctx context.Context, symbol, listName string) error
	GetWatchlist(ctx context.Context, listName string) ([]string, error)
	GetAllWatchlists(ctx context.Context) (map[string][]string, error)

	// Premium history
	SavePremiumSnapshots(ctx context.Context, account string, snapshots []PremiumSnapshot) error
	GetPremiumSnapshots(ctx context.Context, account string, limit int) ([]PremiumSnapshot, error)

	// Scan history
	SaveScanRun(ctx context.Context, run *ScanRun) error
	GetScanRuns(ctx context.Context, filter ScanFilter) ([]ScanRun, error)

	// Order journal
	LogOrder(ctx context.Context, entry *OrderEntry) error
	GetOrders(ctx context.Context, filter OrderFilter) ([]OrderEntry, error)
	UpdateOrderStatus(ctx context.Context, orderID, status string) error

	// Sync
	GetLastSync(dataType string) time.Time
	SetLastSync(dataType string, t time.Time) error

	// Lifecycle
	Close() error
}

// PremiumSnapshot is one month of net premium as last computed.
type PremiumSnapshot struct {
	Month      string // YYYY-MM
	Net        decimal.Decimal
	CSPNet     decimal.Decimal
	CCNet      decimal.Decimal
	Orders     int
	Rolls      int
	CapturedAt time.Time
}

// ScanRun is the persisted summary of a scan.
type ScanRun struct {
	RunID      string
	Strategy   string
	StartedAt  time.Time
	Duration   time.Duration
	Symbols    []string
	Selected   int
	Rejected   int
	Failed     int
	Selections []ScanPick
}

// ScanPick is one selected contract of a scan run.
type ScanPick struct {
	Underlying      string   `json:"underlying"`
	Symbol          string   `json:"symbol"`
	Strike          float64  `json:"strike"`
	Bid             float64  `json:"bid"`
	Delta           float64  `json:"delta"`
	DTE             int      `json:"dte"`
	WeeklyReturnPct float64  `json:"weekly_return_pct"`
	IVRank          *float64 `json:"iv_rank,omitempty"`
	Quantity        int      `json:"quantity"`
	Stage           string   `json:"stage"`
}

// ScanFilter represents filters for querying scan runs.
type ScanFilter struct {
	Strategy  string
	StartDate time.Time
	Limit     int
}

// OrderEntry is a journal row for a submitted order.
type OrderEntry struct {
	OrderID    string
	Account    string
	Symbol     string
	Action     string
	Quantity   int
	LimitPrice decimal.Decimal
	Status     string
	IsPaper    bool
	PlacedAt   time.Time
}

// OrderFilter represents filters for querying the order journal.
type OrderFilter struct {
	Account string
	Symbol  string
	IsPaper *bool
	Limit   int
}
