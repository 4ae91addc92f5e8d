package store

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "wheel-trader/internal/errors"
	"wheel-trader/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "wheel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Property: saving daily candles and reading them back over the same window
// returns the same bars in order.
func TestProperty_CandleRoundTrip(t *testing.T) {
	s := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	run := 0
	properties.Property("candles survive a save and load", prop.ForAll(
		func(count int, basePrice float64, baseVolume int64) bool {
			ctx := context.Background()
			run++
			symbol := fmt.Sprintf("SYM%d", run)

			candles := generateTestCandles(count, basePrice, baseVolume)
			if err := s.SaveCandles(ctx, symbol, candles); err != nil {
				t.Logf("save: %v", err)
				return false
			}

			from := candles[0].Timestamp.Add(-time.Second)
			to := candles[len(candles)-1].Timestamp.Add(time.Second)
			got, err := s.GetCandles(ctx, symbol, from, to)
			if err != nil || len(got) != len(candles) {
				return false
			}

			for i := range candles {
				if !got[i].Timestamp.Equal(candles[i].Timestamp) {
					return false
				}
				if math.Abs(got[i].Close-candles[i].Close) > 1e-9 || got[i].Volume != candles[i].Volume {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 20),
		gen.Float64Range(5.0, 500.0),
		gen.Int64Range(1000, 1000000),
	))

	properties.TestingRun(t)
}

func generateTestCandles(count int, basePrice float64, baseVolume int64) []models.Candle {
	start := time.Date(2026, 1, 5, 21, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, count)
	for i := 0; i < count; i++ {
		price := basePrice + float64(i)*0.25
		candles[i] = models.Candle{
			Timestamp: start.AddDate(0, 0, i),
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price + 0.5,
			Volume:    baseVolume + int64(i),
		}
	}
	return candles
}

func TestCandlesFreshness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ts, err := s.GetCandlesFreshness(ctx, "SOFI")
	require.NoError(t, err)
	assert.True(t, ts.IsZero())

	candles := generateTestCandles(3, 20, 5000)
	require.NoError(t, s.SaveCandles(ctx, "SOFI", candles))

	ts, err = s.GetCandlesFreshness(ctx, "SOFI")
	require.NoError(t, err)
	assert.True(t, ts.Equal(candles[2].Timestamp))
}

func TestWatchlist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddToWatchlist(ctx, "sofi", "wheel"))
	require.NoError(t, s.AddToWatchlist(ctx, "PLTR", "wheel"))
	require.NoError(t, s.AddToWatchlist(ctx, "SOFI", "wheel"))
	require.NoError(t, s.AddToWatchlist(ctx, "AAPL", "income"))

	list, err := s.GetWatchlist(ctx, "wheel")
	require.NoError(t, err)
	assert.Equal(t, []string{"SOFI", "PLTR"}, list)

	require.NoError(t, s.RemoveFromWatchlist(ctx, "sofi", "wheel"))

	all, err := s.GetAllWatchlists(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"wheel":  {"PLTR"},
		"income": {"AAPL"},
	}, all)
}

func TestPremiumSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snaps := []PremiumSnapshot{
		{Month: "2026-01", Net: decimal.RequireFromString("412.50"), CSPNet: decimal.RequireFromString("300"), CCNet: decimal.RequireFromString("112.50"), Orders: 6, Rolls: 1},
		{Month: "2026-02", Net: decimal.RequireFromString("-40"), CSPNet: decimal.RequireFromString("-40"), CCNet: decimal.Zero, Orders: 2},
		{Month: "2026-03", Net: decimal.RequireFromString("250"), CSPNet: decimal.RequireFromString("250"), CCNet: decimal.Zero, Orders: 3},
	}
	require.NoError(t, s.SavePremiumSnapshots(ctx, "5WT00001", snaps))

	// Recomputing a month replaces it.
	require.NoError(t, s.SavePremiumSnapshots(ctx, "5WT00001", []PremiumSnapshot{
		{Month: "2026-03", Net: decimal.RequireFromString("275"), CSPNet: decimal.RequireFromString("275"), CCNet: decimal.Zero, Orders: 4},
	}))
	require.NoError(t, s.SavePremiumSnapshots(ctx, "OTHER", snaps[:1]))

	got, err := s.GetPremiumSnapshots(ctx, "5WT00001", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2026-02", got[0].Month)
	assert.Equal(t, "2026-03", got[1].Month)
	assert.True(t, got[0].Net.Equal(decimal.NewFromInt(-40)))
	assert.True(t, got[1].Net.Equal(decimal.NewFromInt(275)))
	assert.Equal(t, 4, got[1].Orders)
	assert.False(t, got[1].CapturedAt.IsZero())

	all, err := s.GetPremiumSnapshots(ctx, "5WT00001", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.True(t, all[0].CCNet.Equal(decimal.RequireFromString("112.5")))
}

func TestScanRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 5, 15, 0, 0, 0, time.UTC)

	ivRank := 62.5
	runs := []*ScanRun{
		{RunID: "a", Strategy: "CSP", StartedAt: base, Duration: 1500 * time.Millisecond, Symbols: []string{"SOFI", "AMD"}, Selected: 1, Rejected: 12, Failed: 1,
			Selections: []ScanPick{
				{Underlying: "SOFI", Symbol: "SOFI  260116P00024000", Strike: 24, Bid: 0.25, Delta: -0.15, DTE: 11, WeeklyReturnPct: 0.66, IVRank: &ivRank, Quantity: 1, Stage: "strict"},
				{Underlying: "AMD", Symbol: "AMD   260116P00150000", Strike: 150, Bid: 1.10, Delta: -0.2, DTE: 11, WeeklyReturnPct: 0.47, Quantity: 1, Stage: "strict"},
			}},
		{RunID: "b", Strategy: "CC", StartedAt: base.Add(time.Hour), Symbols: []string{"AAPL"}},
		{RunID: "c", Strategy: "CSP", StartedAt: base.Add(2 * time.Hour), Symbols: []string{"PLTR"}},
	}
	for _, r := range runs {
		require.NoError(t, s.SaveScanRun(ctx, r))
	}

	got, err := s.GetScanRuns(ctx, ScanFilter{Strategy: "CSP"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].RunID)
	assert.Equal(t, "a", got[1].RunID)
	assert.Equal(t, []string{"SOFI", "AMD"}, got[1].Symbols)
	assert.Equal(t, 1500*time.Millisecond, got[1].Duration)
	require.Len(t, got[1].Selections, 2)
	assert.Equal(t, runs[0].Selections, got[1].Selections)
	require.NotNil(t, got[1].Selections[0].IVRank)
	assert.Equal(t, 62.5, *got[1].Selections[0].IVRank)
	assert.Nil(t, got[1].Selections[1].IVRank)

	got, err = s.GetScanRuns(ctx, ScanFilter{StartDate: base.Add(30 * time.Minute), Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].RunID)
}

func TestOrderJournal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 5, 15, 0, 0, 0, time.UTC)

	require.NoError(t, s.LogOrder(ctx, &OrderEntry{
		OrderID: "PAPER-1", Account: "PAPER", Symbol: "SOFI  260116P00024000", Action: "SELL_TO_OPEN",
		Quantity: 2, LimitPrice: decimal.RequireFromString("0.25"), Status: "FILLED", IsPaper: true, PlacedAt: base,
	}))
	require.NoError(t, s.LogOrder(ctx, &OrderEntry{
		OrderID: "LIVE-1", Account: "5WT00001", Symbol: "AMD   260116P00150000", Action: "SELL_TO_OPEN",
		Quantity: 1, LimitPrice: decimal.RequireFromString("1.10"), Status: "RECEIVED", PlacedAt: base.Add(time.Minute),
	}))

	paper := true
	got, err := s.GetOrders(ctx, OrderFilter{IsPaper: &paper})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "PAPER-1", got[0].OrderID)
	assert.True(t, got[0].LimitPrice.Equal(decimal.RequireFromString("0.25")))
	assert.True(t, got[0].IsPaper)

	require.NoError(t, s.UpdateOrderStatus(ctx, "LIVE-1", "CANCELLED"))
	got, err = s.GetOrders(ctx, OrderFilter{Account: "5WT00001"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "CANCELLED", got[0].Status)

	err = s.UpdateOrderStatus(ctx, "missing", "CANCELLED")
	assert.ErrorIs(t, err, apperrors.ErrOrderNotFound)

	all, err := s.GetOrders(ctx, OrderFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "LIVE-1", all[0].OrderID)
}

func TestLastSync(t *testing.T) {
	s := newTestStore(t)

	assert.True(t, s.GetLastSync("transactions").IsZero())

	ts := time.Date(2026, 1, 5, 15, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetLastSync("transactions", ts))
	assert.True(t, s.GetLastSync("transactions").Equal(ts))

	// A fresh cache reads through to the table.
	s.mu.Lock()
	delete(s.syncTimes, "transactions")
	s.mu.Unlock()
	assert.True(t, s.GetLastSync("transactions").Equal(ts))
}
