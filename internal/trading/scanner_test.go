package trading

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheel-trader/internal/models"
	"wheel-trader/internal/occ"
)

type fakeMarketData struct {
	mu     sync.Mutex
	chains map[string]*models.OptionChain
	ranks  map[string]float64
	calls  []string
}

func (f *fakeMarketData) GetOptionChain(ctx context.Context, symbol string, minDTE, maxDTE int) (*models.OptionChain, error) {
	f.mu.Lock()
	f.calls = append(f.calls, symbol)
	f.mu.Unlock()
	c, ok := f.chains[symbol]
	if !ok {
		return nil, errors.New("upstream 502")
	}
	cp := *c
	cp.Contracts = append([]models.OptionContract(nil), c.Contracts...)
	return &cp, nil
}

func (f *fakeMarketData) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	return nil, errors.New("not used")
}

func (f *fakeMarketData) GetDailyHistory(ctx context.Context, symbol string, days int) ([]models.Candle, error) {
	return nil, errors.New("not used")
}

func (f *fakeMarketData) GetIVRank(ctx context.Context, symbol string) (*float64, error) {
	if r, ok := f.ranks[symbol]; ok {
		return &r, nil
	}
	return nil, nil
}

func chainContract(underlying string, typ models.OptionType, strike, bid, delta float64, dte int) models.OptionContract {
	id := occ.Identity{
		Underlying: underlying,
		Expiration: occ.StartOfDay(testToday).AddDate(0, 0, dte),
		Type:       typ,
		Strike:     strike,
	}
	return models.OptionContract{
		Symbol:       occ.Format(id),
		Underlying:   underlying,
		Strike:       strike,
		Expiration:   id.Expiration,
		OptionType:   typ,
		Bid:          bid,
		Ask:          bid + 0.05,
		OpenInterest: 1000,
		Greeks:       &models.OptionGreeks{Delta: delta},
	}
}

func newFakeMarket() *fakeMarketData {
	return &fakeMarketData{
		chains: map[string]*models.OptionChain{
			"SOFI": {Symbol: "SOFI", UnderlyingPrice: 26, Contracts: []models.OptionContract{
				chainContract("SOFI", models.OptionTypePut, 24, 0.40, -0.16, 11),
				chainContract("SOFI", models.OptionTypePut, 25, 0.60, -0.28, 11),
				chainContract("SOFI", models.OptionTypeCall, 28, 0.30, 0.15, 11),
				chainContract("SOFI", models.OptionTypePut, 23, 0, -0.10, 11),
			}},
			"AAPL": {Symbol: "AAPL", UnderlyingPrice: 250, Contracts: []models.OptionContract{
				chainContract("AAPL", models.OptionTypeCall, 240, 12.0, 0.70, 11),
				chainContract("AAPL", models.OptionTypeCall, 265, 1.90, 0.17, 11),
				chainContract("AAPL", models.OptionTypePut, 235, 1.50, -0.15, 11),
			}},
			"MSFT": {Symbol: "MSFT", UnderlyingPrice: 420, Contracts: []models.OptionContract{
				chainContract("MSFT", models.OptionTypePut, 300, 0.05, -0.01, 11),
			}},
		},
		ranks: map[string]float64{"SOFI": 45},
	}
}

func newTestScanner(md *fakeMarketData) *Scanner {
	s := NewScanner(md, zerolog.Nop())
	s.now = func() time.Time { return testToday }
	return s
}

func TestScanCashSecuredPuts(t *testing.T) {
	md := newFakeMarket()
	res, err := newTestScanner(md).Scan(context.Background(), ScanRequest{
		Strategy:    models.StrategyCSP,
		Symbols:     []string{"sofi", "MSFT", "NFLX", "SOFI"},
		Constraints: testConstraints,
		Mode:        SizingConservative,
		Capacity:    map[string]int{"SOFI": 2, "MSFT": 2, "NFLX": 2},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Len(t, md.calls, 3, "duplicate symbols are fetched once")

	require.Contains(t, res.Selections, "SOFI")
	sel := res.Selections["SOFI"]
	assert.Equal(t, 24.0, sel.Record.Strike)
	require.NotNil(t, sel.Record.IVRank)
	assert.Equal(t, 45.0, *sel.Record.IVRank)
	assert.Equal(t, 26.0, sel.Record.UnderlyingPrice)

	assert.Equal(t, []string{"MSFT"}, res.NoCandidates)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "NFLX", res.Failed[0].Symbol)

	assert.Equal(t, 1, res.Stats.MidFallbacks)
	assert.Equal(t, 4, res.Stats.Accepted)
}

func TestScanCoveredCallsKeepsOnlyOutOfTheMoney(t *testing.T) {
	md := newFakeMarket()
	res, err := newTestScanner(md).Scan(context.Background(), ScanRequest{
		Strategy:    models.StrategyCC,
		Symbols:     []string{"AAPL"},
		Constraints: testConstraints,
		Mode:        SizingAggressive,
		Capacity:    map[string]int{"AAPL": 3},
	})
	require.NoError(t, err)
	require.Contains(t, res.Selections, "AAPL")
	assert.Equal(t, 265.0, res.Selections["AAPL"].Record.Strike)
	assert.Equal(t, 3, res.Selections["AAPL"].Quantity)
	assert.Equal(t, 1, res.Stats.Accepted)
}

type staticRanks map[string]float64

func (r staticRanks) GetIVRank(ctx context.Context, symbol string) (*float64, error) {
	if v, ok := r[symbol]; ok {
		return &v, nil
	}
	return nil, errors.New("no market metrics")
}

func TestScanFallsBackToSecondaryIVRank(t *testing.T) {
	md := newFakeMarket()
	s := newTestScanner(md).WithIVRankSource(staticRanks{"AAPL": 80, "SOFI": 99})

	res, err := s.Scan(context.Background(), ScanRequest{
		Strategy:    models.StrategyCSP,
		Symbols:     []string{"SOFI", "AAPL", "MSFT"},
		Constraints: testConstraints,
		Mode:        SizingConservative,
		Capacity:    map[string]int{"SOFI": 1, "AAPL": 1, "MSFT": 1},
	})
	require.NoError(t, err)

	require.Contains(t, res.Selections, "SOFI")
	require.NotNil(t, res.Selections["SOFI"].Record.IVRank)
	assert.Equal(t, 45.0, *res.Selections["SOFI"].Record.IVRank, "chain provider rank wins")

	require.Contains(t, res.Selections, "AAPL")
	require.NotNil(t, res.Selections["AAPL"].Record.IVRank)
	assert.Equal(t, 80.0, *res.Selections["AAPL"].Record.IVRank)
	assert.Empty(t, res.Failed, "a missing rank is not a fetch failure")
}

func TestScanValidatesRequest(t *testing.T) {
	s := newTestScanner(newFakeMarket())
	ctx := context.Background()

	_, err := s.Scan(ctx, ScanRequest{Strategy: "IRON_CONDOR", Symbols: []string{"SOFI"}, Constraints: testConstraints})
	assert.Error(t, err)

	_, err = s.Scan(ctx, ScanRequest{Strategy: models.StrategyCSP, Constraints: testConstraints})
	assert.Error(t, err)

	bad := testConstraints
	bad.DeltaMax = 2
	_, err = s.Scan(ctx, ScanRequest{Strategy: models.StrategyCSP, Symbols: []string{"SOFI"}, Constraints: bad})
	assert.Error(t, err)
}

func TestScanHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestScanner(newFakeMarket()).Scan(ctx, ScanRequest{
		Strategy:    models.StrategyCSP,
		Symbols:     []string{"SOFI"},
		Constraints: testConstraints,
	})
	assert.ErrorIs(t, err, context.Canceled)
}
