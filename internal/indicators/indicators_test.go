package indicators

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheel-trader/internal/models"
	"wheel-trader/internal/occ"
)

func closesToCandles(closes ...float64) []models.Candle {
	start := time.Date(2025, 1, 2, 0, 0, 0, 0, occ.Exchange)
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{
			Timestamp: start.AddDate(0, 0, i),
			Open:      c,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
			Volume:    int64(1000 * (i + 1)),
		}
	}
	return out
}

func series(n int, f func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

// Property: for any close series long enough, RSI values after the warm-up
// lie in [0, 100].
func TestProperty_RSIWithinBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("RSI values are within [0, 100]", prop.ForAll(
		func(closes []float64) bool {
			rsi := NewRSI(14)
			values, err := rsi.Calculate(closesToCandles(closes...))
			if err != nil {
				return len(closes) < 15
			}
			for i := rsi.Period(); i < len(values); i++ {
				if values[i] < 0 || values[i] > 100 || math.IsNaN(values[i]) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(60, gen.Float64Range(1, 500)),
	))

	properties.TestingRun(t)
}

// Property: the readiness score is always within [0, 100] and never rises
// when RSI rises with the other inputs fixed.
func TestProperty_ReadinessBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("readiness within bounds and monotone in RSI", prop.ForAll(
		func(rsi, bump, pb, w52 float64) bool {
			low := Snapshot{RSI: &rsi, PercentB: &pb, Week52Percent: &w52}
			higherRSI := rsi + bump
			high := Snapshot{RSI: &higherRSI, PercentB: &pb, Week52Percent: &w52}

			a := ReadinessScore(low).Total
			b := ReadinessScore(high).Total
			return a >= 0 && a <= 100 && b <= a
		},
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 50),
		gen.Float64Range(-20, 120),
		gen.Float64Range(0, 100),
	))

	properties.TestingRun(t)
}

func TestRSIExtremes(t *testing.T) {
	rising := closesToCandles(series(30, func(i int) float64 { return 10 + float64(i) })...)
	v, err := NewRSI(14).Last(rising)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)

	falling := closesToCandles(series(30, func(i int) float64 { return 50 - float64(i) })...)
	v, err = NewRSI(14).Last(falling)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	flat := closesToCandles(series(30, func(int) float64 { return 20 })...)
	v, err = NewRSI(14).Last(flat)
	require.NoError(t, err)
	assert.Equal(t, 50.0, v)

	_, err = NewRSI(14).Last(flat[:14])
	assert.ErrorIs(t, err, ErrInsufficientData)
	_, err = NewRSI(0).Last(flat)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestBollingerPercentB(t *testing.T) {
	candles := closesToCandles(series(20, func(i int) float64 { return float64(i + 1) })...)
	bands, err := NewBollingerBands(20, 2).Calculate(candles)
	require.NoError(t, err)

	sd := math.Sqrt(35)
	assert.InDelta(t, 10.5, bands.Middle, 1e-9)
	assert.InDelta(t, 10.5+2*sd, bands.Upper, 1e-9)
	assert.InDelta(t, 10.5-2*sd, bands.Lower, 1e-9)
	assert.InDelta(t, (20-(10.5-2*sd))/(4*sd)*100, bands.PercentB, 1e-9)

	flat := closesToCandles(series(25, func(int) float64 { return 7 })...)
	bands, err = NewBollingerBands(20, 2).Calculate(flat)
	require.NoError(t, err)
	assert.Equal(t, 50.0, bands.PercentB)

	_, err = NewBollingerBands(20, 2).Calculate(candles[:19])
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestRangeAndDistances(t *testing.T) {
	candles := closesToCandles(10, 20, 15)

	pos, err := RangePosition(candles, TradingDaysPerYear)
	require.NoError(t, err)
	assert.InDelta(t, 50, pos, 1e-9)

	// Only the last two bars count.
	pos, err = RangePosition(candles, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0, pos, 1e-9)

	dist, ok := SupportDistance(candles, TradingDaysPerYear)
	require.True(t, ok)
	assert.InDelta(t, 50, dist, 1e-9)

	ma, err := MADistance(candles, 3)
	require.NoError(t, err)
	assert.InDelta(t, 0, ma, 1e-9)

	assert.Equal(t, int64(2500), AverageVolume(candles, 2))

	_, err = RangePosition(nil, 10)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestReadinessScore(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name string
		snap Snapshot
		want float64
	}{
		{"all oversold", Snapshot{RSI: f(25), PercentB: f(10), Week52Percent: f(5)}, 100},
		{"mixed", Snapshot{RSI: f(25), PercentB: f(25), Week52Percent: f(45)}, 76},
		{"overbought", Snapshot{RSI: f(75), PercentB: f(95), Week52Percent: f(99)}, 0},
		{"rsi boundary", Snapshot{RSI: f(70)}, 8},
		{"missing", Snapshot{}, 0},
		{"bands only", Snapshot{PercentB: f(55)}, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ReadinessScore(tt.snap).Total, 1e-9)
		})
	}
}

func TestComputeShortHistory(t *testing.T) {
	snap := Compute("SOFI", closesToCandles(10, 11, 12))
	assert.Equal(t, 12.0, snap.Price)
	assert.Nil(t, snap.RSI)
	assert.Nil(t, snap.PercentB)
	require.NotNil(t, snap.Week52Percent)
	assert.InDelta(t, 100, *snap.Week52Percent, 1e-9)

	empty := Compute("X", nil)
	assert.Zero(t, empty.Price)
	assert.Nil(t, empty.Week52Percent)
}

func TestLastSession(t *testing.T) {
	at := func(y int, m time.Month, d, h int) time.Time {
		return time.Date(y, m, d, h, 0, 0, 0, occ.Exchange)
	}
	day := func(y int, m time.Month, d int) time.Time { return at(y, m, d, 0) }

	assert.Equal(t, day(2026, 1, 5), LastSession(at(2026, 1, 5, 17)))  // Monday after close
	assert.Equal(t, day(2026, 1, 2), LastSession(at(2026, 1, 5, 10)))  // Monday morning
	assert.Equal(t, day(2026, 1, 2), LastSession(at(2026, 1, 4, 12)))  // Sunday
	assert.Equal(t, day(2026, 1, 7), LastSession(at(2026, 1, 8, 9)))   // Thursday morning
}

type fakeHistory struct {
	mu      sync.Mutex
	candles map[string][]models.Candle
	calls   int
}

func (f *fakeHistory) GetDailyHistory(_ context.Context, symbol string, _ int) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	c, ok := f.candles[symbol]
	if !ok {
		return nil, errors.New("unknown symbol")
	}
	return c, nil
}

type memCache struct {
	mu   sync.Mutex
	bars map[string][]models.Candle
}

func (m *memCache) SaveCandles(_ context.Context, symbol string, candles []models.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bars[symbol] = candles
	return nil
}

func (m *memCache) GetCandles(_ context.Context, symbol string, from, to time.Time) ([]models.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Candle
	for _, c := range m.bars[symbol] {
		if !c.Timestamp.Before(from) && !c.Timestamp.After(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memCache) GetCandlesFreshness(_ context.Context, symbol string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bars := m.bars[symbol]
	if len(bars) == 0 {
		return time.Time{}, nil
	}
	return bars[len(bars)-1].Timestamp, nil
}

func TestLoaderUsesFreshCache(t *testing.T) {
	// 30 bars ending Monday 2026-01-05.
	start := time.Date(2025, 12, 7, 0, 0, 0, 0, occ.Exchange)
	bars := make([]models.Candle, 30)
	for i := range bars {
		bars[i] = models.Candle{Timestamp: start.AddDate(0, 0, i), Close: 40 - float64(i), High: 41 - float64(i), Low: 39 - float64(i)}
	}
	src := &fakeHistory{candles: map[string][]models.Candle{"AMD": bars, "SOFI": bars}}
	cache := &memCache{bars: map[string][]models.Candle{}}

	l := NewLoader(src, cache, zerolog.Nop())
	l.now = func() time.Time { return time.Date(2026, 1, 5, 18, 0, 0, 0, occ.Exchange) }

	got, err := l.Candles(context.Background(), "AMD")
	require.NoError(t, err)
	assert.Len(t, got, 30)
	assert.Equal(t, 1, src.calls)

	got, err = l.Candles(context.Background(), "AMD")
	require.NoError(t, err)
	assert.Len(t, got, 30)
	assert.Equal(t, 1, src.calls, "second load served from cache")

	// A day later the cache is stale.
	l.now = func() time.Time { return time.Date(2026, 1, 6, 18, 0, 0, 0, occ.Exchange) }
	_, err = l.Candles(context.Background(), "AMD")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestScoreAll(t *testing.T) {
	start := time.Date(2025, 1, 2, 0, 0, 0, 0, occ.Exchange)
	falling := make([]models.Candle, 60)
	rising := make([]models.Candle, 60)
	for i := range falling {
		falling[i] = models.Candle{Timestamp: start.AddDate(0, 0, i), Close: 100 - float64(i)}
		rising[i] = models.Candle{Timestamp: start.AddDate(0, 0, i), Close: 40 + float64(i)}
	}
	src := &fakeHistory{candles: map[string][]models.Candle{"DOWN": falling, "UP": rising}}
	l := NewLoader(src, nil, zerolog.Nop())

	scored, failures, err := l.ScoreAll(context.Background(), []string{"up", "DOWN", "NOPE"}, 2)
	require.NoError(t, err)

	require.Len(t, scored, 2)
	assert.Equal(t, "DOWN", scored[0].Symbol)
	assert.Equal(t, 100.0, scored[0].Score.Total)
	assert.Equal(t, "UP", scored[1].Symbol)
	assert.Equal(t, 0.0, scored[1].Score.Total)

	require.Len(t, failures, 1)
	assert.Equal(t, "NOPE", failures[0].Symbol)
}
