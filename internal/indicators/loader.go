package indicators

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"wheel-trader/internal/models"
	"wheel-trader/internal/occ"
)

// HistoryDays is the calendar-day lookback fetched for a snapshot.
const HistoryDays = 365

// HistorySource fetches daily bars from a market-data provider.
type HistorySource interface {
	GetDailyHistory(ctx context.Context, symbol string, days int) ([]models.Candle, error)
}

// CandleCache persists daily bars between runs.
type CandleCache interface {
	SaveCandles(ctx context.Context, symbol string, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error)
	GetCandlesFreshness(ctx context.Context, symbol string) (time.Time, error)
}

// Loader reads daily history through a local cache.
type Loader struct {
	src    HistorySource
	cache  CandleCache
	logger zerolog.Logger
	now    func() time.Time
}

// NewLoader creates a loader. cache may be nil.
func NewLoader(src HistorySource, cache CandleCache, logger zerolog.Logger) *Loader {
	return &Loader{
		src:    src,
		cache:  cache,
		logger: logger.With().Str("component", "history").Logger(),
		now:    time.Now,
	}
}

// Candles returns up to HistoryDays of bars for symbol. Cached bars are used
// when they include the last completed session.
func (l *Loader) Candles(ctx context.Context, symbol string) ([]models.Candle, error) {
	now := l.now()
	from := now.AddDate(0, 0, -HistoryDays)

	if l.cache != nil {
		latest, err := l.cache.GetCandlesFreshness(ctx, symbol)
		if err != nil {
			l.logger.Warn().Err(err).Str("symbol", symbol).Msg("candle cache unavailable")
		} else if !latest.IsZero() && !latest.In(occ.Exchange).Before(LastSession(now)) {
			candles, err := l.cache.GetCandles(ctx, symbol, from, now)
			if err == nil && len(candles) > 0 {
				l.logger.Debug().Str("symbol", symbol).Int("bars", len(candles)).Msg("history from cache")
				return candles, nil
			}
		}
	}

	candles, err := l.src.GetDailyHistory(ctx, symbol, HistoryDays)
	if err != nil {
		return nil, fmt.Errorf("fetching history for %s: %w", symbol, err)
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Timestamp.Before(candles[j].Timestamp) })

	if l.cache != nil && len(candles) > 0 {
		if err := l.cache.SaveCandles(ctx, symbol, candles); err != nil {
			l.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to cache history")
		}
	}
	return candles, nil
}

// LastSession returns the exchange-date midnight of the most recent session
// whose close has passed. Weekends roll back to Friday; holidays are not
// modelled.
func LastSession(now time.Time) time.Time {
	t := now.In(occ.Exchange)
	day := occ.StartOfDay(t)
	if t.Hour() < 16 {
		day = day.AddDate(0, 0, -1)
	}
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, -1)
	}
	return day
}

// SnapshotFailure records a symbol whose history could not be loaded.
type SnapshotFailure struct {
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
}

// Scored is a snapshot with its readiness breakdown.
type Scored struct {
	Snapshot
	Score Breakdown `json:"score"`
}

// ScoreAll loads and scores symbols concurrently. Results are ordered by
// score descending, then symbol.
func (l *Loader) ScoreAll(ctx context.Context, symbols []string, workers int) ([]Scored, []SnapshotFailure, error) {
	if workers <= 0 {
		workers = 4
	}

	type outcome struct {
		symbol string
		scored Scored
		err    error
	}

	p := pool.NewWithResults[outcome]().WithContext(ctx).WithMaxGoroutines(workers)
	for _, s := range symbols {
		symbol := strings.ToUpper(strings.TrimSpace(s))
		if symbol == "" {
			continue
		}
		p.Go(func(ctx context.Context) (outcome, error) {
			candles, err := l.Candles(ctx, symbol)
			if err != nil {
				return outcome{symbol: symbol, err: err}, nil
			}
			snap := Compute(symbol, candles)
			return outcome{symbol: symbol, scored: Scored{Snapshot: snap, Score: ReadinessScore(snap)}}, nil
		})
	}
	results, _ := p.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("scoring cancelled: %w", err)
	}

	var scored []Scored
	var failures []SnapshotFailure
	for _, r := range results {
		if r.err != nil {
			l.logger.Warn().Err(r.err).Str("symbol", r.symbol).Msg("history unavailable")
			failures = append(failures, SnapshotFailure{Symbol: r.symbol, Error: r.err.Error()})
			continue
		}
		scored = append(scored, r.scored)
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score.Total != scored[j].Score.Total {
			return scored[i].Score.Total > scored[j].Score.Total
		}
		return scored[i].Symbol < scored[j].Symbol
	})
	sort.Slice(failures, func(i, j int) bool { return failures[i].Symbol < failures[j].Symbol })

	return scored, failures, nil
}
