package trading

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"wheel-trader/internal/broker"
	apperrors "wheel-trader/internal/errors"
	"wheel-trader/internal/logging"
	"wheel-trader/internal/models"
	"wheel-trader/internal/occ"
)

// DefaultScanWorkers bounds concurrent chain fetches.
const DefaultScanWorkers = 4

// ScanRequest describes one opportunity scan.
type ScanRequest struct {
	Strategy    models.Strategy // CSP or CC
	Symbols     []string
	Constraints Constraints
	Mode        SizingMode
	// Capacity is the contract capacity per underlying. Under medium and
	// aggressive sizing, symbols without capacity are fetched but never
	// selected.
	Capacity map[string]int
	Workers  int
}

// SymbolFailure is a per-symbol fetch error that did not stop the batch.
type SymbolFailure struct {
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
}

// ScanResult holds the selections and diagnostics of a scan.
type ScanResult struct {
	RunID        string               `json:"run_id"`
	Strategy     models.Strategy      `json:"strategy"`
	StartedAt    time.Time            `json:"started_at"`
	Duration     time.Duration        `json:"duration"`
	Selections   map[string]Selection `json:"selections"`
	Stats        RejectionStats       `json:"stats"`
	Failed       []SymbolFailure      `json:"failed,omitempty"`
	NoCandidates []string             `json:"no_candidates,omitempty"`
	Underlyings  map[string]float64   `json:"underlying_prices"`
}

// Scanner fetches option chains and runs the selection pipeline.
type Scanner struct {
	md      broker.MarketData
	ivRanks broker.IVRankSource
	logger  zerolog.Logger
	now     func() time.Time
}

// NewScanner creates a scanner over a market data source.
func NewScanner(md broker.MarketData, logger zerolog.Logger) *Scanner {
	return &Scanner{
		md:     md,
		logger: logging.WithOperation(logger, "scan"),
		now:    time.Now,
	}
}

// WithIVRankSource sets the source consulted when the chain provider has no
// IV rank for a symbol.
func (s *Scanner) WithIVRankSource(src broker.IVRankSource) *Scanner {
	s.ivRanks = src
	return s
}

type fetched struct {
	symbol string
	chain  *models.OptionChain
	err    error
}

// Scan fetches every symbol's chain concurrently, then normalizes and selects
// in a single pass. Fetch failures are recorded and the batch continues; the
// scan itself fails only when the request is invalid or ctx is cancelled.
func (s *Scanner) Scan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	if err := req.Constraints.Validate(); err != nil {
		return nil, apperrors.NewValidationError("constraints", req.Constraints, err.Error())
	}
	optType, err := optionTypeFor(req.Strategy)
	if err != nil {
		return nil, err
	}
	symbols := uniqueSymbols(req.Symbols)
	if len(symbols) == 0 {
		return nil, apperrors.NewValidationError("symbols", req.Symbols, "at least one symbol is required")
	}

	workers := req.Workers
	if workers <= 0 {
		workers = DefaultScanWorkers
	}

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	log := s.logger.With().Str("run_id", runID).Str("strategy", string(req.Strategy)).Logger()
	start := s.now()

	p := pool.NewWithResults[fetched]().WithContext(ctx).WithMaxGoroutines(workers)
	for _, sym := range symbols {
		sym := sym
		p.Go(func(ctx context.Context) (fetched, error) {
			chain, err := s.fetch(ctx, sym, req.Constraints)
			return fetched{symbol: sym, chain: chain, err: err}, nil
		})
	}
	results, _ := p.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan cancelled: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].symbol < results[j].symbol })

	res := &ScanResult{
		RunID:       runID,
		Strategy:    req.Strategy,
		StartedAt:   start,
		Stats:       NewRejectionStats(),
		Underlyings: make(map[string]float64),
	}

	today := s.now()
	var records []models.OpportunityRecord
	for _, f := range results {
		if f.err != nil {
			log.Warn().Err(f.err).Str("symbol", f.symbol).Msg("chain fetch failed")
			res.Failed = append(res.Failed, SymbolFailure{Symbol: f.symbol, Error: f.err.Error()})
			continue
		}
		res.Underlyings[f.symbol] = f.chain.UnderlyingPrice

		contracts := filterContracts(f.chain, optType)
		recs, stats := NormalizeAll(contracts, today)
		res.Stats.Merge(stats)
		if stats.Total() > 0 {
			log.Debug().Str("symbol", f.symbol).Int("rejected", stats.Total()).Msg("contracts rejected during normalization")
		}
		records = append(records, recs...)
	}

	res.Selections = SelectBest(records, req.Constraints, req.Mode, req.Capacity)
	for _, sym := range symbols {
		if _, ok := res.Selections[sym]; ok {
			continue
		}
		if _, ok := res.Underlyings[sym]; ok {
			res.NoCandidates = append(res.NoCandidates, sym)
		}
	}

	res.Duration = s.now().Sub(start)
	logging.LogScan(log, runID, len(symbols), len(res.Selections), res.Stats.Total(), len(res.Failed), res.Duration)
	return res, nil
}

func (s *Scanner) fetch(ctx context.Context, symbol string, c Constraints) (*models.OptionChain, error) {
	chain, err := s.md.GetOptionChain(ctx, symbol, c.DTEMin, c.DTEMax)
	if err != nil {
		return nil, err
	}
	if chain.IVRank == nil {
		chain.IVRank = s.ivRank(ctx, s.md, symbol)
	}
	if chain.IVRank == nil && s.ivRanks != nil {
		chain.IVRank = s.ivRank(ctx, s.ivRanks, symbol)
	}
	for i := range chain.Contracts {
		chain.Contracts[i].IVRank = chain.IVRank
		if chain.Contracts[i].UnderlyingPrice == 0 {
			chain.Contracts[i].UnderlyingPrice = chain.UnderlyingPrice
		}
	}
	return chain, nil
}

func (s *Scanner) ivRank(ctx context.Context, src broker.IVRankSource, symbol string) *float64 {
	rank, err := src.GetIVRank(ctx, symbol)
	if err != nil {
		s.logger.Debug().Err(err).Str("symbol", symbol).Msg("iv rank unavailable")
		return nil
	}
	return rank
}

// filterContracts keeps puts for CSP scans and out-of-the-money calls for CC
// scans. Calls are kept when the underlying price is unknown.
func filterContracts(chain *models.OptionChain, t models.OptionType) []models.OptionContract {
	out := make([]models.OptionContract, 0, len(chain.Contracts))
	for _, c := range chain.Contracts {
		if c.OptionType != t {
			continue
		}
		if t == models.OptionTypeCall && chain.UnderlyingPrice > 0 && c.Strike <= chain.UnderlyingPrice {
			continue
		}
		if c.Underlying == "" {
			if id, err := occ.Parse(c.Symbol); err == nil {
				c.Underlying = id.Underlying
			} else {
				c.Underlying = chain.Symbol
			}
		}
		out = append(out, c)
	}
	return out
}

func optionTypeFor(s models.Strategy) (models.OptionType, error) {
	switch s {
	case models.StrategyCSP:
		return models.OptionTypePut, nil
	case models.StrategyCC:
		return models.OptionTypeCall, nil
	}
	return "", apperrors.NewValidationError("strategy", s, "scan strategy must be CSP or CC")
}

func uniqueSymbols(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
