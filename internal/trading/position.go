package trading

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wheel-trader/internal/broker"
	"wheel-trader/internal/models"
	"wheel-trader/internal/occ"
)

// SkipStats counts positions dropped or flagged during normalization.
type SkipStats struct {
	Closed             int `json:"closed"`
	Malformed          int `json:"malformed"`
	Mismatched         int `json:"mismatched"`
	DirectionConflicts int `json:"direction_conflicts"`
}

// Total returns the number of skipped positions.
func (s SkipStats) Total() int {
	return s.Closed + s.Malformed + s.Mismatched
}

// NormalizePositions resolves the short flag and option identity of raw
// positions.
//
// A negative quantity and a Short direction both mark a short. Some payloads
// carry unsigned quantities, so a positive quantity is not evidence either
// way. A negative quantity with a Long direction is a conflict: it is logged
// and the direction field wins. Option positions must parse as OCC symbols
// and agree with any structured strike, expiration and type.
func NormalizePositions(raw []models.Position, logger zerolog.Logger) ([]models.NormalizedPosition, SkipStats) {
	var stats SkipStats
	out := make([]models.NormalizedPosition, 0, len(raw))

	for _, p := range raw {
		contracts := p.Quantity
		if contracts < 0 {
			contracts = -contracts
		}
		if contracts == 0 || p.Direction == models.DirectionZero {
			stats.Closed++
			continue
		}

		isShort := p.Quantity < 0
		switch p.Direction {
		case models.DirectionShort:
			isShort = true
		case models.DirectionLong:
			if p.Quantity < 0 {
				stats.DirectionConflicts++
				logger.Warn().
					Str("symbol", p.Symbol).
					Int("quantity", p.Quantity).
					Str("direction", string(p.Direction)).
					Msg("quantity sign and direction disagree; using direction")
			}
			isShort = false
		}

		np := models.NormalizedPosition{
			Position:   p,
			IsShort:    isShort,
			Contracts:  contracts,
			Underlying: p.UnderlyingSymbol,
		}

		if p.InstrumentType == models.InstrumentEquityOption {
			ok, mismatch := resolveOption(&np)
			if !ok {
				if mismatch {
					stats.Mismatched++
					logger.Warn().Str("symbol", p.Symbol).
						Float64("strike", p.StrikePrice).
						Str("expiration", occ.DateKey(p.Expiration)).
						Msg("option symbol disagrees with structured fields; skipping")
				} else {
					stats.Malformed++
					logger.Warn().Str("symbol", p.Symbol).Msg("unparsable option position; skipping")
				}
				continue
			}
		}
		if np.Underlying == "" {
			np.Underlying = p.Symbol
		}

		out = append(out, np)
	}

	return out, stats
}

// resolveOption fills the option identity of np from its OCC symbol. A
// symbol that does not parse fails even when the structured fields are
// complete, since there is nothing to check them against.
func resolveOption(np *models.NormalizedPosition) (ok, mismatch bool) {
	id, err := occ.Parse(np.Symbol)
	if err != nil {
		return false, false
	}
	if !id.Agrees(np.StrikePrice, np.Expiration, np.OptionType) {
		return false, true
	}

	np.StrikePrice = id.Strike
	np.Expiration = id.Expiration
	np.OptionType = id.Type
	if np.Underlying == "" {
		np.Underlying = id.Underlying
	}
	return true, false
}

// CoveredCallCapacity returns, per underlying, how many new covered calls
// the long shares support after existing short calls:
// (shares - 100*shortCallContracts) / 100, floored at zero.
func CoveredCallCapacity(positions []models.NormalizedPosition) map[string]int {
	shares := make(map[string]int)
	shortCalls := make(map[string]int)

	for _, p := range positions {
		switch {
		case p.InstrumentType == models.InstrumentEquity && !p.IsShort:
			shares[p.Underlying] += p.Contracts
		case p.IsShortCall():
			shortCalls[p.Underlying] += p.Contracts
		}
	}

	out := make(map[string]int, len(shares))
	for sym, qty := range shares {
		free := qty - shortCalls[sym]*models.ContractMultiplier
		if free < 0 {
			free = 0
		}
		out[sym] = free / models.ContractMultiplier
	}
	return out
}

// CashSecuredCapacity returns how many puts at strike the buying power secures.
func CashSecuredCapacity(buyingPower decimal.Decimal, strike float64) int {
	if strike <= 0 || !buyingPower.IsPositive() {
		return 0
	}
	per := decimal.NewFromFloat(strike).Mul(decimal.NewFromInt(models.ContractMultiplier))
	return int(buyingPower.Div(per).Floor().IntPart())
}

// Book is an account's normalized positions and balances.
type Book struct {
	Account   string
	Balance   *models.Balance
	Positions []models.NormalizedPosition
	Skipped   SkipStats
}

// Stocks returns long equity positions sorted by symbol.
func (b *Book) Stocks() []models.NormalizedPosition {
	var out []models.NormalizedPosition
	for _, p := range b.Positions {
		if p.InstrumentType == models.InstrumentEquity && !p.IsShort {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ShortOptions returns short option positions sorted by expiration then symbol.
func (b *Book) ShortOptions() []models.NormalizedPosition {
	var out []models.NormalizedPosition
	for _, p := range b.Positions {
		if p.IsOption() && p.IsShort {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Expiration.Equal(out[j].Expiration) {
			return out[i].Expiration.Before(out[j].Expiration)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// PositionManager loads positions and balances from the broker.
type PositionManager struct {
	broker broker.Broker
	logger zerolog.Logger
}

// NewPositionManager creates a new position manager.
func NewPositionManager(b broker.Broker, logger zerolog.Logger) *PositionManager {
	return &PositionManager{broker: b, logger: logger}
}

// Load fetches and normalizes one account.
func (pm *PositionManager) Load(ctx context.Context, account string) (*Book, error) {
	balance, err := pm.broker.GetBalances(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("fetching balances: %w", err)
	}
	raw, err := pm.broker.GetPositions(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("fetching positions from broker: %w", err)
	}

	positions, stats := NormalizePositions(raw, pm.logger.With().Str("account", account).Logger())
	if stats.Total() > 0 {
		pm.logger.Info().
			Int("closed", stats.Closed).
			Int("malformed", stats.Malformed).
			Int("mismatched", stats.Mismatched).
			Msg("positions skipped during normalization")
	}

	return &Book{
		Account:   account,
		Balance:   balance,
		Positions: positions,
		Skipped:   stats,
	}, nil
}
