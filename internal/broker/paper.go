package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "wheel-trader/internal/errors"
	"wheel-trader/internal/models"
	"wheel-trader/internal/occ"
)

// PaperAccount is the account number reported when no live broker backs
// the paper broker.
const PaperAccount = "PAPER"

// PaperBroker implements Broker for dry-run order submission. Account
// reads pass through to the live broker when one is configured; orders
// never leave the process.
type PaperBroker struct {
	// Live broker for account data; may be nil.
	live Broker

	orders     map[string]*models.Order
	positions  []models.Position
	cash       decimal.Decimal
	reserved   decimal.Decimal
	fillOnPost bool

	mu  sync.RWMutex
	now func() time.Time
}

// PaperBrokerConfig holds configuration for the paper broker.
type PaperBrokerConfig struct {
	Live           Broker
	InitialBalance decimal.Decimal
	// FillImmediately fills limit orders at their limit price on submission.
	FillImmediately bool
}

// NewPaperBroker creates a new paper trading broker.
func NewPaperBroker(cfg PaperBrokerConfig) *PaperBroker {
	cash := cfg.InitialBalance
	if cash.IsZero() {
		cash = decimal.NewFromInt(100_000)
	}
	return &PaperBroker{
		live:       cfg.Live,
		orders:     make(map[string]*models.Order),
		cash:       cash,
		fillOnPost: cfg.FillImmediately,
		now:        time.Now,
	}
}

// Name returns the provider name.
func (p *PaperBroker) Name() string { return "paper" }

// Login logs in to the live broker if there is one.
func (p *PaperBroker) Login(ctx context.Context) error {
	if p.live != nil {
		return p.live.Login(ctx)
	}
	return nil
}

// IsAuthenticated always returns true without a live broker.
func (p *PaperBroker) IsAuthenticated() bool {
	if p.live != nil {
		return p.live.IsAuthenticated()
	}
	return true
}

// GetAccounts returns the live accounts or the single paper account.
func (p *PaperBroker) GetAccounts(ctx context.Context) ([]models.Account, error) {
	if p.live != nil {
		return p.live.GetAccounts(ctx)
	}
	return []models.Account{{Number: PaperAccount, Nickname: "Paper"}}, nil
}

// GetBalances returns live balances, or the simulated cash, less the
// collateral reserved by simulated fills.
func (p *PaperBroker) GetBalances(ctx context.Context, account string) (*models.Balance, error) {
	var bal models.Balance
	if p.live != nil {
		live, err := p.live.GetBalances(ctx, account)
		if err != nil {
			return nil, err
		}
		bal = *live
	} else {
		p.mu.RLock()
		bal = models.Balance{
			AccountNumber:         account,
			CashBalance:           p.cash,
			DerivativeBuyingPower: p.cash,
			EquityBuyingPower:     p.cash,
			NetLiquidatingValue:   p.cash,
		}
		p.mu.RUnlock()
	}

	p.mu.RLock()
	bal.DerivativeBuyingPower = bal.DerivativeBuyingPower.Sub(p.reserved)
	p.mu.RUnlock()
	return &bal, nil
}

// GetPositions returns live positions followed by simulated ones.
func (p *PaperBroker) GetPositions(ctx context.Context, account string) ([]models.Position, error) {
	var out []models.Position
	if p.live != nil {
		live, err := p.live.GetPositions(ctx, account)
		if err != nil {
			return nil, err
		}
		out = append(out, live...)
	}

	p.mu.RLock()
	out = append(out, p.positions...)
	p.mu.RUnlock()
	return out, nil
}

// GetTransactions returns live transaction history; simulated fills are not
// written to history.
func (p *PaperBroker) GetTransactions(ctx context.Context, account string, from, to time.Time) ([]models.Transaction, error) {
	if p.live != nil {
		return p.live.GetTransactions(ctx, account, from, to)
	}
	return nil, nil
}

// PlaceOrder simulates order placement.
func (p *PaperBroker) PlaceOrder(ctx context.Context, req models.OrderRequest) (*OrderResult, error) {
	if err := ValidateOrder(req); err != nil {
		return nil, err
	}
	id, _ := occ.Parse(req.Symbol)

	p.mu.Lock()
	defer p.mu.Unlock()

	collateral := decimal.Zero
	if req.Action == models.ActionSellToOpen && id.Type == models.OptionTypePut {
		collateral = decimal.NewFromFloat(id.Strike).Mul(decimal.NewFromInt(int64(req.Quantity) * models.ContractMultiplier))
		available := p.cash.Sub(p.reserved)
		if p.live == nil && collateral.GreaterThan(available) {
			return nil, apperrors.NewOrderError("", req.Symbol, string(req.Action),
				fmt.Sprintf("insufficient buying power: need %s, have %s", collateral.StringFixed(2), available.StringFixed(2)),
				apperrors.ErrOrderRejected)
		}
	}

	order := &models.Order{
		ID:            "PAPER-" + uuid.NewString(),
		AccountNumber: req.AccountNumber,
		Symbol:        occ.Format(id),
		Action:        req.Action,
		Quantity:      req.Quantity,
		Type:          req.Type,
		LimitPrice:    req.LimitPrice,
		Status:        "Received",
		PlacedAt:      p.now(),
	}

	if p.fillOnPost {
		order.Status = "Filled"
		p.applyFill(order, id, collateral)
	}
	p.orders[order.ID] = order

	return &OrderResult{
		OrderID: order.ID,
		Status:  order.Status,
		Message: "paper order recorded",
	}, nil
}

// applyFill records the simulated position. Caller holds the lock.
func (p *PaperBroker) applyFill(order *models.Order, id occ.Identity, collateral decimal.Decimal) {
	premium := order.LimitPrice.Mul(decimal.NewFromInt(int64(order.Quantity) * models.ContractMultiplier))
	if IsCredit(order.Action) {
		p.cash = p.cash.Add(premium)
	} else {
		p.cash = p.cash.Sub(premium)
	}
	p.reserved = p.reserved.Add(collateral)

	qty := order.Quantity
	dir := models.DirectionLong
	if order.Action == models.ActionSellToOpen {
		qty = -qty
		dir = models.DirectionShort
	}
	p.positions = append(p.positions, models.Position{
		AccountNumber:    order.AccountNumber,
		InstrumentType:   models.InstrumentEquityOption,
		Symbol:           order.Symbol,
		UnderlyingSymbol: id.Underlying,
		Quantity:         qty,
		Direction:        dir,
		AverageOpenPrice: order.LimitPrice.InexactFloat64(),
		MarkPrice:        order.LimitPrice.InexactFloat64(),
		StrikePrice:      id.Strike,
		Expiration:       id.Expiration,
		OptionType:       id.Type,
	})
}

// CancelOrder cancels a simulated working order.
func (p *PaperBroker) CancelOrder(ctx context.Context, account, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return apperrors.NewOrderError(orderID, "", "cancel", "not found", apperrors.ErrOrderNotFound)
	}
	if order.Status == "Filled" {
		return apperrors.NewOrderError(orderID, order.Symbol, "cancel", "order already filled", apperrors.ErrInvalidOrder)
	}
	order.Status = "Cancelled"
	return nil
}

// GetLiveOrders returns simulated orders, newest first.
func (p *PaperBroker) GetLiveOrders(ctx context.Context, account string) ([]models.Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	orders := make([]models.Order, 0, len(p.orders))
	for _, o := range p.orders {
		if account == "" || o.AccountNumber == account {
			orders = append(orders, *o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].PlacedAt.Equal(orders[j].PlacedAt) {
			return orders[i].PlacedAt.After(orders[j].PlacedAt)
		}
		return orders[i].ID < orders[j].ID
	})
	return orders, nil
}

// Reset clears simulated state.
func (p *PaperBroker) Reset(initialBalance decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.orders = make(map[string]*models.Order)
	p.positions = nil
	p.reserved = decimal.Zero
	p.cash = initialBalance
}

// IsPaperTrading returns true for the paper broker.
func (p *PaperBroker) IsPaperTrading() bool {
	return true
}
