package security

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"wheel-trader/internal/broker"
	"wheel-trader/internal/logging"
	"wheel-trader/internal/models"
	"wheel-trader/internal/store"
)

// OrderJournal records submitted orders.
type OrderJournal interface {
	LogOrder(ctx context.Context, entry *store.OrderEntry) error
	UpdateOrderStatus(ctx context.Context, orderID, status string) error
}

// GuardedBroker wraps a Broker so that order writes pass the access
// controller and are audited and journaled. Reads pass through.
type GuardedBroker struct {
	broker.Broker

	access  *AccessController
	audit   *AuditLogger
	journal OrderJournal
	paper   bool
	logger  zerolog.Logger
	now     func() time.Time
}

// GuardConfig holds the collaborators of a GuardedBroker. Audit and
// Journal may be nil.
type GuardConfig struct {
	Access  *AccessController
	Audit   *AuditLogger
	Journal OrderJournal
	Paper   bool
}

// NewGuardedBroker wraps b.
func NewGuardedBroker(b broker.Broker, cfg GuardConfig, logger zerolog.Logger) *GuardedBroker {
	access := cfg.Access
	if access == nil {
		access = NewAccessController(false, cfg.Audit)
	}
	return &GuardedBroker{
		Broker:  b,
		access:  access,
		audit:   cfg.Audit,
		journal: cfg.Journal,
		paper:   cfg.Paper,
		logger:  logger.With().Str("component", "order_guard").Logger(),
		now:     time.Now,
	}
}

// PlaceOrder submits an order unless read-only mode blocks it.
func (g *GuardedBroker) PlaceOrder(ctx context.Context, req models.OrderRequest) (*broker.OrderResult, error) {
	if err := g.access.CheckPermission(ctx, OpPlaceOrder); err != nil {
		g.logger.Warn().Str("symbol", req.Symbol).Msg("order blocked by read-only mode")
		return nil, err
	}

	limit := req.LimitPrice.StringFixed(2)
	res, err := g.Broker.PlaceOrder(ctx, req)
	if err != nil {
		if g.audit != nil {
			_ = g.audit.LogOrderPlaced(ctx, req.AccountNumber, "", req.Symbol, string(req.Action), req.Quantity, limit, g.paper, false, err.Error())
		}
		return nil, err
	}

	logging.LogOrder(g.logger, res.OrderID, req.Symbol, string(req.Action), req.Quantity, limit, res.Status)
	if g.audit != nil {
		_ = g.audit.LogOrderPlaced(ctx, req.AccountNumber, res.OrderID, req.Symbol, string(req.Action), req.Quantity, limit, g.paper, true, "")
	}
	if g.journal != nil {
		entry := &store.OrderEntry{
			OrderID:    res.OrderID,
			Account:    req.AccountNumber,
			Symbol:     req.Symbol,
			Action:     string(req.Action),
			Quantity:   req.Quantity,
			LimitPrice: req.LimitPrice,
			Status:     res.Status,
			IsPaper:    g.paper,
			PlacedAt:   g.now(),
		}
		if err := g.journal.LogOrder(ctx, entry); err != nil {
			g.logger.Warn().Err(err).Str("order_id", res.OrderID).Msg("failed to journal order")
		}
	}
	return res, nil
}

// CancelOrder cancels a working order unless read-only mode blocks it.
func (g *GuardedBroker) CancelOrder(ctx context.Context, account, orderID string) error {
	if err := g.access.CheckPermission(ctx, OpCancelOrder); err != nil {
		return err
	}

	err := g.Broker.CancelOrder(ctx, account, orderID)
	if g.audit != nil {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		_ = g.audit.LogOrderCancelled(ctx, account, orderID, err == nil, msg)
	}
	if err != nil {
		return err
	}

	if g.journal != nil {
		if jerr := g.journal.UpdateOrderStatus(ctx, orderID, "Cancelled"); jerr != nil {
			g.logger.Debug().Err(jerr).Str("order_id", orderID).Msg("cancelled order not in journal")
		}
	}
	return nil
}
