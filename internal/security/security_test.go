package security

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheel-trader/internal/broker"
	apperrors "wheel-trader/internal/errors"
	"wheel-trader/internal/logging"
	"wheel-trader/internal/models"
	"wheel-trader/internal/store"
)

type bufferCloser struct{ bytes.Buffer }

func (b *bufferCloser) Close() error { return nil }

func auditEvents(t *testing.T, buf *bufferCloser) []AuditEvent {
	t.Helper()
	var events []AuditEvent
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e AuditEvent
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		events = append(events, e)
	}
	return events
}

func sellPut() models.OrderRequest {
	return models.OrderRequest{
		AccountNumber: broker.PaperAccount,
		Symbol:        "SOFI  260116P00024000",
		Action:        models.ActionSellToOpen,
		Quantity:      1,
		Type:          models.OrderTypeLimit,
		LimitPrice:    decimal.RequireFromString("0.25"),
	}
}

func TestAccessControllerReadOnly(t *testing.T) {
	buf := &bufferCloser{}
	ac := NewAccessController(true, NewAuditLoggerWithWriter(buf))

	assert.NoError(t, ac.CheckPermission(context.Background(), OpRead))

	err := ac.CheckPermission(context.Background(), OpPlaceOrder)
	var roErr *ReadOnlyError
	require.ErrorAs(t, err, &roErr)
	assert.Equal(t, OpPlaceOrder, roErr.Operation)
	assert.ErrorIs(t, err, apperrors.ErrReadOnlyMode)

	events := auditEvents(t, buf)
	require.Len(t, events, 1)
	assert.Equal(t, AuditReadOnlyViolation, events[0].EventType)
	assert.False(t, events[0].Success)

	ac.SetReadOnly(false)
	assert.False(t, ac.IsReadOnly())
	assert.NoError(t, ac.CheckPermission(context.Background(), OpCancelOrder))
}

func TestGuardedBrokerBlocksWritesInReadOnlyMode(t *testing.T) {
	paper := broker.NewPaperBroker(broker.PaperBrokerConfig{InitialBalance: decimal.NewFromInt(10000)})
	g := NewGuardedBroker(paper, GuardConfig{Access: NewAccessController(true, nil), Paper: true}, zerolog.Nop())

	_, err := g.PlaceOrder(context.Background(), sellPut())
	assert.ErrorIs(t, err, apperrors.ErrReadOnlyMode)

	err = g.CancelOrder(context.Background(), broker.PaperAccount, "PAPER-x")
	assert.ErrorIs(t, err, apperrors.ErrReadOnlyMode)

	orders, err := g.GetLiveOrders(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestGuardedBrokerAuditsAndJournals(t *testing.T) {
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "wheel.db"))
	require.NoError(t, err)
	defer db.Close()

	buf := &bufferCloser{}
	paper := broker.NewPaperBroker(broker.PaperBrokerConfig{InitialBalance: decimal.NewFromInt(10000)})
	g := NewGuardedBroker(paper, GuardConfig{
		Access:  NewAccessController(false, nil),
		Audit:   NewAuditLoggerWithWriter(buf),
		Journal: db,
		Paper:   true,
	}, zerolog.Nop())

	ctx := logging.WithRunID(context.Background(), "run-1")
	res, err := g.PlaceOrder(ctx, sellPut())
	require.NoError(t, err)

	isPaper := true
	journal, err := db.GetOrders(ctx, store.OrderFilter{IsPaper: &isPaper})
	require.NoError(t, err)
	require.Len(t, journal, 1)
	assert.Equal(t, res.OrderID, journal[0].OrderID)
	assert.True(t, journal[0].LimitPrice.Equal(decimal.RequireFromString("0.25")))

	require.NoError(t, g.CancelOrder(ctx, broker.PaperAccount, res.OrderID))
	journal, err = db.GetOrders(ctx, store.OrderFilter{})
	require.NoError(t, err)
	assert.Equal(t, "Cancelled", journal[0].Status)

	// Over-sized put is rejected by the paper broker and audited as such.
	big := sellPut()
	big.Symbol = "AMD   260116P00150000"
	_, err = g.PlaceOrder(ctx, big)
	require.Error(t, err)

	events := auditEvents(t, buf)
	require.Len(t, events, 3)
	assert.Equal(t, AuditOrderPlaced, events[0].EventType)
	assert.Equal(t, "run-1", events[0].RunID)
	assert.Equal(t, true, events[0].Details["paper"])
	assert.Equal(t, AuditOrderCancelled, events[1].EventType)
	assert.True(t, events[1].Success)
	assert.Equal(t, AuditOrderRejected, events[2].EventType)
	assert.NotEmpty(t, events[2].ErrorMsg)
	assert.Equal(t, events[0].SessionID, events[2].SessionID)
}

func TestValidation(t *testing.T) {
	assert.NoError(t, ValidateSymbol("sofi"))
	assert.NoError(t, ValidateSymbol("BRK.B"))
	assert.Error(t, ValidateSymbol(""))
	assert.Error(t, ValidateSymbol("SOFI; DROP TABLE"))

	assert.NoError(t, ValidateOrderID("PAPER-4f1c"))
	assert.Error(t, ValidateOrderID("1 OR 1=1"))

	assert.NoError(t, ValidateWatchlistName("wheel core"))
	assert.Error(t, ValidateWatchlistName("x;rm"))

	assert.NoError(t, ValidateQuantity(5))
	assert.Error(t, ValidateQuantity(0))
	assert.Error(t, ValidateQuantity(MaxContractsPerOrder+1))

	assert.NoError(t, ValidateLimitPrice(decimal.RequireFromString("0.25")))
	assert.Error(t, ValidateLimitPrice(decimal.Zero))
	assert.Error(t, ValidateLimitPrice(decimal.RequireFromString("0.255")))
}

func TestMasking(t *testing.T) {
	assert.Equal(t, "", MaskCredential(""))
	assert.Equal(t, "***", MaskCredential("abc"))
	assert.Equal(t, "ab****", MaskCredential("abcdef"))
	assert.Equal(t, "sk-a***wxyz", MaskCredential("sk-abcdwxyz"))

	masked := MaskSensitive("login failed: password=hunter2secret")
	assert.NotContains(t, masked, "hunter2secret")
}
