package broker

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "wheel-trader/internal/errors"
	"wheel-trader/internal/models"
)

func sellPut(qty int, limit string) models.OrderRequest {
	return models.OrderRequest{
		AccountNumber: PaperAccount,
		Symbol:        "SOFI260206P00030000",
		Action:        models.ActionSellToOpen,
		Quantity:      qty,
		Type:          models.OrderTypeLimit,
		LimitPrice:    decimal.RequireFromString(limit),
	}
}

func TestPaperBrokerFillReservesCollateral(t *testing.T) {
	pb := NewPaperBroker(PaperBrokerConfig{InitialBalance: decimal.NewFromInt(10000), FillImmediately: true})
	ctx := context.Background()

	res, err := pb.PlaceOrder(ctx, sellPut(2, "0.85"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.OrderID, "PAPER-"))
	assert.Equal(t, "Filled", res.Status)

	bal, err := pb.GetBalances(ctx, PaperAccount)
	require.NoError(t, err)
	// 10000 + 170 premium - 6000 collateral
	assert.True(t, bal.DerivativeBuyingPower.Equal(decimal.NewFromInt(4170)), "got %s", bal.DerivativeBuyingPower)

	positions, err := pb.GetPositions(ctx, PaperAccount)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, -2, positions[0].Quantity)
	assert.Equal(t, models.DirectionShort, positions[0].Direction)
	assert.Equal(t, "SOFI  260206P00030000", positions[0].Symbol)
}

func TestPaperBrokerRejectsInsufficientBuyingPower(t *testing.T) {
	pb := NewPaperBroker(PaperBrokerConfig{InitialBalance: decimal.NewFromInt(5000), FillImmediately: true})

	_, err := pb.PlaceOrder(context.Background(), sellPut(2, "0.85"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrOrderRejected)
}

func TestPaperBrokerCancel(t *testing.T) {
	pb := NewPaperBroker(PaperBrokerConfig{InitialBalance: decimal.NewFromInt(50000)})
	ctx := context.Background()

	res, err := pb.PlaceOrder(ctx, sellPut(1, "0.50"))
	require.NoError(t, err)
	assert.Equal(t, "Received", res.Status)

	require.NoError(t, pb.CancelOrder(ctx, PaperAccount, res.OrderID))

	orders, err := pb.GetLiveOrders(ctx, PaperAccount)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "Cancelled", orders[0].Status)

	err = pb.CancelOrder(ctx, PaperAccount, "PAPER-missing")
	assert.ErrorIs(t, err, apperrors.ErrOrderNotFound)
}

func TestPaperBrokerValidatesOrders(t *testing.T) {
	pb := NewPaperBroker(PaperBrokerConfig{})
	_, err := pb.PlaceOrder(context.Background(), sellPut(0, "0.50"))
	var ve *apperrors.ValidationError
	assert.ErrorAs(t, err, &ve)
}
