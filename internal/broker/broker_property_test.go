package broker

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"wheel-trader/internal/models"
	"wheel-trader/internal/occ"
)

// Property: For any well-formed single-leg option order, validation accepts it
// and a non-positive quantity or limit price is always rejected.
func TestProperty_OrderValidation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	actions := []models.OrderAction{
		models.ActionSellToOpen,
		models.ActionBuyToClose,
		models.ActionBuyToOpen,
		models.ActionSellToClose,
	}
	expiry := time.Date(2026, 11, 20, 0, 0, 0, 0, occ.Exchange)

	build := func(root string, strikeCents int, put bool, actionIdx, qty int, priceCents int) models.OrderRequest {
		typ := models.OptionTypeCall
		if put {
			typ = models.OptionTypePut
		}
		return models.OrderRequest{
			AccountNumber: "5WT00001",
			Symbol: occ.Format(occ.Identity{
				Underlying: root,
				Expiration: expiry,
				Type:       typ,
				Strike:     float64(strikeCents) / 100,
			}),
			Action:     actions[actionIdx],
			Quantity:   qty,
			Type:       models.OrderTypeLimit,
			LimitPrice: decimal.New(int64(priceCents), -2),
		}
	}

	properties.Property("valid orders pass validation", prop.ForAll(
		func(root string, strikeCents int, put bool, actionIdx, qty, priceCents int) bool {
			return ValidateOrder(build(root, strikeCents, put, actionIdx, qty, priceCents)) == nil
		},
		gen.OneConstOf("SOFI", "AAPL", "F", "PLTR"),
		gen.IntRange(100, 100000),
		gen.Bool(),
		gen.IntRange(0, len(actions)-1),
		gen.IntRange(1, 50),
		gen.IntRange(1, 5000),
	))

	properties.Property("non-positive quantity is rejected", prop.ForAll(
		func(qty int) bool {
			return ValidateOrder(build("SOFI", 3000, true, 0, qty, 50)) != nil
		},
		gen.IntRange(-100, 0),
	))

	properties.Property("non-positive limit price is rejected", prop.ForAll(
		func(priceCents int) bool {
			return ValidateOrder(build("SOFI", 3000, true, 0, 1, priceCents)) != nil
		},
		gen.IntRange(-500, 0),
	))

	properties.TestingRun(t)
}

func TestValidateOrderRejectsNonOptionSymbol(t *testing.T) {
	err := ValidateOrder(models.OrderRequest{
		AccountNumber: "5WT00001",
		Symbol:        "AAPL",
		Action:        models.ActionSellToOpen,
		Quantity:      1,
		Type:          models.OrderTypeMarket,
	})
	if err == nil {
		t.Fatal("expected equity symbol to be rejected")
	}
}
