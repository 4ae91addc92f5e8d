package importer

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheel-trader/internal/models"
	"wheel-trader/internal/occ"
	"wheel-trader/internal/trading"
)

const activityCSV = `Date,Type,Sub Type,Action,Symbol,Instrument Type,Description,Value,Quantity,Average Price,Commissions,Fees,Multiplier,Root Symbol,Underlying Symbol,Expiration Date,Strike Price,Call or Put,Order #,Currency
2026-01-14T10:31:22-0500,Trade,Buy to Close,BUY_TO_CLOSE,AAPL  260116P00150000,Equity Option,Bought 1 AAPL 01/16/26 Put 150.00 @ 5.00,-500.00,1,-500.00,0.00,-0.14,100,AAPL,AAPL,1/16/26,150,PUT,411,USD
2026-01-14T10:31:22-0500,Trade,Sell to Open,SELL_TO_OPEN,AAPL  260123P00145000,Equity Option,Sold 1 AAPL 01/23/26 Put 145.00 @ 6.50,650.00,1,650.00,-1.00,-0.14,100,AAPL,AAPL,1/23/26,145,PUT,411,USD
2026-01-20T14:02:10-0500,Trade,Sell to Open,SELL_TO_OPEN,SOFI  260206C00030000,Equity Option,Sold 2 SOFI 02/06/26 Call 30.00 @ 0.40,80.00,2,40.00,-2.00,-0.28,100,SOFI,SOFI,2/06/26,30,CALL,412,USD
2026-01-23T16:00:00-0500,Receive Deliver,Expiration,,AAPL  260123P00145000,Equity Option,Removal of option due to expiration,0.00,1,0.00,--,0.00,100,AAPL,AAPL,1/23/26,145,PUT,,USD
not-a-date,Trade,Sell to Open,SELL_TO_OPEN,AMD   260130P00150000,Equity Option,Sold 1 AMD 01/30/26 Put 150.00 @ 1.10,110.00,1,110.00,-1.00,-0.14,100,AMD,AMD,1/30/26,150,PUT,413,USD
2026-01-26T09:45:00-0500,Money Movement,Deposit,,,,ACH DEPOSIT,"5,000.00",0,,,,,,,,,,,USD
`

func TestReadActivity(t *testing.T) {
	txns, stats, err := ReadActivity(strings.NewReader(activityCSV), zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, ImportStats{Rows: 6, Imported: 5, Malformed: 1}, stats)
	require.Len(t, txns, 5)

	btc := txns[0]
	assert.Equal(t, models.ActionBuyToClose, btc.Action)
	assert.Equal(t, models.EffectDebit, btc.ValueEffect)
	assert.True(t, btc.Value.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, models.InstrumentEquityOption, btc.InstrumentType)
	assert.Equal(t, "AAPL", btc.UnderlyingSymbol)
	assert.True(t, btc.ExecutedAt.Equal(time.Date(2026, 1, 14, 10, 31, 22, 0, occ.Exchange)))

	assert.Equal(t, 2, txns[2].Quantity)
	assert.Equal(t, models.EffectNone, txns[3].ValueEffect)

	deposit := txns[4]
	assert.True(t, deposit.Value.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, models.EffectCredit, deposit.ValueEffect)
}

func TestImportedActivityAggregates(t *testing.T) {
	txns, _, err := ReadActivity(strings.NewReader(activityCSV), zerolog.Nop())
	require.NoError(t, err)

	summary := trading.Aggregate(txns)

	require.Len(t, summary.Orders, 2)
	assert.True(t, summary.Orders[0].IsRoll)
	assert.True(t, summary.CSP.Net.Equal(decimal.NewFromInt(150)))
	assert.True(t, summary.CC.Net.Equal(decimal.NewFromInt(80)))
	assert.True(t, summary.Total.Net.Equal(decimal.NewFromInt(230)))
	assert.Equal(t, 1, summary.ZeroValueOrders)
	// The deposit is not an option transaction.
	assert.Equal(t, 1, summary.SkippedTransactions)
}

func TestReadActivityRejectsGarbage(t *testing.T) {
	_, _, err := ReadActivity(strings.NewReader(""), zerolog.Nop())
	assert.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"150.00", "150"},
		{"-1,005.25", "-1005.25"},
		{"$12.00", "12"},
		{"(40.00)", "-40"},
		{"--", "0"},
		{"", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseAmount(tt.in)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}

	_, err := parseAmount("twelve")
	assert.Error(t, err)
}

func TestNormalizeAction(t *testing.T) {
	assert.Equal(t, models.ActionSellToOpen, normalizeAction("SELL_TO_OPEN"))
	assert.Equal(t, models.ActionBuyToClose, normalizeAction("Buy to Close"))
	assert.Equal(t, models.OrderAction(""), normalizeAction(""))
}

func TestWriteMonthly(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, occ.Exchange)
	orders := []trading.TransactionOrder{
		{ExecutedAt: time.Date(2026, 1, 14, 10, 0, 0, 0, occ.Exchange), NetValue: decimal.NewFromInt(200), Strategy: models.StrategyCSP},
		{ExecutedAt: time.Date(2026, 2, 3, 10, 0, 0, 0, occ.Exchange), NetValue: decimal.NewFromInt(150), Strategy: models.StrategyCSP},
		{ExecutedAt: time.Date(2026, 2, 4, 10, 0, 0, 0, occ.Exchange), NetValue: decimal.NewFromInt(50), Strategy: models.StrategyCC, IsRoll: true},
	}
	months := trading.MonthlyRollup(orders, now, 2)

	var buf bytes.Buffer
	require.NoError(t, WriteMonthly(&buf, months))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "month,net,csp_net,cc_net,csp_share_pct,cc_share_pct,change_pct,orders,rolls", lines[0])
	assert.Equal(t, "2026-01,200.00,200.00,0.00,100,0,0,1,0", lines[1])
	assert.Equal(t, "2026-02,200.00,150.00,50.00,75,25,0,2,1", lines[2])
}
