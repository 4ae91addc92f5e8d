// Package importer reads brokerage activity exports and writes premium reports as CSV.
package importer

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "wheel-trader/internal/errors"
	"wheel-trader/internal/models"
	"wheel-trader/internal/trading"
)

// activityRow is one line of a tastytrade account activity export.
type activityRow struct {
	Date             string `csv:"Date"`
	Type             string `csv:"Type"`
	SubType          string `csv:"Sub Type"`
	Action           string `csv:"Action"`
	Symbol           string `csv:"Symbol"`
	InstrumentType   string `csv:"Instrument Type"`
	Description      string `csv:"Description"`
	Value            string `csv:"Value"`
	Quantity         string `csv:"Quantity"`
	UnderlyingSymbol string `csv:"Underlying Symbol"`
	RootSymbol       string `csv:"Root Symbol"`
	OrderNumber      string `csv:"Order #"`
}

// ImportStats counts what an import kept and dropped.
type ImportStats struct {
	Rows      int `json:"rows"`
	Imported  int `json:"imported"`
	Malformed int `json:"malformed"`
}

// activityLayouts are the timestamp forms seen in exports.
var activityLayouts = []string{
	"2006-01-02T15:04:05-0700",
	time.RFC3339,
	"01/02/2006 15:04",
	"01/02/2006",
}

// ReadActivity parses an activity export into transactions. Rows that cannot
// be parsed are skipped and logged; the import fails only when the file
// itself is not a readable CSV.
func ReadActivity(r io.Reader, logger zerolog.Logger) ([]models.Transaction, ImportStats, error) {
	var rows []*activityRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, ImportStats{}, fmt.Errorf("reading activity csv: %w", err)
	}

	stats := ImportStats{Rows: len(rows)}
	txns := make([]models.Transaction, 0, len(rows))
	for i, row := range rows {
		t, err := row.transaction()
		if err != nil {
			stats.Malformed++
			logger.Warn().Err(err).Int("line", i+2).Msg("skipping activity row")
			continue
		}
		t.ID = fmt.Sprintf("csv-%d", i+1)
		txns = append(txns, t)
	}
	stats.Imported = len(txns)

	logger.Info().
		Int("rows", stats.Rows).
		Int("imported", stats.Imported).
		Int("malformed", stats.Malformed).
		Msg("activity import complete")

	return txns, stats, nil
}

func (a *activityRow) transaction() (models.Transaction, error) {
	executed, err := parseActivityTime(a.Date)
	if err != nil {
		return models.Transaction{}, apperrors.NewMalformedRecordError("activity", a.Symbol, "unparsable date "+a.Date)
	}

	value, err := parseAmount(a.Value)
	if err != nil {
		return models.Transaction{}, apperrors.NewMalformedRecordError("activity", a.Symbol, "unparsable value "+a.Value)
	}

	qty := 0
	if q := strings.TrimSpace(a.Quantity); q != "" {
		d, err := parseAmount(q)
		if err != nil {
			return models.Transaction{}, apperrors.NewMalformedRecordError("activity", a.Symbol, "unparsable quantity "+a.Quantity)
		}
		qty = int(d.Abs().IntPart())
	}

	effect := models.EffectNone
	switch value.Sign() {
	case 1:
		effect = models.EffectCredit
	case -1:
		effect = models.EffectDebit
	}

	underlying := strings.TrimSpace(a.UnderlyingSymbol)
	if underlying == "" {
		underlying = strings.TrimSpace(a.RootSymbol)
	}

	return models.Transaction{
		ExecutedAt:       executed,
		TransactionType:  strings.TrimSpace(a.Type),
		InstrumentType:   models.InstrumentType(strings.TrimSpace(a.InstrumentType)),
		Action:           normalizeAction(a.Action),
		Symbol:           strings.TrimSpace(a.Symbol),
		UnderlyingSymbol: strings.ToUpper(underlying),
		Description:      strings.TrimSpace(a.Description),
		Quantity:         qty,
		Value:            value.Abs(),
		ValueEffect:      effect,
	}, nil
}

func parseActivityTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range activityLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// parseAmount accepts "1,234.50", "$12.00", "(40.00)" and "--" as zero.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "--" {
		return decimal.Zero, nil
	}
	negative := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
	s = strings.Trim(s, "()")
	s = strings.NewReplacer(",", "", "$", "").Replace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// normalizeAction maps export actions such as SELL_TO_OPEN onto API actions.
func normalizeAction(s string) models.OrderAction {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", "_")) {
	case "SELL_TO_OPEN":
		return models.ActionSellToOpen
	case "BUY_TO_CLOSE":
		return models.ActionBuyToClose
	case "BUY_TO_OPEN":
		return models.ActionBuyToOpen
	case "SELL_TO_CLOSE":
		return models.ActionSellToClose
	}
	return models.OrderAction(strings.TrimSpace(s))
}

// monthRow is one line of the premium trend export.
type monthRow struct {
	Month     string  `csv:"month"`
	Net       string  `csv:"net"`
	CSPNet    string  `csv:"csp_net"`
	CCNet     string  `csv:"cc_net"`
	CSPShare  float64 `csv:"csp_share_pct"`
	CCShare   float64 `csv:"cc_share_pct"`
	ChangePct float64 `csv:"change_pct"`
	Orders    int     `csv:"orders"`
	Rolls     int     `csv:"rolls"`
}

// WriteMonthly writes the premium trend as CSV, oldest month first.
func WriteMonthly(w io.Writer, months []trading.MonthlyPremium) error {
	rows := make([]*monthRow, 0, len(months))
	for _, m := range months {
		rows = append(rows, &monthRow{
			Month:     fmt.Sprintf("%04d-%02d", m.Month.Year, int(m.Month.Month)),
			Net:       m.Net.StringFixed(2),
			CSPNet:    m.CSPNet.StringFixed(2),
			CCNet:     m.CCNet.StringFixed(2),
			CSPShare:  round2(m.CSPShare),
			CCShare:   round2(m.CCShare),
			ChangePct: round2(m.ChangePct),
			Orders:    m.Orders,
			Rolls:     m.Rolls,
		})
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("writing premium csv: %w", err)
	}
	return nil
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
