package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"wheel-trader/internal/importer"
	"wheel-trader/internal/models"
	"wheel-trader/internal/store"
	"wheel-trader/internal/trading"
	"wheel-trader/pkg/utils"
)

// PremiumReport is the output of the premium command.
type PremiumReport struct {
	Account string                   `json:"account"`
	Source  string                   `json:"source"`
	Summary trading.PremiumSummary   `json:"summary"`
	Months  []trading.MonthlyPremium `json:"months"`
	Import  *importer.ImportStats    `json:"import,omitempty"`
}

// addPremiumCommands adds the premium accounting commands.
func addPremiumCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "premium",
		Short: "Net option premium by strategy and month",
		Long: `Group option transactions into orders and report net premium for
cash-secured puts and covered calls, with a month-by-month rollup.

Transactions come from the broker unless --csv points to an activity export.`,
		Example: `  wheel premium
  wheel premium --months 12
  wheel premium --csv activity.csv --export monthly.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := commandContext(2 * time.Minute)
			defer cancel()

			months, _ := cmd.Flags().GetInt("months")
			if months <= 0 {
				months = app.Config.Premium.Months
			}
			csvPath, _ := cmd.Flags().GetString("csv")

			report, err := app.premiumReport(ctx, output, csvPath, months)
			if err != nil {
				output.Error("Failed to load transactions: %v", err)
				return err
			}
			app.Metrics.ObservePremium(report.Months)

			if app.Store != nil && report.Account != "" {
				if err := app.Store.SavePremiumSnapshots(ctx, report.Account, snapshotsFrom(report.Months)); err != nil {
					app.Logger.Warn().Err(err).Msg("failed to save premium snapshots")
				}
			}

			if exportPath, _ := cmd.Flags().GetString("export"); exportPath != "" {
				if err := exportMonthly(exportPath, report.Months); err != nil {
					output.Error("Export failed: %v", err)
					return err
				}
				if !output.IsJSON() {
					output.Success("Wrote %d months to %s", len(report.Months), exportPath)
				}
			}

			if output.IsJSON() {
				return output.JSON(report)
			}
			displayPremium(output, report)
			return nil
		},
	}
	cmd.Flags().IntP("months", "m", 0, "months in the rollup (default from config)")
	cmd.Flags().String("csv", "", "read transactions from an activity CSV export")
	cmd.Flags().String("export", "", "write the monthly rollup to a CSV file")
	cmd.AddCommand(newPremiumHistoryCmd(app))
	rootCmd.AddCommand(cmd)
}

func (app *App) premiumReport(ctx context.Context, output *Output, csvPath string, months int) (*PremiumReport, error) {
	report := &PremiumReport{}
	var txns []models.Transaction

	if csvPath != "" {
		f, err := os.Open(csvPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		var stats importer.ImportStats
		txns, stats, err = importer.ReadActivity(f, app.Logger)
		if err != nil {
			return nil, err
		}
		report.Source = csvPath
		report.Import = &stats
		report.Account = "csv"
	} else {
		if err := app.requireBroker(output); err != nil {
			return nil, err
		}
		acct, err := app.account(ctx)
		if err != nil {
			return nil, err
		}
		txns, err = app.transactions(ctx, acct, app.Config.Premium.LookbackDays)
		if err != nil {
			return nil, err
		}
		report.Source = app.Broker.Name()
		report.Account = acct
	}

	report.Summary = trading.Aggregate(txns)
	report.Months = trading.MonthlyRollup(report.Summary.Orders, time.Now(), months)
	return report, nil
}

func (app *App) transactions(ctx context.Context, account string, lookbackDays int) ([]models.Transaction, error) {
	if lookbackDays <= 0 {
		lookbackDays = 365
	}
	to := time.Now()
	from := to.AddDate(0, 0, -lookbackDays)
	return app.Broker.GetTransactions(ctx, account, from, to)
}

func snapshotsFrom(months []trading.MonthlyPremium) []store.PremiumSnapshot {
	now := time.Now()
	out := make([]store.PremiumSnapshot, 0, len(months))
	for _, m := range months {
		out = append(out, store.PremiumSnapshot{
			Month:      fmt.Sprintf("%04d-%02d", m.Month.Year, int(m.Month.Month)),
			Net:        m.Net,
			CSPNet:     m.CSPNet,
			CCNet:      m.CCNet,
			Orders:     m.Orders,
			Rolls:      m.Rolls,
			CapturedAt: now,
		})
	}
	return out
}

func exportMonthly(path string, months []trading.MonthlyPremium) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := importer.WriteMonthly(f, months); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func displayPremium(output *Output, r *PremiumReport) {
	s := r.Summary
	if r.Import != nil {
		output.Dim("Imported %d of %d rows from %s (%d malformed)", r.Import.Imported, r.Import.Rows, r.Source, r.Import.Malformed)
	} else {
		output.Dim("Source: %s, account %s", r.Source, r.Account)
	}
	output.Println()

	table := NewTable(output, "STRATEGY", "ORDERS", "GROSS", "BUYBACK", "NET")
	row := func(name string, t trading.StrategyTotals) {
		table.AddRow(name, fmt.Sprintf("%d", t.Orders), utils.FormatDecimalUSD(t.Gross), utils.FormatDecimalUSD(t.Buyback), output.FormatPnL(t.Net))
	}
	row("Cash-secured puts", s.CSP)
	row("Covered calls", s.CC)
	row(output.BoldText("Total"), s.Total)
	table.Render()
	output.Println()

	output.Dim("%d single-leg, %d multi-leg (%d rolls), %d zero-value, %d skipped",
		s.SingleLegCount, s.MultiLegCount, s.RollCount, s.ZeroValueOrders, s.SkippedTransactions)
	output.Println()

	if len(r.Months) > 0 {
		output.Bold("Monthly")
		mt := NewTable(output, "MONTH", "NET", "CSP", "CC", "CSP%", "CHANGE", "ORDERS", "ROLLS")
		for _, m := range r.Months {
			name := m.Name
			if m.IsCurrent {
				name = output.Cyan(name + " *")
			}
			mt.AddRow(
				name,
				output.FormatPnL(m.Net),
				utils.FormatDecimalUSD(m.CSPNet),
				utils.FormatDecimalUSD(m.CCNet),
				fmt.Sprintf("%.0f%%", m.CSPShare),
				output.FormatChange(m.ChangePct),
				fmt.Sprintf("%d", m.Orders),
				fmt.Sprintf("%d", m.Rolls),
			)
		}
		mt.Render()
		output.Println()
	}

	printTopSymbols(output, "Top CSP symbols", s.CSPBySymbol)
	printTopSymbols(output, "Top CC symbols", s.CCBySymbol)
}

func printTopSymbols(output *Output, title string, bySymbol map[string]decimal.Decimal) {
	if len(bySymbol) == 0 {
		return
	}
	symbols := make([]string, 0, len(bySymbol))
	for sym := range bySymbol {
		symbols = append(symbols, sym)
	}
	sort.Slice(symbols, func(i, j int) bool {
		a, b := bySymbol[symbols[i]], bySymbol[symbols[j]]
		if !a.Equal(b) {
			return a.GreaterThan(b)
		}
		return symbols[i] < symbols[j]
	})
	if len(symbols) > 5 {
		symbols = symbols[:5]
	}
	output.Bold(title)
	for _, sym := range symbols {
		output.Printf("  %-6s %s\n", sym, output.FormatPnL(bySymbol[sym]))
	}
	output.Println()
}

func newPremiumHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show saved monthly premium snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireStore(output); err != nil {
				return err
			}
			ctx, cancel := commandContext(30 * time.Second)
			defer cancel()

			account, _ := cmd.Flags().GetString("account")
			if account == "" {
				if err := app.requireBroker(output); err != nil {
					return err
				}
				acct, err := app.account(ctx)
				if err != nil {
					output.Error("%v", err)
					return err
				}
				account = acct
			}
			limit, _ := cmd.Flags().GetInt("limit")

			snaps, err := app.Store.GetPremiumSnapshots(ctx, account, limit)
			if err != nil {
				output.Error("Failed to read history: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(snaps)
			}
			if len(snaps) == 0 {
				output.Info("No premium history for %s; run 'wheel premium' first", account)
				return nil
			}

			table := NewTable(output, "MONTH", "NET", "CSP", "CC", "ORDERS", "ROLLS", "CAPTURED")
			for _, s := range snaps {
				table.AddRow(
					s.Month,
					output.FormatPnL(s.Net),
					utils.FormatDecimalUSD(s.CSPNet),
					utils.FormatDecimalUSD(s.CCNet),
					fmt.Sprintf("%d", s.Orders),
					fmt.Sprintf("%d", s.Rolls),
					FormatDateTime(s.CapturedAt),
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().String("account", "", "account number (default: current account, 'csv' for imports)")
	cmd.Flags().Int("limit", 24, "maximum months")
	return cmd
}
