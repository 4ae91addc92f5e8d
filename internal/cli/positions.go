package cli

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"wheel-trader/internal/trading"
	"wheel-trader/pkg/utils"
)

// addPositionCommands adds the position and recovery commands.
func addPositionCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newPositionsCmd(app))
	rootCmd.AddCommand(newRecoveryCmd(app))
}

func newPositionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "positions",
		Aliases: []string{"pos"},
		Short:   "Show short options with close recommendations",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireBroker(output); err != nil {
				return err
			}
			ctx, cancel := commandContext(time.Minute)
			defer cancel()

			acct, err := app.account(ctx)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			book, err := trading.NewPositionManager(app.Broker, app.Logger).Load(ctx, acct)
			if err != nil {
				output.Error("Failed to load positions: %v", err)
				return err
			}
			statuses := trading.EvaluateShortOptions(book.ShortOptions(), time.Now())

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"account":       acct,
					"short_options": statuses,
					"stocks":        book.Stocks(),
					"skipped":       book.Skipped,
				})
			}

			if book.Balance != nil {
				output.Box("Account "+acct, []string{
					fmt.Sprintf("Net liquidating:  %s", utils.FormatDecimalUSD(book.Balance.NetLiquidatingValue)),
					fmt.Sprintf("Cash:             %s", utils.FormatDecimalUSD(book.Balance.CashBalance)),
					fmt.Sprintf("Option BP:        %s", utils.FormatDecimalUSD(book.Balance.DerivativeBuyingPower)),
				})
				output.Println()
			}

			if len(statuses) == 0 {
				output.Info("No short option positions")
			} else {
				table := NewTable(output, "CONTRACT", "QTY", "DTE", "COLLECTED", "VALUE", "P&L", "CAPTURED", "ACTION")
				for _, s := range statuses {
					table.AddRow(
						FormatContract(s.Underlying, s.Expiration, s.Strike, s.OptionType),
						fmt.Sprintf("%d", s.Contracts),
						fmt.Sprintf("%d", s.DTE),
						utils.FormatDecimalUSD(s.PremiumCollected),
						utils.FormatDecimalUSD(s.CurrentValue),
						output.FormatPnL(s.PnL),
						fmt.Sprintf("%.0f%%", s.RealizedPct),
						output.Recommendation(s.Recommendation),
					)
				}
				table.Render()
			}

			if stocks := book.Stocks(); len(stocks) > 0 {
				output.Println()
				output.Bold("Stock")
				st := NewTable(output, "SYMBOL", "SHARES", "COST", "MARK", "P&L")
				for _, p := range stocks {
					pnl := (p.MarkPrice - p.AverageOpenPrice) * float64(p.Contracts)
					st.AddRow(
						p.Symbol,
						fmt.Sprintf("%d", p.Contracts),
						fmt.Sprintf("%.2f", p.AverageOpenPrice),
						fmt.Sprintf("%.2f", p.MarkPrice),
						output.FormatPnL(decimal.NewFromFloat(pnl).Round(2)),
					)
				}
				st.Render()
			}

			if n := book.Skipped.Total(); n > 0 {
				output.Println()
				output.Warning("%d positions skipped (%d closed, %d malformed, %d mismatched)",
					n, book.Skipped.Closed, book.Skipped.Malformed, book.Skipped.Mismatched)
			}
			return nil
		},
	}
}

// RecoveryReport pairs the recovery summary with a breakeven estimate.
type RecoveryReport struct {
	trading.RecoverySummary
	MonthlyCCRate     decimal.Decimal `json:"monthly_cc_rate"`
	MonthsToBreakeven *float64        `json:"months_to_breakeven,omitempty"`
}

func newRecoveryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recovery",
		Short: "Track covered call premium against underwater stock",
		Long: `Compare unrealized losses on assigned stock with the covered call
premium collected on the same symbols, and estimate how many months of
covered calls remain until breakeven.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireBroker(output); err != nil {
				return err
			}
			ctx, cancel := commandContext(2 * time.Minute)
			defer cancel()

			acct, err := app.account(ctx)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			book, err := trading.NewPositionManager(app.Broker, app.Logger).Load(ctx, acct)
			if err != nil {
				output.Error("Failed to load positions: %v", err)
				return err
			}
			txns, err := app.transactions(ctx, acct, app.Config.Premium.LookbackDays)
			if err != nil {
				output.Error("Failed to load transactions: %v", err)
				return err
			}

			premium := trading.Aggregate(txns)
			report := RecoveryReport{
				RecoverySummary: trading.RecoveryMetrics(book.Stocks(), premium.CCBySymbol),
			}
			months, _ := cmd.Flags().GetInt("months")
			report.MonthlyCCRate = averageCompletedCC(trading.MonthlyRollup(premium.Orders, time.Now(), months))
			if m := trading.MonthsToBreakeven(report.NetPosition, report.MonthlyCCRate); !math.IsInf(m, 1) {
				report.MonthsToBreakeven = &m
			}

			if output.IsJSON() {
				return output.JSON(report)
			}
			displayRecovery(output, report)
			return nil
		},
	}
	cmd.Flags().Int("months", 3, "completed months used for the covered call rate")
	return cmd
}

// averageCompletedCC averages covered call net premium over completed months.
func averageCompletedCC(months []trading.MonthlyPremium) decimal.Decimal {
	sum := decimal.Zero
	n := 0
	for _, m := range months {
		if m.IsCurrent {
			continue
		}
		sum = sum.Add(m.CCNet)
		n++
	}
	if n == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(n))).Round(2)
}

func displayRecovery(output *Output, r RecoveryReport) {
	if len(r.Positions) == 0 {
		output.Success("No underwater stock positions")
		return
	}

	table := NewTable(output, "SYMBOL", "SHARES", "BASIS", "PRICE", "LOSS", "CC PREMIUM", "RECOVERED", "ADJ BASIS", "REMAINING")
	for _, p := range r.Positions {
		table.AddRow(
			p.Symbol,
			fmt.Sprintf("%d", p.Shares),
			fmt.Sprintf("%.2f", p.CostBasis),
			fmt.Sprintf("%.2f", p.CurrentPrice),
			output.FormatPnL(p.UnrealizedLoss),
			utils.FormatDecimalUSD(p.CCPremium),
			fmt.Sprintf("%s %3.0f%%", ProgressBar(p.RecoveryPct, 8), p.RecoveryPct),
			utils.FormatDecimalUSD(p.AdjustedBasis),
			output.FormatPnL(p.RemainingLoss),
		)
	}
	table.Render()
	output.Println()

	output.Printf("Unrealized loss:  %s\n", output.FormatPnL(r.TotalUnrealizedLoss))
	output.Printf("CC premium:       %s\n", utils.FormatDecimalUSD(r.TotalCCPremium))
	output.Printf("Recovered:        %.1f%%\n", r.OverallRecoveryPct)
	output.Printf("Net position:     %s\n", output.FormatPnL(r.NetPosition))
	if r.MonthsToBreakeven != nil {
		output.Printf("Breakeven:        %.1f months at %s/month\n", *r.MonthsToBreakeven, utils.FormatDecimalUSD(r.MonthlyCCRate))
	} else {
		output.Dim("No completed months of covered call premium to project breakeven")
	}
}
