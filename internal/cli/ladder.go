package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	apperrors "wheel-trader/internal/errors"
	"wheel-trader/internal/models"
	"wheel-trader/internal/occ"
	"wheel-trader/internal/store"
	"wheel-trader/internal/trading"
	"wheel-trader/pkg/utils"
)

// addLadderCommands adds the capital ladder commands.
func addLadderCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "ladder",
		Short: "Weekly cash-secured put capital ladder",
		Long: `Split option buying power into equal weekly tranches over the next
Fridays and show how much collateral each tranche already has deployed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireBroker(output); err != nil {
				return err
			}
			ctx, cancel := commandContext(time.Minute)
			defer cancel()

			tranches, _ := cmd.Flags().GetInt("tranches")
			ladder, err := app.loadLadder(ctx, tranches)
			if err != nil {
				output.Error("Failed to build ladder: %v", err)
				return err
			}
			app.Metrics.ObserveLadder(ladder)

			if output.IsJSON() {
				return output.JSON(ladder)
			}
			displayLadder(output, ladder)
			return nil
		},
	}
	cmd.Flags().IntP("tranches", "t", 0, "number of weekly tranches (default from config)")
	cmd.AddCommand(newLadderTrimCmd(app))
	rootCmd.AddCommand(cmd)
}

func (app *App) loadLadder(ctx context.Context, tranches int) (trading.Ladder, error) {
	if tranches <= 0 {
		tranches = app.Config.Ladder.Tranches
	}
	acct, err := app.account(ctx)
	if err != nil {
		return trading.Ladder{}, err
	}
	book, err := trading.NewPositionManager(app.Broker, app.Logger).Load(ctx, acct)
	if err != nil {
		return trading.Ladder{}, err
	}
	return trading.PlanLadder(book.Balance.DerivativeBuyingPower, book.Positions, tranches, time.Now()), nil
}

func displayLadder(output *Output, l trading.Ladder) {
	output.Box("CSP Ladder", []string{
		fmt.Sprintf("Buying power:   %s", utils.FormatDecimalUSD(l.BuyingPower)),
		fmt.Sprintf("Tranche target: %s", utils.FormatDecimalUSD(l.TrancheTarget)),
		fmt.Sprintf("Deployed:       %s (%.1f%%)", utils.FormatDecimalUSD(l.TotalDeployed), l.DeploymentPct),
		fmt.Sprintf("Available:      %s", utils.FormatDecimalUSD(l.Available)),
		fmt.Sprintf("Est. weekly:    %s of %s potential", utils.FormatDecimalUSD(l.EstimatedWeeklyPremium), utils.FormatDecimalUSD(l.PotentialWeeklyPremium)),
	})
	output.Println()

	table := NewTable(output, "WEEK", "EXPIRATION", "DAYS", "TARGET", "DEPLOYED", "GAP", "PROGRESS", "STATUS")
	for _, t := range l.Tranches {
		week := fmt.Sprintf("%d", t.Week)
		if t.ActionRequired {
			week = output.Red(week + " !")
		}
		table.AddRow(
			week,
			FormatExpiration(t.Expiration),
			fmt.Sprintf("%d", t.Days),
			utils.FormatDecimalUSD(t.Target),
			utils.FormatDecimalUSD(t.Deployed),
			utils.FormatDecimalUSD(t.Gap),
			fmt.Sprintf("%s %5.1f%%", ProgressBar(t.ProgressPct, 10), t.ProgressPct),
			output.TrancheStatus(t.Status),
		)
	}
	table.Render()
	output.Println()

	if due := l.ActionRequired(); len(due) > 0 {
		for _, t := range due {
			output.Warning("Week %d (%s) expires in %d days with %s undeployed", t.Week, FormatExpiration(t.Expiration), t.Days, utils.FormatDecimalUSD(t.Gap))
		}
	}
	if l.NewCapital {
		output.Info("New capital available: %s can fund the next tranche", utils.FormatDecimalUSD(l.Available))
	}
}

func newLadderTrimCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trim",
		Short: "Trim the latest CSP scan to a tranche target",
		Long: `Drop selections from a CSP scan until their collateral fits the target.

Strategies decide what to keep:
  lowest_delta        drop the highest delta first
  highest_premium     drop the lowest bid first
  highest_efficiency  drop the lowest weekly return first
  highest_volatility  drop the lowest IV rank first`,
		Example: `  wheel ladder trim --target 10000
  wheel ladder trim --strategy highest_premium
  wheel ladder trim --run 3f2a... --target 7500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireStore(output); err != nil {
				return err
			}
			ctx, cancel := commandContext(time.Minute)
			defer cancel()

			strategyName, _ := cmd.Flags().GetString("strategy")
			if strategyName == "" {
				strategyName = app.Config.Ladder.TrimStrategy
			}
			strategy, err := trading.ParseTrimStrategy(strategyName)
			if err != nil {
				output.Error("%v", err)
				return apperrors.NewValidationError("strategy", strategyName, err.Error())
			}

			runID, _ := cmd.Flags().GetString("run")
			run, err := latestCSPRun(ctx, app.Store, runID)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			candidates := CandidatesFromRun(run)

			var target decimal.Decimal
			if cmd.Flags().Changed("target") {
				v, _ := cmd.Flags().GetFloat64("target")
				target = decimal.NewFromFloat(v)
			} else {
				if err := app.requireBroker(output); err != nil {
					return err
				}
				ladder, err := app.loadLadder(ctx, 0)
				if err != nil {
					output.Error("Failed to build ladder: %v", err)
					return err
				}
				target = ladder.TrancheTarget
			}

			keep, drop := trading.TrimToTarget(candidates, target, strategy)
			result := TrimResult{
				RunID:    run.RunID,
				Strategy: strategy,
				Target:   target,
				Before:   trading.TotalCollateral(candidates),
				After:    trading.TotalCollateral(keep),
				Keep:     keep,
				Drop:     drop,
			}
			if output.IsJSON() {
				return output.JSON(result)
			}
			displayTrim(output, result)
			return nil
		},
	}
	cmd.Flags().Float64("target", 0, "collateral target in dollars (default: ladder tranche target)")
	cmd.Flags().StringP("strategy", "s", "", "trim strategy (default from config)")
	cmd.Flags().String("run", "", "scan run id (default: latest CSP scan)")
	return cmd
}

// TrimResult is the outcome of trimming a scan to a target.
type TrimResult struct {
	RunID    string               `json:"run_id"`
	Strategy trading.TrimStrategy `json:"strategy"`
	Target   decimal.Decimal      `json:"target"`
	Before   decimal.Decimal      `json:"before"`
	After    decimal.Decimal      `json:"after"`
	Keep     []trading.Candidate  `json:"keep"`
	Drop     []trading.Candidate  `json:"drop"`
}

func latestCSPRun(ctx context.Context, s store.DataStore, runID string) (*store.ScanRun, error) {
	limit := 1
	if runID != "" {
		limit = 50
	}
	runs, err := s.GetScanRuns(ctx, store.ScanFilter{Strategy: string(models.StrategyCSP), Limit: limit})
	if err != nil {
		return nil, err
	}
	for i := range runs {
		if runID == "" || runs[i].RunID == runID {
			if len(runs[i].Selections) == 0 {
				return nil, apperrors.NewDataError("scan_run", runs[i].RunID, "scan run has no selections", apperrors.ErrDataNotFound)
			}
			return &runs[i], nil
		}
	}
	return nil, apperrors.NewDataError("scan_run", runID, "no CSP scan found; run 'wheel scan csp' first", apperrors.ErrDataNotFound)
}

// CandidatesFromRun rebuilds trim candidates from a persisted scan.
func CandidatesFromRun(run *store.ScanRun) []trading.Candidate {
	out := make([]trading.Candidate, 0, len(run.Selections))
	for _, p := range run.Selections {
		rec := models.OpportunityRecord{
			OptionContract: models.OptionContract{
				Symbol:     p.Symbol,
				Underlying: p.Underlying,
				Strike:     p.Strike,
				Bid:        p.Bid,
				OptionType: models.OptionTypePut,
				IVRank:     p.IVRank,
			},
			AbsDelta:        p.Delta,
			DTE:             p.DTE,
			WeeklyReturnPct: p.WeeklyReturnPct,
		}
		if id, err := occ.Parse(p.Symbol); err == nil {
			rec.Expiration = id.Expiration
		}
		out = append(out, trading.Candidate{Record: rec, Quantity: p.Quantity})
	}
	return out
}

func displayTrim(output *Output, r TrimResult) {
	output.Bold("Trim to %s (%s)", utils.FormatDecimalUSD(r.Target), r.Strategy)
	output.Dim("Scan %s: %s -> %s", r.RunID[:min(8, len(r.RunID))], utils.FormatDecimalUSD(r.Before), utils.FormatDecimalUSD(r.After))
	output.Println()

	table := NewTable(output, "", "CONTRACT", "QTY", "DELTA", "BID", "WEEKLY", "COLLATERAL")
	add := func(mark string, cs []trading.Candidate) {
		for _, c := range cs {
			r := c.Record
			table.AddRow(
				mark,
				FormatContract(r.Underlying, r.Expiration, r.Strike, r.OptionType),
				fmt.Sprintf("%d", c.Quantity),
				FormatDelta(r.AbsDelta),
				fmt.Sprintf("%.2f", r.Bid),
				FormatPct(r.WeeklyReturnPct),
				utils.FormatDecimalUSD(c.Collateral()),
			)
		}
	}
	add(output.Green("keep"), r.Keep)
	add(output.Red("drop"), r.Drop)
	table.Render()

	if r.After.LessThan(r.Target) && len(r.Drop) > 0 {
		output.Println()
		output.Warning("Kept collateral is %s under target", utils.FormatDecimalUSD(r.Target.Sub(r.After)))
	}
}
