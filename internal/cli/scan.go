package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "wheel-trader/internal/errors"
	"wheel-trader/internal/models"
	"wheel-trader/internal/security"
	"wheel-trader/internal/store"
	"wheel-trader/internal/trading"
	"wheel-trader/pkg/utils"
)

// addScanCommands adds the opportunity scan commands.
func addScanCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan option chains for premium opportunities",
		Long: `Scan option chains and pick the best contract per underlying.

Each underlying is filtered by delta, DTE, open interest and weekly
return. When nothing passes, the weekly return minimum is dropped, then
the open interest minimum. Delta and DTE ranges are never relaxed.`,
	}
	cmd.AddCommand(newScanCSPCmd(app))
	cmd.AddCommand(newScanCCCmd(app))
	cmd.AddCommand(newScanHistoryCmd(app))
	rootCmd.AddCommand(cmd)
}

func addConstraintFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("delta-min", 0, "minimum |delta| (default from config)")
	cmd.Flags().Float64("delta-max", 0, "maximum |delta| (default from config)")
	cmd.Flags().Int("dte-min", 0, "minimum days to expiration")
	cmd.Flags().Int("dte-max", 0, "maximum days to expiration")
	cmd.Flags().Int64("min-oi", 0, "minimum open interest")
	cmd.Flags().Float64("min-weekly", 0, "minimum weekly return percent")
	cmd.Flags().String("mode", "", "sizing mode: conservative, medium, aggressive")
	cmd.Flags().Int("workers", 0, "concurrent chain fetches")
	cmd.Flags().Bool("no-save", false, "do not record the scan in history")
}

// scanOptions resolves constraints and sizing from flags over config defaults.
func (app *App) scanOptions(cmd *cobra.Command) (trading.Constraints, trading.SizingMode, error) {
	s := app.Config.Scan
	c := trading.Constraints{
		DeltaMin:        s.DeltaMin,
		DeltaMax:        s.DeltaMax,
		DTEMin:          s.DTEMin,
		DTEMax:          s.DTEMax,
		OpenInterestMin: s.OpenInterestMin,
		WeeklyReturnMin: s.WeeklyReturnMin,
	}
	if cmd.Flags().Changed("delta-min") {
		c.DeltaMin, _ = cmd.Flags().GetFloat64("delta-min")
	}
	if cmd.Flags().Changed("delta-max") {
		c.DeltaMax, _ = cmd.Flags().GetFloat64("delta-max")
	}
	if cmd.Flags().Changed("dte-min") {
		c.DTEMin, _ = cmd.Flags().GetInt("dte-min")
	}
	if cmd.Flags().Changed("dte-max") {
		c.DTEMax, _ = cmd.Flags().GetInt("dte-max")
	}
	if cmd.Flags().Changed("min-oi") {
		c.OpenInterestMin, _ = cmd.Flags().GetInt64("min-oi")
	}
	if cmd.Flags().Changed("min-weekly") {
		c.WeeklyReturnMin, _ = cmd.Flags().GetFloat64("min-weekly")
	}
	if err := c.Validate(); err != nil {
		return c, "", apperrors.NewValidationError("constraints", c, err.Error())
	}

	modeName := s.SizingMode
	if m, _ := cmd.Flags().GetString("mode"); m != "" {
		modeName = m
	}
	if modeName == "" {
		modeName = string(trading.SizingConservative)
	}
	mode, err := trading.ParseSizingMode(modeName)
	if err != nil {
		return c, "", apperrors.NewValidationError("mode", modeName, err.Error())
	}
	return c, mode, nil
}

// resolveSymbols returns args, else the named watchlist, else the configured symbols.
func (app *App) resolveSymbols(ctx context.Context, args []string, watchlist string) ([]string, error) {
	if len(args) > 0 {
		out := make([]string, 0, len(args))
		for _, a := range args {
			if err := security.ValidateSymbol(a); err != nil {
				return nil, err
			}
			out = append(out, strings.ToUpper(strings.TrimSpace(a)))
		}
		return out, nil
	}
	if watchlist != "" {
		if app.Store == nil {
			return nil, apperrors.ErrDatabaseError
		}
		syms, err := app.Store.GetWatchlist(ctx, watchlist)
		if err != nil {
			return nil, err
		}
		if len(syms) == 0 {
			return nil, apperrors.NewValidationError("watchlist", watchlist, "watchlist is empty")
		}
		return syms, nil
	}
	if len(app.Config.Scan.Symbols) > 0 {
		return app.Config.Scan.Symbols, nil
	}
	return nil, apperrors.NewValidationError("symbols", args, "pass symbols, --watchlist or set scan.symbols in config")
}

func newScanCSPCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "csp [symbols...]",
		Short: "Find cash-secured puts",
		Example: `  wheel scan csp SOFI PLTR F
  wheel scan csp --watchlist core --mode medium
  wheel scan csp AMD --delta-min 0.15 --delta-max 0.25 --dte-max 14`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireMarket(output); err != nil {
				return err
			}
			ctx, cancel := commandContext(5 * time.Minute)
			defer cancel()

			watchlist, _ := cmd.Flags().GetString("watchlist")
			symbols, err := app.resolveSymbols(ctx, args, watchlist)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			constraints, mode, err := app.scanOptions(cmd)
			if err != nil {
				output.Error("%v", err)
				return err
			}

			maxContracts, _ := cmd.Flags().GetInt("max-contracts")
			if maxContracts <= 0 {
				maxContracts = max(app.Config.Scan.MaxContracts, 1)
			}
			workers, _ := cmd.Flags().GetInt("workers")
			if workers <= 0 {
				workers = app.Config.Scan.Workers
			}

			res, err := app.newScanner().Scan(ctx, trading.ScanRequest{
				Strategy:    models.StrategyCSP,
				Symbols:     symbols,
				Constraints: constraints,
				Mode:        mode,
				Capacity:    trading.UniformCapacity(symbols, maxContracts),
				Workers:     workers,
			})
			if err != nil {
				output.Error("Scan failed: %v", err)
				return err
			}
			return app.finishScan(cmd, output, res)
		},
	}
	cmd.Flags().StringP("watchlist", "w", "", "scan the symbols of a watchlist")
	cmd.Flags().Int("max-contracts", 0, "contract capacity per underlying")
	addConstraintFlags(cmd)
	return cmd
}

func newScanCCCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cc [symbols...]",
		Short: "Find covered calls against held shares",
		Long: `Find covered calls for every underlying with at least 100 uncovered
shares. Capacity is (shares - 100 * short calls) / 100 per underlying.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireBroker(output); err != nil {
				return err
			}
			if err := app.requireMarket(output); err != nil {
				return err
			}
			ctx, cancel := commandContext(5 * time.Minute)
			defer cancel()

			acct, err := app.account(ctx)
			if err != nil {
				output.Error("Account unavailable: %v", err)
				return err
			}
			book, err := trading.NewPositionManager(app.Broker, app.Logger).Load(ctx, acct)
			if err != nil {
				output.Error("Failed to load positions: %v", err)
				return err
			}

			capacity := trading.CoveredCallCapacity(book.Positions)
			var only map[string]bool
			if len(args) > 0 {
				only = make(map[string]bool, len(args))
				for _, a := range args {
					only[strings.ToUpper(strings.TrimSpace(a))] = true
				}
			}
			var symbols []string
			for sym, n := range capacity {
				if n > 0 && (only == nil || only[sym]) {
					symbols = append(symbols, sym)
				}
			}
			if len(symbols) == 0 {
				if output.IsJSON() {
					return output.JSON(map[string]interface{}{"selections": map[string]interface{}{}})
				}
				output.Warning("No underlying has 100 uncovered shares.")
				return nil
			}

			constraints, mode, err := app.scanOptions(cmd)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			workers, _ := cmd.Flags().GetInt("workers")
			if workers <= 0 {
				workers = app.Config.Scan.Workers
			}

			res, err := app.newScanner().Scan(ctx, trading.ScanRequest{
				Strategy:    models.StrategyCC,
				Symbols:     symbols,
				Constraints: constraints,
				Mode:        mode,
				Capacity:    capacity,
				Workers:     workers,
			})
			if err != nil {
				output.Error("Scan failed: %v", err)
				return err
			}
			return app.finishScan(cmd, output, res)
		},
	}
	addConstraintFlags(cmd)
	return cmd
}

// finishScan records, measures and renders a scan.
func (app *App) finishScan(cmd *cobra.Command, output *Output, res *trading.ScanResult) error {
	app.Metrics.ObserveScan(res)

	if noSave, _ := cmd.Flags().GetBool("no-save"); !noSave && app.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Store.SaveScanRun(ctx, ScanRunFrom(res)); err != nil {
			app.Logger.Warn().Err(err).Str("run_id", res.RunID).Msg("Failed to save scan run")
		}
	}

	if output.IsJSON() {
		return output.JSON(res)
	}
	displayScan(output, res)
	return nil
}

// ScanRunFrom converts a scan result into its persisted form.
func ScanRunFrom(res *trading.ScanResult) *store.ScanRun {
	run := &store.ScanRun{
		RunID:     res.RunID,
		Strategy:  string(res.Strategy),
		StartedAt: res.StartedAt,
		Duration:  res.Duration,
		Selected:  len(res.Selections),
		Rejected:  res.Stats.Total(),
		Failed:    len(res.Failed),
	}
	seen := make(map[string]bool)
	for u := range res.Underlyings {
		seen[u] = true
	}
	for _, f := range res.Failed {
		seen[f.Symbol] = true
	}
	for u := range seen {
		run.Symbols = append(run.Symbols, u)
	}
	sort.Strings(run.Symbols)
	for _, u := range trading.SortedUnderlyings(res.Selections) {
		sel := res.Selections[u]
		r := sel.Record
		run.Selections = append(run.Selections, store.ScanPick{
			Underlying:      u,
			Symbol:          r.Symbol,
			Strike:          r.Strike,
			Bid:             r.Bid,
			Delta:           r.AbsDelta,
			DTE:             r.DTE,
			WeeklyReturnPct: r.WeeklyReturnPct,
			IVRank:          r.IVRank,
			Quantity:        sel.Quantity,
			Stage:           string(sel.Stage),
		})
	}
	return run
}

func displayScan(output *Output, res *trading.ScanResult) {
	title := "Cash-Secured Puts"
	if res.Strategy == models.StrategyCC {
		title = "Covered Calls"
	}
	output.Bold("%s (%d selected)", title, len(res.Selections))
	output.Println()

	if len(res.Selections) > 0 {
		table := NewTable(output, "SYMBOL", "PRICE", "CONTRACT", "DTE", "DELTA", "BID", "WEEKLY", "ANNUAL", "OI", "QTY", "PREMIUM", "STAGE")
		var totalPremium, totalCollateral float64
		for _, u := range trading.SortedUnderlyings(res.Selections) {
			sel := res.Selections[u]
			r := sel.Record
			bid := fmt.Sprintf("%.2f", r.Bid)
			if r.MidFallback {
				bid += "*"
			}
			stage := string(sel.Stage)
			if sel.Stage != trading.StageStrict {
				stage = output.Yellow(stage)
			}
			premium := r.PremiumPerContract() * float64(sel.Quantity)
			totalPremium += premium
			totalCollateral += r.CollateralPerContract() * float64(sel.Quantity)

			table.AddRow(
				u,
				fmt.Sprintf("%.2f", res.Underlyings[u]),
				FormatContract(u, r.Expiration, r.Strike, r.OptionType),
				fmt.Sprintf("%d", r.DTE),
				FormatDelta(r.AbsDelta),
				bid,
				output.Green(FormatPct(r.WeeklyReturnPct)),
				FormatPct(r.AnnualReturnPct),
				fmt.Sprintf("%d", r.OpenInterest),
				fmt.Sprintf("%d", sel.Quantity),
				utils.FormatUSD(premium),
				stage,
			)
		}
		table.Render()
		output.Println()
		output.Printf("Total premium: %s", output.Green(utils.FormatUSD(totalPremium)))
		if res.Strategy == models.StrategyCSP {
			output.Printf("   Collateral: %s", utils.FormatUSD(totalCollateral))
		}
		output.Println()
	}

	if len(res.NoCandidates) > 0 {
		output.Warning("No viable contract: %s", strings.Join(res.NoCandidates, ", "))
	}
	for _, f := range res.Failed {
		output.Error("%s: %s", f.Symbol, f.Error)
	}
	if n := res.Stats.Total(); n > 0 {
		parts := make([]string, 0, len(res.Stats.ByReason))
		for _, reason := range res.Stats.Reasons() {
			parts = append(parts, fmt.Sprintf("%s=%d", reason, res.Stats.ByReason[reason]))
		}
		output.Dim("Rejected %d contracts (%s)", n, strings.Join(parts, ", "))
	}
	if res.Stats.MidFallbacks > 0 {
		output.Dim("* %d contracts priced at half the ask because the bid was missing", res.Stats.MidFallbacks)
	}
	output.Dim("Run %s in %s", res.RunID, FormatDuration(res.Duration))
}

func newScanHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent scans",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireStore(output); err != nil {
				return err
			}
			ctx, cancel := commandContext(30 * time.Second)
			defer cancel()

			strategy, _ := cmd.Flags().GetString("strategy")
			limit, _ := cmd.Flags().GetInt("limit")
			runs, err := app.Store.GetScanRuns(ctx, store.ScanFilter{Strategy: strings.ToUpper(strategy), Limit: limit})
			if err != nil {
				output.Error("Failed to read scan history: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(runs)
			}
			if len(runs) == 0 {
				output.Dim("No scans recorded yet.")
				return nil
			}

			table := NewTable(output, "STARTED", "STRATEGY", "SYMBOLS", "SELECTED", "REJECTED", "FAILED", "DURATION", "RUN")
			for _, r := range runs {
				table.AddRow(
					FormatDateTime(r.StartedAt),
					r.Strategy,
					fmt.Sprintf("%d", len(r.Symbols)),
					fmt.Sprintf("%d", r.Selected),
					fmt.Sprintf("%d", r.Rejected),
					fmt.Sprintf("%d", r.Failed),
					FormatDuration(r.Duration),
					r.RunID[:min(8, len(r.RunID))],
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().String("strategy", "", "filter by strategy (CSP or CC)")
	cmd.Flags().IntP("limit", "n", 10, "number of runs")
	return cmd
}
