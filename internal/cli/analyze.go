package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"wheel-trader/internal/indicators"
	"wheel-trader/internal/research"
)

// addAnalyzeCommands adds the research and readiness commands.
func addAnalyzeCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "analyze [symbols...]",
		Short: "LLM risk review of underlyings before selling puts",
		Long: `Ask the configured language model for a short fundamental review of
each symbol and group them into safe, caution and avoid.

With no arguments the symbols come from --watchlist or the scan defaults.`,
		Example: `  wheel analyze SOFI PLTR F
  wheel analyze -w default`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.LLM == nil {
				output.Error("Language model not configured. Add an OpenAI key to the credentials file.")
				return fmt.Errorf("research: no LLM client")
			}
			ctx, cancel := commandContext(3 * time.Minute)
			defer cancel()

			watchlist, _ := cmd.Flags().GetString("watchlist")
			symbols, err := app.resolveSymbols(ctx, args, watchlist)
			if err != nil {
				output.Error("%v", err)
				return err
			}

			if !output.IsJSON() {
				output.Dim("Reviewing %d symbols with %s...", len(symbols), app.Config.Research.Model)
			}
			report, err := research.NewAnalyzer(app.LLM, app.Config.Research.Model, app.Logger).Analyze(ctx, symbols)
			if err != nil {
				output.Error("Analysis failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(report)
			}
			displayResearch(output, report)
			return nil
		},
	}
	cmd.Flags().StringP("watchlist", "w", "", "analyze a saved watchlist")
	cmd.AddCommand(newReadinessCmd(app))
	rootCmd.AddCommand(cmd)
}

func displayResearch(output *Output, r *research.Report) {
	for _, a := range r.Assessments {
		title := a.Symbol
		if a.Company != "" {
			title += " - " + a.Company
		}
		output.Printf("%s  %s\n", output.BoldText(title), riskLabel(output, a.Risk))
		for _, line := range []struct{ label, text string }{
			{"Business", a.Business},
			{"Earnings", a.Earnings},
			{"Analysts", a.AnalystRating},
			{"News", a.News},
			{"Risk", a.RiskReason},
			{"Summary", a.Summary},
		} {
			if line.text != "" {
				output.Printf("  %-9s %s\n", line.label+":", line.text)
			}
		}
		output.Println()
	}

	group := func(label string, symbols []string, colorize func(string) string) {
		if len(symbols) > 0 {
			output.Printf("%-11s %s\n", label, colorize(strings.Join(symbols, " ")))
		}
	}
	group("Safe:", r.Safe, output.Green)
	group("Caution:", r.Caution, output.Yellow)
	group("Avoid:", r.Avoid, output.Red)
	group("Unassessed:", r.Unassessed, output.DimText)
}

func riskLabel(output *Output, risk research.RiskLevel) string {
	switch risk {
	case research.RiskLow:
		return output.Green("LOW RISK")
	case research.RiskMedium:
		return output.Yellow("MEDIUM RISK")
	case research.RiskHigh:
		return output.Red("HIGH RISK")
	default:
		return output.DimText("UNKNOWN")
	}
}

func newReadinessCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "readiness [symbols...]",
		Short: "Score underlyings on RSI, Bollinger position and 52-week range",
		Long: `Score how attractive each underlying is for selling puts right now,
from 0 to 100. Oversold momentum, a close near the lower Bollinger band
and a price near the 52-week low score higher.

Daily history is cached in the local database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireMarket(output); err != nil {
				return err
			}
			ctx, cancel := commandContext(3 * time.Minute)
			defer cancel()

			watchlist, _ := cmd.Flags().GetString("watchlist")
			symbols, err := app.resolveSymbols(ctx, args, watchlist)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			workers, _ := cmd.Flags().GetInt("workers")
			if workers <= 0 {
				workers = app.Config.Scan.Workers
			}

			var cache indicators.CandleCache
			if app.Store != nil {
				cache = app.Store
			}
			scored, failures, err := indicators.NewLoader(app.Market, cache, app.Logger).ScoreAll(ctx, symbols, workers)
			if err != nil {
				output.Error("Readiness failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"scores":   scored,
					"failures": failures,
				})
			}
			displayReadiness(output, scored, failures)
			return nil
		},
	}
	cmd.Flags().StringP("watchlist", "w", "", "score a saved watchlist")
	cmd.Flags().Int("workers", 0, "concurrent history fetches (default from config)")
	return cmd
}

func displayReadiness(output *Output, scored []indicators.Scored, failures []indicators.SnapshotFailure) {
	table := NewTable(output, "SYMBOL", "PRICE", "RSI", "%B", "52W", "MA50", "SCORE", "")
	for _, s := range scored {
		score := fmt.Sprintf("%.0f", s.Score.Total)
		switch {
		case s.Score.Total >= 70:
			score = output.Green(score)
		case s.Score.Total < 40:
			score = output.Red(score)
		}
		table.AddRow(
			s.Symbol,
			fmt.Sprintf("%.2f", s.Price),
			optFloat(s.RSI, "%.0f"),
			optFloat(s.PercentB, "%.2f"),
			optFloat(s.Week52Percent, "%.0f%%"),
			optFloat(s.MAPercent, "%+.1f%%"),
			score,
			ProgressBar(s.Score.Total, 10),
		)
	}
	table.Render()

	for _, f := range failures {
		output.Warning("%s: %s", f.Symbol, f.Error)
	}
}

func optFloat(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}
