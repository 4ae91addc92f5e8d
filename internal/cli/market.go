package cli

import (
	"time"

	"github.com/spf13/cobra"

	"wheel-trader/internal/models"
	"wheel-trader/internal/trading"
	"wheel-trader/pkg/utils"
)

func newMarketCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "market",
		Short: "Show market session status and the next expirations",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			now := time.Now()
			status := utils.MarketStatusAt(now)

			expirations := make([]time.Time, 0, trading.DefaultTranches)
			for i := 0; i < trading.DefaultTranches; i++ {
				expirations = append(expirations, trading.NextFriday(now, i))
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"status":      status,
					"time":        now,
					"next_open":   utils.NextMarketOpen(now),
					"close":       utils.MarketCloseOn(now),
					"expirations": expirations,
				})
			}

			output.Printf("Market:  %s\n", output.MarketStatus(status))
			output.Printf("Time:    %s\n", FormatDateTime(now))
			switch status {
			case models.MarketOpen, models.MarketClosingSoon:
				output.Printf("Closes:  in %s\n", FormatDuration(utils.TimeUntilMarketClose().Round(time.Minute)))
			default:
				next := utils.NextMarketOpen(now)
				output.Printf("Opens:   %s (in %s)\n", FormatDateTime(next), FormatDuration(time.Until(next).Round(time.Minute)))
			}
			output.Println()
			output.Bold("Weekly expirations")
			for i, exp := range expirations {
				output.Printf("  %d. %s (%d days)\n", i+1, FormatDate(exp), daysUntil(now, exp))
			}
			return nil
		},
	}
}

func daysUntil(now, exp time.Time) int {
	d := int(exp.Sub(now).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
