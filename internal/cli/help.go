package cli

import (
	"github.com/spf13/cobra"
)

// addHelpCommands adds the command index and quickstart.
func addHelpCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newCommandsCmd())
	rootCmd.AddCommand(newQuickstartCmd())
}

type helpEntry struct {
	cmd  string
	desc string
}

type helpCategory struct {
	name     string
	commands []helpEntry
}

var commandIndex = []helpCategory{
	{
		name: "Scanning",
		commands: []helpEntry{
			{"scan csp [symbols...]", "Cash-secured put opportunities"},
			{"scan csp -w default", "Scan a saved watchlist"},
			{"scan cc", "Covered calls on stock you hold"},
			{"scan history", "Saved scan runs"},
			{"analyze readiness", "RSI, Bollinger and 52-week readiness score"},
			{"analyze <symbols...>", "LLM risk review"},
		},
	},
	{
		name: "Capital",
		commands: []helpEntry{
			{"ladder", "Weekly tranche deployment"},
			{"ladder trim", "Fit the latest scan to a tranche target"},
			{"positions", "Short options with close recommendations"},
			{"recovery", "Covered call premium against underwater stock"},
		},
	},
	{
		name: "Premium",
		commands: []helpEntry{
			{"premium", "Net premium by strategy and month"},
			{"premium --csv activity.csv", "Report from an activity export"},
			{"premium history", "Saved monthly snapshots"},
		},
	},
	{
		name: "Orders",
		commands: []helpEntry{
			{"order sell <occ> --limit <px>", "Sell to open"},
			{"order close <occ> --limit <px>", "Buy to close"},
			{"order cancel <id>", "Cancel a working order"},
			{"order list [--journal]", "Working orders or the local journal"},
		},
	},
	{
		name: "Setup",
		commands: []helpEntry{
			{"config show", "Current configuration"},
			{"config validate", "Check configuration values"},
			{"watchlist add <symbols...>", "Add to a watchlist"},
			{"market", "Session status and next expirations"},
		},
	},
}

func newCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List all commands by category",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				out := make(map[string]map[string]string, len(commandIndex))
				for _, c := range commandIndex {
					out[c.name] = make(map[string]string, len(c.commands))
					for _, e := range c.commands {
						out[c.name][e.cmd] = e.desc
					}
				}
				return output.JSON(out)
			}

			output.Bold("wheel commands")
			output.Println()
			for _, c := range commandIndex {
				output.Printf("%s\n", output.Cyan(c.name))
				for _, e := range c.commands {
					output.Printf("  %-34s %s\n", e.cmd, output.DimText(e.desc))
				}
				output.Println()
			}
			output.Dim("Run 'wheel <command> --help' for flags.")
			return nil
		},
	}
}

func newQuickstartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quickstart",
		Short: "First steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			steps := []helpEntry{
				{"wheel config path", "Find the config directory; credentials.toml lives there"},
				{"wheel config validate", "Check delta, DTE and ladder settings"},
				{"wheel watchlist add SOFI PLTR F", "Save the underlyings you wheel"},
				{"wheel scan csp -w default", "Find puts that pay at least the weekly minimum"},
				{"wheel ladder trim", "Fit the picks to this week's tranche"},
				{"wheel order sell <occ> --limit <bid>", "Sell; paper mode unless trading.mode is live"},
				{"wheel premium", "Track what the wheel has earned"},
			}
			output.Bold("Quickstart")
			output.Println()
			for i, s := range steps {
				output.Printf("%d. %s\n   %s\n", i+1, output.Green(s.cmd), output.DimText(s.desc))
			}
			return nil
		},
	}
}
