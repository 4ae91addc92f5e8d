package cli

import (
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"wheel-trader/internal/security"
)

const defaultWatchlist = "default"

// addWatchlistCommands adds watchlist management commands.
func addWatchlistCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:     "watchlist",
		Aliases: []string{"wl"},
		Short:   "Manage scan watchlists",
	}
	cmd.PersistentFlags().StringP("name", "n", defaultWatchlist, "watchlist name")

	cmd.AddCommand(&cobra.Command{
		Use:   "add <symbol>...",
		Short: "Add symbols to a watchlist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.editWatchlist(cmd, args, true)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "remove <symbol>...",
		Aliases: []string{"rm"},
		Short:   "Remove symbols from a watchlist",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.editWatchlist(cmd, args, false)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show watchlists",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireStore(output); err != nil {
				return err
			}
			ctx, cancel := commandContext(10 * time.Second)
			defer cancel()

			lists, err := app.Store.GetAllWatchlists(ctx)
			if err != nil {
				output.Error("Failed to read watchlists: %v", err)
				return err
			}
			if cmd.Flags().Changed("name") {
				name, _ := cmd.Flags().GetString("name")
				lists = map[string][]string{name: lists[name]}
			}
			if output.IsJSON() {
				return output.JSON(lists)
			}
			if len(lists) == 0 {
				output.Info("No watchlists; add symbols with 'wheel watchlist add'")
				return nil
			}

			names := make([]string, 0, len(lists))
			for name := range lists {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				output.Printf("%s (%d)\n", output.BoldText(name), len(lists[name]))
				if len(lists[name]) > 0 {
					output.Printf("  %s\n", strings.Join(lists[name], " "))
				}
			}
			return nil
		},
	})
	rootCmd.AddCommand(cmd)
}

func (app *App) editWatchlist(cmd *cobra.Command, args []string, add bool) error {
	output := NewOutput(cmd)
	if err := app.requireStore(output); err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("name")
	if err := security.ValidateWatchlistName(name); err != nil {
		output.Error("%v", err)
		return err
	}

	symbols := make([]string, 0, len(args))
	for _, arg := range args {
		sym := strings.ToUpper(strings.TrimSpace(arg))
		if err := security.ValidateSymbol(sym); err != nil {
			output.Error("%v", err)
			return err
		}
		symbols = append(symbols, sym)
	}

	ctx, cancel := commandContext(10 * time.Second)
	defer cancel()
	for _, sym := range symbols {
		var err error
		if add {
			err = app.Store.AddToWatchlist(ctx, sym, name)
		} else {
			err = app.Store.RemoveFromWatchlist(ctx, sym, name)
		}
		if err != nil {
			output.Error("%s: %v", sym, err)
			return err
		}
	}

	verb := "Added"
	prep := "to"
	if !add {
		verb, prep = "Removed", "from"
	}
	output.Success("%s %s %s %s", verb, strings.Join(symbols, ", "), prep, name)
	return nil
}
