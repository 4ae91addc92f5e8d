package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"wheel-trader/internal/broker"
	"wheel-trader/internal/models"
	"wheel-trader/internal/occ"
	"wheel-trader/internal/security"
	"wheel-trader/internal/store"
)

// addOrderCommands adds order entry and journal commands.
func addOrderCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place, cancel and list option orders",
	}
	cmd.AddCommand(newOrderPlaceCmd(app, "sell", "Sell to open a put or call", models.ActionSellToOpen))
	cmd.AddCommand(newOrderPlaceCmd(app, "close", "Buy to close a short option", models.ActionBuyToClose))
	cmd.AddCommand(newOrderCancelCmd(app))
	cmd.AddCommand(newOrderListCmd(app))
	rootCmd.AddCommand(cmd)
}

func newOrderPlaceCmd(app *App, use, short string, action models.OrderAction) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <occ-symbol>",
		Short: short,
		Example: fmt.Sprintf(`  wheel order %s "SOFI  260116P00024000" --qty 2 --limit 0.45
  wheel order %s SOFI260116P00024000 --limit 0.45 --yes`, use, use),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireBroker(output); err != nil {
				return err
			}

			id, err := occ.Parse(args[0])
			if err != nil {
				output.Error("Invalid option symbol: %v", err)
				return err
			}
			qty, _ := cmd.Flags().GetInt("qty")
			limitVal, _ := cmd.Flags().GetFloat64("limit")
			limit := decimal.NewFromFloat(limitVal).Round(2)
			if err := security.ValidateQuantity(qty); err != nil {
				output.Error("%v", err)
				return err
			}
			if err := security.ValidateLimitPrice(limit); err != nil {
				output.Error("%v", err)
				return err
			}

			ctx, cancel := commandContext(time.Minute)
			defer cancel()

			acct, err := app.account(ctx)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			tif, _ := cmd.Flags().GetString("tif")
			req := models.OrderRequest{
				AccountNumber: acct,
				Symbol:        occ.Format(id),
				Action:        action,
				Quantity:      qty,
				Type:          models.OrderTypeLimit,
				LimitPrice:    limit,
				TimeInForce:   tif,
			}
			if err := broker.ValidateOrder(req); err != nil {
				output.Error("%v", err)
				return err
			}

			paper := app.Config.IsPaperMode()
			summary := fmt.Sprintf("%s %d x %s @ %s (%s)", action, qty,
				FormatContract(id.Underlying, id.Expiration, id.Strike, id.Type), limit.StringFixed(2), tif)
			if paper {
				summary += " [paper]"
			}

			yes, _ := cmd.Flags().GetBool("yes")
			if app.Config.Security.ConfirmOrder && !yes {
				ok, err := confirm(os.Stdin, output, summary)
				if err != nil {
					output.Error("%v", err)
					return err
				}
				if !ok {
					output.Info("Order not sent")
					return nil
				}
			}

			res, err := app.Broker.PlaceOrder(ctx, req)
			app.Metrics.ObserveOrder(err == nil, paper)
			if err != nil {
				output.Error("Order failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(res)
			}
			output.Success("%s", summary)
			output.Printf("Order %s: %s\n", res.OrderID, res.Status)
			if res.Message != "" {
				output.Dim("%s", res.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntP("qty", "q", 1, "contracts")
	cmd.Flags().Float64P("limit", "l", 0, "limit price per share")
	cmd.Flags().String("tif", "Day", "time in force (Day, GTC)")
	cmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
	_ = cmd.MarkFlagRequired("limit")
	return cmd
}

// confirm asks for a y/N answer. Non-interactive input needs --yes.
func confirm(in *os.File, output *Output, summary string) (bool, error) {
	if !term.IsTerminal(int(in.Fd())) {
		return false, fmt.Errorf("confirmation required; rerun with --yes")
	}
	return readConfirmation(in, output, summary)
}

func readConfirmation(r io.Reader, output *Output, summary string) (bool, error) {
	output.Printf("%s\nSend this order? [y/N]: ", summary)
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func newOrderCancelCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel a working order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireBroker(output); err != nil {
				return err
			}
			orderID := strings.TrimSpace(args[0])
			if err := security.ValidateOrderID(orderID); err != nil {
				output.Error("%v", err)
				return err
			}
			ctx, cancel := commandContext(30 * time.Second)
			defer cancel()

			acct, err := app.account(ctx)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			if err := app.Broker.CancelOrder(ctx, acct, orderID); err != nil {
				output.Error("Cancel failed: %v", err)
				return err
			}
			if app.Store != nil {
				if err := app.Store.UpdateOrderStatus(ctx, orderID, "Cancelled"); err != nil {
					app.Logger.Debug().Err(err).Str("order_id", orderID).Msg("journal status not updated")
				}
			}
			output.Success("Order %s cancelled", orderID)
			return nil
		},
	}
}

func newOrderListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List working orders, or the local journal with --journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := commandContext(30 * time.Second)
			defer cancel()

			if journal, _ := cmd.Flags().GetBool("journal"); journal {
				if err := app.requireStore(output); err != nil {
					return err
				}
				symbol, _ := cmd.Flags().GetString("symbol")
				limit, _ := cmd.Flags().GetInt("limit")
				entries, err := app.Store.GetOrders(ctx, store.OrderFilter{Symbol: symbol, Limit: limit})
				if err != nil {
					output.Error("Failed to read journal: %v", err)
					return err
				}
				if output.IsJSON() {
					return output.JSON(entries)
				}
				displayJournal(output, entries)
				return nil
			}

			if err := app.requireBroker(output); err != nil {
				return err
			}
			acct, err := app.account(ctx)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			orders, err := app.Broker.GetLiveOrders(ctx, acct)
			if err != nil {
				output.Error("Failed to load orders: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(orders)
			}
			if len(orders) == 0 {
				output.Info("No working orders")
				return nil
			}
			table := NewTable(output, "ID", "SYMBOL", "ACTION", "QTY", "LIMIT", "STATUS", "PLACED")
			for _, o := range orders {
				table.AddRow(o.ID, o.Symbol, string(o.Action), fmt.Sprintf("%d", o.Quantity),
					o.LimitPrice.StringFixed(2), o.Status, FormatDateTime(o.PlacedAt))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Bool("journal", false, "show the local order journal")
	cmd.Flags().String("symbol", "", "filter the journal by symbol")
	cmd.Flags().Int("limit", 50, "maximum journal entries")
	return cmd
}

func displayJournal(output *Output, entries []store.OrderEntry) {
	if len(entries) == 0 {
		output.Info("Journal is empty")
		return
	}
	table := NewTable(output, "PLACED", "ID", "SYMBOL", "ACTION", "QTY", "LIMIT", "STATUS", "")
	for _, e := range entries {
		mode := ""
		if e.IsPaper {
			mode = output.DimText("paper")
		}
		table.AddRow(FormatDateTime(e.PlacedAt), TruncateString(e.OrderID, 12), e.Symbol, e.Action,
			fmt.Sprintf("%d", e.Quantity), e.LimitPrice.StringFixed(2), e.Status, mode)
	}
	table.Render()
}
