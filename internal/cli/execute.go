package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
	"github.com/Hari-sh-S/options-algo/internal/models"
)

// strategyFlags are the request flags shared by execute and jobs add.
type strategyFlags struct {
	strategy      string
	index         string
	expiry        string
	lots          int
	slPercent     float64
	targetPremium float64
	spotPercent   float64
}

func (f *strategyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.strategy, "strategy", "s", string(models.StrategyShortStraddle), "short_straddle, premium_based or spot_strangle")
	cmd.Flags().StringVarP(&f.index, "index", "i", string(models.NIFTY), "NIFTY or SENSEX")
	cmd.Flags().StringVarP(&f.expiry, "expiry", "e", "", "expiry date (YYYY-MM-DD)")
	cmd.Flags().IntVarP(&f.lots, "lots", "l", 1, "number of lots per leg")
	cmd.Flags().Float64Var(&f.slPercent, "sl", 0, "stop-loss percent above the fill (0 disables)")
	cmd.Flags().Float64Var(&f.targetPremium, "target-premium", 0, "premium to match (premium_based)")
	cmd.Flags().Float64Var(&f.spotPercent, "spot-percent", 0, "strike distance from spot in percent (spot_strangle)")
	_ = cmd.MarkFlagRequired("expiry")
}

// request builds and validates a StrategyRequest from the flags.
func (f *strategyFlags) request() (models.StrategyRequest, error) {
	index, ok := models.ParseIndex(f.index)
	if !ok {
		return models.StrategyRequest{}, apperrors.NewValidationError("index", f.index, "must be NIFTY or SENSEX")
	}
	expiry, err := models.ParseDate(f.expiry)
	if err != nil {
		return models.StrategyRequest{}, apperrors.NewValidationError("expiry", f.expiry, "must be YYYY-MM-DD")
	}

	req := models.StrategyRequest{
		Strategy:  models.Strategy(strings.ToLower(f.strategy)),
		Index:     index,
		Expiry:    expiry,
		Lots:      f.lots,
		SLPercent: f.slPercent,
	}
	if f.targetPremium != 0 {
		req.TargetPremium = models.Float(f.targetPremium)
	}
	if f.spotPercent != 0 {
		req.SpotPercent = models.Float(f.spotPercent)
	}
	if err := req.Validate(); err != nil {
		return models.StrategyRequest{}, err
	}
	return req, nil
}

func newExecuteCmd(app *App) *cobra.Command {
	var flags strategyFlags
	var owner string

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Execute a strategy now",
		Long: `Select strikes, place both entry legs, confirm fills and place stop-losses.

The strategy runs in this process against the owner's account. Use
'algo jobs add' to defer a strategy on a running server.`,
		Example: `  algo execute --expiry 2024-06-27 --lots 2 --sl 30
  algo execute -s premium_based --target-premium 120 --expiry 2024-06-27
  algo execute -s spot_strangle -i SENSEX --spot-percent 1.5 --expiry 2024-06-28`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			req, err := flags.request()
			if err != nil {
				return err
			}

			svc, err := app.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			result, err := svc.orchestrator.Execute(cmd.Context(), app.owner(owner), req)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(result)
			}
			printExecution(output, result)
			if !result.Success {
				return fmt.Errorf("execution %s: %s", strings.ToLower(string(result.State)), result.Error)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&owner, "owner", "", "account owner (default: api.default_owner)")
	return cmd
}

func printExecution(output *Output, r *models.ExecutionResult) {
	title := fmt.Sprintf("%s %s %s x%d", r.Strategy, r.Index, r.Expiry, r.Quantity)
	if r.Success {
		output.Success("✓ %s", title)
	} else {
		output.Error("✗ %s", title)
	}
	output.Dim("  owner %s (%s), spot %.2f, state %s", r.Owner, r.Mode, r.Spot, r.State)
	output.Println()

	table := NewTable(output, legHeaders...)
	for _, leg := range r.EntryLegs {
		table.AddRow(legRow(output, leg)...)
	}
	for _, leg := range r.StopLossLegs {
		row := legRow(output, leg)
		row[0] = "SL " + row[0]
		table.AddRow(row...)
	}
	table.Render()

	if r.Error != "" {
		output.Println()
		output.Error("%s", r.Error)
	}
}

func newPositionsCmd(app *App) *cobra.Command {
	var owner string
	var watch bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:     "positions",
		Aliases: []string{"pos"},
		Short:   "Show open positions with P&L",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			who := app.owner(owner)
			if !watch {
				snap, err := svc.positions.Refresh(cmd.Context(), who)
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(snap)
				}
				printPositions(output, snap)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			err = svc.positions.Watch(ctx, who, interval, func(snap *models.PositionSnapshot, err error) {
				if err != nil {
					output.Error("%v", err)
					return
				}
				if output.IsJSON() {
					_ = output.JSON(snap)
					return
				}
				output.Dim("── %s ──", FormatTime(time.Now()))
				printPositions(output, snap)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "account owner (default: api.default_owner)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "refresh until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "refresh interval with --watch")
	return cmd
}

func printPositions(output *Output, snap *models.PositionSnapshot) {
	if len(snap.Positions) == 0 {
		output.Info("No open positions for %s", snap.Owner)
		return
	}
	table := NewTable(output, "SYMBOL", "SIDE", "QTY", "AVG", "LTP", "P&L")
	for _, p := range snap.Positions {
		table.AddRow(
			p.Symbol,
			string(p.Side()),
			fmt.Sprintf("%d", p.NetQuantity),
			fmt.Sprintf("%.2f", p.AveragePrice),
			fmt.Sprintf("%.2f", p.LTP),
			output.FormatPnL(p.PnL),
		)
	}
	table.Render()
	output.Println()
	output.Printf("Total P&L: %s\n", output.FormatPnL(snap.TotalPnL))
}

func newSummariesCmd(app *App) *cobra.Command {
	var owner string
	var limit int

	cmd := &cobra.Command{
		Use:   "summaries",
		Short: "List recorded day summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			list, err := svc.store.ListDaySummaries(cmd.Context(), app.owner(owner), limit)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				if list == nil {
					list = []models.DaySummary{}
				}
				return output.JSON(list)
			}
			if len(list) == 0 {
				output.Info("No summaries recorded")
				return nil
			}
			table := NewTable(output, "DATE", "TRADES", "P&L", "RECORDED")
			for _, s := range list {
				table.AddRow(s.Date, fmt.Sprintf("%d", s.NumTrades), output.FormatPnL(s.TotalPnL), FormatDateTime(s.CreatedAt))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "account owner (default: api.default_owner)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 30, "maximum rows")
	return cmd
}
