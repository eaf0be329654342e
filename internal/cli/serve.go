package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/Hari-sh-S/options-algo/internal/api"
	"github.com/Hari-sh-S/options-algo/internal/squareoff"
)

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API, job scheduler and square-off timers",
		Long: `Start the HTTP API together with the job scheduler and square-off timers.

Pending jobs and today's square-off schedules are restored from the store on
start. SIGINT or SIGTERM stops new work and shuts the API down gracefully.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			return runServe(cmd, app, addr)
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides api.addr)")
	return cmd
}

func runServe(cmd *cobra.Command, app *App, addr string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	output := NewOutput(cmd)
	logger := app.Logger

	if debug, _ := cmd.Flags().GetBool("debug"); !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	svc, err := app.openServices(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.scheduler.Start(ctx); err != nil {
		return err
	}
	defer svc.scheduler.Stop()

	if err := svc.squareoff.Restore(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to restore square-off schedules")
	}
	defer svc.squareoff.Stop()

	if at := app.Config.SquareOff.DailyAt; at != "" {
		daily, err := squareoff.NewDaily(context.WithoutCancel(ctx), svc.squareoff, svc.accounts.Owners(), at, logger)
		if err != nil {
			return err
		}
		daily.Start()
		defer daily.Stop()
	}

	apiCfg := app.Config.API
	if addr != "" {
		apiCfg.Addr = addr
	}
	server := api.NewServer(apiCfg, api.Deps{
		Executor:  svc.orchestrator,
		Scheduler: svc.scheduler,
		SquareOff: svc.squareoff,
		Positions: svc.positions,
		Summaries: svc.store,
		Fills:     svc.fills,
		Accounts:  svc.accounts,
		Breakers:  svc.breakers,
	}, logger)

	if !output.IsJSON() {
		output.Success("● Serving on http://%s (%s mode)", apiCfg.Addr, app.Config.Trading.Mode)
		output.Dim("  accounts: %v", svc.accounts.Owners())
	}
	logger.Info().
		Str("addr", apiCfg.Addr).
		Str("mode", app.Config.Trading.Mode).
		Str("store", app.Config.Store.Backend).
		Msg("Starting server")

	if err := server.Run(ctx); err != nil {
		return err
	}
	logger.Info().Msg("Server stopped")
	return nil
}
