package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Hari-sh-S/options-algo/internal/models"
)

func addServerFlags(cmd *cobra.Command, owner *string) {
	cmd.PersistentFlags().String("server", "", "server address (default: api.addr)")
	cmd.PersistentFlags().StringVar(owner, "owner", "", "account owner (default: api.default_owner)")
}

func newJobsCmd(app *App) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Deferred strategy jobs on a running server",
		Long: `Schedule, list and cancel deferred strategies on a running 'algo serve'.

Times are IST. --at accepts HH:MM[:SS] for the next occurrence of that time
today, or a full ISO-8601 timestamp.`,
	}
	addServerFlags(cmd, &owner)

	cmd.AddCommand(newJobsAddCmd(app, &owner))
	cmd.AddCommand(newJobsListCmd(app, &owner))
	cmd.AddCommand(newJobsCancelCmd(app, &owner))
	cmd.AddCommand(newJobsHistoryCmd(app, &owner))
	return cmd
}

func newJobsAddCmd(app *App, owner *string) *cobra.Command {
	var flags strategyFlags
	var at string

	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Schedule a strategy",
		Example: `  algo jobs add --at 09:20 --expiry 2024-06-27 --lots 1 --sl 25`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			req, err := flags.request()
			if err != nil {
				return err
			}

			job, err := app.client(cmd, *owner).scheduleJob(cmd.Context(), req, at)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(job)
			}
			output.Success("✓ Job %s scheduled", job.JobID)
			output.Printf("  %s %s %s x%d lots for %s at %s\n", job.Strategy, job.Index, job.Expiry, job.Lots, job.Owner, displayTime(job.ExecuteAt))
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&at, "at", "", "execution time, HH:MM[:SS] IST or ISO-8601")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func newJobsListCmd(app *App, owner *string) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List pending jobs in firing order",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			jobs, err := app.client(cmd, *owner).listJobs(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				if jobs == nil {
					jobs = []jobReply{}
				}
				return output.JSON(jobs)
			}
			if len(jobs) == 0 {
				output.Info("No pending jobs")
				return nil
			}

			now := time.Now()
			table := NewTable(output, "JOB", "OWNER", "AT", "", "STRATEGY", "INDEX", "EXPIRY", "LOTS")
			for _, j := range jobs {
				countdown := ""
				if t, err := time.Parse(time.RFC3339, j.ExecuteAt); err == nil {
					countdown = output.DimText(FormatCountdown(t, now))
				}
				table.AddRow(j.JobID, j.Owner, displayTime(j.ExecuteAt), countdown, j.Strategy, j.Index, j.Expiry, fmt.Sprintf("%d", j.Lots))
			}
			table.Render()
			return nil
		},
	}
}

func newJobsCancelCmd(app *App, owner *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			msg, err := app.client(cmd, *owner).cancelJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(messageReply{Success: true, Message: msg})
			}
			output.Success("✓ %s", msg)
			return nil
		},
	}
}

func newJobsHistoryCmd(app *App, owner *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent job runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			runs, err := app.client(cmd, *owner).jobHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				if runs == nil {
					runs = []models.JobRun{}
				}
				return output.JSON(runs)
			}
			if len(runs) == 0 {
				output.Info("No job runs yet")
				return nil
			}

			table := NewTable(output, "JOB", "OWNER", "DUE", "FIRED", "OUTCOME", "ERROR")
			for _, r := range runs {
				outcome := string(r.Outcome)
				switch {
				case r.Outcome == models.JobFired && r.Success:
					outcome = output.Green(outcome)
				case r.Outcome == models.JobMissed:
					outcome = output.Yellow(outcome)
				default:
					outcome = output.Red(outcome)
				}
				table.AddRow(r.JobID, r.Owner, FormatTime(r.ExecuteAt), FormatTime(r.FiredAt), outcome, TruncateString(r.Error, 50))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum rows")
	return cmd
}

func newSquareOffCmd(app *App) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "squareoff",
		Short: "Close positions now or at a set time",
		Long: `Cancel pending orders and close every open position.

'now' runs in this process. 'set', 'get' and 'cancel' manage the auto
square-off on a running server.`,
	}
	addServerFlags(cmd, &owner)

	cmd.AddCommand(&cobra.Command{
		Use:   "now",
		Short: "Square off every position immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			report, err := svc.squareoff.SquareOffNow(cmd.Context(), app.owner(owner))
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(report)
			}
			printSquareOff(output, report)
			if report.Partial() {
				return fmt.Errorf("square-off incomplete: %d failures", len(report.Failures))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "set <time>",
		Short:   "Arm the auto square-off (HH:MM[:SS] IST or ISO-8601)",
		Example: `  algo squareoff set 15:15`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			reply, err := app.client(cmd, owner).setAutoSquareOff(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(reply)
			}
			output.Success("✓ Auto square-off armed for %s at %s", reply.Schedule.Owner, FormatDateTime(reply.Schedule.ExecuteAt))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show the armed auto square-off",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			reply, err := app.client(cmd, owner).getAutoSquareOff(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(reply)
			}
			if !reply.Active || reply.Schedule == nil {
				output.Info("No auto square-off armed")
				return nil
			}
			output.Printf("%s at %s (%s)\n", reply.Schedule.Owner, FormatDateTime(reply.Schedule.ExecuteAt), FormatCountdown(reply.Schedule.ExecuteAt, time.Now()))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel",
		Short: "Disarm the auto square-off",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			msg, err := app.client(cmd, owner).cancelAutoSquareOff(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(messageReply{Success: true, Message: msg})
			}
			output.Success("✓ %s", msg)
			return nil
		},
	})

	return cmd
}

func printSquareOff(output *Output, r *models.SquareOffReport) {
	output.Bold("Square-off for %s", r.Owner)
	output.Printf("  Cancelled orders: %d\n", len(r.CancelledOrders))
	output.Printf("  Closed positions: %d\n", len(r.ClosedPositions))

	if len(r.ClosedPositions) > 0 {
		output.Println()
		table := NewTable(output, "SYMBOL", "QTY", "ORDER", "P&L")
		for _, a := range r.ClosedPositions {
			table.AddRow(a.Symbol, fmt.Sprintf("%d", a.Quantity), a.OrderID, output.FormatPnL(a.PnL))
		}
		table.Render()
	}
	for _, f := range r.Failures {
		output.Error("✗ %s %s: %s", f.Symbol, f.OrderID, f.Error)
	}
	if r.Summary != nil {
		output.Println()
		output.Printf("Day P&L: %s over %d trades\n", output.FormatPnL(r.Summary.TotalPnL), r.Summary.NumTrades)
	}
}

// displayTime renders an RFC3339 timestamp from the server in IST.
func displayTime(s string) string {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return FormatDateTime(t)
}
