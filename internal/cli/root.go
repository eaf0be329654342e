// Package cli provides the command-line interface for the options algo.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Hari-sh-S/options-algo/internal/config"
	"github.com/Hari-sh-S/options-algo/internal/logging"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2024-06-20"
)

// App holds what every command shares. Config and Logger are loaded in the
// root command's pre-run so --config and --debug take effect.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "algo",
		Short: "Multi-leg options execution with scheduling and auto square-off",
		Long: `algo sells NIFTY and SENSEX option straddles and strangles as one unit:
it picks strikes, places both entry legs together, confirms fills and only then
places stop-losses. Strategies can be deferred to a wall-clock time, and every
position can be squared off automatically at a set time.

Run 'algo serve' to start the API, scheduler and square-off timers. The 'jobs'
and 'squareoff set|get|cancel' commands talk to a running server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.load(cmd)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/options-algo)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newServeCmd(app))
	rootCmd.AddCommand(newExecuteCmd(app))
	rootCmd.AddCommand(newPositionsCmd(app))
	rootCmd.AddCommand(newSummariesCmd(app))
	rootCmd.AddCommand(newSquareOffCmd(app))
	rootCmd.AddCommand(newJobsCmd(app))
	rootCmd.AddCommand(newAuthCmd(app))

	return rootCmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func (a *App) load(cmd *cobra.Command) error {
	a.ConfigDir, _ = cmd.Flags().GetString("config")
	if a.ConfigDir == "" {
		a.ConfigDir = config.DefaultConfigDir()
	}

	cfg, err := config.Load(a.ConfigDir)
	if err != nil {
		return err
	}
	a.Config = cfg

	logCfg := logging.LogConfig{
		Level:      cfg.Logging.Level,
		Console:    cfg.Logging.Console,
		File:       cfg.Logging.File,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	}
	a.Logger = logging.NewLoggerWithConfig(logCfg)

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logging.SetDebugLevel()
		a.Logger = a.Logger.Level(zerolog.DebugLevel)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("options-algo v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and check the application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(redacted(app.Config))
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": app.ConfigDir})
			}
			output.Println(app.ConfigDir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

// redacted copies cfg without secrets.
func redacted(cfg *config.Config) config.Config {
	out := *cfg
	out.Credentials = config.Credentials{}
	if out.Store.RedisPassword != "" {
		out.Store.RedisPassword = "***"
	}
	if out.Notifications.Telegram.BotToken != "" {
		out.Notifications.Telegram.BotToken = "***"
	}
	return out
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Trading")
	output.Printf("  Mode:             %s\n", cfg.Trading.Mode)
	output.Printf("  Product:          %s\n", cfg.Trading.Product)
	output.Printf("  Accounts:         %v\n", cfg.Owners())
	output.Println()

	output.Bold("Execution")
	output.Printf("  Poll interval:    %s\n", cfg.Execution.PollInterval)
	output.Printf("  Fill timeout:     %s\n", cfg.Execution.FillTimeout)
	output.Printf("  SL tick size:     %.2f\n", cfg.StopLoss.TickSize)
	output.Println()

	output.Bold("Scheduler")
	output.Printf("  Missed policy:    %s (grace %s)\n", cfg.Scheduler.MissedPolicy, cfg.Scheduler.MissedGrace)
	daily := cfg.SquareOff.DailyAt
	if daily == "" {
		daily = "off"
	}
	output.Printf("  Daily square-off: %s\n", daily)
	output.Println()

	output.Bold("Storage & API")
	output.Printf("  Store:            %s\n", cfg.Store.Backend)
	switch cfg.Store.Backend {
	case "sqlite":
		output.Printf("  SQLite path:      %s\n", cfg.Store.SQLitePath)
	case "redis":
		output.Printf("  Redis:            %s (db %d, prefix %s)\n", cfg.Store.RedisAddr, cfg.Store.RedisDB, cfg.Store.RedisPrefix)
	}
	output.Printf("  API address:      %s\n", cfg.API.Addr)
	output.Printf("  Default owner:    %s\n", cfg.API.DefaultOwner)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Enabled:          %v\n", cfg.Notifications.Enabled)
	output.Printf("  Level:            %s\n", cfg.Notifications.Level)
	output.Printf("  Webhook:          %v\n", cfg.Notifications.Webhook.Enabled)
	output.Printf("  Telegram:         %v\n", cfg.Notifications.Telegram.Enabled)
}
