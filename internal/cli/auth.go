package cli

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Hari-sh-S/options-algo/internal/broker"
)

func newAuthCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Kite Connect sessions for live accounts",
	}
	cmd.AddCommand(newLoginCmd(app))
	cmd.AddCommand(newAuthStatusCmd(app))
	return cmd
}

func newLoginCmd(app *App) *cobra.Command {
	var owner, token string
	var noBrowser bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log a live account in to Kite Connect",
		Long: `Open the Kite login page and exchange the request token for a session.

After logging in, Kite redirects to a URL like
  https://your-redirect-url/?request_token=XXXXXX&status=success
Paste the request_token value when prompted, or pass it with --token.
The session is saved and reused until Kite expires it the next morning.`,
		Example: `  algo auth login
  algo auth login --owner alice --token XXXXXX`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			svc, err := app.openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			who := app.owner(owner)
			z, err := svc.zerodha(who)
			if err != nil {
				return err
			}
			if z.IsAuthenticated() && token == "" {
				output.Success("✓ %s is already logged in", who)
				return nil
			}

			if token == "" {
				url := z.LoginURL()
				output.Bold("Login URL:")
				output.Println(url)
				output.Println()
				if !noBrowser {
					if err := openURL(url); err != nil {
						output.Warning("Could not open browser automatically")
					}
				}
				output.Bold("Paste the request_token value here:")
				output.Printf("> ")
				line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				token = strings.TrimSpace(line)
				if token == "" {
					return fmt.Errorf("no request token provided")
				}
			}

			output.Info("Completing login...")
			if err := z.CompleteLogin(ctx, token); err != nil {
				output.Error("Login failed: %v", err)
				return err
			}
			output.Success("✓ %s logged in", who)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "account owner (default: api.default_owner)")
	cmd.Flags().StringVar(&token, "token", "", "request token from the redirect URL")
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "print the login URL without opening a browser")
	return cmd
}

func newAuthStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show each account's mode and session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			type row struct {
				Owner         string `json:"owner"`
				Mode          string `json:"mode"`
				Authenticated bool   `json:"authenticated"`
			}
			var rows []row
			for _, owner := range svc.accounts.Owners() {
				acct, err := svc.accounts.Resolve(owner)
				if err != nil {
					continue
				}
				r := row{Owner: owner, Mode: string(acct.Mode), Authenticated: true}
				if z, err := svc.zerodha(owner); err == nil {
					r.Authenticated = z.IsAuthenticated()
				}
				rows = append(rows, r)
			}

			if output.IsJSON() {
				return output.JSON(rows)
			}
			table := NewTable(output, "OWNER", "MODE", "SESSION")
			for _, r := range rows {
				session := output.Green("active")
				switch {
				case r.Mode == string(broker.ModePaper):
					session = output.DimText("n/a")
				case !r.Authenticated:
					session = output.Red("logged out")
				}
				table.AddRow(r.Owner, r.Mode, session)
			}
			table.Render()
			return nil
		},
	}
}

// openURL opens url in the default browser.
func openURL(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
