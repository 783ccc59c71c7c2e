package cmd

import (
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"irisctl/internal/cli"
	"irisctl/internal/session"
)

// Login-specific flags
var loginForce bool

// authLoginCmd represents the auth login command
var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to Iris",
	Long: `Log in to Iris through the SSO page.

The login page opens in the system browser only when the stored refresh
credential is missing or about to expire. Use --force to log in again and
ask the SSO provider for a fresh login, for example to switch users.

Examples:
  irisctl auth login
  irisctl auth login --force`,
	Args: cobra.NoArgs,
	RunE: runAuthLogin,
}

func init() {
	authLoginCmd.Flags().BoolVar(&loginForce, "force", false, "Log in even if the session is still valid")
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		ctx := cmd.Context()

		progress := cli.StartProgress(cmd.ErrOrStderr(), "Waiting for login to complete...", authQuiet)
		err := a.renewer.EnsureRefreshToken(ctx, loginForce)
		if err == nil {
			err = a.renewer.EnsureAccessToken(ctx)
		}
		if err != nil {
			if errors.Is(err, session.ErrLoginAbandoned) {
				progress.Fail("Login cancelled")
			} else {
				progress.Fail("Login failed")
			}
			return err
		}
		progress.Stop()

		if authQuiet {
			return nil
		}
		username, err := a.profile.Username(ctx)
		if err != nil {
			return err
		}
		if username == "" {
			username = "unknown user"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Logged in as %s\n", text.FgGreen.Sprint("✓"), username)
		return nil
	})
}
