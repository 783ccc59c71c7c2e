package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"irisctl/internal/session"
)

var (
	authQuiet        bool
	debugLoginUser   string
	authStatusOutput string
)

// authCmd represents the auth command group
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the Iris session",
	Long: `Manage the Iris SSO session used by irisctl.

Other commands log in on demand. These subcommands let you log in ahead
of time, inspect the stored credentials, and end the session.

Examples:
  irisctl auth login                   # Log in if the session has expired
  irisctl auth login --force           # Log in again, possibly as another user
  irisctl auth status                  # Show credential validity
  irisctl auth logout                  # Expire the stored credentials`,
}

// authLogoutCmd represents the auth logout command
var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Expire the stored credentials",
	Long: `Expire the stored credentials.

The tokens are kept but their expiries are removed, so the next command
that needs the API opens the login page.`,
	Args: cobra.NoArgs,
	RunE: runAuthLogout,
}

// authDebugLoginCmd represents the auth debug-login command
var authDebugLoginCmd = &cobra.Command{
	Use:   "debug-login",
	Short: "Store placeholder credentials for offline use",
	Long: `Store a placeholder access credential and username.

Use together with --debug (or debug: true in the config file) to run
irisctl against a server that does not check credentials.`,
	Args: cobra.NoArgs,
	RunE: runAuthDebugLogin,
}

func init() {
	authCmd.PersistentFlags().BoolVarP(&authQuiet, "quiet", "q", false, "Suppress non-essential output")
	authDebugLoginCmd.Flags().StringVar(&debugLoginUser, "username", "", "Username to record (default: username from the config file)")

	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authDebugLoginCmd)
	rootCmd.AddCommand(authCmd)
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		if err := session.Logout(cmd.Context(), a.store); err != nil {
			return err
		}
		a.client.ClearIncidents()
		if !authQuiet {
			fmt.Fprintf(cmd.OutOrStdout(), "%s Logged out\n", text.FgGreen.Sprint("✓"))
		}
		return nil
	})
}

func runAuthDebugLogin(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		username := debugLoginUser
		if username == "" {
			username = a.cfg.Username
		}
		if username == "" {
			return fmt.Errorf("a username is required: pass --username or set username in the config file")
		}
		if err := session.DebugLogin(cmd.Context(), a.store, a.profile, username); err != nil {
			return err
		}
		if !authQuiet {
			fmt.Fprintf(cmd.OutOrStdout(), "Stored debug credentials for %s\n", username)
			if !a.cfg.Debug {
				fmt.Fprintln(cmd.ErrOrStderr(), text.FgYellow.Sprint("Debug credentials are only accepted with --debug."))
			}
		}
		return nil
	})
}
