package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"irisctl/internal/cli"
	"irisctl/internal/session"
)

// authStatusCmd represents the auth status command
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the stored credentials",
	Long: `Show whether the stored refresh and access credentials are valid and
when they expire. A credential within ten minutes of its expiry is
reported as expired, since it would be renewed before the next call.`,
	Args: cobra.NoArgs,
	RunE: runAuthStatus,
}

func init() {
	authStatusCmd.Flags().StringVarP(&authStatusOutput, "output", "o", string(cli.OutputFormatTable), "Output format (table, json, yaml)")
}

// credentialStatus is the printable form of session.CredentialState.
type credentialStatus struct {
	Present   bool       `json:"present" yaml:"present"`
	Valid     bool       `json:"valid" yaml:"valid"`
	KeyID     string     `json:"keyId,omitempty" yaml:"keyId,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
}

// authStatus is the printable session state.
type authStatus struct {
	Endpoint string           `json:"endpoint" yaml:"endpoint"`
	Username string           `json:"username,omitempty" yaml:"username,omitempty"`
	LoggedIn bool             `json:"loggedIn" yaml:"loggedIn"`
	Debug    bool             `json:"debug,omitempty" yaml:"debug,omitempty"`
	Refresh  credentialStatus `json:"refresh" yaml:"refresh"`
	Access   credentialStatus `json:"access" yaml:"access"`
}

func newCredentialStatus(c session.CredentialState) credentialStatus {
	s := credentialStatus{Present: c.Present, Valid: c.Valid, KeyID: c.KeyID}
	if c.Expiry != nil {
		at := c.ExpiresAt().UTC()
		s.ExpiresAt = &at
	}
	return s
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	if err := cli.ValidateOutputFormat(authStatusOutput); err != nil {
		return err
	}
	return withApp(cmd, func(a *app) error {
		ctx := cmd.Context()
		now := time.Now()

		state, err := session.Inspect(ctx, a.store, now)
		if err != nil {
			return err
		}
		username, err := a.profile.Username(ctx)
		if err != nil {
			return err
		}

		status := authStatus{
			Endpoint: a.cfg.BaseURL,
			Username: username,
			LoggedIn: state.LoggedIn(),
			Debug:    a.cfg.Debug,
			Refresh:  newCredentialStatus(state.Refresh),
			Access:   newCredentialStatus(state.Access),
		}

		if ok, err := cli.WriteStructured(cmd.OutOrStdout(), cli.OutputFormat(authStatusOutput), status); ok {
			return err
		}
		printAuthStatus(cmd.OutOrStdout(), status, now)
		return nil
	})
}

func printAuthStatus(w io.Writer, s authStatus, now time.Time) {
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = "(not configured)"
	}
	fmt.Fprintf(w, "Endpoint:  %s\n", endpoint)
	if s.Debug {
		fmt.Fprintf(w, "Mode:      %s\n", text.FgYellow.Sprint("debug (credentials are not renewed)"))
	}
	if s.LoggedIn {
		user := s.Username
		if user == "" {
			user = "unknown user"
		}
		fmt.Fprintf(w, "Status:    %s as %s\n", text.FgGreen.Sprint("Logged in"), user)
	} else {
		fmt.Fprintf(w, "Status:    %s\n", text.FgYellow.Sprint("Not logged in"))
	}
	fmt.Fprintf(w, "Refresh:   %s\n", describeCredential(s.Refresh, now))
	fmt.Fprintf(w, "Access:    %s\n", describeCredential(s.Access, now))
	if !s.LoggedIn {
		fmt.Fprintln(w, "\nTo log in, run: irisctl auth login")
	}
}

func describeCredential(c credentialStatus, now time.Time) string {
	switch {
	case !c.Present:
		return "none"
	case c.ExpiresAt == nil:
		return text.FgYellow.Sprint("expired (no expiry stored)")
	default:
		return fmt.Sprintf("key %s, %s", dashIfEmpty(c.KeyID), formatExpiryWithDirection(*c.ExpiresAt, now))
	}
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "expired"
	}
	if d < time.Minute {
		return "< 1 minute"
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	days := int(d.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

// formatExpiryWithDirection formats a time as "expires in X" or "expired X ago".
// Times inside the renewal leeway read as expired.
func formatExpiryWithDirection(expiresAt, now time.Time) string {
	remaining := expiresAt.Sub(now)
	if remaining > session.TokenRenewalLeeway {
		return "expires in " + formatDuration(remaining)
	}
	if remaining > 0 {
		return text.FgYellow.Sprintf("renewal due, expires in %s", formatDuration(remaining))
	}
	return text.FgYellow.Sprintf("expired %s ago", formatDuration(-remaining))
}
