package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"irisctl/internal/cli"
	"irisctl/internal/config"
	"irisctl/pkg/logging"
)

// Persistent flags shared by every command.
var (
	configPath      string
	debugMode       bool
	logLevel        string
	noLogin         bool
	metricsTextfile string
)

// logOutput is where log lines go once initLogging has run.
var logOutput io.Writer

// rootCmd represents the base command for the irisctl application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "irisctl",
	Short: "Work with Iris incidents from the terminal",
	Long: `irisctl is a terminal client for the Iris incident management API.

It keeps an SSO session in ~/.config/irisctl, renewing the short-lived
access credential automatically and opening the browser for a login
only when the refresh credential has expired.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
	// Errors are printed by Execute once they have been classified.
	SilenceErrors:     true,
	PersistentPreRunE: initLogging,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "irisctl version %s\n" .Version}}`)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		err = classifyError(err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

// classifyError maps command errors onto the CLI error types that carry
// exit codes.
func classifyError(err error) error {
	if errors.Is(err, errLoginDisabled) {
		return &cli.AuthRequiredError{Endpoint: currentEndpoint}
	}
	return cli.Classify(err, currentEndpoint)
}

// initLogging configures logging from --log-level before any command runs.
// The config file level is applied later, once the file has been read.
func initLogging(cmd *cobra.Command, args []string) error {
	name := logLevel
	if name == "" {
		name = config.DefaultLogLevel
	}
	level, err := logging.ParseLevel(name)
	if err != nil {
		return err
	}
	logOutput = cmd.ErrOrStderr()
	logging.InitForCLI(level, logOutput)
	return nil
}

// writeMetrics dumps reg to the --metrics-textfile path, when one was given.
func writeMetrics(reg *prometheus.Registry) {
	if metricsTextfile == "" || reg == nil {
		return
	}
	if err := prometheus.WriteToTextfile(metricsTextfile, reg); err != nil {
		logging.Warn("CLI", "Failed to write metrics to %s: %v", metricsTextfile, err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is $HOME/.config/irisctl/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Skip credential renewal (offline mode)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noLogin, "no-login", false, "Fail with exit code 2 instead of opening the browser to log in")
	rootCmd.PersistentFlags().StringVar(&metricsTextfile, "metrics-textfile", "", "Write session metrics in Prometheus text format to this file on exit")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}
