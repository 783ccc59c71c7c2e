package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// newVersionCmd creates the command that prints the build version.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of irisctl",
		Long:  `Print the irisctl version along with the Go runtime and platform it was built for.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "irisctl version %s (%s, %s/%s)\n",
				rootCmd.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
