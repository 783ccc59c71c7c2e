package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"irisctl/internal/cli"
)

var apiOutput string

// appCmd represents the app command group
var appCmd = &cobra.Command{
	Use:   "app",
	Short: "Inspect Iris applications",
}

var appTemplateCmd = &cobra.Command{
	Use:   "template APP",
	Short: "Print the mobile template of an application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.ValidateOutputFormat(apiOutput); err != nil {
			return err
		}
		return withApp(cmd, func(a *app) error {
			tmpl, err := a.client.GetTemplate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return cli.WriteRawJSON(cmd.OutOrStdout(), cli.OutputFormat(apiOutput), tmpl)
		})
	},
}

var graphCmd = &cobra.Command{
	Use:   "graph SOURCE",
	Short: "Fetch the rendered graphs for a graph source URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.ValidateOutputFormat(apiOutput); err != nil {
			return err
		}
		return withApp(cmd, func(a *app) error {
			graph, err := a.client.GetGraph(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ok, err := cli.WriteStructured(out, cli.OutputFormat(apiOutput), graph); ok {
				return err
			}
			fmt.Fprintf(out, "Current:   %s\n", graph.Current)
			fmt.Fprintf(out, "Original:  %s\n", graph.Original)
			return nil
		})
	},
}

// deviceCmd represents the device command group
var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage push notification devices",
}

var deviceRegisterCmd = &cobra.Command{
	Use:   "register REGISTRATION_ID PLATFORM",
	Short: "Register a device for push notifications",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			if err := a.client.Register(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s device\n", args[1])
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{appTemplateCmd, graphCmd} {
		c.Flags().StringVarP(&apiOutput, "output", "o", string(cli.OutputFormatJSON), "Output format (json, yaml)")
	}

	appCmd.AddCommand(appTemplateCmd)
	deviceCmd.AddCommand(deviceRegisterCmd)
	rootCmd.AddCommand(appCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(deviceCmd)
}
