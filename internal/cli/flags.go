package cli

import (
	"github.com/spf13/cobra"
)

// CommandFlags holds the output flags shared by commands that print API data.
type CommandFlags struct {
	// OutputFormat specifies the desired output format (table, wide, json, yaml)
	OutputFormat string
	// NoHeaders suppresses the header row in table output
	NoHeaders bool
	// Quiet suppresses progress indicators and non-essential output
	Quiet bool
	// Template renders each result through a Go template instead
	Template string
}

// RegisterOutputFlags registers the output flags on cmd:
//   - --output/-o: Output format (table, wide, json, yaml), default: "table"
//   - --no-headers: Suppress header row in table output
//   - --quiet/-q: Suppress non-essential output
//   - --template: Go template with sprig functions
func RegisterOutputFlags(cmd *cobra.Command, flags *CommandFlags) {
	cmd.Flags().StringVarP(&flags.OutputFormat, "output", "o", string(OutputFormatTable), "Output format (table, wide, json, yaml)")
	cmd.Flags().BoolVar(&flags.NoHeaders, "no-headers", false, "Suppress header row in table output")
	cmd.Flags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	cmd.Flags().StringVar(&flags.Template, "template", "", "Render output with a Go template (sprig functions available)")
}

// Format validates and returns the selected output format.
func (f *CommandFlags) Format() (OutputFormat, error) {
	if err := ValidateOutputFormat(f.OutputFormat); err != nil {
		return "", err
	}
	return OutputFormat(f.OutputFormat), nil
}
