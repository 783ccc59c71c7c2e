package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// OutputFormat represents the supported output formats for CLI commands.
type OutputFormat string

const (
	// OutputFormatTable formats output as a table
	OutputFormatTable OutputFormat = "table"
	// OutputFormatWide formats output as a table with additional columns
	OutputFormatWide OutputFormat = "wide"
	// OutputFormatJSON formats output as JSON
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML formats output as YAML
	OutputFormatYAML OutputFormat = "yaml"
)

// ValidOutputFormats lists every accepted --output value.
var ValidOutputFormats = []OutputFormat{
	OutputFormatTable,
	OutputFormatWide,
	OutputFormatJSON,
	OutputFormatYAML,
}

// ValidateOutputFormat validates that the given format string is a supported output format.
func ValidateOutputFormat(format string) error {
	for _, valid := range ValidOutputFormats {
		if OutputFormat(format) == valid {
			return nil
		}
	}
	return fmt.Errorf("unsupported output format %q (valid: table, wide, json, yaml)", format)
}

// WriteStructured writes v as JSON or YAML. It reports false for table
// formats so the caller can render its own table.
func WriteStructured(w io.Writer, format OutputFormat, v interface{}) (bool, error) {
	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	default:
		return false, nil
	}
}

// WriteRawJSON writes a JSON document in the requested format. Table
// formats fall back to indented JSON.
func WriteRawJSON(w io.Writer, format OutputFormat, raw json.RawMessage) error {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if format == OutputFormatYAML {
		_, err := WriteStructured(w, format, v)
		return err
	}
	_, err := WriteStructured(w, OutputFormatJSON, v)
	return err
}
