package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ConfigurationError describes a config file that could not be used.
type ConfigurationError struct {
	FilePath    string   `json:"filePath"`
	ErrorType   string   `json:"errorType"` // io or parse
	Message     string   `json:"message"`
	LineNumber  int      `json:"lineNumber"`
	Suggestions []string `json:"suggestions"`
}

// Error implements the error interface
func (ce *ConfigurationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", ce.ErrorType, filepath.Base(ce.FilePath), ce.Message)
}

// DetailedError returns a detailed error message with all context
func (ce *ConfigurationError) DetailedError() string {
	parts := []string{
		fmt.Sprintf("Configuration Error in %s", filepath.Base(ce.FilePath)),
		fmt.Sprintf("  File: %s", ce.FilePath),
		fmt.Sprintf("  Type: %s", ce.ErrorType),
	}
	if ce.LineNumber > 0 {
		parts = append(parts, fmt.Sprintf("  Line: %d", ce.LineNumber))
	}
	parts = append(parts, fmt.Sprintf("  Error: %s", ce.Message))

	if len(ce.Suggestions) > 0 {
		parts = append(parts, "  Suggestions:")
		for _, suggestion := range ce.Suggestions {
			parts = append(parts, fmt.Sprintf("    - %s", suggestion))
		}
	}
	return strings.Join(parts, "\n")
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(filePath, errorType, message string) *ConfigurationError {
	return &ConfigurationError{
		FilePath:  filePath,
		ErrorType: errorType,
		Message:   message,
	}
}
