// Package cli holds the presentation layer shared by irisctl commands.
//
// It maps session and API failures to user-facing errors and exit codes,
// renders incidents as tables, JSON, YAML or Go templates with sprig
// functions, and shows a spinner while slow steps such as the browser login
// are in progress.
package cli
