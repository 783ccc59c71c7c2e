// Package strings holds text helpers for terminal output.
package strings

import (
	"strings"
)

// DefaultCellMaxLen is the widest free-text table cell, in runes.
const DefaultCellMaxLen = 60

// minOneLineLen leaves room for one rune plus the ellipsis.
const minOneLineLen = 4

// OneLine collapses all whitespace in s to single spaces and cuts the result
// to maxLen runes, ending in "..." when cut. Incident titles arrive from
// alert templates and often carry newlines.
func OneLine(s string, maxLen int) string {
	if maxLen < minOneLineLen {
		maxLen = minOneLineLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
