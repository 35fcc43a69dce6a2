// Package utils provides shared utilities for text, math, and logging.
package utils

import (
	"strings"
	"unicode/utf8"
)

// Ellipsis is appended to truncated text.
const Ellipsis = "…"

// Truncate returns s cut to at most maxLen characters (runes), ending in Ellipsis when cut.
// The ellipsis counts toward maxLen. If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	keep := maxLen - 1
	n := 0
	for i := range s {
		if n == keep {
			return strings.TrimRight(s[:i], " \t\n") + Ellipsis
		}
		n++
	}
	return s
}

// SplitLines splits text on "\n", dropping a trailing "\r" from each line.
// A trailing newline does not produce an extra empty line.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
