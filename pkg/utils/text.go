// Package utils provides shared utilities for text, math, and logging.
package utils

import "unicode/utf8"

// Truncate shortens s to at most maxLen runes, appending "..." when cut.
// A non-positive maxLen returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}
