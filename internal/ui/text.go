// Package ui provides terminal styling for braid CLI output.
package ui

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Truncation defaults for issue descriptions in inspect output.
const (
	DefaultMaxLines     = 15 // lines shown before truncation kicks in
	DefaultContextLines = 5  // lines kept at each end of truncated text
)

// TruncateLines shortens text to at most maxLines, keeping contextLines
// from the beginning and end with a hidden-line marker between them.
// Text at or under the limit comes back unchanged.
func TruncateLines(text string, maxLines, contextLines int) string {
	if text == "" {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) <= maxLines {
		return text
	}
	if contextLines < 1 {
		contextLines = DefaultContextLines
	}
	// Not enough room for head + marker + tail; fall back to a plain cut.
	if maxLines < contextLines*2+3 {
		return strings.Join(lines[:maxLines], "\n") + "\n..."
	}

	hidden := len(lines) - contextLines*2
	rule := RenderMuted(strings.Repeat("─", 40))

	var b strings.Builder
	b.WriteString(strings.Join(lines[:contextLines], "\n"))
	b.WriteString("\n" + rule + "\n")
	b.WriteString(RenderMuted("... (" + strconv.Itoa(hidden) + " lines hidden; use --full for the complete text)"))
	b.WriteString("\n" + rule + "\n")
	b.WriteString(strings.Join(lines[len(lines)-contextLines:], "\n"))
	return b.String()
}

// TruncateSimple cuts text to maxLen runes with a "..." suffix.
func TruncateSimple(text string, maxLen int) string {
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(text)
	return string(runes[:maxLen-3]) + "..."
}

// ShouldTruncate reports whether text exceeds either threshold. A zero
// threshold is ignored.
func ShouldTruncate(text string, maxLines, maxChars int) bool {
	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		return true
	}
	if maxLines > 0 && strings.Count(text, "\n")+1 > maxLines {
		return true
	}
	return false
}
