package mapper

import (
	"fmt"
	"regexp"
	"strings"
)

// The footer is the only cross-system pointer embedded in free text:
//
//	\n\n---\nHuly Issue: ACME-17
//	Parent: ACME-9        (optional, next line)
//
// Labels are case-sensitive; trailing whitespace is tolerated. Store holds
// the authoritative linkage; the footer is rendered and parsed only here,
// at the external boundary.

const footerSeparator = "\n\n---\n"

var (
	identifierRe = regexp.MustCompile(`(?m)^Huly Issue:[ \t]*([A-Z][A-Z0-9_]*-\d+)[ \t\r]*$`)
	parentRe     = regexp.MustCompile(`(?m)^Parent:[ \t]*([A-Z][A-Z0-9_]*-\d+)[ \t\r]*$`)
	footerRe     = regexp.MustCompile(`(?:\r?\n)*\r?\n---\r?\nHuly Issue:[ \t]*[A-Z][A-Z0-9_]*-\d+[ \t\r]*(?:\r?\nParent:[ \t]*[A-Z][A-Z0-9_]*-\d+[ \t\r]*)?[ \t\r\n]*$`)
)

// RenderFooter renders the description footer for an issue. parentIdentifier
// may be empty.
func RenderFooter(identifier, parentIdentifier string) string {
	if parentIdentifier == "" {
		return fmt.Sprintf("%sHuly Issue: %s", footerSeparator, identifier)
	}
	return fmt.Sprintf("%sHuly Issue: %s\nParent: %s", footerSeparator, identifier, parentIdentifier)
}

// WithFooter appends the footer to a description, replacing any footer the
// text already carries so repeated renders stay idempotent.
func WithFooter(description, identifier, parentIdentifier string) string {
	return StripFooter(description) + RenderFooter(identifier, parentIdentifier)
}

// ExtractIdentifier returns the Huly identifier referenced by a description
// footer, or "" when the text carries none. Matching is case-sensitive on
// the "Huly Issue:" label and tolerant of trailing whitespace.
func ExtractIdentifier(text string) string {
	m := identifierRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// ExtractParent returns the parent identifier from a footer, or "".
func ExtractParent(text string) string {
	m := parentRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// StripFooter removes a trailing footer block, returning the bare
// description. Text without a footer is returned unchanged apart from
// trailing-whitespace trimming, so footer-stripped comparisons are stable
// across systems that trim differently.
func StripFooter(text string) string {
	stripped := footerRe.ReplaceAllString(text, "")
	return strings.TrimRight(stripped, " \t\r\n")
}

// HasFooter reports whether the text ends in a well-formed footer.
func HasFooter(text string) bool {
	return footerRe.MatchString(text)
}
