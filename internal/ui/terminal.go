// Package ui provides terminal styling for braid CLI output.
package ui

import (
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor determines whether output should include ANSI color codes.
// termenv covers the informal conventions (https://no-color.org): NO_COLOR
// disables color, so does CLICOLOR=0; CLICOLOR_FORCE enables it even
// without a TTY. Otherwise color follows the TTY check.
func ShouldUseColor() bool {
	if termenv.EnvNoColor() {
		return false
	}
	if force := os.Getenv("CLICOLOR_FORCE"); force != "" && force != "0" {
		return true
	}
	return IsTerminal()
}

// ShouldUseEmoji determines whether output should include emoji icons.
// BRAID_NO_EMOJI disables them; otherwise emoji follows the TTY check
// so piped output stays plain.
func ShouldUseEmoji() bool {
	if os.Getenv("BRAID_NO_EMOJI") != "" {
		return false
	}
	return IsTerminal()
}

// IsAgentMode reports whether braid is being driven by automation rather
// than a human. Agent mode keeps output stable for parsing: no markdown
// rendering, no pager. Set BRAID_AGENT_MODE=1 to enable.
func IsAgentMode() bool {
	mode := os.Getenv("BRAID_AGENT_MODE")
	return mode != "" && mode != "0"
}
