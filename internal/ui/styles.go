// Package ui provides terminal styling for braid CLI output.
// Colors come from the Ayu palette and adapt to light/dark terminals.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorPass   = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	colorWarn   = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	colorFail   = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	colorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
)

var (
	passStyle     = lipgloss.NewStyle().Foreground(colorPass)
	warnStyle     = lipgloss.NewStyle().Foreground(colorWarn)
	failStyle     = lipgloss.NewStyle().Foreground(colorFail)
	mutedStyle    = lipgloss.NewStyle().Foreground(colorMuted)
	accentStyle   = lipgloss.NewStyle().Foreground(colorAccent)
	categoryStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
)

// Status icons shared by every command's output.
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconSkip = "-"
	IconInfo = "ℹ"
)

// TreeLast prefixes a detail line nested under a result line.
const TreeLast = "└─ "

const separator = "──────────────────────────────────────────"

// RenderPass styles text as a success (green).
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn styles text as a warning (yellow).
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail styles text as a failure (red).
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted styles secondary text (gray).
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderAccent styles identifiers and highlights (blue).
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderCategory styles a section header: bold accent, uppercased.
func RenderCategory(s string) string { return categoryStyle.Render(strings.ToUpper(s)) }

// RenderSeparator renders the muted rule under a section header.
func RenderSeparator() string { return mutedStyle.Render(separator) }

// RenderPassIcon renders the success icon.
func RenderPassIcon() string { return passStyle.Render(IconPass) }

// RenderWarnIcon renders the warning icon.
func RenderWarnIcon() string { return warnStyle.Render(IconWarn) }

// RenderFailIcon renders the failure icon.
func RenderFailIcon() string { return failStyle.Render(IconFail) }

// RenderSkipIcon renders the skipped icon.
func RenderSkipIcon() string { return mutedStyle.Render(IconSkip) }

// RenderInfoIcon renders the informational icon.
func RenderInfoIcon() string { return accentStyle.Render(IconInfo) }
