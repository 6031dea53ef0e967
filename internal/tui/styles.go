// Package tui provides a live terminal view of a running child process.
//
// The view is a Bubble Tea program styled with Lipgloss. It shows the
// command and its state, the latest stdout and stderr lines in two panes,
// the output rate and how many lines the display had to drop.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Palette
// =============================================================================

// Colors adapt to light and dark terminal backgrounds.
var (
	colorPrimary = lipgloss.AdaptiveColor{Light: "#5B21B6", Dark: "#7C3AED"}
	colorHeading = lipgloss.AdaptiveColor{Light: "#0E7490", Dark: "#06B6D4"}
	colorStderr  = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}

	colorSuccess = lipgloss.AdaptiveColor{Light: "#047857", Dark: "#10B981"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#F59E0B"}
	colorError   = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#EF4444"}
	colorInfo    = lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#3B82F6"}

	colorText   = lipgloss.AdaptiveColor{Light: "#111827", Dark: "#E5E7EB"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#4B5563", Dark: "#9CA3AF"}
	colorDim    = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6B7280"}
	colorBorder = lipgloss.AdaptiveColor{Light: "#D1D5DB", Dark: "#374151"}
)

func fg(c lipgloss.TerminalColor) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

func boldFg(c lipgloss.TerminalColor) lipgloss.Style {
	return fg(c).Bold(true)
}

// =============================================================================
// Styles
// =============================================================================

var (
	mutedStyle = fg(colorMuted)
	dimStyle   = fg(colorDim)

	labelStyle     = fg(colorMuted).Width(20)
	valueStyle     = boldFg(colorText)
	valueGoodStyle = boldFg(colorSuccess)
	valueBadStyle  = boldFg(colorError)
	valueWarnStyle = boldFg(colorWarning)

	headerStyle = boldFg(colorText).
			Background(colorPrimary).
			Padding(0, 1).
			MarginBottom(1)

	sectionHeaderStyle = boldFg(colorHeading).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorBorder)

	footerStyle = fg(colorMuted).MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	// Panes are boxes; the focused one is outlined in the primary color.
	paneStyle        = boxStyle
	paneFocusedStyle = boxStyle.BorderForeground(colorPrimary)
	paneTitleStyle   = boldFg(colorHeading)
	stderrLineStyle  = fg(colorStderr)

	progressFullStyle  = fg(colorPrimary)
	progressEmptyStyle = fg(colorBorder)
)

// =============================================================================
// Display health
// =============================================================================

// DisplayStatus says how well the display keeps up with the child's output.
type DisplayStatus int

const (
	DisplayStatusOK DisplayStatus = iota
	DisplayStatusDegraded
	DisplayStatusSeverelyDegraded
)

// severeDropRate is the share of dropped lines above which the display is
// severely degraded.
const severeDropRate = 0.10

// GetDisplayStatus classifies a drop rate.
func GetDisplayStatus(dropRate float64) DisplayStatus {
	switch {
	case dropRate > severeDropRate:
		return DisplayStatusSeverelyDegraded
	case dropRate > 0:
		return DisplayStatusDegraded
	default:
		return DisplayStatusOK
	}
}

// GetDisplayLabel returns the styled header badge for a drop rate.
func GetDisplayLabel(dropRate float64) string {
	switch GetDisplayStatus(dropRate) {
	case DisplayStatusSeverelyDegraded:
		return boldFg(colorError).Render("● Display (severely degraded)")
	case DisplayStatusDegraded:
		return boldFg(colorWarning).Render("● Display (degraded)")
	default:
		return boldFg(colorSuccess).Render("● Display")
	}
}

// =============================================================================
// Run state
// =============================================================================

// stateColors maps supervisor states and run outcomes to colors. Anything
// missing is a failure.
var stateColors = map[string]lipgloss.AdaptiveColor{
	"starting": colorInfo,
	"running":  colorInfo,
	"ok":       colorSuccess,
	"backoff":  colorWarning,
	"aborting": colorWarning,
	"aborted":  colorWarning,
	"nonzero":  colorWarning,
}

// GetStateStyle returns the style for a run state or outcome.
func GetStateStyle(state string) lipgloss.Style {
	c, ok := stateColors[state]
	if !ok {
		c = colorError
	}
	return boldFg(c)
}

// GetExitCodeStyle returns the style for an exit code. -1 means none yet.
func GetExitCodeStyle(code int) lipgloss.Style {
	switch {
	case code < 0:
		return dimStyle
	case code == 0:
		return valueGoodStyle
	default:
		return valueBadStyle
	}
}

// =============================================================================
// Widgets
// =============================================================================

// RenderKeyValue renders "label: value" with the label in a fixed column.
func RenderKeyValue(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(value),
	)
}

// RenderProgressBar renders a bar of width cells (at least 10) followed by
// the percentage. progress is clamped to [0, 1].
func RenderProgressBar(progress float64, width int) string {
	width = max(width, 10)
	progress = min(max(progress, 0), 1)

	filled := int(progress * float64(width))
	return progressFullStyle.Render(strings.Repeat("█", filled)) +
		progressEmptyStyle.Render(strings.Repeat("░", width-filled)) +
		valueStyle.Render(fmt.Sprintf(" %3.0f%%", progress*100))
}
