package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-procrun/internal/process"
)

// chromeLines is the number of rows used by everything except the panes.
const chromeLines = 14

// =============================================================================
// Main View Rendering
// =============================================================================

func (m Model) renderView() string {
	sections := []string{
		m.renderHeader(),
		m.renderStatus(),
	}
	if m.totalRuns > 1 {
		sections = append(sections, m.renderProgress())
	}
	sections = append(sections,
		m.renderPane(process.Stdout),
		m.renderPane(process.Stderr),
		m.renderFooter(),
	)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	header := fmt.Sprintf(
		" procrun │ %s │ Elapsed: %s ",
		GetDisplayLabel(m.DropRate()),
		formatDuration(m.Elapsed()),
	)
	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Status Section
// =============================================================================

func (m Model) renderStatus() string {
	pid := "-"
	if m.pid > 0 {
		pid = fmt.Sprintf("%d", m.pid)
	}
	exitCode := "-"
	if m.exitCode >= 0 {
		exitCode = fmt.Sprintf("%d", m.exitCode)
	}
	state := m.state
	if m.abortErr != nil {
		state += " (" + m.abortErr.Error() + ")"
	}

	runLine := fmt.Sprintf("%d/%d", max(m.run, 1), m.totalRuns)
	if m.attempt > 1 {
		runLine += fmt.Sprintf(" (attempt %d)", m.attempt)
	}

	rows := []string{
		RenderKeyValue("Command", truncate(m.command, m.width-26)),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("State:"),
			GetStateStyle(m.state).Render(state),
		),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("PID:"),
			valueStyle.Width(10).Render(pid),
			mutedStyle.Render("Exit code: "),
			GetExitCodeStyle(m.exitCode).Render(exitCode),
		),
		RenderKeyValue("Run", runLine),
		m.renderRate(),
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m Model) renderRate() string {
	r := m.rateStats
	value := fmt.Sprintf("%s/s (1s)  %s/s (10s)  %s/s (60s)",
		formatBytes(int64(r.Bytes1s)),
		formatBytes(int64(r.Bytes10s)),
		formatBytes(int64(r.Bytes60s)),
	)
	lines := fmt.Sprintf("  %s lines, %s", formatNumber(r.TotalLines), formatRate(r.Lines10s))
	row := lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render("Output:"),
		valueStyle.Render(value),
		mutedStyle.Render(lines),
	)
	if m.dropped > 0 {
		row = lipgloss.JoinHorizontal(lipgloss.Left,
			row,
			valueWarnStyle.Render(fmt.Sprintf("  dropped %s (%s)", formatNumber(m.dropped), formatPercent(m.DropRate()))),
		)
	}
	return row
}

// =============================================================================
// Progress Section
// =============================================================================

func (m Model) renderProgress() string {
	done := m.run - 1
	if m.exited {
		done = m.run
	}
	progress := float64(done) / float64(m.totalRuns)

	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}
	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Runs"),
		RenderProgressBar(progress, barWidth),
	))
}

// =============================================================================
// Output Panes
// =============================================================================

// paneHeight returns the number of output lines each pane shows.
func (m Model) paneHeight() int {
	h := (m.height - chromeLines) / 2
	if h < 3 {
		h = 3
	}
	return h
}

func (m Model) renderPane(s process.Stream) string {
	lines := m.Lines(s)
	height := m.paneHeight()
	if len(lines) > height {
		lines = lines[len(lines)-height:]
	}

	textWidth := m.width - 6
	rendered := make([]string, 0, height+1)
	rendered = append(rendered, paneTitleStyle.Render(fmt.Sprintf("%s (%d)", s, len(m.Lines(s)))))
	for _, line := range lines {
		line = truncate(expandTabs(line), textWidth)
		if s == process.Stderr {
			line = stderrLineStyle.Render(line)
		}
		rendered = append(rendered, line)
	}
	for len(rendered) < height+1 {
		rendered = append(rendered, "")
	}

	style := paneStyle
	if m.focus == s {
		style = paneFocusedStyle
	}
	return style.Width(m.width - 2).Render(strings.Join(rendered, "\n"))
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"q: abort (twice to quit)",
		"tab: switch pane",
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := ""
	if m.metricsAddr != "" {
		right = dimStyle.Render("Metrics: http://" + m.metricsAddr + "/metrics")
	}

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}

// =============================================================================
// Text Helpers
// =============================================================================

// truncate shortens s to at most width display cells, marking the cut.
func truncate(s string, width int) string {
	if width < 4 {
		width = 4
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && lipgloss.Width(string(r)) > width-3 {
		r = r[:len(r)-1]
	}
	return string(r) + "..."
}

// expandTabs replaces tabs with spaces so pane widths stay predictable.
func expandTabs(s string) string {
	return strings.ReplaceAll(s, "\t", "    ")
}
