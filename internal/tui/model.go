package tui

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/randomizedcoder/go-procrun/internal/process"
	"github.com/randomizedcoder/go-procrun/internal/stream"
	"github.com/randomizedcoder/go-procrun/internal/timeseries"
)

// maxPaneLines is how many lines each pane keeps.
const maxPaneLines = 500

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// LineMsg carries one line of child output.
type LineMsg process.LineEvent

// StartedMsg reports that a child has been created.
type StartedMsg struct {
	RunID   string
	PID     int
	Run     int // 1-based index of the repeated run
	Attempt int // 1-based attempt within the run
}

// ExitedMsg reports a finished attempt.
type ExitedMsg struct {
	Result process.Result
}

// StateMsg reports a supervisor state change, such as "backoff".
type StateMsg struct {
	State string
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Aborter stops the running child. *process.Runner implements it.
type Aborter interface {
	Abort() (bool, error)
}

// RateSource provides output rates.
type RateSource interface {
	Stats() timeseries.RateStats
}

// DropSource reports how many lines the display could not keep up with.
// *stream.Tap implements it.
type DropSource interface {
	Stats() (fed, dropped, consumed int64)
}

// Config holds TUI configuration.
type Config struct {
	Command     string
	TotalRuns   int
	MetricsAddr string
	Aborter     Aborter
	Rate        RateSource
	Drops       DropSource
	Width       int
	Height      int
}

// Model represents the TUI state.
type Model struct {
	// Configuration
	command     string
	totalRuns   int
	metricsAddr string

	aborter Aborter
	rate    RateSource
	drops   DropSource

	// Current state
	state     string
	runID     string
	pid       int
	run       int
	attempt   int
	exitCode  int
	exited    bool
	aborting  bool
	abortErr  error
	startTime time.Time
	runStart  time.Time

	stdout []string
	stderr []string
	focus  process.Stream

	rateStats timeseries.RateStats
	fed       int64
	dropped   int64

	// Display options
	width  int
	height int

	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	width, height := cfg.Width, cfg.Height
	if width <= 0 {
		width = 80
	}
	if height <= 0 {
		height = 24
	}
	total := cfg.TotalRuns
	if total < 1 {
		total = 1
	}
	now := time.Now()
	return Model{
		command:     cfg.Command,
		totalRuns:   total,
		metricsAddr: cfg.MetricsAddr,
		aborter:     cfg.Aborter,
		rate:        cfg.Rate,
		drops:       cfg.Drops,
		state:       "starting",
		exitCode:    -1,
		startTime:   now,
		runStart:    now,
		focus:       process.Stdout,
		width:       width,
		height:      height,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	// tea.WithAltScreen() is passed when creating the program.
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m.handleQuitKey()
		case "tab":
			if m.focus == process.Stdout {
				m.focus = process.Stderr
			} else {
				m.focus = process.Stdout
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m.refresh()
		return m, tickCmd()

	case LineMsg:
		m.appendLine(process.LineEvent(msg))
		return m, nil

	case StartedMsg:
		m.state = "running"
		m.runID = msg.RunID
		m.pid = msg.PID
		m.run = msg.Run
		m.attempt = msg.Attempt
		m.exited = false
		m.runStart = time.Now()
		return m, nil

	case ExitedMsg:
		m.exited = true
		m.exitCode = msg.Result.ExitCode
		m.state = msg.Result.Outcome()
		return m, nil

	case StateMsg:
		m.state = msg.State
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// handleQuitKey aborts on the first press and quits on the second. Without
// an aborter it quits at once.
func (m Model) handleQuitKey() (tea.Model, tea.Cmd) {
	if m.aborter == nil || m.aborting {
		m.quitting = true
		return m, tea.Quit
	}
	m.aborting = true
	m.state = "aborting"
	if _, err := m.aborter.Abort(); err != nil {
		m.abortErr = err
	}
	return m, nil
}

// refresh pulls rates and drop counts from their sources.
func (m *Model) refresh() {
	if m.rate != nil {
		m.rateStats = m.rate.Stats()
	}
	if m.drops != nil {
		m.fed, m.dropped, _ = m.drops.Stats()
	}
}

func (m *Model) appendLine(ev process.LineEvent) {
	switch ev.Stream {
	case process.Stdout:
		m.stdout = appendBounded(m.stdout, ev.Line)
	case process.Stderr:
		m.stderr = appendBounded(m.stderr, ev.Line)
	}
}

func appendBounded(lines []string, line string) []string {
	lines = append(lines, line)
	if len(lines) > maxPaneLines {
		n := copy(lines, lines[len(lines)-maxPaneLines:])
		lines = lines[:n]
	}
	return lines
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the TUI started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Focus returns the stream whose pane has focus.
func (m Model) Focus() process.Stream {
	return m.focus
}

// State returns the displayed run state.
func (m Model) State() string {
	return m.state
}

// Lines returns the buffered lines of one stream.
func (m Model) Lines(s process.Stream) []string {
	if s == process.Stderr {
		return m.stderr
	}
	return m.stdout
}

// DropRate returns the share of lines the display has dropped.
func (m Model) DropRate() float64 {
	if m.fed == 0 {
		return 0
	}
	return float64(m.dropped) / float64(m.fed)
}

// =============================================================================
// Helpers for external use
// =============================================================================

// Sender delivers messages to a running program. *tea.Program implements it.
type Sender interface {
	Send(msg tea.Msg)
}

// Forward delivers every event taken from tap to s until tap is closed. The
// tap absorbs any backlog so readers feeding it never block on the display.
func Forward(s Sender, tap *stream.Tap[process.LineEvent]) {
	tap.Drain(func(ev process.LineEvent) {
		s.Send(LineMsg(ev))
	})
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p Sender) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// TerminalSize returns the size of the terminal attached to f, or 0, 0.
func TerminalSize(f *os.File) (width, height int) {
	w, h, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0, 0
	}
	return w, h
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumber formats a number with K/M suffixes.
func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// formatBytes formats bytes with KB/MB/GB suffixes.
func formatBytes(n int64) string {
	if n >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(n)/1_000_000_000)
	}
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2f MB", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.2f KB", float64(n)/1_000)
	}
	return fmt.Sprintf("%d B", n)
}

// formatRate formats a rate with appropriate precision.
func formatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}

// formatPercent formats a ratio as a percentage.
func formatPercent(value float64) string {
	return fmt.Sprintf("%.1f%%", value*100)
}
