package tui

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-procrun/internal/process"
	"github.com/randomizedcoder/go-procrun/internal/stream"
	"github.com/randomizedcoder/go-procrun/internal/timeseries"
)

// =============================================================================
// Test doubles
// =============================================================================

type fakeAborter struct {
	calls int
	err   error
}

func (f *fakeAborter) Abort() (bool, error) {
	f.calls++
	return f.err == nil, f.err
}

type fakeRate struct {
	stats timeseries.RateStats
}

func (f fakeRate) Stats() timeseries.RateStats { return f.stats }

type fakeDrops struct {
	fed, dropped, consumed int64
}

func (f fakeDrops) Stats() (int64, int64, int64) { return f.fed, f.dropped, f.consumed }

type fakeSender struct {
	mu   sync.Mutex
	msgs []tea.Msg
}

func (f *fakeSender) Send(msg tea.Msg) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func keyMsg(key string) tea.KeyMsg {
	switch key {
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
}

// update applies msg and returns the resulting Model.
func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return model, cmd
}

// =============================================================================
// Tests: New
// =============================================================================

func TestNew(t *testing.T) {
	m := New(Config{Command: "echo hi", TotalRuns: 3, MetricsAddr: "127.0.0.1:9100"})

	if m.command != "echo hi" {
		t.Errorf("command = %q, want %q", m.command, "echo hi")
	}
	if m.totalRuns != 3 {
		t.Errorf("totalRuns = %d, want 3", m.totalRuns)
	}
	if m.State() != "starting" {
		t.Errorf("State() = %q, want starting", m.State())
	}
	if m.exitCode != -1 {
		t.Errorf("exitCode = %d, want -1", m.exitCode)
	}
	if m.Focus() != process.Stdout {
		t.Errorf("Focus() = %v, want stdout", m.Focus())
	}
}

func TestNew_Defaults(t *testing.T) {
	m := New(Config{})

	if m.width != 80 || m.height != 24 {
		t.Errorf("size = %dx%d, want 80x24", m.width, m.height)
	}
	if m.totalRuns != 1 {
		t.Errorf("totalRuns = %d, want 1", m.totalRuns)
	}
}

// =============================================================================
// Tests: Init
// =============================================================================

func TestModel_Init(t *testing.T) {
	m := New(Config{})
	if cmd := m.Init(); cmd == nil {
		t.Error("Init() should return a tick command")
	}
}

// =============================================================================
// Tests: Update - Key Messages
// =============================================================================

func TestModel_Update_QuitKeys_NoAborter(t *testing.T) {
	for _, key := range []string{"q", "ctrl+c", "esc"} {
		t.Run(key, func(t *testing.T) {
			m, cmd := update(t, New(Config{}), keyMsg(key))
			if cmd == nil {
				t.Fatal("expected quit command")
			}
			if !m.quitting {
				t.Error("model should be quitting")
			}
			if m.View() != "" {
				t.Error("View() should be empty while quitting")
			}
		})
	}
}

func TestModel_Update_QuitKeys_AbortThenQuit(t *testing.T) {
	for _, key := range []string{"q", "ctrl+c", "esc"} {
		t.Run(key, func(t *testing.T) {
			aborter := &fakeAborter{}
			m := New(Config{Aborter: aborter})

			m, cmd := update(t, m, keyMsg(key))
			if cmd != nil {
				t.Error("first press should not quit")
			}
			if aborter.calls != 1 {
				t.Errorf("Abort calls = %d, want 1", aborter.calls)
			}
			if m.State() != "aborting" {
				t.Errorf("State() = %q, want aborting", m.State())
			}

			m, cmd = update(t, m, keyMsg(key))
			if cmd == nil {
				t.Error("second press should quit")
			}
			if aborter.calls != 1 {
				t.Errorf("Abort calls = %d after second press, want 1", aborter.calls)
			}
			if !m.quitting {
				t.Error("model should be quitting")
			}
		})
	}
}

func TestModel_Update_AbortError(t *testing.T) {
	aborter := &fakeAborter{err: process.ErrNoProcess}
	m, _ := update(t, New(Config{Aborter: aborter}), keyMsg("q"))

	if !errors.Is(m.abortErr, process.ErrNoProcess) {
		t.Errorf("abortErr = %v, want ErrNoProcess", m.abortErr)
	}
	if !strings.Contains(m.View(), process.ErrNoProcess.Error()) {
		t.Error("View() should show the abort error")
	}
}

func TestModel_Update_TabSwitchesFocus(t *testing.T) {
	m := New(Config{})

	m, _ = update(t, m, keyMsg("tab"))
	if m.Focus() != process.Stderr {
		t.Errorf("Focus() = %v after one tab, want stderr", m.Focus())
	}
	m, _ = update(t, m, keyMsg("tab"))
	if m.Focus() != process.Stdout {
		t.Errorf("Focus() = %v after two tabs, want stdout", m.Focus())
	}
}

func TestModel_Update_UnknownKey(t *testing.T) {
	m, cmd := update(t, New(Config{}), keyMsg("x"))
	if cmd != nil {
		t.Error("unknown key should not return a command")
	}
	if m.quitting {
		t.Error("unknown key should not quit")
	}
}

// =============================================================================
// Tests: Update - Window Size
// =============================================================================

func TestModel_Update_WindowSize(t *testing.T) {
	m, _ := update(t, New(Config{}), tea.WindowSizeMsg{Width: 120, Height: 40})

	if m.width != 120 {
		t.Errorf("width = %d, want 120", m.width)
	}
	if m.height != 40 {
		t.Errorf("height = %d, want 40", m.height)
	}
}

// =============================================================================
// Tests: Update - Tick
// =============================================================================

func TestModel_Update_Tick(t *testing.T) {
	rate := fakeRate{stats: timeseries.RateStats{TotalLines: 42, TotalBytes: 1024}}
	drops := fakeDrops{fed: 100, dropped: 5, consumed: 95}
	m := New(Config{Rate: rate, Drops: drops})

	m, cmd := update(t, m, TickMsg(time.Now()))
	if cmd == nil {
		t.Error("tick should schedule the next tick")
	}
	if m.rateStats.TotalLines != 42 {
		t.Errorf("TotalLines = %d, want 42", m.rateStats.TotalLines)
	}
	if m.fed != 100 || m.dropped != 5 {
		t.Errorf("fed/dropped = %d/%d, want 100/5", m.fed, m.dropped)
	}
	if got := m.DropRate(); got != 0.05 {
		t.Errorf("DropRate() = %v, want 0.05", got)
	}
}

func TestModel_Update_Tick_NoSources(t *testing.T) {
	m, cmd := update(t, New(Config{}), TickMsg(time.Now()))
	if cmd == nil {
		t.Error("tick should schedule the next tick")
	}
	if m.DropRate() != 0 {
		t.Errorf("DropRate() = %v, want 0", m.DropRate())
	}
}

// =============================================================================
// Tests: Update - Lines
// =============================================================================

func TestModel_Update_LineMsg(t *testing.T) {
	m := New(Config{})

	m, _ = update(t, m, LineMsg{Stream: process.Stdout, Line: "out 1", Seq: 1})
	m, _ = update(t, m, LineMsg{Stream: process.Stderr, Line: "err 1", Seq: 1})
	m, _ = update(t, m, LineMsg{Stream: process.Stdout, Line: "out 2", Seq: 2})

	if got := m.Lines(process.Stdout); len(got) != 2 || got[0] != "out 1" || got[1] != "out 2" {
		t.Errorf("stdout lines = %v", got)
	}
	if got := m.Lines(process.Stderr); len(got) != 1 || got[0] != "err 1" {
		t.Errorf("stderr lines = %v", got)
	}
}

func TestModel_Update_LineMsg_Bounded(t *testing.T) {
	m := New(Config{})
	total := maxPaneLines + 25
	for i := 0; i < total; i++ {
		m, _ = update(t, m, LineMsg{Stream: process.Stdout, Line: strings.Repeat("x", i%7), Seq: int64(i + 1)})
	}
	m, _ = update(t, m, LineMsg{Stream: process.Stdout, Line: "last"})

	lines := m.Lines(process.Stdout)
	if len(lines) != maxPaneLines {
		t.Fatalf("len(lines) = %d, want %d", len(lines), maxPaneLines)
	}
	if lines[len(lines)-1] != "last" {
		t.Errorf("newest line = %q, want last", lines[len(lines)-1])
	}
}

// =============================================================================
// Tests: Update - Run lifecycle
// =============================================================================

func TestModel_Update_StartedAndExited(t *testing.T) {
	m := New(Config{TotalRuns: 2})

	m, _ = update(t, m, StartedMsg{RunID: "abc", PID: 4242, Run: 2, Attempt: 3})
	if m.State() != "running" {
		t.Errorf("State() = %q, want running", m.State())
	}
	if m.pid != 4242 || m.run != 2 || m.attempt != 3 {
		t.Errorf("pid/run/attempt = %d/%d/%d, want 4242/2/3", m.pid, m.run, m.attempt)
	}
	view := m.View()
	for _, want := range []string{"4242", "2/2", "attempt 3"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}

	m, _ = update(t, m, ExitedMsg{Result: process.Result{PID: 4242, ExitCode: 3}})
	if m.State() != "nonzero" {
		t.Errorf("State() = %q, want nonzero", m.State())
	}
	if m.exitCode != 3 {
		t.Errorf("exitCode = %d, want 3", m.exitCode)
	}
	if !m.exited {
		t.Error("exited should be set")
	}
}

func TestModel_Update_ExitedOutcomes(t *testing.T) {
	tests := []struct {
		name string
		res  process.Result
		want string
	}{
		{"ok", process.Result{ExitCode: 0}, "ok"},
		{"nonzero", process.Result{ExitCode: 1}, "nonzero"},
		{"aborted", process.Result{ExitCode: 137, Aborted: true}, "aborted"},
		{"timeout", process.Result{ExitCode: 137, Err: &process.TimeoutError{After: time.Second}}, "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := update(t, New(Config{}), ExitedMsg{Result: tt.res})
			if m.State() != tt.want {
				t.Errorf("State() = %q, want %q", m.State(), tt.want)
			}
		})
	}
}

func TestModel_Update_StateMsg(t *testing.T) {
	m, _ := update(t, New(Config{}), StateMsg{State: "backoff"})
	if m.State() != "backoff" {
		t.Errorf("State() = %q, want backoff", m.State())
	}
}

// =============================================================================
// Tests: Update - Quit Message
// =============================================================================

func TestModel_Update_QuitMsg(t *testing.T) {
	m, cmd := update(t, New(Config{}), QuitMsg{})
	if !m.quitting {
		t.Error("quitting should be set")
	}
	if cmd == nil {
		t.Error("expected quit command")
	}
}

// =============================================================================
// Tests: View
// =============================================================================

func TestModel_View(t *testing.T) {
	m := New(Config{Command: "make test", MetricsAddr: "127.0.0.1:9100", Width: 100, Height: 30})
	m, _ = update(t, m, LineMsg{Stream: process.Stdout, Line: "hello from stdout"})
	m, _ = update(t, m, LineMsg{Stream: process.Stderr, Line: "hello from stderr"})

	view := m.View()
	for _, want := range []string{
		"procrun",
		"make test",
		"hello from stdout",
		"hello from stderr",
		"tab: switch pane",
		"http://127.0.0.1:9100/metrics",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestModel_View_SingleRunHasNoProgress(t *testing.T) {
	m := New(Config{TotalRuns: 1})
	if strings.Contains(m.View(), "Runs") {
		t.Error("single run should not render the progress section")
	}

	m = New(Config{TotalRuns: 4})
	if !strings.Contains(m.View(), "Runs") {
		t.Error("repeated runs should render the progress section")
	}
}

func TestModel_View_ShowsDrops(t *testing.T) {
	m := New(Config{Drops: fakeDrops{fed: 10, dropped: 2}})
	m, _ = update(t, m, TickMsg(time.Now()))

	if !strings.Contains(m.View(), "dropped") {
		t.Error("View() should report dropped lines")
	}
}

// =============================================================================
// Tests: Accessors
// =============================================================================

func TestModel_Elapsed(t *testing.T) {
	m := New(Config{})
	time.Sleep(10 * time.Millisecond)
	if m.Elapsed() < 10*time.Millisecond {
		t.Errorf("Elapsed() = %v, want >= 10ms", m.Elapsed())
	}
}

func TestModel_DropRate(t *testing.T) {
	tests := []struct {
		name    string
		fed     int64
		dropped int64
		want    float64
	}{
		{"nothing fed", 0, 0, 0},
		{"no drops", 100, 0, 0},
		{"half dropped", 100, 50, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(Config{})
			m.fed, m.dropped = tt.fed, tt.dropped
			if got := m.DropRate(); got != tt.want {
				t.Errorf("DropRate() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Tests: Forward
// =============================================================================

func TestForward(t *testing.T) {
	tap := stream.NewTap[process.LineEvent]("tui", 16, 0.01)
	sender := &fakeSender{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		Forward(sender, tap)
	}()

	tap.Feed(process.LineEvent{Stream: process.Stdout, Line: "a", Seq: 1})
	tap.Feed(process.LineEvent{Stream: process.Stderr, Line: "b", Seq: 1})
	tap.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Forward did not return after Close")
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sender.msgs))
	}
	first, ok := sender.msgs[0].(LineMsg)
	if !ok || first.Line != "a" || first.Stream != process.Stdout {
		t.Errorf("first message = %#v", sender.msgs[0])
	}
}

func TestSendQuit(t *testing.T) {
	sender := &fakeSender{}
	SendQuit(sender)
	SendQuit(nil)

	if len(sender.msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.msgs))
	}
	if _, ok := sender.msgs[0].(QuitMsg); !ok {
		t.Errorf("message = %T, want QuitMsg", sender.msgs[0])
	}
}

// =============================================================================
// Tests: Text Helpers
// =============================================================================

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		s     string
		width int
		want  string
	}{
		{"fits", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"cut", "hello world", 8, "hello..."},
		{"minimum width", "hello world", 1, "h..."},
		{"empty", "", 5, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.s, tt.width); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.s, tt.width, got, tt.want)
			}
		})
	}
}

func TestExpandTabs(t *testing.T) {
	if got := expandTabs("a\tb"); got != "a    b" {
		t.Errorf("expandTabs() = %q", got)
	}
}

// =============================================================================
// Tests: Formatting Helpers
// =============================================================================

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{time.Second, "00:00:01"},
		{time.Minute, "00:01:00"},
		{time.Hour, "01:00:00"},
		{2*time.Hour + 30*time.Minute + 45*time.Second, "02:30:45"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatDuration(tt.d); got != tt.want {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1.0K"},
		{1500, "1.5K"},
		{1000000, "1.0M"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatNumber(tt.n); got != tt.want {
				t.Errorf("formatNumber(%d) = %q, want %q", tt.n, got, tt.want)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{999, "999 B"},
		{1000, "1.00 KB"},
		{1000000, "1.00 MB"},
		{1000000000, "1.00 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatBytes(tt.n); got != tt.want {
				t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
			}
		})
	}
}

func TestFormatRate(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, "0.00/s"},
		{0.5, "0.50/s"},
		{10, "10.0/s"},
		{1000, "1.0K/s"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatRate(tt.rate); got != tt.want {
				t.Errorf("formatRate(%v) = %q, want %q", tt.rate, got, tt.want)
			}
		})
	}
}

func TestFormatPercent(t *testing.T) {
	tests := []struct {
		value float64
		want  string
	}{
		{0, "0.0%"},
		{0.5, "50.0%"},
		{1.0, "100.0%"},
		{0.015, "1.5%"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatPercent(tt.value); got != tt.want {
				t.Errorf("formatPercent(%v) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}
