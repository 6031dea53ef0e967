package stats

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/randomizedcoder/go-procrun/internal/process"
)

func TestRunStats_Empty(t *testing.T) {
	snap := NewRunStats().Snapshot()
	if snap.Runs != 0 {
		t.Errorf("Runs = %d, want 0", snap.Runs)
	}
	if snap.DurationP50 != 0 || snap.MeanDuration != 0 {
		t.Errorf("durations should be zero before any run, got p50=%v mean=%v", snap.DurationP50, snap.MeanDuration)
	}
	if len(snap.SortedExitCodes()) != 0 {
		t.Errorf("exit codes = %v, want none", snap.SortedExitCodes())
	}
}

func TestRunStats_Record(t *testing.T) {
	s := NewRunStats()
	s.Record(process.Result{PID: 1, ExitCode: 0, Elapsed: 10 * time.Millisecond, StdoutLines: 2, StdoutBytes: 20})
	s.Record(process.Result{PID: 2, ExitCode: 3, Elapsed: 30 * time.Millisecond, StderrLines: 1, StderrBytes: 7})
	s.Record(process.Result{PID: 3, ExitCode: 137, Elapsed: 50 * time.Millisecond, TimedOut: true,
		Err: &process.TimeoutError{Executable: "sleep", After: 50 * time.Millisecond}})
	s.Record(process.Result{ExitCode: -1, Err: &process.LaunchError{Err: errors.New("missing")}})

	snap := s.Snapshot()

	if snap.Runs != 4 {
		t.Errorf("Runs = %d, want 4", snap.Runs)
	}
	wantOutcomes := map[string]int64{"ok": 1, "nonzero": 1, "timeout": 1, "launch_failed": 1}
	for k, v := range wantOutcomes {
		if snap.Outcomes[k] != v {
			t.Errorf("Outcomes[%q] = %d, want %d", k, snap.Outcomes[k], v)
		}
	}
	if got := snap.Failures(); got != 3 {
		t.Errorf("Failures() = %d, want 3", got)
	}

	codes := snap.SortedExitCodes()
	wantCodes := []int{0, 3, 137}
	if len(codes) != len(wantCodes) {
		t.Fatalf("SortedExitCodes() = %v, want %v", codes, wantCodes)
	}
	for i := range wantCodes {
		if codes[i] != wantCodes[i] {
			t.Errorf("SortedExitCodes()[%d] = %d, want %d", i, codes[i], wantCodes[i])
		}
	}

	if snap.StdoutLines != 2 || snap.StderrLines != 1 {
		t.Errorf("lines = %d/%d, want 2/1", snap.StdoutLines, snap.StderrLines)
	}
	if snap.StdoutBytes != 20 || snap.StderrBytes != 7 {
		t.Errorf("bytes = %d/%d, want 20/7", snap.StdoutBytes, snap.StderrBytes)
	}
	if snap.MinDuration != 0 {
		t.Errorf("MinDuration = %v, want 0 (launch failure)", snap.MinDuration)
	}
	if snap.MaxDuration != 50*time.Millisecond {
		t.Errorf("MaxDuration = %v, want 50ms", snap.MaxDuration)
	}
	if snap.MeanDuration != 22500*time.Microsecond {
		t.Errorf("MeanDuration = %v, want 22.5ms", snap.MeanDuration)
	}
}

func TestRunStats_Percentiles(t *testing.T) {
	s := NewRunStats()
	for i := 1; i <= 1000; i++ {
		s.Record(process.Result{PID: i, Elapsed: time.Duration(i) * time.Millisecond})
	}
	snap := s.Snapshot()

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"p50", snap.DurationP50, 500 * time.Millisecond},
		{"p95", snap.DurationP95, 950 * time.Millisecond},
		{"p99", snap.DurationP99, 990 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := tt.got - tt.want
			if diff < 0 {
				diff = -diff
			}
			if diff > 20*time.Millisecond {
				t.Errorf("%s = %v, want about %v", tt.name, tt.got, tt.want)
			}
		})
	}
	if !(snap.DurationP50 <= snap.DurationP95 && snap.DurationP95 <= snap.DurationP99) {
		t.Errorf("percentiles not ordered: %v %v %v", snap.DurationP50, snap.DurationP95, snap.DurationP99)
	}
}

func TestRunStats_SnapshotIsCopy(t *testing.T) {
	s := NewRunStats()
	s.Record(process.Result{PID: 1})
	snap := s.Snapshot()
	snap.Outcomes["ok"] = 99
	snap.ExitCodes[0] = 99

	again := s.Snapshot()
	if again.Outcomes["ok"] != 1 || again.ExitCodes[0] != 1 {
		t.Error("mutating a snapshot changed the stats")
	}
}

func TestRunStats_Concurrent(t *testing.T) {
	s := NewRunStats()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Record(process.Result{PID: j + 1, Elapsed: time.Millisecond})
				_ = s.Snapshot()
			}
		}()
	}
	wg.Wait()

	if got := s.Snapshot().Runs; got != 800 {
		t.Errorf("Runs = %d, want 800", got)
	}
}
