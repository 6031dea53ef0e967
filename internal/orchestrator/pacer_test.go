package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewPacer(t *testing.T) {
	p := NewPacer(time.Second, 500*time.Millisecond)
	if p == nil {
		t.Fatal("NewPacer returned nil")
	}
	if p.Interval() != time.Second {
		t.Errorf("Interval() = %v, want 1s", p.Interval())
	}
	if p.MaxJitter() != 500*time.Millisecond {
		t.Errorf("MaxJitter() = %v, want 500ms", p.MaxJitter())
	}
}

func TestPacer_Jitter(t *testing.T) {
	p := NewPacerWithSeed(0, 100*time.Millisecond, 12345)

	for i := 0; i < 50; i++ {
		j := p.Jitter(i)
		if j < 0 || j >= 100*time.Millisecond {
			t.Errorf("Jitter(%d) = %v, want [0, 100ms)", i, j)
		}
		if again := p.Jitter(i); again != j {
			t.Errorf("Jitter(%d) not deterministic: %v then %v", i, j, again)
		}
	}

	if j := NewPacerWithSeed(time.Second, 0, 1).Jitter(3); j != 0 {
		t.Errorf("Jitter() without max = %v, want 0", j)
	}
}

func TestPacer_Delay(t *testing.T) {
	p := NewPacerWithSeed(200*time.Millisecond, 0, 12345)

	tests := []struct {
		name      string
		index     int
		sinceLast time.Duration
		want      time.Duration
	}{
		{"first run", 0, 0, 0},
		{"just started", 1, 0, 200 * time.Millisecond},
		{"half way", 1, 50 * time.Millisecond, 150 * time.Millisecond},
		{"overdue", 2, time.Second, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Delay(tt.index, tt.sinceLast); got != tt.want {
				t.Errorf("Delay(%d, %v) = %v, want %v", tt.index, tt.sinceLast, got, tt.want)
			}
		})
	}
}

func TestPacer_Wait_FirstRunImmediate(t *testing.T) {
	p := NewPacerWithSeed(time.Second, 0, 12345)

	start := time.Now()
	if err := p.Wait(context.Background(), 0); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("first Wait took %v, want immediate", elapsed)
	}
}

func TestPacer_Wait_Interval(t *testing.T) {
	p := NewPacerWithSeed(150*time.Millisecond, 0, 12345)
	ctx := context.Background()

	if err := p.Wait(ctx, 0); err != nil {
		t.Fatalf("Wait(0) error = %v", err)
	}
	start := time.Now()
	if err := p.Wait(ctx, 1); err != nil {
		t.Fatalf("Wait(1) error = %v", err)
	}
	elapsed := time.Since(start)

	// Allow some margin for timing
	if elapsed < 100*time.Millisecond || elapsed > 400*time.Millisecond {
		t.Errorf("Wait elapsed = %v, want ~150ms", elapsed)
	}
}

func TestPacer_Wait_ContextCancelled(t *testing.T) {
	p := NewPacerWithSeed(time.Second, 0, 12345)
	if err := p.Wait(context.Background(), 0); err != nil {
		t.Fatalf("Wait(0) error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := p.Wait(ctx, 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("should have returned immediately, took %v", elapsed)
	}
}

func TestPacer_EstimatedDuration(t *testing.T) {
	tests := []struct {
		name      string
		interval  time.Duration
		maxJitter time.Duration
		runs      int
		want      time.Duration
	}{
		{"no pacing", 0, 0, 10, 0},
		{"single run", time.Second, 0, 1, 0},
		{"interval only", time.Second, 0, 4, 3 * time.Second},
		{"with jitter", time.Second, 200 * time.Millisecond, 3, 2200 * time.Millisecond},
		{"zero runs", time.Second, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPacerWithSeed(tt.interval, tt.maxJitter, 1)
			if got := p.EstimatedDuration(tt.runs); got != tt.want {
				t.Errorf("EstimatedDuration(%d) = %v, want %v", tt.runs, got, tt.want)
			}
		})
	}
}
