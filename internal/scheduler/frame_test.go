package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewFrameLoopInvalidFPS(t *testing.T) {
	if _, err := NewFrameLoop(NewThread("ui", 1), 0, nil); !errors.Is(err, ErrInvalidFPS) {
		t.Errorf("NewFrameLoop(0) error = %v, want ErrInvalidFPS", err)
	}
}

func TestFrameLoopInterval(t *testing.T) {
	loop, err := NewFrameLoop(NewThread("ui", 1), 60, func(float64) error { return nil })
	if err != nil {
		t.Fatalf("NewFrameLoop() error = %v", err)
	}
	if loop.Interval() != time.Second/60 {
		t.Errorf("Interval() = %v, want %v", loop.Interval(), time.Second/60)
	}
	if err := loop.SetFPS(30); err != nil {
		t.Fatalf("SetFPS() error = %v", err)
	}
	if loop.Interval() != time.Second/30 {
		t.Errorf("Interval() = %v after SetFPS(30)", loop.Interval())
	}
	if err := loop.SetFPS(-1); !errors.Is(err, ErrInvalidFPS) {
		t.Errorf("SetFPS(-1) error = %v", err)
	}
}

func TestFrameLoopTick(t *testing.T) {
	th, ctx := startThread(t)

	var got float64
	loop, err := NewFrameLoop(th, 60, func(ts float64) error {
		got = ts
		return nil
	})
	if err != nil {
		t.Fatalf("NewFrameLoop() error = %v", err)
	}

	if err := loop.Tick(ctx, 16.5); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if got != 16.5 {
		t.Errorf("frame ts = %v, want 16.5", got)
	}
	if loop.Frames() != 1 {
		t.Errorf("Frames() = %d, want 1", loop.Frames())
	}
}

func TestFrameLoopRun(t *testing.T) {
	th, _ := startThread(t)

	var frames atomic.Int64
	var last atomic.Value
	loop, err := NewFrameLoop(th, 200, func(ts float64) error {
		frames.Add(1)
		last.Store(ts)
		return nil
	})
	if err != nil {
		t.Fatalf("NewFrameLoop() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := loop.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if frames.Load() == 0 {
		t.Error("no frames rendered")
	}
	if ts, _ := last.Load().(float64); ts <= 0 {
		t.Errorf("last ts = %v, want > 0", ts)
	}
}

func TestFrameLoopCoalescesPendingFrames(t *testing.T) {
	// The thread is not running, so the first frame stays queued.
	th := NewThread("ui", 10)
	defer th.Close()

	loop, err := NewFrameLoop(th, 60, func(float64) error { return nil })
	if err != nil {
		t.Fatalf("NewFrameLoop() error = %v", err)
	}

	loop.request(1)
	loop.request(2)
	loop.request(3)

	if th.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", th.Pending())
	}
	if loop.Skipped() != 2 {
		t.Errorf("Skipped() = %d, want 2", loop.Skipped())
	}
}
