package scheduler

import (
	"context"
	"sync/atomic"
	"time"
)

// FrameFunc renders one frame. ts is milliseconds since the loop started.
type FrameFunc func(ts float64) error

// FrameLoop posts a frame onto the UI thread at a fixed rate. A frame that
// is still queued when the next tick fires absorbs that tick.
type FrameLoop struct {
	ui      *Thread
	onFrame FrameFunc
	start   time.Time

	interval atomic.Int64
	reset    chan struct{}
	pending  atomic.Bool
	frames   atomic.Uint64
	skipped  atomic.Uint64
}

// NewFrameLoop creates a frame loop running at fps.
func NewFrameLoop(ui *Thread, fps int, onFrame FrameFunc) (*FrameLoop, error) {
	if fps <= 0 {
		return nil, ErrInvalidFPS
	}
	l := &FrameLoop{
		ui:      ui,
		onFrame: onFrame,
		start:   time.Now(),
		reset:   make(chan struct{}, 1),
	}
	l.interval.Store(int64(time.Second) / int64(fps))
	return l, nil
}

// SetFPS changes the frame rate of a running loop.
func (l *FrameLoop) SetFPS(fps int) error {
	if fps <= 0 {
		return ErrInvalidFPS
	}
	l.interval.Store(int64(time.Second) / int64(fps))
	select {
	case l.reset <- struct{}{}:
	default:
	}
	return nil
}

// Interval returns the current frame interval.
func (l *FrameLoop) Interval() time.Duration {
	return time.Duration(l.interval.Load())
}

// Run ticks until ctx is cancelled.
func (l *FrameLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.reset:
			ticker.Reset(l.Interval())
		case now := <-ticker.C:
			l.request(l.timestamp(now))
		}
	}
}

// request queues a frame unless one is already pending.
func (l *FrameLoop) request(ts float64) {
	if !l.pending.CompareAndSwap(false, true) {
		l.skipped.Add(1)
		return
	}
	err := l.ui.Schedule(func() error {
		l.pending.Store(false)
		l.frames.Add(1)
		return l.onFrame(ts)
	})
	if err != nil {
		l.pending.Store(false)
		l.skipped.Add(1)
	}
}

// Tick renders one frame on the UI thread and waits for it.
func (l *FrameLoop) Tick(ctx context.Context, ts float64) error {
	return l.ui.Execute(ctx, func() error {
		l.frames.Add(1)
		return l.onFrame(ts)
	})
}

// Frames returns the number of frames rendered.
func (l *FrameLoop) Frames() uint64 {
	return l.frames.Load()
}

// Skipped returns the number of ticks absorbed by a pending frame.
func (l *FrameLoop) Skipped() uint64 {
	return l.skipped.Load()
}

func (l *FrameLoop) timestamp(now time.Time) float64 {
	return float64(now.Sub(l.start)) / float64(time.Millisecond)
}
