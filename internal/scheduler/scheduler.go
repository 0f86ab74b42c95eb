package scheduler

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Scheduler owns the UI and JS threads.
type Scheduler struct {
	UI *Thread
	JS *Thread
}

// New creates a scheduler with UI and JS threads sharing the same queue size
// and options.
func New(queueSize int, opts ...ThreadOption) *Scheduler {
	return &Scheduler{
		UI: NewThread("ui", queueSize, opts...),
		JS: NewThread("js", queueSize, opts...),
	}
}

// ScheduleOnUI queues fn on the UI thread.
func (s *Scheduler) ScheduleOnUI(fn Task) error {
	return s.UI.Schedule(fn)
}

// ScheduleOnJS queues fn on the JS thread.
func (s *Scheduler) ScheduleOnJS(fn Task) error {
	return s.JS.Schedule(fn)
}

// RunOnUI runs fn on the UI thread and waits for it.
func (s *Scheduler) RunOnUI(ctx context.Context, fn Task) error {
	return s.UI.Execute(ctx, fn)
}

// RunOnJS runs fn on the JS thread and waits for it.
func (s *Scheduler) RunOnJS(ctx context.Context, fn Task) error {
	return s.JS.Execute(ctx, fn)
}

// Run runs both threads until ctx is cancelled or Close is called.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.UI.Run(ctx) })
	g.Go(func() error { return s.JS.Run(ctx) })
	return g.Wait()
}

// Close stops both threads.
func (s *Scheduler) Close() {
	s.JS.Close()
	s.UI.Close()
}
