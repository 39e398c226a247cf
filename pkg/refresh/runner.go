// Package refresh provides the cancellable periodic-task primitive
// driving usage, token-usage, and notification refresh cadences.
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Runner executes a task immediately on Start, then repeatedly with a
// fixed delay between completions. The interval is re-read before every
// sleep, so live interval changes take effect without a restart.
//
// Stop is cooperative: it takes effect before the next sleep begins or
// immediately upon waking, but never abandons a task already in flight.
// The in-flight execution runs to completion; only subsequent cycles are
// skipped.
type Runner struct {
	name     string
	interval func() time.Duration
	task     func(context.Context)
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a runner. interval is consulted once per cycle.
func NewRunner(name string, interval func() time.Duration, task func(context.Context), logger *slog.Logger) *Runner {
	return &Runner{name: name, interval: interval, task: task, logger: logger}
}

// Start launches the loop. Starting an already-running runner is a no-op.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
}

// Stop cancels the loop and blocks until any in-flight execution has
// completed. Safe to call multiple times.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		// The task deliberately does not inherit the loop's cancellation:
		// a fetch in flight when Stop is called must finish, not die
		// halfway through its persist step.
		r.task(context.WithoutCancel(ctx))

		delay := r.interval()
		if delay <= 0 {
			r.logger.Warn("refresh interval not positive, stopping", "runner", r.name, "interval", delay)
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
