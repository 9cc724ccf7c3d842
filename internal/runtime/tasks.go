package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Tasks runs fire-and-forget work that must not block or fail a turn.
// Each task runs detached from the caller's cancellation with its own deadline.
type Tasks struct {
	wg      sync.WaitGroup
	logger  *slog.Logger
	timeout time.Duration
}

func newTasks(logger *slog.Logger, timeout time.Duration) *Tasks {
	return &Tasks{logger: logger, timeout: timeout}
}

// Go starts fn in the background. Failures are logged and dropped.
func (t *Tasks) Go(ctx context.Context, name string, fn func(context.Context) error) {
	t.wg.Add(1)
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	go func() {
		defer t.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("detached task panicked", "task", name, "panic", r)
			}
		}()
		if err := fn(dctx); err != nil {
			t.logger.Warn("detached task failed", "task", name, "error", err)
		}
	}()
}

// Wait blocks until every started task returned or ctx is done.
func (t *Tasks) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
