package staging

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// DrainSchedule controls background draining.
type DrainSchedule struct {
	Clock      clockwork.Clock
	Interval   time.Duration
	BatchLimit int

	// Exec runs one drain step on the caller's execution context, usually
	// core.Queue.Do. When nil the step runs directly.
	Exec func(ctx context.Context, fn func() error) error
}

// Start drains staged entries in the background until ctx is done. A
// batch runs right away, which resumes whatever was staged before a
// restart, and then once per interval. A batch gives every entry at most
// one pass and stops early when nothing remains, after BatchLimit entries,
// or on the first error. An entry that keeps failing is thus retried once
// per interval. The returned channel is closed once the loop has exited.
func (a *Area) Start(ctx context.Context, s DrainSchedule) <-chan struct{} {
	if s.Clock == nil {
		s.Clock = clockwork.NewRealClock()
	}
	if s.Exec == nil {
		s.Exec = func(_ context.Context, fn func() error) error { return fn() }
	}

	done := make(chan struct{})
	go func() {
		defer close(done)

		ticker := s.Clock.NewTicker(s.Interval)
		defer ticker.Stop()

		a.drainBatch(ctx, s)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				a.drainBatch(ctx, s)
			}
		}
	}()
	return done
}

func (a *Area) drainBatch(ctx context.Context, s DrainSchedule) {
	// Sized on the first step from the entries present at that point.
	limit := -1
	for i := 0; limit < 0 || i < limit; i++ {
		var more bool
		err := s.Exec(ctx, func() error {
			if limit < 0 {
				n, err := a.batchSize(s.BatchLimit)
				if err != nil || n == 0 {
					return err
				}
				limit = n
			}
			var err error
			more, err = a.Process()
			return err
		})
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Warn("background cleanup failed", "error", err)
			}
			return
		}
		if !more {
			return
		}
	}
}

// batchSize is the number of entries a batch may process, one pass each.
func (a *Area) batchSize(batchLimit int) (int, error) {
	entries, err := a.store.List()
	if err != nil {
		return 0, err
	}
	if batchLimit > 0 && batchLimit < len(entries) {
		return batchLimit, nil
	}
	return len(entries), nil
}
