package core

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestQueue_Do(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	ran := false
	if err := q.Do(context.Background(), func() error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !ran {
		t.Error("function did not run")
	}
}

func TestQueue_ReturnsError(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	want := errors.New("boom")
	if err := q.Do(context.Background(), func() error { return want }); !errors.Is(err, want) {
		t.Errorf("Do() error = %v, want %v", err, want)
	}
}

func TestQueue_Serializes(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	var (
		wg      sync.WaitGroup
		running int
		maxSeen int
		total   int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(context.Background(), func() error {
				// Only the queue goroutine touches these.
				running++
				if running > maxSeen {
					maxSeen = running
				}
				total++
				running--
				return nil
			})
		}()
	}
	wg.Wait()

	if total != 50 {
		t.Errorf("ran %d functions, want 50", total)
	}
	if maxSeen != 1 {
		t.Errorf("saw %d functions running at once, want 1", maxSeen)
	}
}

func TestQueue_Closed(t *testing.T) {
	q := NewQueue()
	q.Close()
	q.Close() // idempotent

	err := q.Do(context.Background(), func() error { return nil })
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Do() after Close error = %v, want ErrClosed", err)
	}
}

func TestQueue_CanceledContext(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	// Occupy the queue so the next submission cannot be picked up.
	release := make(chan struct{})
	started := make(chan struct{})
	go q.Do(context.Background(), func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err := q.Do(ctx, func() error {
		ran = true
		return nil
	})
	close(release)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if ran {
		t.Error("function ran despite canceled context")
	}
}
