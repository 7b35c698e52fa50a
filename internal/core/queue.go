// Package core runs metadata mutations on a single logical thread.
package core

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Do after the queue has been closed.
var ErrClosed = errors.New("queue closed")

type job struct {
	fn   func() error
	done chan error
}

// Queue executes submitted functions one at a time, in submission order,
// on a dedicated goroutine. Foreground commands and background draining
// share one Queue so they never interleave.
type Queue struct {
	jobs   chan job
	quit   chan struct{}
	wg     sync.WaitGroup
	closed sync.Once
}

// NewQueue starts a Queue.
func NewQueue() *Queue {
	q := &Queue{
		jobs: make(chan job),
		quit: make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case j := <-q.jobs:
			j.done <- j.fn()
		case <-q.quit:
			return
		}
	}
}

// Do runs fn on the queue and waits for it to finish. If ctx is done
// before fn has been picked up, fn is not run. Once started, fn always
// runs to completion.
func (q *Queue) Do(ctx context.Context, fn func() error) error {
	j := job{fn: fn, done: make(chan error, 1)}
	select {
	case q.jobs <- j:
	case <-q.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-j.done
}

// Close stops the queue after the running function, if any, returns.
func (q *Queue) Close() {
	q.closed.Do(func() { close(q.quit) })
	q.wg.Wait()
}
