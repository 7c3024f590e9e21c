// Package waitq is a per-key FIFO of suspended waiters, each with a
// cancellable deadline. A waiter leaves the queue exactly once: fulfilled,
// expired or cancelled, whichever happens first.
package waitq

import (
	"context"
	"errors"
	"sync"
	"time"

	"agentpass/pkg/platform/clock"
)

// ErrTimeout is returned by Wait when the deadline passes first.
var ErrTimeout = errors.New("wait timed out")

type result[T any] struct {
	value T
	err   error
}

// Queue holds waiters per key.
type Queue[T any] struct {
	clock clock.Clock

	mu      sync.Mutex
	waiters map[string][]*Waiter[T]
}

// Waiter is one registration. Receive its outcome with Wait.
type Waiter[T any] struct {
	queue *Queue[T]
	key   string
	ch    chan result[T]

	// guarded by queue.mu
	timer clock.Timer
	done  bool
}

func New[T any](clk clock.Clock) *Queue[T] {
	if clk == nil {
		clk = clock.Real()
	}
	return &Queue[T]{clock: clk, waiters: make(map[string][]*Waiter[T])}
}

// Enqueue registers a waiter at the back of key's queue and arms its
// deadline. A non-positive timeout may expire the waiter before Enqueue
// returns.
func (q *Queue[T]) Enqueue(key string, timeout time.Duration) *Waiter[T] {
	w := &Waiter[T]{queue: q, key: key, ch: make(chan result[T], 1)}

	q.mu.Lock()
	q.waiters[key] = append(q.waiters[key], w)
	q.mu.Unlock()

	timer := q.clock.AfterFunc(timeout, func() {
		var zero T
		q.finish(w, zero, ErrTimeout)
	})

	q.mu.Lock()
	if w.done {
		q.mu.Unlock()
		timer.Stop()
		return w
	}
	w.timer = timer
	q.mu.Unlock()
	return w
}

// Fulfill resolves the earliest waiter on key with value and reports whether
// there was one.
func (q *Queue[T]) Fulfill(key string, value T) bool {
	q.mu.Lock()
	queue := q.waiters[key]
	if len(queue) == 0 {
		q.mu.Unlock()
		return false
	}
	w := queue[0]
	q.removeLocked(w)
	timer := w.timer
	w.done = true
	w.ch <- result[T]{value: value}
	q.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	return true
}

// Len returns the number of waiters queued on key.
func (q *Queue[T]) Len(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters[key])
}

func (q *Queue[T]) finish(w *Waiter[T], value T, err error) {
	q.mu.Lock()
	if w.done {
		q.mu.Unlock()
		return
	}
	q.removeLocked(w)
	timer := w.timer
	w.done = true
	w.ch <- result[T]{value: value, err: err}
	q.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
}

func (q *Queue[T]) removeLocked(w *Waiter[T]) {
	queue := q.waiters[w.key]
	for i, candidate := range queue {
		if candidate == w {
			queue = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(queue) == 0 {
		delete(q.waiters, w.key)
		return
	}
	q.waiters[w.key] = queue
}

// Wait blocks until the waiter is fulfilled, expires or ctx ends. A value
// that arrived concurrently with cancellation is still returned.
func (w *Waiter[T]) Wait(ctx context.Context) (T, error) {
	select {
	case r := <-w.ch:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		w.queue.finish(w, zero, ctx.Err())
		r := <-w.ch
		return r.value, r.err
	}
}
