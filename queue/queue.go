// Package queue hands values from one producer to one consuming goroutine
// without ever blocking the producer for long.
package queue

import (
	"sync/atomic"
	"time"
)

// Queue is a bounded FIFO between a producer and its consumer. Producers
// never block indefinitely: when the queue is full the oldest entry is
// dropped to make room, either at once or after a short wait.
//
// A queue has a single producer, which is also the one to Close it; any
// number of goroutines may receive from C.
type Queue[T any] struct {
	ch      chan T
	closed  bool
	dropped atomic.Uint64
}

func New[T any](size int) *Queue[T] {
	if size < 1 {
		size = 1
	}
	return &Queue[T]{ch: make(chan T, size)}
}

// C is the receive side for the consumer. It is closed by Close.
func (q *Queue[T]) C() <-chan T {
	return q.ch
}

func (q *Queue[T]) Len() int {
	return len(q.ch)
}

func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}

// PushDropOldest enqueues v without blocking, evicting the oldest entry if
// the queue is full. It reports whether something was dropped.
func (q *Queue[T]) PushDropOldest(v T) bool {
	if q.closed {
		return false
	}
	dropped := false
	for {
		select {
		case q.ch <- v:
			return dropped
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
			dropped = true
		default:
			// the consumer emptied it in between
		}
	}
}

// PushWithin waits up to d for room before falling back to PushDropOldest.
func (q *Queue[T]) PushWithin(v T, d time.Duration) bool {
	if q.closed {
		return false
	}
	select {
	case q.ch <- v:
		return false
	default:
	}
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case q.ch <- v:
			return false
		case <-t.C:
		}
	}
	return q.PushDropOldest(v)
}

// Close ends the stream; the consumer drains what is left and then sees the
// channel close. Later pushes are discarded.
func (q *Queue[T]) Close() {
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
