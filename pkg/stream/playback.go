package stream

import (
	"context"
	"sync"
)

// PlaybackQueue is an unbounded FIFO of pending items awaiting output.
// Enqueue never blocks; Next blocks while the queue is empty. Drain empties
// the queue atomically with respect to the consumer, so an item enqueued
// before the drain is never returned afterwards — the invariant that makes
// turn interruption discard stale audio instead of playing it.
type PlaybackQueue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	// notify carries at most one pending wake-up for a blocked Next.
	notify chan struct{}
}

// NewPlaybackQueue creates an empty PlaybackQueue.
func NewPlaybackQueue[T any]() *PlaybackQueue[T] {
	return &PlaybackQueue[T]{notify: make(chan struct{}, 1)}
}

// Enqueue appends v without blocking. It returns [ErrClosed] if the queue
// has been closed.
func (q *PlaybackQueue[T]) Enqueue(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Next removes and returns the oldest item, blocking while the queue is
// empty. It returns ctx.Err() on cancellation, or [ErrClosed] once the queue
// is closed and empty.
func (q *PlaybackQueue[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return v, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return zero, ErrClosed
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Drain discards every pending item and reports how many were dropped.
// Items enqueued strictly after Drain returns are unaffected.
func (q *PlaybackQueue[T]) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// Len reports the number of pending items.
func (q *PlaybackQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed and wakes a blocked Next. Pending items remain
// readable until the queue is empty; Enqueue fails afterwards. Idempotent.
func (q *PlaybackQueue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}
