// Package stream provides the two queue primitives used by the LiveBridge
// pipeline: a fixed-capacity FIFO channel ([Bounded]) that enforces producer
// backpressure, and an unbounded FIFO ([PlaybackQueue]) that supports atomic
// draining for interruption handling.
//
// Both types are safe for concurrent producers and consumers. They are the
// only shared mutable structures in the pipeline; all access goes through
// their method contracts.
package stream

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Put, Get, Enqueue and Next after the queue has
// been closed.
var ErrClosed = errors.New("stream: closed")

// Bounded is a fixed-capacity FIFO queue. Put blocks while the queue is at
// capacity and Get blocks while it is empty, so a slow consumer throttles its
// producers instead of growing memory without bound. The queue never drops an
// item itself.
type Bounded[T any] struct {
	ch        chan T
	done      chan struct{}
	closeOnce sync.Once
}

// NewBounded creates a Bounded queue holding at most capacity items.
// A capacity below 1 is treated as 1.
func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// Put appends v to the queue, blocking while the queue is full. It returns
// ctx.Err() if the context is cancelled first, or [ErrClosed] if the queue
// is (or becomes) closed while waiting.
func (b *Bounded[T]) Put(ctx context.Context, v T) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	select {
	case b.ch <- v:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get removes and returns the oldest item, blocking while the queue is
// empty. Items are returned in insertion order. It returns ctx.Err() if the
// context is cancelled first, or [ErrClosed] once the queue is closed and no
// buffered item wins the race.
func (b *Bounded[T]) Get(ctx context.Context) (T, error) {
	var zero T
	select {
	case v := <-b.ch:
		return v, nil
	case <-b.done:
		// Prefer buffered items over the close signal when both are ready.
		select {
		case v := <-b.ch:
			return v, nil
		default:
			return zero, ErrClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Len reports the number of buffered items.
func (b *Bounded[T]) Len() int { return len(b.ch) }

// Cap reports the queue capacity.
func (b *Bounded[T]) Cap() int { return cap(b.ch) }

// Close marks the queue closed, waking all blocked Put and Get callers with
// [ErrClosed]. Close is idempotent.
func (b *Bounded[T]) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when the data on a streaming channel
// is not needed.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
