package stream

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestPlaybackOrder verifies FIFO delivery.
func TestPlaybackOrder(t *testing.T) {
	t.Parallel()
	q := NewPlaybackQueue[string]()
	for _, s := range []string{"a", "b", "c"} {
		if err := q.Enqueue(s); err != nil {
			t.Fatalf("Enqueue(%q): %v", s, err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if got != want {
			t.Errorf("Next = %q, want %q", got, want)
		}
	}
}

// TestPlaybackDrainDiscardsPending verifies the interruption invariant:
// items enqueued before Drain are discarded, items enqueued after survive.
func TestPlaybackDrainDiscardsPending(t *testing.T) {
	t.Parallel()
	q := NewPlaybackQueue[int]()
	_ = q.Enqueue(1)
	_ = q.Enqueue(2)

	if n := q.Drain(); n != 2 {
		t.Errorf("Drain = %d, want 2", n)
	}
	if q.Len() != 0 {
		t.Errorf("Len after Drain = %d, want 0", q.Len())
	}

	_ = q.Enqueue(3)
	got, err := q.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got != 3 {
		t.Errorf("Next after Drain = %d, want 3", got)
	}
}

// TestPlaybackNextBlocksUntilEnqueue verifies that Next suspends while the
// queue is empty and wakes on Enqueue.
func TestPlaybackNextBlocksUntilEnqueue(t *testing.T) {
	t.Parallel()
	q := NewPlaybackQueue[int]()

	got := make(chan int, 1)
	go func() {
		v, err := q.Next(context.Background())
		if err != nil {
			return
		}
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("Next returned on an empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	_ = q.Enqueue(7)
	select {
	case v := <-got:
		if v != 7 {
			t.Errorf("Next = %d, want 7", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake after Enqueue")
	}
}

// TestPlaybackClose verifies that Close wakes a blocked Next with ErrClosed
// and rejects further Enqueue calls.
func TestPlaybackClose(t *testing.T) {
	t.Parallel()
	q := NewPlaybackQueue[int]()

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()
	q.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Next err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Next still blocked after Close")
	}

	if err := q.Enqueue(1); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue after Close err = %v, want ErrClosed", err)
	}
}

// TestPlaybackNextRespectsContext verifies cancellation of a blocked Next.
func TestPlaybackNextRespectsContext(t *testing.T) {
	t.Parallel()
	q := NewPlaybackQueue[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next err = %v, want context.DeadlineExceeded", err)
	}
}
