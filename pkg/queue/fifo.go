package queue

import (
	"context"
	"sync"
)

// FIFO is an unbounded, multi-producer queue. Push never blocks; Pop blocks
// until an item is available, the queue is closed and drained, or ctx ends.
//
// Once closed, further pushes are dropped but items already queued are still
// delivered, so a consumer can drain everything produced before Close.
type FIFO[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	ready  chan struct{} // 1-buffered wakeup for the consumer
}

// NewFIFO creates an empty open queue.
func NewFIFO[T any]() *FIFO[T] {
	return &FIFO[T]{ready: make(chan struct{}, 1)}
}

// Push appends v. Returns false if the queue is closed (v is dropped).
func (q *FIFO[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.wake()
	return true
}

// Pop removes and returns the oldest item. It returns ErrClosed once the
// queue is closed and empty, or ctx.Err() if ctx ends first.
func (q *FIFO[T]) Pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			return v, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			var zero T
			return zero, ErrClosed
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Close stops accepting new items. Safe to call more than once.
func (q *FIFO[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

// Len returns the number of queued items.
func (q *FIFO[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *FIFO[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *FIFO[T]) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
