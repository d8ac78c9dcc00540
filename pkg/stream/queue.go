package stream

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Push after Close.
var ErrQueueClosed = errors.New("queue closed")

// Queue is a session's ordered outbound queue. Push blocks while the buffer
// is full; items are never dropped.
type Queue[T any] struct {
	ch     chan T
	done   chan struct{}
	closed sync.Once
}

// NewQueue creates a queue buffering up to size items.
func NewQueue[T any](size int) *Queue[T] {
	if size < 0 {
		size = 0
	}
	return &Queue[T]{
		ch:   make(chan T, size),
		done: make(chan struct{}),
	}
}

// Push enqueues v, waiting for room until ctx is done or the queue closes.
func (q *Queue[T]) Push(ctx context.Context, v T) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.ch <- v:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Items returns the receive side, read by the session's writer.
func (q *Queue[T]) Items() <-chan T {
	return q.ch
}

// Done is closed once Close has been called.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

// Close unblocks pending and future Push calls. Items already queued stay
// readable from Items.
func (q *Queue[T]) Close() {
	q.closed.Do(func() { close(q.done) })
}
