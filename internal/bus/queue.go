package bus

import (
	"context"
	"errors"
	"sync"

	"main/internal/schema"
)

var (
	ErrQueueFull   = errors.New("update queue full")
	ErrQueueClosed = errors.New("update queue closed")
)

// Queue is a bounded, non-blocking quote update queue. Ingestion pushes
// with TryPublish and never waits on the consumer side.
type Queue struct {
	ch     chan schema.QuoteUpdate
	mu     sync.RWMutex
	closed bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan schema.QuoteUpdate, capacity)}
}

// TryPublish enqueues an update without blocking. The read lock is held
// across the send so Close cannot close the channel under a publisher.
func (q *Queue) TryPublish(u schema.QuoteUpdate) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- u:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new updates.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Run consumes updates until the context is done or the queue is closed.
func (q *Queue) Run(ctx context.Context, handler func(schema.QuoteUpdate)) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-q.ch:
			if !ok {
				return
			}
			handler(u)
		}
	}
}
