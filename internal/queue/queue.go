package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Push after Close, and by Pop once a closed queue
// has been drained.
var ErrClosed = errors.New("queue: closed")

// Queue is an unbounded in-process FIFO of job ids. Push never blocks; Pop
// blocks until an id is available, the queue is closed and empty, or the
// context ends.
type Queue struct {
	mu     sync.Mutex
	items  []string
	closed bool
	// signal carries at most one pending wakeup for blocked consumers.
	signal chan struct{}
	done   chan struct{}
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends an id at the tail.
func (q *Queue) Push(id string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, id)
	q.mu.Unlock()

	q.wake()
	return nil
}

func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pop removes and returns the id at the head.
func (q *Queue) Pop(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				// pass the baton so another idle consumer picks up the rest
				q.wake()
			}
			return id, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return "", ErrClosed
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.signal:
		case <-q.done:
		}
	}
}

// Len is a snapshot of the pending count; it may be stale by the time the
// caller reads it.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting new ids. Ids already queued are still handed out.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
