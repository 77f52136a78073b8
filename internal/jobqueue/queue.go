// Package jobqueue holds the in-process FIFO of video ids awaiting processing.
package jobqueue

import (
	"context"
	"sync"
	"time"
)

// DefaultPollInterval bounds how long a waiting Dequeue goes without re-checking the queue.
const DefaultPollInterval = time.Second

// Queue is an unbounded FIFO of video ids, safe for concurrent use.
// Duplicates are allowed.
type Queue struct {
	mu     sync.Mutex
	items  []string
	notify chan struct{}
	poll   time.Duration
}

// Option configures a Queue.
type Option func(*Queue)

// WithPollInterval sets the re-check interval of a blocked Dequeue.
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.poll = d
		}
	}
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		notify: make(chan struct{}, 1),
		poll:   DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends id to the tail. It never blocks.
func (q *Queue) Enqueue(id string) {
	q.mu.Lock()
	q.items = append(q.items, id)
	q.mu.Unlock()
	q.signal()
}

// Dequeue removes and returns the head of the queue, waiting until an item
// arrives. It returns ok=false once ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (id string, ok bool) {
	timer := time.NewTimer(q.poll)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return "", false
		}
		if id, ok := q.pop(); ok {
			return id, true
		}

		select {
		case <-ctx.Done():
			return "", false
		case <-q.notify:
		case <-timer.C:
			timer.Reset(q.poll)
		}
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) pop() (string, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return "", false
	}
	id := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	remaining := len(q.items)
	q.mu.Unlock()

	// Another waiter may have missed the wake-up for the remaining items.
	if remaining > 0 {
		q.signal()
	}
	return id, true
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
