// Package memory provides the bounded in-process job queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pagelens/webinsight/internal/crawler"
)

// ErrClosed is returned by Dequeue once the queue has been closed and
// drained.
var ErrClosed = errors.New("queue closed")

// Queue is a fixed-capacity FIFO connecting job submission to the single
// worker. Enqueue never blocks; a full queue fails fast.
type Queue struct {
	ch       chan crawler.CrawlJob
	capacity int
	closeMu  sync.Mutex
	closed   bool
}

// New constructs a Queue with the provided capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:       make(chan crawler.CrawlJob, capacity),
		capacity: capacity,
	}
}

// TryEnqueue pushes a job without blocking. A full queue returns
// crawler.ErrQueueFull immediately; submission never waits for capacity.
func (q *Queue) TryEnqueue(job crawler.CrawlJob) error {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return crawler.ErrNotRunning
	}
	select {
	case q.ch <- job:
		return nil
	default:
		return fmt.Errorf("%w (capacity %d)", crawler.ErrQueueFull, q.capacity)
	}
}

// Dequeue pops the next job, blocking until one arrives, the context
// finishes, or the queue closes. A context that is already done wins over
// buffered jobs, so a shutting-down worker never drains pending work.
func (q *Queue) Dequeue(ctx context.Context) (crawler.CrawlJob, error) {
	select {
	case <-ctx.Done():
		return crawler.CrawlJob{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	default:
	}
	select {
	case <-ctx.Done():
		return crawler.CrawlJob{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return crawler.CrawlJob{}, ErrClosed
		}
		return job, nil
	}
}

// Len reports the number of queued jobs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap reports the configured capacity.
func (q *Queue) Cap() int {
	return q.capacity
}

// Close stops accepting jobs and lets Dequeue drain the remainder.
// Safe to call more than once.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
