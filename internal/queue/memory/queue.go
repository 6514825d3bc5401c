// Package memory provides the bounded in-process record queue used by the
// acquisition coordinator.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/animal-gallery/internal/crawler"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan crawler.Record
	closeMu sync.Mutex
	closed  bool
}

var _ crawler.Queue = (*Queue)(nil)

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan crawler.Record, capacity),
	}
}

// Enqueue pushes a record into the queue or returns if the context ends.
// Enqueue must not be called after Close.
func (q *Queue) Enqueue(ctx context.Context, rec crawler.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- rec:
		return nil
	}
}

// Dequeue pops the next record, respecting context cancellation. A done
// context wins over buffered records, including one received while the
// context finished.
func (q *Queue) Dequeue(ctx context.Context) (crawler.Record, error) {
	if err := ctx.Err(); err != nil {
		return crawler.Record{}, fmt.Errorf("dequeue canceled: %w", err)
	}
	select {
	case <-ctx.Done():
		return crawler.Record{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case rec, ok := <-q.ch:
		if !ok {
			return crawler.Record{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return crawler.Record{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		return rec, nil
	}
}

// Len reports how many records are buffered.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel. Buffered records remain readable.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
