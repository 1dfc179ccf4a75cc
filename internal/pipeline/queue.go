package pipeline

import (
	"sync"

	"github.com/normatech/normrag/internal/errors"
)

// Queue is a bounded FIFO queue with priority insertion: higher priority
// dequeues first, FIFO within a priority. Enqueue on a full queue fails
// with an overload error instead of blocking.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	items    []*IndexingTask
	capacity int
	closed   bool
}

// NewQueue creates a queue holding at most capacity tasks.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 100
	}
	q := &Queue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue inserts the task after the last task of equal or higher
// priority. A full queue rejects with Overload; a closed queue rejects
// with Fatal.
func (q *Queue) Enqueue(task *IndexingTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errors.New(errors.KindFatal, "queue closed")
	}
	if len(q.items) >= q.capacity {
		return errors.Newf(errors.KindOverload, "indexing queue full (%d tasks)", q.capacity)
	}

	pos := len(q.items)
	for pos > 0 && q.items[pos-1].Priority < task.Priority {
		pos--
	}
	q.items = append(q.items, nil)
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = task

	q.notEmpty.Signal()
	return nil
}

// Dequeue blocks until a task is available or the queue is closed.
// The second return is false only when the queue is closed and drained.
func (q *Queue) Dequeue() (*IndexingTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}

	task := q.items[0]
	q.items = q.items[1:]
	return task, true
}

// Close stops dispatch: waiting Dequeue calls return once the backlog is
// drained, and new Enqueue calls fail.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}

// Len reports the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Contains reports whether a task for the document is queued.
func (q *Queue) Contains(documentID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.items {
		if t.DocumentID == documentID {
			return true
		}
	}
	return false
}
