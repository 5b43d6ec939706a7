package async

import (
	"sync"

	"github.com/teranos/wakeup/errors"
)

// DefaultQueueSize is the queue capacity when none is configured
const DefaultQueueSize = 256

// ErrQueueFull is returned by Submit when the queue has no free slot
var ErrQueueFull = errors.New("task queue full")

// Queue is a bounded FIFO of task ids. An id is accepted at most once while
// it is queued or running.
type Queue struct {
	tasks    chan string
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewQueue creates a queue holding up to size ids
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		tasks:    make(chan string, size),
		inFlight: make(map[string]struct{}),
	}
}

// Enqueue adds id without blocking. Returns false when id is already queued
// or running, and ErrQueueFull when there is no room.
func (q *Queue) Enqueue(id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inFlight[id]; ok {
		return false, nil
	}
	select {
	case q.tasks <- id:
		q.inFlight[id] = struct{}{}
		return true, nil
	default:
		return false, errors.WithDetail(ErrQueueFull, "Task ID: "+id)
	}
}

// Done releases id so it can be enqueued again
func (q *Queue) Done(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, id)
}

// Len returns the number of ids waiting
func (q *Queue) Len() int {
	return len(q.tasks)
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return cap(q.tasks)
}

// InFlight returns the number of ids queued or running
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

// C is the channel workers receive from
func (q *Queue) C() <-chan string {
	return q.tasks
}
