// Package queue provides a bounded FIFO of deferred tasks and a drainer that
// runs them one per tick.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrQueueFull is returned when attempting to push to a full queue.
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueEmpty is returned when attempting to pop from an empty queue.
	ErrQueueEmpty = errors.New("queue is empty")
	// ErrQueueClosed is returned when attempting to use a closed queue.
	ErrQueueClosed = errors.New("queue is closed")
)

// Task is a unit of deferred work.
type Task struct {
	Name       string
	Run        func(ctx context.Context) error
	EnqueuedAt time.Time
}

// TaskQueue is a thread-safe circular buffer of tasks.
type TaskQueue struct {
	buffer []Task
	size   int
	head   int
	tail   int
	count  int
	closed bool
	mu     sync.Mutex

	totalPushed  atomic.Uint64
	totalPopped  atomic.Uint64
	totalDropped atomic.Uint64
}

// NewTaskQueue creates a queue with the given capacity.
func NewTaskQueue(size int) *TaskQueue {
	if size <= 0 {
		size = 1024
	}
	return &TaskQueue{
		buffer: make([]Task, size),
		size:   size,
	}
}

// Push appends a task. Returns ErrQueueFull if the queue is at capacity.
func (q *TaskQueue) Push(t Task) error {
	if t.Run == nil {
		return errors.New("queue: task has no run function")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.count == q.size {
		q.totalDropped.Add(1)
		return ErrQueueFull
	}

	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	q.buffer[q.tail] = t
	q.tail = (q.tail + 1) % q.size
	q.count++
	q.totalPushed.Add(1)
	return nil
}

// Pop removes and returns the oldest task.
func (q *TaskQueue) Pop() (Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		if q.closed {
			return Task{}, ErrQueueClosed
		}
		return Task{}, ErrQueueEmpty
	}

	t := q.buffer[q.head]
	q.buffer[q.head] = Task{}
	q.head = (q.head + 1) % q.size
	q.count--
	q.totalPopped.Add(1)
	return t, nil
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the capacity of the queue.
func (q *TaskQueue) Cap() int {
	return q.size
}

// Close rejects further pushes. Queued tasks can still be popped.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Metrics returns queue statistics.
func (q *TaskQueue) Metrics() Metrics {
	return Metrics{
		Pushed:   q.totalPushed.Load(),
		Popped:   q.totalPopped.Load(),
		Dropped:  q.totalDropped.Load(),
		Depth:    q.Len(),
		Capacity: q.size,
	}
}

// Metrics holds statistics about queue operations.
type Metrics struct {
	Pushed   uint64 `json:"pushed"`
	Popped   uint64 `json:"popped"`
	Dropped  uint64 `json:"dropped"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
}
