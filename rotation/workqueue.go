package rotation

import (
	"errors"
	"sync"
)

// ErrQueueClosed is returned when submitting to a stopped queue.
var ErrQueueClosed = errors.New("work queue closed")

// WorkQueue runs rotation tasks outside the scheduler's tick.
type WorkQueue interface {
	Submit(task func()) error
	Close()
}

// AsyncQueue runs tasks on a fixed pool of worker goroutines. Submit blocks
// while the buffer is full.
type AsyncQueue struct {
	tasks  chan func()
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewAsyncQueue starts the given number of workers.
func NewAsyncQueue(workers, buffer int) *AsyncQueue {
	if workers < 1 {
		workers = 1
	}
	q := &AsyncQueue{tasks: make(chan func(), max(buffer, 0))}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for task := range q.tasks {
				task()
			}
		}()
	}
	return q
}

// Submit enqueues a task.
func (q *AsyncQueue) Submit(task func()) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.tasks <- task
	return nil
}

// Close stops accepting tasks and waits for queued ones to finish.
func (q *AsyncQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	q.wg.Wait()
}

// InlineQueue runs each task synchronously on the submitting goroutine.
type InlineQueue struct{}

func (InlineQueue) Submit(task func()) error {
	task()
	return nil
}

func (InlineQueue) Close() {}
