// Package queue holds pending email tasks and releases them in priority
// order, FIFO within a priority band.
package queue

import (
	"container/heap"
	"sync"
	"time"

	"event-mailer/internal/models"
)

type item struct {
	task *models.EmailTask
	seq  uint64
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority < h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x interface{}) {
	*h = append(*h, x.(*item))
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// PriorityQueue is a thread-safe priority queue of email tasks. High
// priority tasks are released before normal, normal before low; within a
// band, submission order is preserved via a monotonic sequence counter.
type PriorityQueue struct {
	mu    sync.Mutex
	items itemHeap
	index map[string]*models.EmailTask
	seq   uint64
	wake  chan struct{}
}

func New() *PriorityQueue {
	return &PriorityQueue{
		index: make(map[string]*models.EmailTask),
		wake:  make(chan struct{}, 1),
	}
}

// Enqueue inserts a task at the given priority and returns its id. The task
// is also recorded in an index so it can be cancelled while still queued.
func (q *PriorityQueue) Enqueue(task *models.EmailTask, priority models.Priority) string {
	q.mu.Lock()
	task.Priority = priority
	q.seq++
	heap.Push(&q.items, &item{task: task, seq: q.seq})
	if task.TaskID != "" {
		q.index[task.TaskID] = task
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return task.TaskID
}

// Dequeue blocks up to timeout waiting for the highest-priority,
// earliest-submitted task. It returns nil when the timeout expires with
// nothing available. A dequeued task is removed from the cancellation index
// and can no longer be cancelled.
func (q *PriorityQueue) Dequeue(timeout time.Duration) *models.EmailTask {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			it := heap.Pop(&q.items).(*item)
			delete(q.index, it.task.TaskID)
			q.mu.Unlock()
			return it.task
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-deadline.C:
			return nil
		}
	}
}

// Cancel marks a still-queued task cancelled and removes it from the index.
// It returns false when the task was already dequeued (or never existed);
// such tasks run to completion.
func (q *PriorityQueue) Cancel(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.index[taskID]
	if !ok {
		return false
	}
	task.Cancel()
	delete(q.index, taskID)
	return true
}

// Contains reports whether a task is still waiting in the queue.
func (q *PriorityQueue) Contains(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.index[taskID]
	return ok
}

// Size returns the count of items not yet dequeued. Cancelled tasks that are
// still physically present count until the worker skips them.
func (q *PriorityQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
