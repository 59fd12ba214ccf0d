// Package backfill queues entities and fragments whose embedding could not
// be computed during upsert and fills them in later.
package backfill

import (
	"context"
	"sync"
)

// Task asks for the embedding of Text to be stored on node ID.
type Task struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Queue is a FIFO of pending embedding tasks. Dequeue returns at most max
// tasks and never blocks; an empty result means the queue is drained.
type Queue interface {
	Enqueue(ctx context.Context, tasks ...Task) error
	Dequeue(ctx context.Context, max int) ([]Task, error)
	Len(ctx context.Context) (int, error)
}

// MemoryQueue is a process local Queue.
type MemoryQueue struct {
	mu    sync.Mutex
	tasks []Task
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, tasks ...Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	q.tasks = append(q.tasks, tasks...)
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, max int) ([]Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	n := min(max, len(q.tasks))
	if n <= 0 {
		return nil, nil
	}
	out := make([]Task, n)
	copy(out, q.tasks[:n])
	q.tasks = q.tasks[n:]
	return out, nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks), nil
}
