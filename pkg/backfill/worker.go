package backfill

import (
	"context"
	"time"

	"github.com/ansonTGN/LaMuralla-AI-Test/internal/util"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ai"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/logger"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"
)

// Worker drains a Queue: it embeds the queued texts and stores the vectors
// on nodes that still lack one.
type Worker struct {
	queue    Queue
	embedder ai.Embedder
	store    store.GraphStorage
	batch    int
	interval time.Duration
}

type NewWorkerParams struct {
	Queue    Queue
	Embedder ai.Embedder
	Store    store.GraphStorage
	// Batch is the number of tasks embedded per call.
	Batch int
	// Interval is the wait after the queue ran empty or a batch failed.
	Interval time.Duration
}

func NewWorker(params NewWorkerParams) *Worker {
	w := &Worker{
		queue:    params.Queue,
		embedder: params.Embedder,
		store:    params.Store,
		batch:    params.Batch,
		interval: params.Interval,
	}
	if w.batch <= 0 {
		w.batch = 64
	}
	if w.interval <= 0 {
		w.interval = 30 * time.Second
	}
	return w
}

// Run drains the queue until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	for {
		n, err := w.Drain(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logger.Warn("[Backfill] Batch failed", "err", err)
		}
		if n == 0 || err != nil {
			if err := util.Sleep(ctx, w.interval); err != nil {
				return err
			}
		}
	}
}

// Drain processes one batch and returns the number of tasks handled. Tasks
// whose node already has an embedding are dropped. On failure the
// unhandled tasks are pushed back to the queue.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	tasks, err := w.queue.Dequeue(ctx, w.batch)
	if err != nil || len(tasks) == 0 {
		return 0, err
	}

	inputs := make([][]byte, len(tasks))
	for i, t := range tasks {
		inputs[i] = []byte(t.Text)
	}
	vectors, err := w.embedder.GenerateEmbeddings(ctx, inputs)
	if err != nil {
		w.requeue(tasks)
		return 0, err
	}

	stored := 0
	for i, t := range tasks {
		if i >= len(vectors) || store.IsZeroVector(vectors[i]) {
			continue
		}
		ok, err := w.store.SetEmbedding(ctx, t.ID, vectors[i])
		if err != nil {
			w.requeue(tasks[i:])
			return i, err
		}
		if ok {
			stored++
		}
	}
	logger.Debug("[Backfill] Batch stored", "tasks", len(tasks), "stored", stored)
	return len(tasks), nil
}

func (w *Worker) requeue(tasks []Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.Enqueue(ctx, tasks...); err != nil {
		logger.Error("[Backfill] Failed to requeue tasks", "count", len(tasks), "err", err)
	}
}
