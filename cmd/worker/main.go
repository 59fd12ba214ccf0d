package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansonTGN/LaMuralla-AI-Test/internal/app"
	"github.com/ansonTGN/LaMuralla-AI-Test/internal/config"
	"github.com/ansonTGN/LaMuralla-AI-Test/internal/queue"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/leaselock"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/logger"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/reasoning"

	"golang.org/x/sync/errgroup"
)

// Messages are retried this many times before they go to the DLQ.
const maxRetries = 10

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load("")
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	flush, err := app.InitLogger(cfg.Log, "worker")
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer flush()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("Could not initialise services", "err", err)
	}
	defer a.Close()

	sources, err := a.Sources(ctx)
	if err != nil {
		logger.Fatal("Could not initialise source loaders", "err", err)
	}

	pipeline := a.NewPipeline(ctx)
	defer pipeline.Close()

	params := queue.NewProcessorParams{Pipeline: pipeline, Sources: sources}
	if a.Reasoner != nil {
		params.Reasoner = a.Reasoner
	}
	processor := queue.NewProcessor(params)

	conn, err := queue.Dial(cfg.RabbitMQ)
	if err != nil {
		logger.Fatal("Could not connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Listening for messages", "queues", queue.Queues)
		return queue.Consume(ctx, ch, queue.Queues, maxRetries, func(ctx context.Context, queueName string, body []byte) error {
			defer a.LogMetrics()
			return processor.Handle(ctx, queueName, body)
		})
	})
	if a.Backfiller != nil {
		g.Go(func() error {
			return ignoreCanceled(a.Backfiller.Run(ctx))
		})
	}
	if a.Reasoner != nil && cfg.Infer.Interval > 0 {
		scope, err := reasoning.ParseScope(cfg.Infer.Scope)
		if err != nil {
			logger.Fatal("Invalid inference scope", "scope", cfg.Infer.Scope, "err", err)
		}
		g.Go(func() error {
			inferEvery(ctx, a.Reasoner, scope, cfg.Infer.Interval)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped", "err", err)
		return
	}
	logger.Info("Shutdown signal received, exiting...")
}

// inferEvery runs an inference pass over scope on every tick until ctx is
// done.
func inferEvery(ctx context.Context, r *reasoning.Reasoner, scope *reasoning.Scope, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rels, err := r.Infer(ctx, scope)
			switch {
			case errors.Is(err, leaselock.ErrBusy):
				logger.Debug("[Infer] Pass already running elsewhere", "scope", scope.String())
			case err != nil && ctx.Err() == nil:
				logger.Warn("[Infer] Scheduled pass failed", "scope", scope.String(), "err", err)
			case err == nil:
				logger.Info("[Infer] Scheduled pass stored relationships", "scope", scope.String(), "count", len(rels))
			}
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
