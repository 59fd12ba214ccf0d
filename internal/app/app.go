// Package app wires the configured store, model client and services shared
// by kgctl and the worker.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ansonTGN/LaMuralla-AI-Test/internal/config"
	"github.com/ansonTGN/LaMuralla-AI-Test/internal/queue"
	"github.com/ansonTGN/LaMuralla-AI-Test/internal/storage"
	"github.com/ansonTGN/LaMuralla-AI-Test/internal/util"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ai"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/backfill"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/graph"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ingest"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/leaselock"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader/formats"
	lio "github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader/io"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader/s3"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader/web"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/logger"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/query"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/reasoning"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"
)

const (
	maxBackoff = 10 * time.Second
	webTimeout = 30 * time.Second
)

type App struct {
	Cfg *config.Config

	Store     store.GraphStorage
	AI        ai.Client
	Registry  *loader.Registry
	Backfill  backfill.Queue
	Extractor *graph.Extractor
	Upserter  *graph.Upserter
	Retriever *query.Retriever
	// Reasoner and Backfiller are nil when no model is configured. Deferred
	// embeddings then stay queued.
	Reasoner   *reasoning.Reasoner
	Backfiller *backfill.Worker
}

// New connects the configured backends and builds the services on top of
// them. Close releases them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	client, err := openAI(cfg.AI)
	if err != nil {
		return nil, err
	}

	s, pool, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	bq, err := openBackfill(ctx, cfg.Backfill)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("init backfill queue: %w", err)
	}

	a := &App{
		Cfg:      cfg,
		Store:    s,
		AI:       client,
		Registry: formats.NewRegistry(loader.WithMaxBytes(cfg.Ingest.MaxBytes)),
		Backfill: bq,
	}

	var (
		completer ai.Completer
		embedder  ai.Embedder
	)
	if client != nil {
		completer, embedder = client, client
	}
	backoff := util.ExponentialBackoff(cfg.Extract.Backoff, maxBackoff)

	a.Extractor = graph.NewExtractor(graph.NewExtractorParams{
		Client:      completer,
		Parallel:    cfg.Extract.Parallel,
		MaxRetries:  cfg.Extract.MaxRetries,
		Backoff:     backoff,
		UnitTokens:  cfg.Extract.UnitTokens,
		CallTimeout: cfg.AI.Timeout,
	})
	a.Upserter = graph.NewUpserter(graph.NewUpserterParams{
		Store:      s,
		Embedder:   embedder,
		Queue:      bq,
		MaxRetries: cfg.Extract.MaxRetries,
		Backoff:    backoff,
	})
	a.Retriever = query.NewRetriever(s, embedder, query.WithOptions(cfg.Retrieve.QueryOptions()))

	if client != nil {
		a.Backfiller = backfill.NewWorker(backfill.NewWorkerParams{
			Queue:    bq,
			Embedder: embedder,
			Store:    s,
			Batch:    cfg.Backfill.Batch,
			Interval: cfg.Backfill.Interval,
		})

		var locker leaselock.Locker = leaselock.NewLocal()
		if pool != nil {
			locker = leaselock.New(pool)
		}
		a.Reasoner = reasoning.NewReasoner(reasoning.NewReasonerParams{
			Store:         s,
			Client:        completer,
			Upserter:      a.Upserter,
			Locker:        locker,
			Parallel:      cfg.AI.Parallel,
			MaxRetries:    cfg.Extract.MaxRetries,
			Backoff:       backoff,
			CallTimeout:   cfg.AI.Timeout,
			MinCommon:     cfg.Infer.MinCommon,
			AllowedKinds:  cfg.Infer.AllowedKinds,
			MaxCandidates: cfg.Infer.MaxCandidates,
		})
	}
	return a, nil
}

// NewPipeline starts an ingestion pipeline over the app's services.
func (a *App) NewPipeline(ctx context.Context) *ingest.Pipeline {
	return ingest.NewPipeline(ctx, ingest.NewPipelineParams{
		Parser:    a.Registry,
		Extractor: a.Extractor,
		Upserter:  a.Upserter,
		Workers:   a.Cfg.Ingest.Workers,
	})
}

// Sources returns the loaders for every IngestMessage location. The S3
// loader is only present when a bucket is configured.
func (a *App) Sources(ctx context.Context) (map[string]loader.SourceLoader, error) {
	maxBytes := a.Cfg.Ingest.MaxBytes
	sources := map[string]loader.SourceLoader{
		queue.LocationFile: lio.NewFileLoader(maxBytes),
		queue.LocationWeb:  web.NewLoader(&http.Client{Timeout: webTimeout}, maxBytes),
	}
	if a.Cfg.S3.Bucket != "" {
		client, err := storage.NewS3Client(ctx, a.Cfg.S3)
		if err != nil {
			return nil, err
		}
		sources[queue.LocationS3] = s3.NewLoaderWithClient(a.Cfg.S3.Bucket, client, maxBytes)
	}
	return sources, nil
}

// Archive returns the S3 archive of source documents, or nil when no bucket
// is configured.
func (a *App) Archive(ctx context.Context) (*storage.Archive, error) {
	if a.Cfg.S3.Bucket == "" {
		return nil, nil
	}
	client, err := storage.NewS3Client(ctx, a.Cfg.S3)
	if err != nil {
		return nil, err
	}
	return storage.NewArchive(client, a.Cfg.S3.Bucket), nil
}

// LogMetrics logs and resets the model usage counters.
func (a *App) LogMetrics() {
	if a.AI == nil {
		return
	}
	m := a.AI.GetMetrics()
	logger.Info(
		"[App] AI metrics",
		"input_tokens", m.InputTokens,
		"output_tokens", m.OutputTokens,
		"total_tokens", m.TotalTokens,
		"duration", (time.Duration(m.DurationMs) * time.Millisecond).Round(time.Second).String(),
	)
	a.AI.ResetMetrics()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if c, ok := a.Backfill.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("[App] Closing backfill queue failed", "err", err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			logger.Warn("[App] Closing store failed", "err", err)
		}
	}
}
