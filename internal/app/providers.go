package app

import (
	"context"
	"fmt"

	"github.com/ansonTGN/LaMuralla-AI-Test/internal/config"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ai"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ai/ollama"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ai/openai"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/backfill"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/logger"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/logger/console"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/logger/jsonlog"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store/memory"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store/neo4j"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
)

// InitLogger installs the global logger for service. The returned function
// flushes buffered entries.
func InitLogger(cfg config.LogConfig, service string) (func(), error) {
	if cfg.Format == "json" {
		l, err := jsonlog.NewJSONLogger(jsonlog.JSONLoggerParams{Debug: cfg.Debug, Service: service})
		if err != nil {
			return nil, fmt.Errorf("init json logger: %w", err)
		}
		logger.Init(l)
		return func() { _ = l.Sync() }, nil
	}
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{Debug: cfg.Debug, Prefix: service}))
	return func() {}, nil
}

// openStore connects the configured backend and ensures its schema. The
// pool is only set for the pgx backend.
func openStore(ctx context.Context, cfg *config.Config) (store.GraphStorage, *pgxpool.Pool, error) {
	if cfg.Store.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Store.Timeout)
		defer cancel()
	}

	var (
		s    store.GraphStorage
		pool *pgxpool.Pool
	)
	switch cfg.Store.Backend {
	case "memory":
		s = memory.New()
	case "pgx":
		if err := pgx.Migrate(cfg.Store.DatabaseURL); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		var err error
		pool, err = pgx.Connect(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		s = pgx.New(pool, pgx.WithDimension(cfg.AI.EmbedDim))
	case "neo4j":
		var err error
		s, err = neo4j.Connect(ctx, neo4j.Params{
			URI:       cfg.Store.Neo4jURI,
			User:      cfg.Store.Neo4jUser,
			Password:  cfg.Store.Neo4jPassword,
			Database:  cfg.Store.Neo4jDatabase,
			Dimension: cfg.AI.EmbedDim,
			Timeout:   cfg.Store.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	if err := s.EnsureSchema(ctx); err != nil {
		s.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	logger.Info("[App] Store ready", "backend", cfg.Store.Backend)
	return s, pool, nil
}

// openAI builds the model client. The "none" adapter returns nil: prose is
// then skipped, embeddings are deferred and inference is unavailable.
func openAI(cfg config.AIConfig) (ai.Client, error) {
	switch cfg.Adapter {
	case "none":
		return nil, nil
	case "ollama":
		c, err := ollama.NewClient(ollama.NewClientParams{
			EmbeddingModel:        cfg.EmbedModel,
			ExtractionModel:       cfg.ExtractModel,
			Dimensions:            cfg.EmbedDim,
			BaseURL:               cfg.ChatURL,
			ApiKey:                cfg.ChatKey,
			Timeout:               cfg.Timeout,
			MaxConcurrentRequests: int64(cfg.Parallel),
		})
		if err != nil {
			return nil, fmt.Errorf("init ollama client: %w", err)
		}
		return c, nil
	default:
		return openai.NewClient(openai.NewClientParams{
			EmbeddingModel:        cfg.EmbedModel,
			ExtractionModel:       cfg.ExtractModel,
			Dimensions:            cfg.EmbedDim,
			EmbeddingURL:          cfg.EmbedURL,
			EmbeddingKey:          cfg.EmbedKey,
			ChatURL:               cfg.ChatURL,
			ChatKey:               cfg.ChatKey,
			Timeout:               cfg.Timeout,
			MaxConcurrentRequests: int64(cfg.Parallel),
		}), nil
	}
}

func openBackfill(ctx context.Context, cfg config.BackfillConfig) (backfill.Queue, error) {
	if cfg.Backend == "redis" {
		q, err := backfill.NewRedisQueue(ctx, backfill.RedisOptions{URL: cfg.RedisURL, Key: cfg.Key})
		if err != nil {
			return nil, err
		}
		return q, nil
	}
	return backfill.NewMemoryQueue(), nil
}
