package app

import (
	"context"
	"testing"
	"time"

	"github.com/ansonTGN/LaMuralla-AI-Test/internal/config"
	"github.com/ansonTGN/LaMuralla-AI-Test/internal/queue"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
)

func memoryConfig() *config.Config {
	cfg := config.FromEnv()
	cfg.AI.Adapter = "none"
	cfg.Store.Backend = "memory"
	cfg.Backfill.Backend = "memory"
	cfg.S3.Bucket = ""
	return cfg
}

func TestNewWithoutModel(t *testing.T) {
	a, err := New(context.Background(), memoryConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.AI != nil || a.Reasoner != nil || a.Backfiller != nil {
		t.Fatalf("expected no model services, got ai=%v reasoner=%v backfiller=%v", a.AI, a.Reasoner, a.Backfiller)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := a.NewPipeline(ctx)
	defer p.Close()

	job := p.Submit([]byte("Name,Manager\nAlice,Bob\n"), loader.FormatCSV, "staff.csv")
	if err := job.Wait(ctx); err != nil {
		t.Fatalf("expected job to succeed, got %v", err)
	}

	g, err := a.Store.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(g.Entities) != 2 || len(g.Relationships) != 1 {
		t.Fatalf("expected 2 entities and 1 relationship, got %d and %d", len(g.Entities), len(g.Relationships))
	}

	// Two entities and one row fragment wait for a model.
	n, err := a.Backfill.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deferred embeddings, got %d", n)
	}

	hood, err := a.Retriever.Neighborhood(ctx, "Alice", 1)
	if err != nil {
		t.Fatalf("Neighborhood: %v", err)
	}
	if len(hood.Entities) != 2 {
		t.Fatalf("expected Alice and Bob, got %v", hood.Entities)
	}
}

func TestSources(t *testing.T) {
	a, err := New(context.Background(), memoryConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	sources, err := a.Sources(context.Background())
	if err != nil {
		t.Fatalf("Sources: %v", err)
	}
	for _, loc := range []string{queue.LocationFile, queue.LocationWeb} {
		if _, ok := sources[loc]; !ok {
			t.Fatalf("expected a loader for %s", loc)
		}
	}
	if _, ok := sources[queue.LocationS3]; ok {
		t.Fatalf("expected no s3 loader without a bucket")
	}

	archive, err := a.Archive(context.Background())
	if err != nil || archive != nil {
		t.Fatalf("expected no archive without a bucket, got %v %v", archive, err)
	}
}

func TestUnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store.Backend = "sqlite"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestInitLogger(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		flush, err := InitLogger(config.LogConfig{Format: format}, "test")
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		flush()
	}
}
