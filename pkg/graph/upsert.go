package graph

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ansonTGN/LaMuralla-AI-Test/internal/util"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ai"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/backfill"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/logger"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/ansonTGN/LaMuralla-AI-Test/pkg/graph"

// UpsertReport counts what an Upsert changed.
type UpsertReport struct {
	EntitiesCreated      int
	EntitiesMerged       int
	RelationshipsCreated int
	RelationshipsMerged  int
	FragmentsStored      int
	EmbeddingsComputed   int
	EmbeddingsQueued     int
}

// Upserter merges extractions into the store. Every write is a single
// atomic merge in the store; the Upserter never reads a record and writes
// it back.
type Upserter struct {
	store      store.GraphStorage
	embedder   ai.Embedder
	queue      backfill.Queue
	parallel   int
	maxRetries int
	backoff    util.Backoff
	embedBatch int
	tracer     trace.Tracer
}

// NewUpserterParams configures an Upserter.
//
// Embedder may be nil, in which case all embeddings go to Queue. Queue may
// be nil, in which case records that could not be embedded are stored
// without a vector. MaxRetries bounds the attempts on store.ErrConflict.
type NewUpserterParams struct {
	Store      store.GraphStorage
	Embedder   ai.Embedder
	Queue      backfill.Queue
	Parallel   int
	MaxRetries int
	Backoff    util.Backoff
	EmbedBatch int
}

func NewUpserter(params NewUpserterParams) *Upserter {
	u := &Upserter{
		store:      params.Store,
		embedder:   params.Embedder,
		queue:      params.Queue,
		parallel:   params.Parallel,
		maxRetries: params.MaxRetries,
		backoff:    params.Backoff,
		embedBatch: params.EmbedBatch,
		tracer:     otel.Tracer(tracerName),
	}
	if u.parallel <= 0 {
		u.parallel = 8
	}
	if u.maxRetries <= 0 {
		u.maxRetries = 3
	}
	if u.embedBatch <= 0 {
		u.embedBatch = 64
	}
	return u
}

// EmbeddingText is the text embedded for an entity.
func EmbeddingText(e common.Entity) string {
	if e.Description == "" {
		return fmt.Sprintf("%s (%s)", e.Name, e.Type)
	}
	return fmt.Sprintf("%s (%s): %s", e.Name, e.Type, e.Description)
}

// Upsert merges x into the store: entities first, then relationships, then
// fragments. Records without an embedding get one before they are written,
// unless the embedding capability fails, in which case they are written
// without a vector and queued for backfill.
//
// Upsert is idempotent. It stops at the first record that cannot be merged
// and returns an *UpsertError; records merged before stay merged.
func (u *Upserter) Upsert(ctx context.Context, x *Extraction) (*UpsertReport, error) {
	ctx, span := u.tracer.Start(ctx, "graph.upsert", trace.WithAttributes(
		attribute.String("source.id", x.SourceID),
		attribute.Int("entities", len(x.Entities)),
		attribute.Int("relationships", len(x.Relationships)),
		attribute.Int("fragments", len(x.Fragments)),
	))
	defer span.End()

	report := &UpsertReport{}
	entities := cloneEntities(x.Entities)
	fragments := cloneFragments(x.Fragments)

	if err := u.embed(ctx, entities, fragments, report); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding lookup failed")
		return report, err
	}

	var created, merged atomic.Int64
	err := u.mergeAll(ctx, len(entities), func(ctx context.Context, i int) (string, store.MergeResult, error) {
		res, err := u.store.MergeEntity(ctx, entities[i])
		return entities[i].ID, res, err
	}, &created, &merged)
	report.EntitiesCreated, report.EntitiesMerged = int(created.Load()), int(merged.Load())
	if err != nil {
		return report, u.fail(span, err)
	}

	created.Store(0)
	merged.Store(0)
	err = u.mergeAll(ctx, len(x.Relationships), func(ctx context.Context, i int) (string, store.MergeResult, error) {
		res, err := u.store.MergeRelationship(ctx, x.Relationships[i])
		return x.Relationships[i].ID, res, err
	}, &created, &merged)
	report.RelationshipsCreated, report.RelationshipsMerged = int(created.Load()), int(merged.Load())
	if err != nil {
		return report, u.fail(span, err)
	}

	created.Store(0)
	merged.Store(0)
	err = u.mergeAll(ctx, len(fragments), func(ctx context.Context, i int) (string, store.MergeResult, error) {
		res, err := u.store.MergeFragment(ctx, fragments[i])
		return fragments[i].ID, res, err
	}, &created, &merged)
	report.FragmentsStored = int(created.Load() + merged.Load())
	if err != nil {
		return report, u.fail(span, err)
	}

	span.SetAttributes(
		attribute.Int("entities.created", report.EntitiesCreated),
		attribute.Int("relationships.created", report.RelationshipsCreated),
		attribute.Int("embeddings.queued", report.EmbeddingsQueued),
	)
	logger.Debug("[Upsert] Document upserted",
		"source_id", x.SourceID,
		"entities_created", report.EntitiesCreated,
		"entities_merged", report.EntitiesMerged,
		"relationships_created", report.RelationshipsCreated,
		"relationships_merged", report.RelationshipsMerged,
		"fragments", report.FragmentsStored,
		"embeddings_queued", report.EmbeddingsQueued,
	)
	return report, nil
}

func (u *Upserter) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "upsert failed")
	return err
}

type mergeFunc func(ctx context.Context, i int) (string, store.MergeResult, error)

// mergeAll runs merge for indexes [0, n) with bounded parallelism. Conflicts
// are retried; any other store error stops the run.
func (u *Upserter) mergeAll(ctx context.Context, n int, merge mergeFunc, created, merged *atomic.Int64) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(u.parallel)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			var key string
			res, err := util.RetryWithContext(gCtx, u.maxRetries, u.backoff, func(ctx context.Context) (store.MergeResult, error) {
				var res store.MergeResult
				var err error
				key, res, err = merge(ctx, i)
				if err != nil && !errors.Is(err, store.ErrConflict) {
					return res, util.Permanent(err)
				}
				return res, err
			})
			if err != nil {
				return newUpsertError(key, err)
			}
			if res.Created {
				created.Add(1)
			} else {
				merged.Add(1)
			}
			return nil
		})
	}
	return g.Wait()
}

// embed fills in missing embeddings of records the store does not already
// hold a vector for.
func (u *Upserter) embed(ctx context.Context, entities []common.Entity, fragments []common.Fragment, report *UpsertReport) error {
	var ids []string
	for _, e := range entities {
		if len(e.Embedding) == 0 {
			ids = append(ids, e.ID)
		}
	}
	var fragIDs []string
	for _, f := range fragments {
		if len(f.Embedding) == 0 {
			fragIDs = append(fragIDs, f.ID)
		}
	}
	if len(ids) == 0 && len(fragIDs) == 0 {
		return nil
	}

	embedded := make(map[string]bool)
	if len(ids) > 0 {
		existing, err := u.store.GetEntities(ctx, ids)
		if err != nil {
			return newUpsertError(ids[0], err)
		}
		for _, e := range existing {
			embedded[e.ID] = len(e.Embedding) > 0
		}
	}
	if len(fragIDs) > 0 {
		existing, err := u.store.GetFragments(ctx, fragIDs)
		if err != nil {
			return newUpsertError(fragIDs[0], err)
		}
		for _, f := range existing {
			embedded[f.ID] = len(f.Embedding) > 0
		}
	}

	type target struct {
		vec  *[]float32
		task backfill.Task
	}
	var targets []target
	for i := range entities {
		e := &entities[i]
		if len(e.Embedding) == 0 && !embedded[e.ID] {
			targets = append(targets, target{vec: &e.Embedding, task: backfill.Task{ID: e.ID, Text: EmbeddingText(*e)}})
		}
	}
	for i := range fragments {
		f := &fragments[i]
		if len(f.Embedding) == 0 && !embedded[f.ID] {
			targets = append(targets, target{vec: &f.Embedding, task: backfill.Task{ID: f.ID, Text: f.Text}})
		}
	}

	var pending []backfill.Task
	_ = store.ChunkRange(len(targets), u.embedBatch, func(start, end int) error {
		batch := targets[start:end]
		if u.embedder == nil {
			for _, t := range batch {
				pending = append(pending, t.task)
			}
			return nil
		}
		inputs := make([][]byte, len(batch))
		for i, t := range batch {
			inputs[i] = []byte(t.task.Text)
		}
		vectors, err := u.embedder.GenerateEmbeddings(ctx, inputs)
		if err != nil {
			logger.Warn("[Upsert] Embedding failed, queueing for backfill", "count", len(batch), "err", err)
		}
		for i, t := range batch {
			if err != nil || i >= len(vectors) || store.IsZeroVector(vectors[i]) {
				pending = append(pending, t.task)
				continue
			}
			*t.vec = vectors[i]
			report.EmbeddingsComputed++
		}
		return nil
	})

	if len(pending) == 0 {
		return nil
	}
	if u.queue == nil {
		logger.Warn("[Upsert] No backfill queue, storing records without embedding", "count", len(pending))
		return nil
	}
	if err := u.queue.Enqueue(ctx, pending...); err != nil {
		logger.Warn("[Upsert] Failed to queue embeddings", "count", len(pending), "err", err)
		return nil
	}
	report.EmbeddingsQueued = len(pending)
	return nil
}

func cloneEntities(in []common.Entity) []common.Entity {
	out := make([]common.Entity, len(in))
	copy(out, in)
	return out
}

func cloneFragments(in []common.Fragment) []common.Fragment {
	out := make([]common.Fragment, len(in))
	copy(out, in)
	return out
}
