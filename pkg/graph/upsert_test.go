package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ai/aitest"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/backfill"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store/memory"
)

func staffExtraction(sourceID string, confidence float64) *Extraction {
	prov := common.Provenance{SourceID: sourceID, Locator: common.Locator{Row: 2}}
	alice := common.NewEntity("Alice", common.TypePerson, prov)
	acme := common.NewEntity("Acme Corp", common.TypeOrganization, prov)
	frag := common.NewFragment(sourceID, prov.Locator, "Alice works for Acme Corp")
	frag.Mentions = []string{alice.ID, acme.ID}
	return &Extraction{
		SourceID:      sourceID,
		Entities:      []common.Entity{alice, acme},
		Relationships: []common.Relationship{common.NewRelationship(alice.ID, acme.ID, "WORKS_FOR", confidence, common.OriginExplicit, prov)},
		Fragments:     []common.Fragment{frag},
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	u := NewUpserter(NewUpserterParams{Store: s, Embedder: aitest.New(8)})

	first, err := u.Upsert(ctx, staffExtraction("a.csv", 0.8))
	if err != nil {
		t.Fatal(err)
	}
	if first.EntitiesCreated != 2 || first.RelationshipsCreated != 1 || first.FragmentsStored != 1 {
		t.Fatalf("unexpected first report %+v", first)
	}
	if first.EmbeddingsComputed != 3 {
		t.Fatalf("expected 3 embeddings, got %d", first.EmbeddingsComputed)
	}
	before, _ := s.Export(ctx)

	second, err := u.Upsert(ctx, staffExtraction("a.csv", 0.8))
	if err != nil {
		t.Fatal(err)
	}
	if second.EntitiesCreated != 0 || second.EntitiesMerged != 2 || second.RelationshipsMerged != 1 {
		t.Fatalf("unexpected second report %+v", second)
	}
	if second.EmbeddingsComputed != 0 {
		t.Fatalf("expected stored embeddings to be reused, got %d computed", second.EmbeddingsComputed)
	}

	after, _ := s.Export(ctx)
	if len(before.Entities) != len(after.Entities) || len(before.Relationships) != len(after.Relationships) {
		t.Fatalf("graph changed size: %d/%d vs %d/%d", len(before.Entities), len(before.Relationships), len(after.Entities), len(after.Relationships))
	}
	if after.Relationships[0].Confidence != before.Relationships[0].Confidence {
		t.Fatalf("confidence changed from %v to %v", before.Relationships[0].Confidence, after.Relationships[0].Confidence)
	}
	for i := range before.Entities {
		if len(after.Entities[i].Provenance) != len(before.Entities[i].Provenance) {
			t.Fatalf("provenance of %s changed", before.Entities[i].Name)
		}
	}
}

func TestUpsertMergesAcrossDocuments(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	u := NewUpserter(NewUpserterParams{Store: s, Embedder: aitest.New(8)})

	if _, err := u.Upsert(ctx, staffExtraction("a.csv", 0.9)); err != nil {
		t.Fatal(err)
	}
	if _, err := u.Upsert(ctx, staffExtraction("b.csv", 0.4)); err != nil {
		t.Fatal(err)
	}

	acme, _ := s.GetEntities(ctx, []string{common.EntityID("Acme Corp", common.TypeOrganization)})
	if len(acme) != 1 || len(acme[0].Provenance) != 2 {
		t.Fatalf("expected one Acme Corp with 2 sources, got %+v", acme)
	}
	rels, _ := s.ListRelationships(ctx, store.RelationshipFilter{})
	if len(rels) != 1 || rels[0].Confidence != 0.9 {
		t.Fatalf("expected confidence to stay at 0.9, got %+v", rels)
	}
}

func TestUpsertQueuesEmbeddingsWhenEmbedderFails(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	q := backfill.NewMemoryQueue()
	embedder := aitest.New(8)
	embedder.Embed = func(context.Context, string) ([]float32, error) {
		return nil, errors.New("embedding service down")
	}
	u := NewUpserter(NewUpserterParams{Store: s, Embedder: embedder, Queue: q})

	report, err := u.Upsert(ctx, staffExtraction("a.csv", 1))
	if err != nil {
		t.Fatal(err)
	}
	if report.EmbeddingsQueued != 3 || report.EntitiesCreated != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if n, _ := q.Len(ctx); n != 3 {
		t.Fatalf("expected 3 queued tasks, got %d", n)
	}
}

func TestUpsertStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	s.SetUnavailable(true)
	u := NewUpserter(NewUpserterParams{Store: s})

	_, err := u.Upsert(ctx, staffExtraction("a.csv", 1))
	var uerr *UpsertError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UpsertError, got %v", err)
	}
	if uerr.Kind != StoreUnavailable || !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("unexpected error %+v", uerr)
	}
}

type conflictStore struct {
	*memory.Storage
	failures int
}

func (c *conflictStore) MergeEntity(ctx context.Context, e common.Entity) (store.MergeResult, error) {
	if c.failures > 0 {
		c.failures--
		return store.MergeResult{}, store.ErrConflict
	}
	return c.Storage.MergeEntity(ctx, e)
}

func TestUpsertRetriesConflicts(t *testing.T) {
	ctx := context.Background()
	x := staffExtraction("a.csv", 1)
	x.Entities = x.Entities[:1]
	x.Relationships = nil

	s := &conflictStore{Storage: memory.New(), failures: 2}
	u := NewUpserter(NewUpserterParams{Store: s, MaxRetries: 3})
	if _, err := u.Upsert(ctx, x); err != nil {
		t.Fatalf("expected conflicts to be retried, got %v", err)
	}

	s = &conflictStore{Storage: memory.New(), failures: 5}
	u = NewUpserter(NewUpserterParams{Store: s, MaxRetries: 3})
	_, err := u.Upsert(ctx, x)
	var uerr *UpsertError
	if !errors.As(err, &uerr) || uerr.Kind != ConflictUnresolvable {
		t.Fatalf("expected ConflictUnresolvable, got %v", err)
	}
	if uerr.Key != x.Entities[0].ID {
		t.Fatalf("expected key %s, got %s", x.Entities[0].ID, uerr.Key)
	}
}
