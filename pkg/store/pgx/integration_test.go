package pgx

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"
)

// newTestStorage connects to KG_TEST_DATABASE_URL, migrates and resets it.
// Tests using it are skipped when the variable is unset.
func newTestStorage(t *testing.T) *GraphDBStorage {
	t.Helper()
	url := os.Getenv("KG_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("KG_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := Migrate(url); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	s := New(pool, WithDimension(3))
	t.Cleanup(func() { s.Close() })

	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	return s
}

func TestPostgresMergeIsIdempotent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	p1 := common.Provenance{SourceID: "a.csv", Locator: common.Locator{Row: 2}}
	p2 := common.Provenance{SourceID: "b.md", Locator: common.Locator{Line: 4}}
	alice := common.NewEntity("Alice", common.TypePerson, p1)
	acme := common.NewEntity("Acme Corp", common.TypeOrganization, p1)

	res, err := s.MergeEntity(ctx, alice)
	if err != nil || !res.Created {
		t.Fatalf("expected created entity, got %+v, %v", res, err)
	}
	again := common.NewEntity("alice", common.TypePerson, p2)
	again.Description = "engineer"
	res, err = s.MergeEntity(ctx, again)
	if err != nil || res.Created {
		t.Fatalf("expected merged entity, got %+v, %v", res, err)
	}
	if _, err := s.MergeEntity(ctx, acme); err != nil {
		t.Fatalf("merge acme: %v", err)
	}

	got, err := s.GetEntities(ctx, []string{alice.ID})
	if err != nil || len(got) != 1 {
		t.Fatalf("expected 1 entity, got %v, %v", got, err)
	}
	if len(got[0].Provenance) != 2 || got[0].Description != "engineer" {
		t.Fatalf("expected unioned provenance and filled description, got %+v", got[0])
	}

	rel := common.NewRelationship(alice.ID, acme.ID, "works for", 0.4, common.OriginExplicit, p1)
	if _, err := s.MergeRelationship(ctx, rel); err != nil {
		t.Fatalf("merge relationship: %v", err)
	}
	rel.Confidence = 0.9
	if res, err := s.MergeRelationship(ctx, rel); err != nil || res.Created {
		t.Fatalf("expected merged relationship, got %+v, %v", res, err)
	}
	rels, err := s.ListRelationships(ctx, store.RelationshipFilter{EntityIDs: []string{alice.ID}})
	if err != nil || len(rels) != 1 || rels[0].Confidence != 0.9 {
		t.Fatalf("expected one relationship with confidence 0.9, got %v, %v", rels, err)
	}

	frag := common.NewFragment("b.md", common.Locator{Line: 4}, "Alice works for Acme Corp.")
	frag.Mentions = []string{alice.ID, acme.ID}
	if _, err := s.MergeFragment(ctx, frag); err != nil {
		t.Fatalf("merge fragment: %v", err)
	}

	stored, err := s.SetEmbedding(ctx, alice.ID, []float32{1, 0, 0})
	if err != nil || !stored {
		t.Fatalf("expected embedding stored, got %v, %v", stored, err)
	}
	stored, err = s.SetEmbedding(ctx, alice.ID, []float32{0, 1, 0})
	if err != nil || stored {
		t.Fatalf("expected existing embedding kept, got %v, %v", stored, err)
	}

	reached, err := s.Traverse(ctx, []string{acme.ID}, 2, store.TraverseOptions{})
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	found := map[string]int{}
	for _, r := range reached {
		found[r.ID] = r.Hops
	}
	if found[acme.ID] != 0 || found[alice.ID] != 1 || found[frag.ID] != 1 {
		t.Fatalf("unexpected traversal %v", reached)
	}

	hits, err := s.SimilaritySearch(ctx, []float32{1, 0, 0}, 5)
	if errors.Is(err, store.ErrIndexUnavailable) {
		t.Skip("vector index unavailable")
	}
	if err != nil || len(hits) == 0 || hits[0].ID != alice.ID {
		t.Fatalf("expected alice as best hit, got %v, %v", hits, err)
	}

	names, err := s.FindEntitiesByName(ctx, []string{"ALICE"}, 5)
	if err != nil || len(names) == 0 || names[0].ID != alice.ID || names[0].Score != 1 {
		t.Fatalf("expected exact name hit, got %v, %v", names, err)
	}
}
