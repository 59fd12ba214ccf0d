package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"
)

func prov(source string, row int) common.Provenance {
	return common.Provenance{SourceID: source, Locator: common.Locator{Row: row}}
}

func TestMergeEntityIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()

	alice := common.NewEntity("Alice", common.TypePerson, prov("a.csv", 2))
	res, err := s.MergeEntity(ctx, alice)
	if err != nil || !res.Created {
		t.Fatalf("expected created, got %+v %v", res, err)
	}
	res, err = s.MergeEntity(ctx, alice)
	if err != nil || res.Created {
		t.Fatalf("expected merge, got %+v %v", res, err)
	}

	again := common.NewEntity("  alice ", common.TypePerson, prov("b.csv", 3))
	again.Description = "engineer"
	if _, err := s.MergeEntity(ctx, again); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetEntities(ctx, []string{alice.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(got))
	}
	if len(got[0].Provenance) != 2 {
		t.Fatalf("expected 2 provenance entries, got %d", len(got[0].Provenance))
	}
	if got[0].Description != "engineer" {
		t.Fatalf("expected description to be filled, got %q", got[0].Description)
	}
	if got[0].Name != "Alice" {
		t.Fatalf("expected first surface name to win, got %q", got[0].Name)
	}
}

func TestMergeRelationshipKeepsMaxConfidence(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := common.NewEntity("Alice", common.TypePerson)
	b := common.NewEntity("Bob", common.TypePerson)

	r1 := common.NewRelationship(a.ID, b.ID, "manager", 0.6, common.OriginExplicit, prov("a.csv", 2))
	r2 := common.NewRelationship(a.ID, b.ID, "Manager", 0.9, common.OriginExplicit, prov("b.csv", 2))
	r3 := common.NewRelationship(a.ID, b.ID, "manager", 0.3, common.OriginExplicit)
	for _, r := range []common.Relationship{r1, r2, r3} {
		if _, err := s.MergeRelationship(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	rels, err := s.ListRelationships(ctx, store.RelationshipFilter{EntityIDs: []string{a.ID}})
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 1 {
		t.Fatalf("expected 1 relationship, got %d", len(rels))
	}
	if rels[0].Confidence != 0.9 {
		t.Fatalf("expected confidence 0.9, got %v", rels[0].Confidence)
	}
	if len(rels[0].Provenance) != 2 {
		t.Fatalf("expected 2 provenance entries, got %d", len(rels[0].Provenance))
	}
}

func TestConcurrentMergesDoNotDuplicate(t *testing.T) {
	ctx := context.Background()
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := common.NewEntity("Acme", common.TypeOrganization, prov("doc", i+1))
			if _, err := s.MergeEntity(ctx, e); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	entities, _, _ := s.Counts()
	if entities != 1 {
		t.Fatalf("expected 1 entity, got %d", entities)
	}
	got, _ := s.GetEntities(ctx, []string{common.EntityID("Acme", common.TypeOrganization)})
	if len(got[0].Provenance) != 32 {
		t.Fatalf("expected 32 provenance entries, got %d", len(got[0].Provenance))
	}
}

func TestSetEmbeddingKeepsExisting(t *testing.T) {
	ctx := context.Background()
	s := New()
	e := common.NewEntity("Alice", common.TypePerson)
	s.MergeEntity(ctx, e)

	ok, err := s.SetEmbedding(ctx, e.ID, []float32{1, 0})
	if err != nil || !ok {
		t.Fatalf("expected first embedding to be stored, got %v %v", ok, err)
	}
	ok, _ = s.SetEmbedding(ctx, e.ID, []float32{0, 1})
	if ok {
		t.Fatal("expected existing embedding to be kept")
	}
	got, _ := s.GetEntities(ctx, []string{e.ID})
	if got[0].Embedding[0] != 1 {
		t.Fatalf("expected original embedding, got %v", got[0].Embedding)
	}
}

func TestSimilaritySearch(t *testing.T) {
	ctx := context.Background()
	s := New()

	a := common.NewEntity("Alice", common.TypePerson)
	a.Embedding = []float32{1, 0}
	b := common.NewEntity("Bob", common.TypePerson)
	b.Embedding = []float32{0, 1}
	f := common.NewFragment("doc", common.Locator{Line: 1}, "Alice works here")
	f.Embedding = []float32{0.9, 0.1}
	s.MergeEntity(ctx, a)
	s.MergeEntity(ctx, b)
	s.MergeFragment(ctx, f)

	hits, err := s.SimilaritySearch(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != a.ID || hits[1].ID != f.ID {
		t.Fatalf("unexpected order: %+v", hits)
	}
	if hits[1].Kind != store.NodeFragment {
		t.Fatalf("expected fragment hit, got %s", hits[1].Kind)
	}

	s.SetIndexAvailable(false)
	if _, err := s.SimilaritySearch(ctx, []float32{1, 0}, 2); !errors.Is(err, store.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
}

func TestFindEntitiesByName(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, name := range []string{"Alice Smith", "Bob", "Acme Corp"} {
		s.MergeEntity(ctx, common.NewEntity(name, common.TypeOther))
	}

	hits, err := s.FindEntitiesByName(ctx, []string{"bob"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 || hits[0].ID != common.EntityID("Bob", common.TypeOther) || hits[0].Score != 1 {
		t.Fatalf("expected exact match for bob, got %+v", hits)
	}

	hits, _ = s.FindEntitiesByName(ctx, []string{"alice"}, 5)
	if len(hits) == 0 || hits[0].ID != common.EntityID("Alice Smith", common.TypeOther) {
		t.Fatalf("expected fuzzy match for alice, got %+v", hits)
	}
	if hits[0].Score >= 1 {
		t.Fatalf("expected fuzzy score below 1, got %v", hits[0].Score)
	}
}

func buildChain(t *testing.T, s *Storage) (a, b, c common.Entity, f common.Fragment) {
	t.Helper()
	ctx := context.Background()
	a = common.NewEntity("A", common.TypeConcept)
	b = common.NewEntity("B", common.TypeConcept)
	c = common.NewEntity("C", common.TypeConcept)
	for _, e := range []common.Entity{a, b, c} {
		s.MergeEntity(ctx, e)
	}
	s.MergeRelationship(ctx, common.NewRelationship(a.ID, b.ID, "next", 1, common.OriginExplicit))
	s.MergeRelationship(ctx, common.NewRelationship(c.ID, b.ID, "similar", 0.8, common.OriginInferred))
	f = common.NewFragment("doc", common.Locator{Line: 4}, "A is next to B")
	f.Mentions = []string{a.ID}
	s.MergeFragment(ctx, f)
	return a, b, c, f
}

func TestTraverse(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, b, c, f := buildChain(t, s)

	tests := []struct {
		name    string
		origins []common.Origin
		hops    int
		want    map[string]int
	}{
		{"all origins", nil, 2, map[string]int{a.ID: 0, b.ID: 1, f.ID: 1, c.ID: 2}},
		{"explicit only", []common.Origin{common.OriginExplicit}, 2, map[string]int{a.ID: 0, b.ID: 1, f.ID: 1}},
		{"one hop", nil, 1, map[string]int{a.ID: 0, b.ID: 1, f.ID: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached, err := s.Traverse(ctx, []string{a.ID}, tt.hops, store.TraverseOptions{Origins: tt.origins})
			if err != nil {
				t.Fatal(err)
			}
			if len(reached) != len(tt.want) {
				t.Fatalf("expected %d nodes, got %+v", len(tt.want), reached)
			}
			for _, r := range reached {
				hops, ok := tt.want[r.ID]
				if !ok || hops != r.Hops {
					t.Fatalf("unexpected node %+v", r)
				}
			}
		})
	}
}

func TestNeighborhood(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, _, _, _ := buildChain(t, s)

	g, err := s.Neighborhood(ctx, a.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Entities) != 2 || len(g.Relationships) != 1 {
		t.Fatalf("expected 2 entities and 1 edge, got %d and %d", len(g.Entities), len(g.Relationships))
	}

	g, _ = s.Neighborhood(ctx, a.ID, 2)
	if len(g.Entities) != 3 || len(g.Relationships) != 2 {
		t.Fatalf("expected 3 entities and 2 edges, got %d and %d", len(g.Entities), len(g.Relationships))
	}
}

func TestUnavailable(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SetUnavailable(true)
	if _, err := s.MergeEntity(ctx, common.NewEntity("A", common.TypeOther)); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	s.SetUnavailable(false)
	if _, err := s.MergeEntity(ctx, common.NewEntity("A", common.TypeOther)); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestResetAndExport(t *testing.T) {
	ctx := context.Background()
	s := New()
	buildChain(t, s)
	g, err := s.Export(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Entities) != 3 || len(g.Relationships) != 2 {
		t.Fatalf("unexpected export %d/%d", len(g.Entities), len(g.Relationships))
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	e, r, f := s.Counts()
	if e+r+f != 0 {
		t.Fatalf("expected empty store, got %d/%d/%d", e, r, f)
	}
}
