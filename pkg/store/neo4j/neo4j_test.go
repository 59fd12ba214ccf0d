package neo4j

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"

	n4j "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func staticAdjacency(edges map[string][]string, calls *int) adjacencyFunc {
	return func(_ context.Context, ids []string) (map[string][]string, error) {
		*calls++
		out := make(map[string][]string)
		for _, id := range ids {
			out[id] = edges[id]
		}
		return out, nil
	}
}

func TestWalk(t *testing.T) {
	// a - b - c, b - d, e isolated
	edges := map[string][]string{
		"a": {"b"},
		"b": {"a", "c", "d"},
		"c": {"b"},
		"d": {"b"},
	}

	var calls int
	got, err := walk(context.Background(), []string{"a", "e"}, 2, 0, staticAdjacency(edges, &calls))
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	want := []store.Reached{
		{ID: "a", Seed: "a", Hops: 0},
		{ID: "b", Seed: "a", Hops: 1},
		{ID: "c", Seed: "a", Hops: 2},
		{ID: "d", Seed: "a", Hops: 2},
		{ID: "e", Seed: "e", Hops: 0},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if calls != 2 {
		t.Fatalf("expected one adjacency lookup per hop, got %d", calls)
	}
}

func TestWalkBounds(t *testing.T) {
	edges := map[string][]string{"a": {"b"}, "b": {"a", "c"}, "c": {"b"}}

	tests := []struct {
		name     string
		hops     int
		maxNodes int
		want     int
	}{
		{name: "zero hops", hops: 0, want: 1},
		{name: "one hop", hops: 1, want: 2},
		{name: "max nodes", hops: 5, maxNodes: 2, want: 2},
		{name: "unbounded", hops: 5, want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			got, err := walk(context.Background(), []string{"a"}, tt.hops, tt.maxNodes, staticAdjacency(edges, &calls))
			if err != nil {
				t.Fatalf("walk: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("expected %d nodes, got %v", tt.want, got)
			}
		})
	}
}

func TestWalkPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := walk(context.Background(), []string{"a"}, 1, 0, func(context.Context, []string) (map[string][]string, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

type fakeRecord map[string]any

func (r fakeRecord) Get(key string) (any, bool) {
	v, ok := r[key]
	return v, ok
}

func TestDecodeEntity(t *testing.T) {
	p := common.Provenance{SourceID: "team.csv", Locator: common.Locator{Row: 3}}
	rec := fakeRecord{
		"id":          "entity:x",
		"name":        "Marta",
		"type":        "Person",
		"description": "",
		"embedding":   []any{0.5, 1.0},
		"provenance":  toAny(encodeProvenance([]common.Provenance{p, p})),
	}

	e := decodeEntity(rec)
	if e.Name != "Marta" || e.Type != common.TypePerson {
		t.Fatalf("unexpected entity %+v", e)
	}
	if !reflect.DeepEqual(e.Embedding, []float32{0.5, 1}) {
		t.Fatalf("expected embedding [0.5 1], got %v", e.Embedding)
	}
	if len(e.Provenance) != 1 || e.Provenance[0] != p {
		t.Fatalf("expected provenance %v, got %v", p, e.Provenance)
	}
}

func TestDecodeFragment(t *testing.T) {
	loc := common.Locator{Page: 2, Line: 7}
	rec := fakeRecord{
		"id":        "fragment:x",
		"source_id": "report.pdf",
		"locator":   encodeLocator(loc),
		"text":      "Marta works on Atlas.",
		"mentions":  []any{"entity:b", "entity:a", "entity:b"},
	}

	f := decodeFragment(rec)
	if f.Locator != loc {
		t.Fatalf("expected locator %v, got %v", loc, f.Locator)
	}
	if f.Embedding != nil {
		t.Fatalf("expected no embedding, got %v", f.Embedding)
	}
	if !reflect.DeepEqual(f.Mentions, []string{"entity:a", "entity:b"}) {
		t.Fatalf("expected sorted mentions, got %v", f.Mentions)
	}
}

func TestEncodeVector(t *testing.T) {
	if encodeVector(nil) != nil {
		t.Fatalf("expected nil for empty vector")
	}
	got, ok := encodeVector([]float32{1, 2}).([]float64)
	if !ok || !reflect.DeepEqual(got, []float64{1, 2}) {
		t.Fatalf("expected []float64{1, 2}, got %#v", got)
	}
}

func TestRelationshipFilterCypher(t *testing.T) {
	cypher, params := relationshipFilterCypher(store.RelationshipFilter{
		EntityIDs: []string{"entity:a"},
		Origin:    common.OriginExplicit,
		Kinds:     []string{"MANAGER"},
		Limit:     5,
	})
	for _, want := range []string{"(a.id IN $ids OR b.id IN $ids)", "r.origin = $origin", "r.kind IN $kinds", "LIMIT $limit"} {
		if !strings.Contains(cypher, want) {
			t.Fatalf("expected %q in %q", want, cypher)
		}
	}
	if params["limit"] != int64(5) || params["origin"] != "Explicit" {
		t.Fatalf("unexpected params %v", params)
	}

	cypher, params = relationshipFilterCypher(store.RelationshipFilter{})
	if strings.Contains(cypher, "WHERE") || len(params) != 0 {
		t.Fatalf("expected unfiltered query, got %q %v", cypher, params)
	}
}

func TestSchemaStatements(t *testing.T) {
	stmts := schemaStatements(384)
	var vector int
	for _, s := range stmts {
		if strings.Contains(s, "CREATE VECTOR INDEX") {
			vector++
			if !strings.Contains(s, "`vector.dimensions`: 384") {
				t.Fatalf("expected dimension 384 in %q", s)
			}
		}
	}
	if vector != 2 {
		t.Fatalf("expected 2 vector indexes, got %d", vector)
	}
}

func TestCosineFromScore(t *testing.T) {
	tests := []struct {
		score float64
		want  float64
	}{
		{score: 1, want: 1},
		{score: 0.5, want: 0},
		{score: 0, want: 0},
		{score: 0.75, want: 0.5},
	}
	for _, tt := range tests {
		if got := store.SimilarityFromCosine(cosineFromScore(tt.score)); got != tt.want {
			t.Fatalf("score %v: expected %v, got %v", tt.score, tt.want, got)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "deadlock", err: &n4j.Neo4jError{Code: "Neo.TransientError.Transaction.DeadlockDetected"}, want: store.ErrConflict},
		{name: "constraint", err: &n4j.Neo4jError{Code: "Neo.ClientError.Schema.ConstraintValidationFailed"}, want: store.ErrConflict},
		{name: "database missing", err: &n4j.Neo4jError{Code: "Neo.ClientError.Database.DatabaseNotFound"}, want: store.ErrUnavailable},
		{name: "context", err: context.DeadlineExceeded, want: context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); !errors.Is(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
