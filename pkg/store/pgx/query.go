package pgx

import (
	"context"
	"fmt"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/logger"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// vectorIndexReady reports whether both HNSW indexes exist and finished
// building.
func (s *GraphDBStorage) vectorIndexReady(ctx context.Context) (bool, error) {
	names := make([]string, 0, len(vectorTables))
	for _, t := range vectorTables {
		names = append(names, vectorIndexName(t, s.dimension))
	}
	var n int
	if err := s.conn.QueryRow(ctx, vectorIndexReadySQL, names).Scan(&n); err != nil {
		return false, classifySearch(err)
	}
	return n == len(names), nil
}

func (s *GraphDBStorage) SimilaritySearch(ctx context.Context, vec []float32, m int) ([]store.Hit, error) {
	ready, err := s.vectorIndexReady(ctx)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, fmt.Errorf("%w: no valid hnsw index for dimension %d", store.ErrIndexUnavailable, s.dimension)
	}
	if m <= 0 || store.IsZeroVector(vec) {
		return nil, nil
	}
	if len(vec) != s.dimension {
		logger.Warn("[Store][Search] Query vector dimension mismatch", "got", len(vec), "want", s.dimension)
		return nil, nil
	}

	rows, err := s.conn.Query(ctx, similaritySQL(s.dimension), pgvector.NewVector(vec), m)
	if err != nil {
		return nil, classifySearch(err)
	}
	defer rows.Close()

	var hits []store.Hit
	for rows.Next() {
		var (
			h    store.Hit
			kind string
			dist float64
		)
		if err := rows.Scan(&h.ID, &kind, &dist); err != nil {
			return nil, classifySearch(err)
		}
		h.Kind = store.NodeKind(kind)
		h.Score = store.SimilarityFromCosine(1 - dist)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySearch(err)
	}

	store.SortHits(hits)
	if len(hits) > m {
		hits = hits[:m]
	}
	return hits, nil
}

func (s *GraphDBStorage) FindEntitiesByName(ctx context.Context, terms []string, limit int) ([]store.Hit, error) {
	normalized := make([]string, 0, len(terms))
	for _, t := range terms {
		normalized = append(normalized, common.NormalizeName(t))
	}
	normalized = store.DedupeStrings(normalized)
	if len(normalized) == 0 {
		return nil, nil
	}

	var lim any
	if limit > 0 {
		lim = limit
	}
	return collect(ctx, s.conn, func(row pgxv5.Row) (store.Hit, error) {
		h := store.Hit{Kind: store.NodeEntity}
		if err := row.Scan(&h.ID, &h.Score); err != nil {
			return store.Hit{}, err
		}
		h.Score = min(max(h.Score, 0), 1)
		return h, nil
	}, findByNameSQL, normalized, lim, store.FuzzyWeight)
}

func (s *GraphDBStorage) Traverse(ctx context.Context, seeds []string, maxHops int, opts store.TraverseOptions) ([]store.Reached, error) {
	seeds = store.DedupeStrings(seeds)
	if len(seeds) == 0 {
		return nil, nil
	}
	origins := make([]string, 0, len(opts.Origins))
	for _, o := range opts.Origins {
		origins = append(origins, string(o))
	}

	out, err := collect(ctx, s.conn, func(row pgxv5.Row) (store.Reached, error) {
		var r store.Reached
		err := row.Scan(&r.Seed, &r.ID, &r.Hops)
		return r, err
	}, traverseSQL, seeds, max(maxHops, 0), origins)
	if err != nil {
		return nil, err
	}
	if opts.MaxNodes > 0 && len(out) > opts.MaxNodes {
		out = out[:opts.MaxNodes]
	}
	return out, nil
}

func (s *GraphDBStorage) Neighborhood(ctx context.Context, id string, hops int) (*common.Graph, error) {
	ids, err := collect(ctx, s.conn, func(row pgxv5.Row) (string, error) {
		var v string
		err := row.Scan(&v)
		return v, err
	}, neighborhoodSQL, id, max(hops, 0))
	if err != nil {
		return nil, err
	}

	g := &common.Graph{}
	if len(ids) == 0 {
		return g, nil
	}
	if g.Entities, err = s.GetEntities(ctx, ids); err != nil {
		return nil, err
	}
	if g.Relationships, err = collect(ctx, s.conn, scanRelationship, relationshipsWithinSQL, ids); err != nil {
		return nil, err
	}
	store.SortGraph(g)
	return g, nil
}

func (s *GraphDBStorage) Export(ctx context.Context) (*common.Graph, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback(ctx)

	g := &common.Graph{}
	if g.Entities, err = collect(ctx, tx, scanEntity, exportEntitiesSQL); err != nil {
		return nil, err
	}
	if g.Relationships, err = collect(ctx, tx, scanRelationship, `SELECT `+relationshipColumns+` FROM kg_relationships ORDER BY id`); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classify(err)
	}
	if g.Entities == nil {
		g.Entities = []common.Entity{}
	}
	if g.Relationships == nil {
		g.Relationships = []common.Relationship{}
	}
	store.SortGraph(g)
	return g, nil
}
