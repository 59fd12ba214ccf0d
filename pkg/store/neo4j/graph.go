package neo4j

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/logger"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"

	n4j "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var errMissingEndpoint = errors.New("relationship endpoint not found")

// single runs cypher inside tx and returns its only record.
func single(ctx context.Context, tx n4j.ManagedTransaction, cypher string, params map[string]any) (*n4j.Record, error) {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return res.Single(ctx)
}

func (s *Storage) MergeEntity(ctx context.Context, e common.Entity) (store.MergeResult, error) {
	if e.ID == "" {
		return store.MergeResult{}, errors.New("entity id is empty")
	}
	params := map[string]any{
		"id":          e.ID,
		"name":        e.Name,
		"norm_name":   common.NormalizeName(e.Name),
		"type":        string(e.Type),
		"description": e.Description,
		"embedding":   encodeVector(e.Embedding),
		"provenance":  encodeProvenance(e.Provenance),
	}
	created, err := s.write(ctx, func(tx n4j.ManagedTransaction) (any, error) {
		rec, err := single(ctx, tx, mergeEntityCypher, params)
		if err != nil {
			return nil, err
		}
		return asBool(get(rec, "created")), nil
	})
	if err != nil {
		return store.MergeResult{}, err
	}
	return store.MergeResult{Created: created.(bool)}, nil
}

// MergeRelationship requires both endpoints to exist. A missing endpoint
// is reported as a conflict so callers retry after the entity merge lands.
func (s *Storage) MergeRelationship(ctx context.Context, r common.Relationship) (store.MergeResult, error) {
	if r.ID == "" {
		r.ID = common.RelationshipID(r.Key())
	}
	prov := r.Provenance
	if r.Origin == common.OriginInferred {
		prov = nil
	}
	params := map[string]any{
		"id":         r.ID,
		"source":     r.Source,
		"target":     r.Target,
		"kind":       r.Kind,
		"origin":     string(r.Origin),
		"confidence": common.ClampConfidence(r.Confidence),
		"provenance": encodeProvenance(prov),
		"reasoning":  r.Reasoning,
	}
	created, err := s.write(ctx, func(tx n4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, mergeRelationshipCypher, params)
		if err != nil {
			return nil, err
		}
		recs, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			return nil, errMissingEndpoint
		}
		return asBool(get(recs[0], "created")), nil
	})
	if errors.Is(err, errMissingEndpoint) {
		return store.MergeResult{}, fmt.Errorf("%w: %s: %w", store.ErrConflict, r.Key(), err)
	}
	if err != nil {
		return store.MergeResult{}, err
	}
	return store.MergeResult{Created: created.(bool)}, nil
}

// MergeFragment upserts the fragment and its mentions in one transaction.
func (s *Storage) MergeFragment(ctx context.Context, f common.Fragment) (store.MergeResult, error) {
	params := map[string]any{
		"id":        f.ID,
		"source_id": f.SourceID,
		"locator":   encodeLocator(f.Locator),
		"text":      f.Text,
		"embedding": encodeVector(f.Embedding),
	}
	mentions := store.DedupeStrings(f.Mentions)
	created, err := s.write(ctx, func(tx n4j.ManagedTransaction) (any, error) {
		rec, err := single(ctx, tx, mergeFragmentCypher, params)
		if err != nil {
			return nil, err
		}
		if len(mentions) > 0 {
			res, err := tx.Run(ctx, mergeMentionsCypher, map[string]any{"id": f.ID, "mentions": mentions})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return asBool(get(rec, "created")), nil
	})
	if err != nil {
		return store.MergeResult{}, err
	}
	return store.MergeResult{Created: created.(bool)}, nil
}

func (s *Storage) SetEmbedding(ctx context.Context, id string, vec []float32) (bool, error) {
	if len(vec) == 0 {
		return false, nil
	}
	n, err := s.write(ctx, func(tx n4j.ManagedTransaction) (any, error) {
		rec, err := single(ctx, tx, setEmbeddingCypher(store.KindOf(id)), map[string]any{
			"id":        id,
			"embedding": encodeVector(vec),
		})
		if err != nil {
			return nil, err
		}
		return asInt(get(rec, "n")), nil
	})
	if err != nil {
		return false, err
	}
	return n.(int) > 0, nil
}

func (s *Storage) GetEntities(ctx context.Context, ids []string) ([]common.Entity, error) {
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	recs, err := s.read(ctx, getEntitiesCypher, map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}
	out := make([]common.Entity, 0, len(recs))
	for _, rec := range recs {
		out = append(out, decodeEntity(rec))
	}
	return out, nil
}

func (s *Storage) GetFragments(ctx context.Context, ids []string) ([]common.Fragment, error) {
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	recs, err := s.read(ctx, getFragmentsCypher, map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}
	out := make([]common.Fragment, 0, len(recs))
	for _, rec := range recs {
		out = append(out, decodeFragment(rec))
	}
	return out, nil
}

func (s *Storage) ListRelationships(ctx context.Context, filter store.RelationshipFilter) ([]common.Relationship, error) {
	cypher, params := relationshipFilterCypher(filter)
	recs, err := s.read(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	out := make([]common.Relationship, 0, len(recs))
	for _, rec := range recs {
		out = append(out, decodeRelationship(rec))
	}
	return out, nil
}

func (s *Storage) Export(ctx context.Context) (*common.Graph, error) {
	recs, err := s.read(ctx, exportEntitiesCypher, nil)
	if err != nil {
		return nil, err
	}
	g := &common.Graph{Entities: make([]common.Entity, 0, len(recs))}
	for _, rec := range recs {
		g.Entities = append(g.Entities, decodeEntity(rec))
	}
	if g.Relationships, err = s.ListRelationships(ctx, store.RelationshipFilter{}); err != nil {
		return nil, err
	}
	store.SortGraph(g)
	return g, nil
}

// adjacency builds an adjacencyFunc over RELATES edges of the given
// origins and, when mentions is set, over MENTIONS edges.
func (s *Storage) adjacency(origins []common.Origin, mentions bool) adjacencyFunc {
	names := make([]string, 0, len(origins))
	for _, o := range origins {
		names = append(names, string(o))
	}
	return func(ctx context.Context, ids []string) (map[string][]string, error) {
		recs, err := s.read(ctx, adjacencyCypher, map[string]any{
			"ids":      ids,
			"origins":  names,
			"mentions": mentions,
		})
		if err != nil {
			return nil, err
		}
		adj := make(map[string][]string, len(ids))
		for _, rec := range recs {
			from := asString(get(rec, "from"))
			adj[from] = append(adj[from], asString(get(rec, "to")))
		}
		return adj, nil
	}
}

func (s *Storage) Traverse(ctx context.Context, seeds []string, maxHops int, opts store.TraverseOptions) ([]store.Reached, error) {
	seeds = store.DedupeStrings(seeds)
	if len(seeds) == 0 {
		return nil, nil
	}
	recs, err := s.read(ctx, existingNodesCypher, map[string]any{"ids": seeds})
	if err != nil {
		return nil, err
	}
	existing := make([]string, 0, len(recs))
	for _, rec := range recs {
		existing = append(existing, asString(get(rec, "id")))
	}
	slices.Sort(existing)

	return walk(ctx, existing, maxHops, opts.MaxNodes, s.adjacency(opts.Origins, true))
}

func (s *Storage) Neighborhood(ctx context.Context, id string, hops int) (*common.Graph, error) {
	g := &common.Graph{}
	root, err := s.GetEntities(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(root) == 0 {
		return g, nil
	}

	reached, err := walk(ctx, []string{id}, hops, 0, s.adjacency(nil, false))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(reached))
	for _, r := range reached {
		ids = append(ids, r.ID)
	}

	if g.Entities, err = s.GetEntities(ctx, ids); err != nil {
		return nil, err
	}
	recs, err := s.read(ctx, relationshipsWithinCypher, map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		g.Relationships = append(g.Relationships, decodeRelationship(rec))
	}
	store.SortGraph(g)
	logger.Debug("[Store][Neighborhood] Expanded", "id", id, "entities", len(g.Entities), "relationships", len(g.Relationships))
	return g, nil
}

// vectorIndexReady reports whether both vector indexes are online.
func (s *Storage) vectorIndexReady(ctx context.Context) (bool, error) {
	recs, err := s.read(ctx, vectorIndexReadyCypher, map[string]any{
		"names": []string{entityIndex, fragmentIndex},
	})
	if err != nil {
		return false, err
	}
	if len(recs) == 0 {
		return false, nil
	}
	return asInt(get(recs[0], "n")) == 2, nil
}

// searchErr keeps availability errors and reports any other failure of a
// vector query as a missing index.
func searchErr(err error) error {
	if errors.Is(err, store.ErrUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", store.ErrIndexUnavailable, err)
}

// cosineFromScore converts the [0,1] score of a cosine vector index,
// (1+cos)/2, back to the cosine.
func cosineFromScore(score float64) float64 {
	return 2*score - 1
}

func (s *Storage) SimilaritySearch(ctx context.Context, vec []float32, m int) ([]store.Hit, error) {
	ready, err := s.vectorIndexReady(ctx)
	if err != nil {
		return nil, searchErr(err)
	}
	if !ready {
		return nil, fmt.Errorf("%w: vector indexes not online", store.ErrIndexUnavailable)
	}
	if m <= 0 || store.IsZeroVector(vec) {
		return nil, nil
	}
	if len(vec) != s.dimension {
		logger.Warn("[Store][Search] Query vector dimension mismatch", "got", len(vec), "want", s.dimension)
		return nil, nil
	}

	var hits []store.Hit
	for _, idx := range []struct {
		name string
		kind store.NodeKind
	}{{entityIndex, store.NodeEntity}, {fragmentIndex, store.NodeFragment}} {
		recs, err := s.read(ctx, vectorQueryCypher, map[string]any{
			"index":     idx.name,
			"k":         int64(m),
			"embedding": encodeVector(vec),
		})
		if err != nil {
			return nil, searchErr(err)
		}
		for _, rec := range recs {
			hits = append(hits, store.Hit{
				ID:    asString(get(rec, "id")),
				Kind:  idx.kind,
				Score: store.SimilarityFromCosine(cosineFromScore(asFloat(get(rec, "score")))),
			})
		}
	}

	store.SortHits(hits)
	if len(hits) > m {
		hits = hits[:m]
	}
	return hits, nil
}

func (s *Storage) FindEntitiesByName(ctx context.Context, terms []string, limit int) ([]store.Hit, error) {
	recs, err := s.read(ctx, entityNamesCypher, nil)
	if err != nil {
		return nil, err
	}
	var idx store.NameIndex
	for _, rec := range recs {
		idx.Add(asString(get(rec, "id")), asString(get(rec, "name")))
	}
	return idx.Rank(terms, limit), nil
}
