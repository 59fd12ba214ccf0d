package memory

import (
	"context"
	"slices"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"
)

func (s *Storage) SimilaritySearch(ctx context.Context, vec []float32, m int) ([]store.Hit, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if s.indexMissing.Load() {
		return nil, store.ErrIndexUnavailable
	}
	if m <= 0 || store.IsZeroVector(vec) {
		return nil, nil
	}

	s.mu.RLock()
	hits := make([]store.Hit, 0, len(s.entities)+len(s.fragments))
	for id, e := range s.entities {
		if len(e.Embedding) == len(vec) {
			hits = append(hits, store.Hit{ID: id, Kind: store.NodeEntity, Score: store.Cosine(vec, e.Embedding)})
		}
	}
	for id, f := range s.fragments {
		if len(f.Embedding) == len(vec) {
			hits = append(hits, store.Hit{ID: id, Kind: store.NodeFragment, Score: store.Cosine(vec, f.Embedding)})
		}
	}
	s.mu.RUnlock()

	store.SortHits(hits)
	if len(hits) > m {
		hits = hits[:m]
	}
	return hits, nil
}

func (s *Storage) FindEntitiesByName(ctx context.Context, terms []string, limit int) ([]store.Hit, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var idx store.NameIndex
	for id, e := range s.entities {
		idx.Add(id, e.Name)
	}
	s.mu.RUnlock()

	return idx.Rank(terms, limit), nil
}

// neighbours returns the nodes adjacent to id. Must be called with s.mu held.
func (s *Storage) neighbours(id string, opts store.TraverseOptions) []string {
	var out []string
	if f, ok := s.fragments[id]; ok {
		return append(out, f.Mentions...)
	}
	for rid := range s.edges[id] {
		r := s.relationships[rid]
		if !opts.Follows(r.Origin) {
			continue
		}
		if r.Source == id {
			out = append(out, r.Target)
		} else {
			out = append(out, r.Source)
		}
	}
	for fid := range s.mentionedIn[id] {
		out = append(out, fid)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (s *Storage) Traverse(ctx context.Context, seeds []string, maxHops int, opts store.TraverseOptions) ([]store.Reached, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	seeds = store.DedupeStrings(seeds)
	slices.Sort(seeds)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Reached
	for _, seed := range seeds {
		if _, ok := s.entities[seed]; !ok {
			if _, ok := s.fragments[seed]; !ok {
				continue
			}
		}
		visited := map[string]bool{seed: true}
		frontier := []string{seed}
		out = append(out, store.Reached{ID: seed, Seed: seed, Hops: 0})
		for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
			var next []string
			for _, id := range frontier {
				for _, n := range s.neighbours(id, opts) {
					if visited[n] {
						continue
					}
					visited[n] = true
					next = append(next, n)
					out = append(out, store.Reached{ID: n, Seed: seed, Hops: hop})
				}
			}
			frontier = next
		}
		if opts.MaxNodes > 0 && len(out) >= opts.MaxNodes {
			return out[:opts.MaxNodes], nil
		}
	}
	return out, nil
}

func (s *Storage) Neighborhood(ctx context.Context, id string, hops int) (*common.Graph, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	g := &common.Graph{}
	if _, ok := s.entities[id]; !ok {
		return g, nil
	}
	visited := map[string]bool{id: true}
	frontier := []string{id}
	for hop := 1; hop <= hops && len(frontier) > 0; hop++ {
		var next []string
		for _, cur := range frontier {
			for rid := range s.edges[cur] {
				r := s.relationships[rid]
				other := r.Target
				if other == cur {
					other = r.Source
				}
				if !visited[other] {
					visited[other] = true
					next = append(next, other)
				}
			}
		}
		frontier = next
	}

	for eid := range visited {
		if e, ok := s.entities[eid]; ok {
			g.Entities = append(g.Entities, cloneEntity(e))
		}
	}
	for _, r := range s.relationships {
		if visited[r.Source] && visited[r.Target] {
			g.Relationships = append(g.Relationships, cloneRelationship(r))
		}
	}
	store.SortGraph(g)
	return g, nil
}
