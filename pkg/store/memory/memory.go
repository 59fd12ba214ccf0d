// Package memory is an in-process GraphStorage. Every merge runs under one
// write lock, which makes it atomic with respect to other writers. It is
// used by tests, the CLI's ephemeral mode and single-process deployments.
package memory

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"
)

// Storage implements store.GraphStorage in memory.
type Storage struct {
	mu sync.RWMutex

	entities      map[string]common.Entity
	relationships map[string]common.Relationship
	fragments     map[string]common.Fragment

	// entity id -> relationship ids touching it
	edges map[string]map[string]struct{}
	// entity id -> fragment ids mentioning it
	mentionedIn map[string]map[string]struct{}

	down         atomic.Bool
	indexMissing atomic.Bool
}

var _ store.GraphStorage = (*Storage)(nil)

func New() *Storage {
	s := &Storage{}
	s.clear()
	return s
}

func (s *Storage) clear() {
	s.entities = make(map[string]common.Entity)
	s.relationships = make(map[string]common.Relationship)
	s.fragments = make(map[string]common.Fragment)
	s.edges = make(map[string]map[string]struct{})
	s.mentionedIn = make(map[string]map[string]struct{})
}

// SetUnavailable makes every operation fail with store.ErrUnavailable.
func (s *Storage) SetUnavailable(down bool) {
	s.down.Store(down)
}

// SetIndexAvailable toggles vector search. While unavailable
// SimilaritySearch fails with store.ErrIndexUnavailable.
func (s *Storage) SetIndexAvailable(ok bool) {
	s.indexMissing.Store(!ok)
}

func (s *Storage) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.down.Load() {
		return store.ErrUnavailable
	}
	return nil
}

func (s *Storage) EnsureSchema(ctx context.Context) error {
	return s.check(ctx)
}

func (s *Storage) Close() error {
	return nil
}

func (s *Storage) Reset(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.clear()
	s.mu.Unlock()
	return nil
}

func link(index map[string]map[string]struct{}, key, value string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[value] = struct{}{}
}

func cloneEntity(e common.Entity) common.Entity {
	e.Embedding = slices.Clone(e.Embedding)
	e.Provenance = slices.Clone(e.Provenance)
	return e
}

func cloneRelationship(r common.Relationship) common.Relationship {
	r.Provenance = slices.Clone(r.Provenance)
	return r
}

func cloneFragment(f common.Fragment) common.Fragment {
	f.Embedding = slices.Clone(f.Embedding)
	f.Mentions = slices.Clone(f.Mentions)
	return f
}

func (s *Storage) MergeEntity(ctx context.Context, e common.Entity) (store.MergeResult, error) {
	if err := s.check(ctx); err != nil {
		return store.MergeResult{}, err
	}
	e = cloneEntity(e)
	e.Provenance = common.UnionProvenance(nil, e.Provenance)

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.entities[e.ID]
	if !ok {
		s.entities[e.ID] = e
		return store.MergeResult{Created: true}, nil
	}
	s.entities[e.ID] = common.MergeEntity(existing, e)
	return store.MergeResult{}, nil
}

func (s *Storage) MergeRelationship(ctx context.Context, r common.Relationship) (store.MergeResult, error) {
	if err := s.check(ctx); err != nil {
		return store.MergeResult{}, err
	}
	r = cloneRelationship(r)
	r.Confidence = common.ClampConfidence(r.Confidence)
	if r.ID == "" {
		r.ID = common.RelationshipID(r.Key())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.relationships[r.ID]
	if !ok {
		s.relationships[r.ID] = r
		link(s.edges, r.Source, r.ID)
		link(s.edges, r.Target, r.ID)
		return store.MergeResult{Created: true}, nil
	}
	s.relationships[r.ID] = common.MergeRelationship(existing, r)
	return store.MergeResult{}, nil
}

func (s *Storage) MergeFragment(ctx context.Context, f common.Fragment) (store.MergeResult, error) {
	if err := s.check(ctx); err != nil {
		return store.MergeResult{}, err
	}
	f = cloneFragment(f)
	f.Mentions = common.MergeMentions(nil, f.Mentions)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range f.Mentions {
		link(s.mentionedIn, id, f.ID)
	}
	existing, ok := s.fragments[f.ID]
	if !ok {
		s.fragments[f.ID] = f
		return store.MergeResult{Created: true}, nil
	}
	s.fragments[f.ID] = common.MergeFragment(existing, f)
	return store.MergeResult{}, nil
}

func (s *Storage) SetEmbedding(ctx context.Context, id string, vec []float32) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entities[id]; ok {
		if len(e.Embedding) > 0 {
			return false, nil
		}
		e.Embedding = slices.Clone(vec)
		s.entities[id] = e
		return true, nil
	}
	if f, ok := s.fragments[id]; ok {
		if len(f.Embedding) > 0 {
			return false, nil
		}
		f.Embedding = slices.Clone(vec)
		s.fragments[id] = f
		return true, nil
	}
	return false, nil
}

func (s *Storage) GetEntities(ctx context.Context, ids []string) ([]common.Entity, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.Entity, 0, len(ids))
	for _, id := range store.DedupeStrings(ids) {
		if e, ok := s.entities[id]; ok {
			out = append(out, cloneEntity(e))
		}
	}
	return out, nil
}

func (s *Storage) GetFragments(ctx context.Context, ids []string) ([]common.Fragment, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.Fragment, 0, len(ids))
	for _, id := range store.DedupeStrings(ids) {
		if f, ok := s.fragments[id]; ok {
			out = append(out, cloneFragment(f))
		}
	}
	return out, nil
}

func (s *Storage) ListRelationships(ctx context.Context, filter store.RelationshipFilter) ([]common.Relationship, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []string
	if len(filter.EntityIDs) > 0 {
		seen := make(map[string]struct{})
		for _, id := range filter.EntityIDs {
			for rid := range s.edges[id] {
				if _, ok := seen[rid]; !ok {
					seen[rid] = struct{}{}
					candidates = append(candidates, rid)
				}
			}
		}
	} else {
		for rid := range s.relationships {
			candidates = append(candidates, rid)
		}
	}
	slices.Sort(candidates)

	out := make([]common.Relationship, 0, len(candidates))
	for _, rid := range candidates {
		r := s.relationships[rid]
		if filter.Origin != "" && r.Origin != filter.Origin {
			continue
		}
		if len(filter.Kinds) > 0 && !slices.Contains(filter.Kinds, r.Kind) {
			continue
		}
		out = append(out, cloneRelationship(r))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Storage) Export(ctx context.Context) (*common.Graph, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	g := &common.Graph{
		Entities:      make([]common.Entity, 0, len(s.entities)),
		Relationships: make([]common.Relationship, 0, len(s.relationships)),
	}
	for _, e := range s.entities {
		g.Entities = append(g.Entities, cloneEntity(e))
	}
	for _, r := range s.relationships {
		g.Relationships = append(g.Relationships, cloneRelationship(r))
	}
	s.mu.RUnlock()

	store.SortGraph(g)
	return g, nil
}

// Counts returns the number of entities, relationships and fragments.
func (s *Storage) Counts() (entities, relationships, fragments int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities), len(s.relationships), len(s.fragments)
}
