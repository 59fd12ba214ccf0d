package reasoning

import (
	"cmp"
	"slices"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
)

const (
	ruleCommonNeighbours = "common_neighbours"
	ruleAllowedPath      = "allowed_path"
)

// Candidate is an unconnected entity pair with the structure suggesting a
// relationship between them.
type Candidate struct {
	Source common.Entity
	Target common.Entity
	Rule   string
	// Common counts the shared explicit neighbours.
	Common   int
	Evidence []common.Relationship
}

type candidateOptions struct {
	minCommon     int
	allowedKinds  map[string]bool
	maxCandidates int
}

type pairKey struct{ a, b string }

func unordered(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

// findCandidates lists pairs of in-scope entities with no edge of any
// origin between them that either share at least minCommon explicit
// neighbours or are joined by a directed explicit path of two edges whose
// kinds are allowed. Pairs already linked by an inferred edge are skipped,
// so repeated passes propose nothing new.
func findCandidates(g *common.Graph, inScope map[string]bool, opts candidateOptions) []Candidate {
	entities := make(map[string]common.Entity, len(g.Entities))
	for _, e := range g.Entities {
		entities[e.ID] = e
	}

	connected := make(map[pairKey]bool)
	adj := make(map[string]map[string][]common.Relationship)
	out := make(map[string][]common.Relationship)
	link := func(a, b string, r common.Relationship) {
		if adj[a] == nil {
			adj[a] = make(map[string][]common.Relationship)
		}
		adj[a][b] = append(adj[a][b], r)
	}
	for _, r := range g.Relationships {
		connected[unordered(r.Source, r.Target)] = true
		if r.Origin != common.OriginExplicit || r.Source == r.Target {
			continue
		}
		if _, ok := entities[r.Source]; !ok {
			continue
		}
		if _, ok := entities[r.Target]; !ok {
			continue
		}
		link(r.Source, r.Target, r)
		link(r.Target, r.Source, r)
		out[r.Source] = append(out[r.Source], r)
	}

	found := make(map[pairKey]*Candidate)
	eligible := func(a, b string) bool {
		return a != b && inScope[a] && inScope[b] && !connected[unordered(a, b)]
	}

	if opts.minCommon > 0 {
		shared := make(map[pairKey][]string)
		for a, nbrs := range adj {
			if !inScope[a] {
				continue
			}
			for x := range nbrs {
				for b := range adj[x] {
					if a >= b || !eligible(a, b) {
						continue
					}
					k := pairKey{a, b}
					shared[k] = append(shared[k], x)
				}
			}
		}
		for k, xs := range shared {
			if len(xs) < opts.minCommon {
				continue
			}
			c := &Candidate{
				Source: entities[k.a],
				Target: entities[k.b],
				Rule:   ruleCommonNeighbours,
				Common: len(xs),
			}
			for _, x := range xs {
				c.Evidence = append(c.Evidence, adj[k.a][x]...)
				c.Evidence = append(c.Evidence, adj[k.b][x]...)
			}
			found[k] = c
		}
	}

	if len(opts.allowedKinds) > 0 {
		starts := make([]string, 0, len(out))
		for a := range out {
			starts = append(starts, a)
		}
		slices.Sort(starts)
		for _, a := range starts {
			if !inScope[a] {
				continue
			}
			for _, r1 := range out[a] {
				if !opts.allowedKinds[r1.Kind] {
					continue
				}
				for _, r2 := range out[r1.Target] {
					b := r2.Target
					if !opts.allowedKinds[r2.Kind] || !eligible(a, b) {
						continue
					}
					k := unordered(a, b)
					c, ok := found[k]
					if !ok {
						c = &Candidate{}
						found[k] = c
					}
					// The first directed path fixes the direction of the pair.
					if c.Rule != ruleAllowedPath {
						c.Rule = ruleAllowedPath
						c.Source, c.Target = entities[a], entities[b]
					}
					c.Evidence = append(c.Evidence, r1, r2)
				}
			}
		}
	}

	cands := make([]Candidate, 0, len(found))
	for _, c := range found {
		c.Evidence = dedupeEvidence(c.Evidence)
		cands = append(cands, *c)
	}
	slices.SortFunc(cands, func(x, y Candidate) int {
		if c := cmp.Compare(y.Common, x.Common); c != 0 {
			return c
		}
		if c := cmp.Compare(x.Source.ID, y.Source.ID); c != 0 {
			return c
		}
		return cmp.Compare(x.Target.ID, y.Target.ID)
	})
	if opts.maxCandidates > 0 && len(cands) > opts.maxCandidates {
		cands = cands[:opts.maxCandidates]
	}
	return cands
}

func dedupeEvidence(rels []common.Relationship) []common.Relationship {
	slices.SortFunc(rels, func(x, y common.Relationship) int { return cmp.Compare(x.ID, y.ID) })
	return slices.CompactFunc(rels, func(x, y common.Relationship) bool { return x.ID == y.ID })
}
