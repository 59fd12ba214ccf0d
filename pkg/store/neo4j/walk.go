package neo4j

import (
	"context"
	"slices"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"
)

// adjacencyFunc returns the neighbours of every node in ids.
type adjacencyFunc func(ctx context.Context, ids []string) (map[string][]string, error)

type walker struct {
	seed     string
	visited  map[string]bool
	frontier []string
	reached  []store.Reached
}

// walk runs a breadth-first search from every seed, one adjacency lookup
// per hop for the union of all frontiers. Results are grouped by seed in
// seed order, then by hop, then by id.
func walk(ctx context.Context, seeds []string, maxHops, maxNodes int, adjacent adjacencyFunc) ([]store.Reached, error) {
	walkers := make([]*walker, 0, len(seeds))
	for _, seed := range seeds {
		walkers = append(walkers, &walker{
			seed:     seed,
			visited:  map[string]bool{seed: true},
			frontier: []string{seed},
			reached:  []store.Reached{{ID: seed, Seed: seed, Hops: 0}},
		})
	}

	for hop := 1; hop <= maxHops; hop++ {
		var union []string
		for _, w := range walkers {
			union = append(union, w.frontier...)
		}
		union = store.DedupeStrings(union)
		if len(union) == 0 {
			break
		}
		adj, err := adjacent(ctx, union)
		if err != nil {
			return nil, err
		}

		for _, w := range walkers {
			var next []string
			for _, id := range w.frontier {
				ns := slices.Clone(adj[id])
				slices.Sort(ns)
				for _, n := range slices.Compact(ns) {
					if w.visited[n] {
						continue
					}
					w.visited[n] = true
					next = append(next, n)
				}
			}
			slices.Sort(next)
			for _, n := range next {
				w.reached = append(w.reached, store.Reached{ID: n, Seed: w.seed, Hops: hop})
			}
			w.frontier = next
		}
	}

	var out []store.Reached
	for _, w := range walkers {
		out = append(out, w.reached...)
	}
	if maxNodes > 0 && len(out) > maxNodes {
		out = out[:maxNodes]
	}
	return out, nil
}
