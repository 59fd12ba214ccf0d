package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
)

// ErrEntityNotFound is returned by Neighborhood when no entity matches the
// requested name.
var ErrEntityNotFound = errors.New("entity not found")

// Neighborhood returns the subgraph within hops of the entity called name.
// The name is matched like a degraded query term, so an exact normalized
// match wins over fuzzy ones. An entity id is accepted as well.
func (r *Retriever) Neighborhood(ctx context.Context, name string, hops int) (*common.Graph, error) {
	ctx, span := r.otel.Start(ctx, "query.neighborhood")
	defer span.End()

	id := name
	if !common.IsEntityID(name) {
		hits, err := r.store.FindEntitiesByName(ctx, []string{name}, 1)
		if err != nil {
			return nil, newRetrievalError(err)
		}
		if len(hits) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrEntityNotFound, name)
		}
		id = hits[0].ID
	}

	g, err := r.store.Neighborhood(ctx, id, max(hops, 0))
	if err != nil {
		return nil, newRetrievalError(err)
	}
	if len(g.Entities) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEntityNotFound, name)
	}
	for i := range g.Entities {
		g.Entities[i].Embedding = nil
	}
	return g, nil
}
