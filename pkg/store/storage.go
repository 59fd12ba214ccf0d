package store

import (
	"context"
	"errors"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
)

var (
	// ErrUnavailable means the store could not be reached or refused the
	// operation for reasons unrelated to the data.
	ErrUnavailable = errors.New("store unavailable")
	// ErrConflict means a concurrent writer changed the same record and
	// the merge could not be applied atomically. Callers may retry.
	ErrConflict = errors.New("store write conflict")
	// ErrIndexUnavailable means vector search is not possible, e.g. the
	// index is missing or still building. Graph operations still work.
	ErrIndexUnavailable = errors.New("vector index unavailable")
)

// NodeKind discriminates entity and fragment nodes.
type NodeKind string

const (
	NodeEntity   NodeKind = "entity"
	NodeFragment NodeKind = "fragment"
)

// KindOf returns the node kind encoded in an id.
func KindOf(id string) NodeKind {
	if common.IsFragmentID(id) {
		return NodeFragment
	}
	return NodeEntity
}

// Hit is a node matched by vector or name search. Score is in [0,1].
type Hit struct {
	ID    string
	Kind  NodeKind
	Score float64
}

// Reached is a node found by Traverse together with the seed it was
// reached from and the shortest hop distance to that seed. Seeds are
// reported at hop 0.
type Reached struct {
	ID   string
	Seed string
	Hops int
}

// TraverseOptions restricts traversal.
type TraverseOptions struct {
	// Origins lists the relationship origins to follow. Empty follows all.
	Origins []common.Origin
	// MaxNodes bounds the result size; <= 0 means no bound.
	MaxNodes int
}

// Follows reports whether edges of origin o are followed.
func (o TraverseOptions) Follows(origin common.Origin) bool {
	if len(o.Origins) == 0 {
		return true
	}
	for _, v := range o.Origins {
		if v == origin {
			return true
		}
	}
	return false
}

// RelationshipFilter selects relationships. Zero values match everything.
type RelationshipFilter struct {
	// EntityIDs keeps edges with at least one endpoint in the set.
	EntityIDs []string
	Origin    common.Origin
	Kinds     []string
	Limit     int
}

// MergeResult reports whether a merge inserted a new record.
type MergeResult struct {
	Created bool
}

// GraphStorage is the persistent graph/vector store.
//
// All Merge operations are atomic create-or-merge operations keyed by id
// and follow the rules of common.MergeEntity, common.MergeRelationship and
// common.MergeMentions. They never expose a read-then-write window to
// other writers.
type GraphStorage interface {
	// EnsureSchema creates constraints and the vector index.
	EnsureSchema(ctx context.Context) error

	MergeEntity(ctx context.Context, e common.Entity) (MergeResult, error)
	MergeRelationship(ctx context.Context, r common.Relationship) (MergeResult, error)
	MergeFragment(ctx context.Context, f common.Fragment) (MergeResult, error)
	// SetEmbedding stores vec on the entity or fragment with the given id
	// unless it already has one. It reports whether the vector was stored.
	SetEmbedding(ctx context.Context, id string, vec []float32) (bool, error)

	GetEntities(ctx context.Context, ids []string) ([]common.Entity, error)
	GetFragments(ctx context.Context, ids []string) ([]common.Fragment, error)
	ListRelationships(ctx context.Context, filter RelationshipFilter) ([]common.Relationship, error)

	// SimilaritySearch returns the m nodes closest to vec by cosine
	// similarity, best first. It fails with ErrIndexUnavailable when vector
	// search is not possible.
	SimilaritySearch(ctx context.Context, vec []float32, m int) ([]Hit, error)
	// FindEntitiesByName matches entity names against the terms, exact
	// matches first, then fuzzy matches.
	FindEntitiesByName(ctx context.Context, terms []string, limit int) ([]Hit, error)
	// Traverse expands from seeds over relationships in both directions and
	// over fragment mentions, up to maxHops.
	Traverse(ctx context.Context, seeds []string, maxHops int, opts TraverseOptions) ([]Reached, error)

	// Neighborhood returns the entities within hops of id and the edges
	// between them.
	Neighborhood(ctx context.Context, id string, hops int) (*common.Graph, error)
	// Export returns the whole graph.
	Export(ctx context.Context) (*common.Graph, error)
	// Reset deletes all data.
	Reset(ctx context.Context) error

	Close() error
}
