// Package query implements hybrid retrieval: vector similarity search
// fused with graph traversal from the best matches.
package query

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ai"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/logger"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ansonTGN/LaMuralla-AI-Test/pkg/query"

// Options tunes the fusion. VectorWeight and GraphWeight should sum to 1.
type Options struct {
	VectorWeight float64
	GraphWeight  float64
	// Decay in (0,1) is applied once per hop away from a seed.
	Decay   float64
	MaxHops int
	// CandidateFactor sets the vector candidate count m = k*CandidateFactor.
	CandidateFactor int
	// InferredWeight scales scores reached over inferred edges. Zero
	// ignores inferred edges, one treats them like explicit ones.
	InferredWeight float64
	// MaxNodes bounds the traversal result.
	MaxNodes int
	Timeout  time.Duration
}

func DefaultOptions() Options {
	return Options{
		VectorWeight:    0.7,
		GraphWeight:     0.3,
		Decay:           0.5,
		MaxHops:         2,
		CandidateFactor: 3,
		InferredWeight:  0.5,
		MaxNodes:        500,
	}
}

// Scored is one retrieval result. Exactly one of Entity and Fragment is
// set.
type Scored struct {
	ID          string
	Kind        store.NodeKind
	Score       float64
	VectorScore float64
	GraphScore  float64
	Entity      *common.Entity
	Fragment    *common.Fragment
}

// Result is the ranked output of Retrieve. Degraded is set when vector
// search was not possible and the ranking comes from name-seeded graph
// traversal only.
type Result struct {
	Items    []Scored
	Degraded bool
}

// IDs returns the ids of the items in rank order.
func (r *Result) IDs() []string {
	ids := make([]string, len(r.Items))
	for i, it := range r.Items {
		ids[i] = it.ID
	}
	return ids
}

type Retriever struct {
	store    store.GraphStorage
	embedder ai.Embedder
	opts     Options
	tracer   Tracer
	otel     trace.Tracer
}

// RetrieverOption is a functional option for configuring a Retriever.
type RetrieverOption func(*Retriever)

// WithOptions replaces the fusion options.
func WithOptions(opts Options) RetrieverOption {
	return func(r *Retriever) {
		r.opts = opts
	}
}

// WithTracer records what each retrieval considered and returned.
func WithTracer(t Tracer) RetrieverOption {
	return func(r *Retriever) {
		r.tracer = t
	}
}

// NewRetriever creates a Retriever. A nil embedder always retrieves in
// degraded mode.
func NewRetriever(s store.GraphStorage, embedder ai.Embedder, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		store:    s,
		embedder: embedder,
		opts:     DefaultOptions(),
		otel:     otel.Tracer(tracerName),
	}
	for _, o := range opts {
		o(r)
	}
	if r.opts.CandidateFactor < 2 {
		r.opts.CandidateFactor = 2
	}
	if r.opts.Decay <= 0 || r.opts.Decay >= 1 {
		r.opts.Decay = DefaultOptions().Decay
	}
	return r
}

// Retrieve returns the k best entities and fragments for q.
//
// The query embedding selects the top m = k*CandidateFactor nodes by
// cosine similarity. Traversal from those seeds scores every node reached
// at hop h with seed similarity × Decay^h, keeping the best path. Scores
// are fused as VectorWeight*vector + GraphWeight*graph, where a missing
// side counts as 0, and sorted descending with ties broken by id.
//
// When the vector index or the embedding capability is unavailable the
// seeds come from matching query terms against entity names and the
// result is marked degraded.
func (r *Retriever) Retrieve(ctx context.Context, q string, k int) (*Result, error) {
	if k <= 0 {
		return &Result{}, nil
	}
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	ctx, span := r.otel.Start(ctx, "query.retrieve", trace.WithAttributes(attribute.Int("k", k)))
	defer span.End()

	res, err := r.retrieve(ctx, q, k)
	if err != nil {
		err = newRetrievalError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, err
	}
	span.SetAttributes(attribute.Bool("degraded", res.Degraded), attribute.Int("results", len(res.Items)))
	record(r.tracer, TraceEventReturned, res.IDs()...)
	return res, nil
}

func (r *Retriever) retrieve(ctx context.Context, q string, k int) (*Result, error) {
	m := k * r.opts.CandidateFactor

	seeds, degraded, err := r.vectorSeeds(ctx, q, m)
	if err != nil {
		return nil, err
	}
	if degraded {
		seeds, err = r.nameSeeds(ctx, q, m)
		if err != nil {
			return nil, err
		}
	}

	graph, err := r.graphScores(ctx, seeds, degraded)
	if err != nil {
		return nil, err
	}

	var fused []Scored
	if degraded {
		fused = fuseDegraded(graph)
	} else {
		fused = fuse(seeds, graph, r.opts.VectorWeight, r.opts.GraphWeight)
	}
	items, err := r.hydrate(ctx, fused, k)
	if err != nil {
		return nil, err
	}
	return &Result{Items: items, Degraded: degraded}, nil
}

// vectorSeeds runs the similarity search. It reports degraded instead of
// an error when the index or the embedder cannot serve the query.
func (r *Retriever) vectorSeeds(ctx context.Context, q string, m int) ([]store.Hit, bool, error) {
	if r.embedder == nil {
		recordDegraded(r.tracer, "no embedder")
		return nil, true, nil
	}
	vec, err := r.embedder.GenerateEmbedding(ctx, []byte(q))
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		logger.Warn("[Query] Embedding failed, using name seeds", "err", err)
		recordDegraded(r.tracer, "embedding failed")
		return nil, true, nil
	}
	hits, err := r.store.SimilaritySearch(ctx, vec, m)
	if errors.Is(err, store.ErrIndexUnavailable) {
		logger.Warn("[Query] Vector index unavailable, using name seeds")
		recordDegraded(r.tracer, "index unavailable")
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	record(r.tracer, TraceEventVectorHits, ids...)
	return hits, false, nil
}

func (r *Retriever) nameSeeds(ctx context.Context, q string, m int) ([]store.Hit, error) {
	terms := queryTerms(q)
	if len(terms) == 0 {
		return nil, nil
	}
	hits, err := r.store.FindEntitiesByName(ctx, terms, m)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	record(r.tracer, TraceEventNameSeeds, ids...)
	return hits, nil
}

// graphScores traverses from the seeds and returns the best decayed score
// per reached node. Seeds count at hop 0 only when includeSeeds is set;
// otherwise a seed gets a graph score only when another seed reaches it.
// Paths that need an inferred edge are scaled by InferredWeight.
func (r *Retriever) graphScores(ctx context.Context, seeds []store.Hit, includeSeeds bool) (map[string]float64, error) {
	scores := make(map[string]float64)
	if len(seeds) == 0 {
		return scores, nil
	}
	sim := make(map[string]float64, len(seeds))
	ids := make([]string, 0, len(seeds))
	for _, h := range seeds {
		sim[h.ID] = h.Score
		ids = append(ids, h.ID)
	}

	walk := func(origins []common.Origin, weight float64) error {
		reached, err := r.store.Traverse(ctx, ids, r.opts.MaxHops, store.TraverseOptions{
			Origins:  origins,
			MaxNodes: r.opts.MaxNodes,
		})
		if err != nil {
			return err
		}
		for _, n := range reached {
			if n.Hops == 0 && !includeSeeds {
				continue
			}
			s := sim[n.Seed] * pow(r.opts.Decay, n.Hops) * weight
			if cur, ok := scores[n.ID]; !ok || s > cur {
				scores[n.ID] = s
			}
		}
		return nil
	}

	if err := walk([]common.Origin{common.OriginExplicit}, 1); err != nil {
		return nil, err
	}
	if r.opts.InferredWeight > 0 {
		if err := walk(nil, min(r.opts.InferredWeight, 1)); err != nil {
			return nil, err
		}
	}

	reachedIDs := make([]string, 0, len(scores))
	for id := range scores {
		reachedIDs = append(reachedIDs, id)
	}
	record(r.tracer, TraceEventGraphReached, reachedIDs...)
	return scores, nil
}

func pow(base float64, n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= base
	}
	return out
}

// fuse combines vector and graph scores; a node missing from one side
// scores 0 there.
func fuse(hits []store.Hit, graph map[string]float64, vw, gw float64) []Scored {
	byID := make(map[string]*Scored)
	get := func(id string) *Scored {
		s, ok := byID[id]
		if !ok {
			s = &Scored{ID: id, Kind: store.KindOf(id)}
			byID[id] = s
		}
		return s
	}
	for _, h := range hits {
		get(h.ID).VectorScore = h.Score
	}
	for id, g := range graph {
		get(id).GraphScore = g
	}

	out := make([]Scored, 0, len(byID))
	for _, s := range byID {
		s.Score = vw*s.VectorScore + gw*s.GraphScore
		out = append(out, *s)
	}
	sortScored(out)
	return out
}

// fuseDegraded ranks by graph score alone.
func fuseDegraded(graph map[string]float64) []Scored {
	out := make([]Scored, 0, len(graph))
	for id, g := range graph {
		out = append(out, Scored{ID: id, Kind: store.KindOf(id), Score: g, GraphScore: g})
	}
	sortScored(out)
	return out
}

func sortScored(items []Scored) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ID < items[j].ID
	})
}

// hydrate loads the records of the ranked candidates and returns the first
// k that still exist.
func (r *Retriever) hydrate(ctx context.Context, ranked []Scored, k int) ([]Scored, error) {
	var entityIDs, fragmentIDs []string
	for _, s := range ranked {
		if s.Kind == store.NodeFragment {
			fragmentIDs = append(fragmentIDs, s.ID)
		} else {
			entityIDs = append(entityIDs, s.ID)
		}
	}

	entities := make(map[string]*common.Entity)
	if len(entityIDs) > 0 {
		list, err := r.store.GetEntities(ctx, entityIDs)
		if err != nil {
			return nil, err
		}
		for i := range list {
			list[i].Embedding = nil
			entities[list[i].ID] = &list[i]
		}
	}
	fragments := make(map[string]*common.Fragment)
	if len(fragmentIDs) > 0 {
		list, err := r.store.GetFragments(ctx, fragmentIDs)
		if err != nil {
			return nil, err
		}
		for i := range list {
			list[i].Embedding = nil
			fragments[list[i].ID] = &list[i]
		}
	}

	out := make([]Scored, 0, k)
	for _, s := range ranked {
		if len(out) == k {
			break
		}
		if e, ok := entities[s.ID]; ok {
			s.Entity = e
		} else if f, ok := fragments[s.ID]; ok {
			s.Fragment = f
		} else {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
