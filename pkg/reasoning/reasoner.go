// Package reasoning proposes relationships that the graph implies but no
// source states, and stores them as Inferred edges.
package reasoning

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ansonTGN/LaMuralla-AI-Test/internal/util"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ai"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/graph"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/leaselock"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/logger"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	tracerName = "github.com/ansonTGN/LaMuralla-AI-Test/pkg/reasoning"

	// SourceID tags the upserts written by inference passes.
	SourceID = "inference"

	leasePrefix = "kg:infer:"
)

// Reasoner runs inference passes. Candidate pairs come from graph
// structure only; the model names the relationship and may decline it.
//
// A Reasoner should be created using NewReasoner.
type Reasoner struct {
	store       store.GraphStorage
	client      ai.Completer
	upserter    *graph.Upserter
	locker      leaselock.Locker
	lease       leaselock.Options
	parallel    int
	maxRetries  int
	backoff     util.Backoff
	callTimeout time.Duration
	candidates  candidateOptions
	tracer      trace.Tracer
}

// NewReasonerParams defines the configuration of a Reasoner.
//
// MinCommon is the number of shared explicit neighbours that makes a pair a
// candidate (default 2). AllowedKinds lists the relationship kinds a two
// edge path may use; empty disables path candidates. MaxCandidates caps the
// pairs labelled per pass (default 200). Locker, when set, serializes
// passes over the same scope across workers.
type NewReasonerParams struct {
	Store         store.GraphStorage
	Client        ai.Completer
	Upserter      *graph.Upserter
	Locker        leaselock.Locker
	LeaseTTL      time.Duration
	Parallel      int
	MaxRetries    int
	Backoff       util.Backoff
	CallTimeout   time.Duration
	MinCommon     int
	AllowedKinds  []string
	MaxCandidates int
}

func NewReasoner(params NewReasonerParams) *Reasoner {
	r := &Reasoner{
		store:       params.Store,
		client:      params.Client,
		upserter:    params.Upserter,
		locker:      params.Locker,
		lease:       leaselock.Options{TTL: params.LeaseTTL, TokenPrefix: "infer-"},
		parallel:    params.Parallel,
		maxRetries:  params.MaxRetries,
		backoff:     params.Backoff,
		callTimeout: params.CallTimeout,
		candidates: candidateOptions{
			minCommon:     params.MinCommon,
			maxCandidates: params.MaxCandidates,
			allowedKinds:  make(map[string]bool, len(params.AllowedKinds)),
		},
		tracer: otel.Tracer(tracerName),
	}
	if r.upserter == nil {
		r.upserter = graph.NewUpserter(graph.NewUpserterParams{Store: params.Store})
	}
	if r.parallel <= 0 {
		r.parallel = 4
	}
	if r.maxRetries <= 0 {
		r.maxRetries = 2
	}
	if r.candidates.minCommon <= 0 {
		r.candidates.minCommon = 2
	}
	if r.candidates.maxCandidates <= 0 {
		r.candidates.maxCandidates = 200
	}
	for _, k := range params.AllowedKinds {
		r.candidates.allowedKinds[common.NormalizeKind(k)] = true
	}
	return r
}

// Candidates lists the pairs a pass over scope would label, without calling
// the model.
func (r *Reasoner) Candidates(ctx context.Context, scope *Scope) ([]Candidate, error) {
	_, cands, err := r.scan(ctx, scope)
	return cands, err
}

func (r *Reasoner) scan(ctx context.Context, scope *Scope) (*common.Graph, []Candidate, error) {
	g, err := r.store.Export(ctx)
	if err != nil {
		return nil, nil, err
	}
	inScope := make(map[string]bool, len(g.Entities))
	for _, e := range g.Entities {
		ok, err := scope.Match(e)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			inScope[e.ID] = true
		}
	}
	return g, findCandidates(g, inScope, r.candidates), nil
}

// Infer runs one pass over scope and returns the inferred relationships it
// stored. A pair whose labelling fails is logged and skipped. Running Infer
// again over an unchanged graph stores nothing new.
func (r *Reasoner) Infer(ctx context.Context, scope *Scope) ([]common.Relationship, error) {
	if r.locker == nil {
		return r.infer(ctx, scope)
	}
	var out []common.Relationship
	err := r.locker.WithLease(ctx, leasePrefix+scope.String(), r.lease, func(ctx context.Context) error {
		var err error
		out, err = r.infer(ctx, scope)
		return err
	})
	return out, err
}

func (r *Reasoner) infer(ctx context.Context, scope *Scope) ([]common.Relationship, error) {
	ctx, span := r.tracer.Start(ctx, "reasoning.infer", trace.WithAttributes(
		attribute.String("scope", scope.String()),
	))
	defer span.End()

	g, cands, err := r.scan(ctx, scope)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "candidate scan failed")
		return nil, fmt.Errorf("scan candidates: %w", err)
	}
	span.SetAttributes(attribute.Int("candidates", len(cands)))
	if len(cands) == 0 {
		return nil, nil
	}

	names := make(map[string]string, len(g.Entities))
	for _, e := range g.Entities {
		names[e.ID] = e.Name
	}

	var (
		mu      sync.Mutex
		out     []common.Relationship
		skipped int
	)
	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.parallel)
	for _, c := range cands {
		eg.Go(func() error {
			if gCtx.Err() != nil {
				return gCtx.Err()
			}
			rel, ok, err := util.Retry2WithContext(gCtx, r.maxRetries, r.backoff, func(ctx context.Context) (common.Relationship, bool, error) {
				rel, ok, err := r.label(ctx, c, names)
				if errors.Is(err, ai.ErrNotConfigured) || errors.Is(err, errUnlabelled) {
					return rel, ok, util.Permanent(err)
				}
				return rel, ok, err
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn("[Reasoning] Skipped candidate", "source", c.Source.ID, "target", c.Target.ID, "rule", c.Rule, "err", err)
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}
			if !ok {
				return nil
			}
			mu.Lock()
			out = append(out, rel)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "inference cancelled")
		return nil, err
	}

	slices.SortFunc(out, func(a, b common.Relationship) int { return cmp.Compare(a.ID, b.ID) })
	out = slices.CompactFunc(out, func(a, b common.Relationship) bool { return a.ID == b.ID })
	if len(out) > 0 {
		if _, err := r.upserter.Upsert(ctx, &graph.Extraction{SourceID: SourceID, Relationships: out}); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "upsert failed")
			return nil, err
		}
	}

	span.SetAttributes(attribute.Int("inferred", len(out)), attribute.Int("skipped", skipped))
	logger.Info("[Reasoning] Inference pass finished",
		"scope", scope.String(),
		"candidates", len(cands),
		"inferred", len(out),
		"skipped", skipped,
	)
	return out, nil
}
