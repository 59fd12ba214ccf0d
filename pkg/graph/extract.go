package graph

import (
	"context"
	"errors"
	"sync"

	"github.com/ansonTGN/LaMuralla-AI-Test/internal/util"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ai"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Extraction is the output of Extract for one document: records merged by
// id and sorted, plus the units that were skipped after all retries.
type Extraction struct {
	SourceID      string
	Entities      []common.Entity
	Relationships []common.Relationship
	Fragments     []common.Fragment
	Skipped       []*ExtractionError
}

// Empty reports whether nothing was extracted.
func (x *Extraction) Empty() bool {
	return len(x.Entities) == 0 && len(x.Relationships) == 0 && len(x.Fragments) == 0
}

// Extract runs deterministic table extraction and model extraction of all
// prose units of doc. Units are extracted in parallel; a unit that keeps
// failing is recorded in Skipped and does not fail the document. The only
// error returned is the context's.
func (x *Extractor) Extract(ctx context.Context, doc *loader.Document) (*Extraction, error) {
	units, tables := splitDocument(doc, x.unitTokens)
	acc := newAccumulator()

	for _, t := range tables {
		acc.add(extractTable(doc.SourceID, t))
	}

	results := make([]*Extraction, len(units))
	skipped := make([]*ExtractionError, len(units))
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(x.parallel)
	for i, unit := range units {
		g.Go(func() error {
			if gCtx.Err() != nil {
				return gCtx.Err()
			}
			res, err := util.RetryWithContext(gCtx, x.maxRetries, x.backoff, func(ctx context.Context) (*Extraction, error) {
				res, err := x.extractFromUnit(ctx, doc.SourceID, unit)
				if errors.Is(err, ai.ErrNotConfigured) {
					return nil, util.Permanent(err)
				}
				return res, err
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				xerr := classifyModelError(gCtx, unit.locator, err)
				logger.Warn("[Extract] Skipped unit", "source_id", doc.SourceID, "locator", unit.locator.String(), "kind", string(xerr.Kind), "err", err)
				mu.Lock()
				skipped[i] = xerr
				mu.Unlock()
				return nil
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Extraction{SourceID: doc.SourceID}
	for i := range units {
		acc.add(results[i])
		if skipped[i] != nil {
			out.Skipped = append(out.Skipped, skipped[i])
		}
	}
	acc.fill(out)

	logger.Debug("[Extract] Document extracted",
		"source_id", doc.SourceID,
		"units", len(units),
		"tables", len(tables),
		"entities", len(out.Entities),
		"relationships", len(out.Relationships),
		"skipped", len(out.Skipped),
	)
	return out, nil
}
