package queue

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ansonTGN/LaMuralla-AI-Test/internal/util"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ingest"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/leaselock"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/logger"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/reasoning"
)

type Submitter interface {
	Submit(raw []byte, format loader.Format, sourceID string) *ingest.Job
}

type Inferrer interface {
	Infer(ctx context.Context, scope *reasoning.Scope) ([]common.Relationship, error)
}

// Processor handles the messages of every work queue.
type Processor struct {
	pipeline Submitter
	reasoner Inferrer
	sources  map[string]loader.SourceLoader
}

// NewProcessorParams configures a Processor. Sources maps an IngestMessage
// location to the loader that fetches it; locations without a loader are
// rejected.
type NewProcessorParams struct {
	Pipeline Submitter
	Reasoner Inferrer
	Sources  map[string]loader.SourceLoader
}

func NewProcessor(params NewProcessorParams) *Processor {
	return &Processor{
		pipeline: params.Pipeline,
		reasoner: params.Reasoner,
		sources:  params.Sources,
	}
}

// Handle dispatches a message body by queue. It is a HandlerFunc.
func (p *Processor) Handle(ctx context.Context, queueName string, body []byte) error {
	switch queueName {
	case IngestQueue:
		msg, err := DecodeIngest(body)
		if err != nil {
			return err
		}
		return p.ProcessIngest(ctx, msg)
	case InferQueue:
		msg, err := DecodeInfer(body)
		if err != nil {
			return err
		}
		return p.ProcessInfer(ctx, msg)
	}
	return fmt.Errorf("%w: no handler for queue %s", ErrMalformed, queueName)
}

// ProcessIngest loads the document and waits for its ingestion job. Errors
// that will not change on retry, such as an unreadable document, are
// marked permanent.
func (p *Processor) ProcessIngest(ctx context.Context, msg *IngestMessage) error {
	src, ok := p.sources[msg.Location]
	if !ok {
		return fmt.Errorf("%w: no loader for location %s", ErrMalformed, msg.Location)
	}
	format := msg.Format
	if format == "" {
		format, _ = loader.FormatFromPath(msg.Path)
	}

	raw, err := src.Load(ctx, loader.SourceRef{ID: msg.SourceID, Path: msg.Path, Format: format})
	if err != nil {
		var perr *loader.ParseError
		if errors.As(err, &perr) || errors.Is(err, os.ErrNotExist) {
			return util.Permanent(fmt.Errorf("load %s: %w", msg.Path, err))
		}
		return fmt.Errorf("load %s: %w", msg.Path, err)
	}

	job := p.pipeline.Submit(raw, format, msg.SourceID)
	logger.Info("[Queue] Ingestion job submitted", "job_id", job.ID, "source_id", msg.SourceID)
	if err := job.Wait(ctx); err != nil {
		var perr *loader.ParseError
		if errors.As(err, &perr) || errors.Is(err, ingest.ErrNoContent) {
			return util.Permanent(err)
		}
		return err
	}
	return nil
}

// ProcessInfer runs one inference pass. A pass already running elsewhere
// for the same scope is not an error.
func (p *Processor) ProcessInfer(ctx context.Context, msg *InferMessage) error {
	if p.reasoner == nil {
		return util.Permanent(errors.New("inference is not configured"))
	}
	scope, err := reasoning.ParseScope(msg.Scope)
	if err != nil {
		return util.Permanent(err)
	}
	rels, err := p.reasoner.Infer(ctx, scope)
	if errors.Is(err, leaselock.ErrBusy) {
		logger.Info("[Queue] Inference pass already running", "scope", scope.String())
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("[Queue] Inference pass stored relationships", "scope", scope.String(), "count", len(rels))
	return nil
}
