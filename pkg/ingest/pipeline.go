// Package ingest runs documents through parse, extract and upsert. Each
// stage has its own bounded pool of workers and jobs are handed from one
// stage to the next over channels.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/graph"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/logger"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const stageCount = 3

type Parser interface {
	Parse(ctx context.Context, raw []byte, declared loader.Format, sourceID string) (*loader.Document, error)
}

type Extractor interface {
	Extract(ctx context.Context, doc *loader.Document) (*graph.Extraction, error)
}

type Upserter interface {
	Upsert(ctx context.Context, x *graph.Extraction) (*graph.UpsertReport, error)
}

// handoff carries a job and its stage output to the next stage.
type handoff struct {
	job *Job
	doc *loader.Document
	x   *graph.Extraction
}

// Pipeline is a running set of stage workers.
//
// A Pipeline should be created using NewPipeline and stopped with Close.
type Pipeline struct {
	parser    Parser
	extractor Extractor
	upserter  Upserter

	queue     chan *Job
	extractCh chan handoff
	upsertCh  chan handoff
	events    chan Event

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	jobs   map[string]*Job

	wg sync.WaitGroup
}

// NewPipelineParams configures a Pipeline.
//
// Workers is the number of workers per stage (default 4). QueueSize bounds
// the jobs waiting for a parse worker (default 64); Submit blocks while the
// queue is full. EventBuffer sizes the Events channel (default 256); events
// are dropped rather than stalling the pipeline when nobody reads them.
type NewPipelineParams struct {
	Parser      Parser
	Extractor   Extractor
	Upserter    Upserter
	Workers     int
	QueueSize   int
	EventBuffer int
}

// NewPipeline starts the stage workers. They stop when ctx is done or
// Close is called.
func NewPipeline(ctx context.Context, params NewPipelineParams) *Pipeline {
	workers := params.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := params.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	eventBuffer := params.EventBuffer
	if eventBuffer <= 0 {
		eventBuffer = 256
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		parser:    params.Parser,
		extractor: params.Extractor,
		upserter:  params.Upserter,
		queue:     make(chan *Job, queueSize),
		extractCh: make(chan handoff, workers),
		upsertCh:  make(chan handoff, workers),
		events:    make(chan Event, eventBuffer),
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]*Job),
	}

	var parseWG, extractWG, upsertWG sync.WaitGroup
	for range workers {
		parseWG.Go(p.parseWorker)
		extractWG.Go(p.extractWorker)
		upsertWG.Go(p.upsertWorker)
	}
	p.wg.Go(func() {
		parseWG.Wait()
		close(p.extractCh)
		extractWG.Wait()
		close(p.upsertCh)
		upsertWG.Wait()
		close(p.events)
	})
	return p
}

// Submit queues a document and returns its job. An empty format is
// detected from the content.
func (p *Pipeline) Submit(raw []byte, format loader.Format, sourceID string) *Job {
	id, err := gonanoid.New()
	if err != nil {
		id = fmt.Sprintf("job-%d", time.Now().UnixNano())
	}
	job := newJob(id, sourceID, format, raw)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		job.finish(ErrClosed)
		return job
	}
	p.jobs[job.ID] = job
	p.emit(job, StatusQueued, "", 0)

	select {
	case p.queue <- job:
	case <-p.ctx.Done():
		p.fail(job, 0, ErrClosed)
	}
	return job
}

// Job returns a submitted job by id.
func (p *Pipeline) Job(id string) (*Job, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	j, ok := p.jobs[id]
	return j, ok
}

// Forget drops a finished job from the pipeline's index.
func (p *Pipeline) Forget(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if j, ok := p.jobs[id]; ok && j.Status().Terminal() {
		delete(p.jobs, id)
	}
}

// Events streams job transitions. The channel is closed after Close.
func (p *Pipeline) Events() <-chan Event {
	return p.events
}

// Close stops accepting jobs, lets queued jobs run to completion and waits
// for the workers to exit.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
	p.cancel()
}

// Stop cancels running stages and then closes the pipeline. Jobs that have
// not finished fail.
func (p *Pipeline) Stop() {
	p.cancel()
	p.Close()
}

func (p *Pipeline) parseWorker() {
	for job := range p.queue {
		if doc, ok := p.parse(job); ok {
			p.extractCh <- handoff{job: job, doc: doc}
		}
	}
}

func (p *Pipeline) extractWorker() {
	for h := range p.extractCh {
		if x, ok := p.extract(h.job, h.doc); ok {
			p.upsertCh <- handoff{job: h.job, x: x}
		}
	}
}

func (p *Pipeline) upsertWorker() {
	for h := range p.upsertCh {
		p.upsert(h.job, h.x)
	}
}

// boundary reports whether the job may enter its next stage.
func (p *Pipeline) boundary(job *Job, done int) bool {
	switch {
	case job.cancelled.Load():
		p.fail(job, done, ErrCancelled)
		return false
	case p.ctx.Err() != nil:
		p.fail(job, done, fmt.Errorf("%w: %w", ErrCancelled, p.ctx.Err()))
		return false
	}
	return true
}

func (p *Pipeline) parse(job *Job) (*loader.Document, bool) {
	if !p.boundary(job, 0) {
		return nil, false
	}
	job.setStatus(StatusParsing)
	p.emit(job, StatusParsing, "", 0)

	job.mu.RLock()
	raw := job.raw
	job.mu.RUnlock()

	// A single file is never abandoned half parsed.
	doc, err := p.parser.Parse(context.WithoutCancel(p.ctx), raw, job.Format, job.SourceID)
	if doc != nil {
		job.update(func(r *Result) {
			r.Format = doc.Format
			r.Blocks = len(doc.Blocks)
			r.Warnings = append(r.Warnings, doc.Warnings...)
		})
	}
	if err != nil {
		p.fail(job, 0, err)
		return nil, false
	}
	for _, w := range doc.Warnings {
		logger.Warn("[Ingest] Parse warning", "job_id", job.ID, "source_id", job.SourceID, "warning", w)
	}
	job.mu.Lock()
	job.raw = nil
	job.mu.Unlock()
	return doc, true
}

func (p *Pipeline) extract(job *Job, doc *loader.Document) (*graph.Extraction, bool) {
	if !p.boundary(job, 1) {
		return nil, false
	}
	job.setStatus(StatusExtracting)
	p.emit(job, StatusExtracting, fmt.Sprintf("%d blocks", len(doc.Blocks)), 1)

	x, err := p.extractor.Extract(p.ctx, doc)
	if err != nil {
		p.fail(job, 1, err)
		return nil, false
	}
	job.update(func(r *Result) {
		r.Skipped = append(r.Skipped, x.Skipped...)
		r.Entities = len(x.Entities)
		r.Relationships = len(x.Relationships)
		r.Fragments = len(x.Fragments)
		for _, s := range x.Skipped {
			r.Warnings = append(r.Warnings, s.Error())
		}
	})
	if x.Empty() {
		reason := ErrNoContent
		if len(x.Skipped) > 0 {
			reason = fmt.Errorf("%w: %d units skipped: %w", ErrNoContent, len(x.Skipped), x.Skipped[0])
		}
		p.fail(job, 1, reason)
		return nil, false
	}
	return x, true
}

func (p *Pipeline) upsert(job *Job, x *graph.Extraction) {
	if !p.boundary(job, 2) {
		return
	}
	job.setStatus(StatusUpserting)
	p.emit(job, StatusUpserting, "", 2)

	report, err := p.upserter.Upsert(p.ctx, x)
	job.update(func(r *Result) { r.Report = report })
	if err != nil {
		p.fail(job, 2, err)
		return
	}
	if job.finish(nil) {
		res := job.Result()
		p.emit(job, StatusDone, "", stageCount)
		logger.Info("[Ingest] Job done",
			"job_id", job.ID,
			"source_id", job.SourceID,
			"format", string(res.Format),
			"blocks", res.Blocks,
			"entities", res.Entities,
			"relationships", res.Relationships,
			"skipped", len(res.Skipped),
			"warnings", len(res.Warnings),
			"duration", time.Since(job.Created).Round(time.Millisecond).String(),
		)
	}
}

func (p *Pipeline) fail(job *Job, done int, err error) {
	if !job.finish(err) {
		return
	}
	p.emit(job, StatusFailed, err.Error(), done)
	if errors.Is(err, ErrCancelled) {
		logger.Info("[Ingest] Job cancelled", "job_id", job.ID, "source_id", job.SourceID)
		return
	}
	logger.Error("[Ingest] Job failed", "job_id", job.ID, "source_id", job.SourceID, "err", err)
}

func (p *Pipeline) emit(job *Job, status Status, msg string, done int) {
	ev := Event{
		JobID:    job.ID,
		SourceID: job.SourceID,
		Status:   status,
		Message:  msg,
		Done:     done,
		Total:    stageCount,
		Time:     time.Now(),
	}
	select {
	case p.events <- ev:
	default:
		logger.Debug("[Ingest] Event dropped", "job_id", job.ID, "status", string(status))
	}
}
