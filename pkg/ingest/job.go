package ingest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/graph"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
)

// Status is the pipeline stage a job is in.
type Status string

const (
	StatusQueued     Status = "Queued"
	StatusParsing    Status = "Parsing"
	StatusExtracting Status = "Extracting"
	StatusUpserting  Status = "Upserting"
	StatusDone       Status = "Done"
	StatusFailed     Status = "Failed"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

var (
	ErrCancelled = errors.New("ingestion job cancelled")
	ErrClosed    = errors.New("ingestion pipeline closed")
	// ErrNoContent fails a job whose document produced nothing to store.
	ErrNoContent = errors.New("no usable content extracted")
)

// Result holds what a job produced so far. It is filled in stage by stage
// and kept when the job fails.
type Result struct {
	// Format is the format the document was parsed as.
	Format   loader.Format
	Blocks   int
	Warnings []string
	Skipped  []*graph.ExtractionError

	Entities      int
	Relationships int
	Fragments     int

	Report *graph.UpsertReport
}

// Job tracks one document through parse, extract and upsert.
type Job struct {
	ID       string
	SourceID string
	Format   loader.Format
	Created  time.Time

	raw []byte

	mu     sync.RWMutex
	status Status
	err    error
	result Result

	cancelled atomic.Bool
	done      chan struct{}
}

func newJob(id, sourceID string, format loader.Format, raw []byte) *Job {
	return &Job{
		ID:       id,
		SourceID: sourceID,
		Format:   format,
		Created:  time.Now(),
		raw:      raw,
		status:   StatusQueued,
		done:     make(chan struct{}),
	}
}

func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Err is the failure reason of a Failed job and nil otherwise.
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

func (j *Job) Result() Result {
	j.mu.RLock()
	defer j.mu.RUnlock()
	r := j.result
	r.Warnings = slices.Clone(r.Warnings)
	r.Skipped = slices.Clone(r.Skipped)
	return r
}

// Cancel asks the job to stop. The running stage finishes; the job fails
// with ErrCancelled at the next stage boundary. Data already upserted is
// kept.
func (j *Job) Cancel() {
	j.cancelled.Store(true)
}

// Done is closed once the job reaches Done or Failed.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes and returns its failure reason.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-j.done:
		return j.Err()
	}
}

func (j *Job) setStatus(s Status) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

func (j *Job) update(fn func(r *Result)) {
	j.mu.Lock()
	fn(&j.result)
	j.mu.Unlock()
}

// finish moves the job to its terminal state once.
func (j *Job) finish(err error) bool {
	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return false
	}
	j.raw = nil
	if err != nil {
		j.status, j.err = StatusFailed, err
	} else {
		j.status = StatusDone
	}
	j.mu.Unlock()
	close(j.done)
	return true
}

// Event reports a job transition. Done and Total count finished stages.
type Event struct {
	JobID    string
	SourceID string
	Status   Status
	Message  string
	Done     int
	Total    int
	Time     time.Time
}
