package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ai/aitest"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/graph"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader/formats"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store/memory"
)

const acmeResponse = `{"entities": [{"name": "Acme Corp", "type": "Organization", "description": "A supplier."}], "relationships": []}`

type fixture struct {
	store    *memory.Storage
	pipeline *Pipeline
}

func newFixture(t *testing.T, opts ...loader.RegistryOption) *fixture {
	t.Helper()
	client := aitest.New(8)
	client.Respond = func(context.Context, string) (string, error) { return acmeResponse, nil }

	s := memory.New()
	p := NewPipeline(context.Background(), NewPipelineParams{
		Parser:    formats.NewRegistry(opts...),
		Extractor: graph.NewExtractor(graph.NewExtractorParams{Client: client}),
		Upserter:  graph.NewUpserter(graph.NewUpserterParams{Store: s, Embedder: client}),
		Workers:   2,
	})
	t.Cleanup(p.Close)
	return &fixture{store: s, pipeline: p}
}

func wait(t *testing.T, j *Job) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := j.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("job %s did not finish, status %s", j.ID, j.Status())
	}
	return err
}

func TestSpreadsheetNameManager(t *testing.T) {
	f := newFixture(t)

	job := f.pipeline.Submit([]byte("Name,Manager\nAlice,Bob\n"), loader.FormatCSV, "staff.csv")
	if err := wait(t, job); err != nil {
		t.Fatalf("expected job to succeed, got %v", err)
	}
	if job.Status() != StatusDone {
		t.Fatalf("expected Done, got %s", job.Status())
	}

	g, err := f.store.Export(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(g.Entities))
	}
	if len(g.Relationships) != 1 {
		t.Fatalf("expected 1 relationship, got %d", len(g.Relationships))
	}
	r := g.Relationships[0]
	alice := common.EntityID("Alice", common.TypePerson)
	bob := common.EntityID("Bob", common.TypePerson)
	if r.Source != alice || r.Target != bob {
		t.Fatalf("expected Alice -> Bob, got %s -> %s", r.Source, r.Target)
	}
	if r.Kind != "MANAGER" || r.Confidence != 1.0 || r.Origin != common.OriginExplicit {
		t.Fatalf("expected MANAGER/1.0/Explicit, got %s/%v/%s", r.Kind, r.Confidence, r.Origin)
	}
}

func TestCorruptedPDFStillCompletes(t *testing.T) {
	partialPDF := loader.ParserFunc(func(context.Context, []byte) (*loader.Document, error) {
		doc := &loader.Document{}
		for i := 1; i <= 3; i++ {
			doc.Add(loader.Paragraph("Acme Corp ships parts to the plant.", common.Locator{Page: 1, Line: i}))
		}
		return doc, errors.New("xref table damaged after page 1")
	})
	f := newFixture(t, loader.WithParser(loader.FormatPDF, partialPDF))

	job := f.pipeline.Submit([]byte("%PDF-1.7 damaged"), loader.FormatPDF, "report.pdf")
	if err := wait(t, job); err != nil {
		t.Fatalf("expected Done, got %v", err)
	}
	res := job.Result()
	if res.Blocks != 3 {
		t.Fatalf("expected 3 blocks, got %d", res.Blocks)
	}
	if len(res.Warnings) == 0 || !strings.Contains(res.Warnings[0], "xref table damaged") {
		t.Fatalf("expected a parse warning, got %v", res.Warnings)
	}
	if res.Report == nil || res.Report.EntitiesCreated != 1 {
		t.Fatalf("expected 1 created entity, got %+v", res.Report)
	}
}

func TestFailures(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		format loader.Format
		check  func(error) bool
	}{
		{
			name:   "unsupported format",
			raw:    "MZ\x90\x00",
			format: loader.Format("exe"),
			check:  func(err error) bool { return loader.IsKind(err, loader.UnsupportedFormat) },
		},
		{
			name:   "empty document",
			raw:    "   \n\n",
			format: loader.FormatMarkdown,
			check:  func(err error) bool { return loader.IsKind(err, loader.EmptyExtraction) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			job := f.pipeline.Submit([]byte(tt.raw), tt.format, "bad")
			err := wait(t, job)
			if job.Status() != StatusFailed {
				t.Fatalf("expected Failed, got %s", job.Status())
			}
			if !tt.check(err) {
				t.Fatalf("unexpected failure reason %v", err)
			}
		})
	}
}

func TestNoUsableContentFails(t *testing.T) {
	s := memory.New()
	p := NewPipeline(context.Background(), NewPipelineParams{
		Parser:    formats.NewRegistry(),
		Extractor: graph.NewExtractor(graph.NewExtractorParams{}),
		Upserter:  graph.NewUpserter(graph.NewUpserterParams{Store: s}),
	})
	defer p.Close()

	job := p.Submit([]byte("# Notes\n\nJust prose and no model to read it.\n"), loader.FormatMarkdown, "notes.md")
	err := wait(t, job)
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got %v", err)
	}
	if len(job.Result().Skipped) == 0 {
		t.Fatalf("expected skipped units to be recorded")
	}
}

func TestStoreUnavailableFailsJob(t *testing.T) {
	f := newFixture(t)
	f.store.SetUnavailable(true)

	job := f.pipeline.Submit([]byte("Name,Manager\nAlice,Bob\n"), loader.FormatCSV, "staff.csv")
	err := wait(t, job)
	var uerr *graph.UpsertError
	if !errors.As(err, &uerr) || uerr.Kind != graph.StoreUnavailable {
		t.Fatalf("expected StoreUnavailable, got %v", err)
	}
}

// gatedParser blocks in Parse until release is closed.
type gatedParser struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedParser) Parse(_ context.Context, _ []byte, _ loader.Format, sourceID string) (*loader.Document, error) {
	close(g.started)
	<-g.release
	doc := &loader.Document{SourceID: sourceID}
	doc.Add(loader.Paragraph("text", common.Locator{Line: 1}))
	return doc, nil
}

type countingExtractor struct {
	mu    sync.Mutex
	calls int
}

func (c *countingExtractor) Extract(_ context.Context, doc *loader.Document) (*graph.Extraction, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return &graph.Extraction{SourceID: doc.SourceID}, nil
}

func TestCancelBetweenStages(t *testing.T) {
	parser := &gatedParser{started: make(chan struct{}), release: make(chan struct{})}
	extractor := &countingExtractor{}
	s := memory.New()
	p := NewPipeline(context.Background(), NewPipelineParams{
		Parser:    parser,
		Extractor: extractor,
		Upserter:  graph.NewUpserter(graph.NewUpserterParams{Store: s}),
		Workers:   1,
	})
	defer p.Close()

	job := p.Submit([]byte("x"), loader.FormatMarkdown, "doc.md")
	<-parser.started
	job.Cancel()
	if job.Status() != StatusParsing {
		t.Fatalf("expected parse to keep running, got %s", job.Status())
	}
	close(parser.release)

	err := wait(t, job)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if job.Result().Blocks != 1 {
		t.Fatalf("expected the parse result to be kept, got %d blocks", job.Result().Blocks)
	}
	extractor.mu.Lock()
	defer extractor.mu.Unlock()
	if extractor.calls != 0 {
		t.Fatalf("expected extraction not to run, got %d calls", extractor.calls)
	}
}

func TestConcurrentDocumentsMergeEntity(t *testing.T) {
	f := newFixture(t)

	const docs = 10
	jobs := make([]*Job, docs)
	for i := range docs {
		src := "supplier-" + string(rune('a'+i)) + ".csv"
		jobs[i] = f.pipeline.Submit([]byte("Name,Company\nAlice,Acme Corp\n"), loader.FormatCSV, src)
	}
	for _, j := range jobs {
		if err := wait(t, j); err != nil {
			t.Fatalf("job %s failed: %v", j.SourceID, err)
		}
	}

	acme := common.EntityID("Acme Corp", common.TypeOrganization)
	got, err := f.store.GetEntities(context.Background(), []string{acme})
	if err != nil || len(got) != 1 {
		t.Fatalf("expected Acme Corp, got %v (%v)", got, err)
	}
	sources := map[string]bool{}
	for _, p := range got[0].Provenance {
		sources[p.SourceID] = true
	}
	if len(sources) != docs {
		t.Fatalf("expected %d sources, got %d", docs, len(sources))
	}
	rels, _ := f.store.ListRelationships(context.Background(), store.RelationshipFilter{})
	if len(rels) != 1 {
		t.Fatalf("expected a single merged relationship, got %d", len(rels))
	}
}

func TestEventsAndClose(t *testing.T) {
	f := newFixture(t)
	job := f.pipeline.Submit([]byte("Name,Manager\nAlice,Bob\n"), loader.FormatCSV, "staff.csv")
	if err := wait(t, job); err != nil {
		t.Fatal(err)
	}
	f.pipeline.Close()

	var statuses []Status
	for ev := range f.pipeline.Events() {
		if ev.JobID == job.ID {
			statuses = append(statuses, ev.Status)
		}
	}
	want := []Status{StatusQueued, StatusParsing, StatusExtracting, StatusUpserting, StatusDone}
	if len(statuses) != len(want) {
		t.Fatalf("expected %v, got %v", want, statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, statuses)
		}
	}

	late := f.pipeline.Submit([]byte("a,b\n"), loader.FormatCSV, "late.csv")
	if !errors.Is(late.Err(), ErrClosed) || late.Status() != StatusFailed {
		t.Fatalf("expected ErrClosed after Close, got %s %v", late.Status(), late.Err())
	}
	if _, ok := f.pipeline.Job(job.ID); !ok {
		t.Fatalf("expected finished job to stay indexed until forgotten")
	}
	f.pipeline.Forget(job.ID)
	if _, ok := f.pipeline.Job(job.ID); ok {
		t.Fatalf("expected job to be forgotten")
	}
}
