package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ansonTGN/LaMuralla-AI-Test/internal/util"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/graph"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ingest"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/leaselock"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader/formats"
	lio "github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader/io"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/reasoning"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store/memory"

	amqp "github.com/rabbitmq/amqp091-go"
)

type published struct {
	key string
	msg amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	deliveries map[string]chan amqp.Delivery
	published  []published
	declared   []string
}

func newFakeChannel(queues ...string) *fakeChannel {
	c := &fakeChannel{deliveries: map[string]chan amqp.Delivery{}}
	for _, q := range queues {
		c.deliveries[q] = make(chan amqp.Delivery, 4)
	}
	return c
}

func (c *fakeChannel) Qos(int, int, bool) error { return nil }

func (c *fakeChannel) Consume(queue, _ string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliveries[queue], nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{key: key, msg: msg})
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	c.declared = append(c.declared, name)
	return amqp.Queue{Name: name}, nil
}

type fakeAck struct {
	mu     sync.Mutex
	acks   int
	nacks  int
	signal chan struct{}
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.mu.Lock()
	a.acks++
	a.mu.Unlock()
	a.signal <- struct{}{}
	return nil
}

func (a *fakeAck) Nack(uint64, bool, bool) error {
	a.mu.Lock()
	a.nacks++
	a.mu.Unlock()
	a.signal <- struct{}{}
	return nil
}

func (a *fakeAck) Reject(uint64, bool) error { return nil }

func TestSetupQueues(t *testing.T) {
	ch := newFakeChannel()
	if err := SetupQueues(ch, Queues); err != nil {
		t.Fatal(err)
	}
	want := []string{"ingest_queue", "ingest_queue_dlq", "ingest_queue_retry", "infer_queue", "infer_queue_dlq", "infer_queue_retry"}
	if len(ch.declared) != len(want) {
		t.Fatalf("expected %v, got %v", want, ch.declared)
	}
	for i := range want {
		if ch.declared[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ch.declared)
		}
	}
}

func TestConsumeRouting(t *testing.T) {
	tests := []struct {
		name       string
		headers    amqp.Table
		handlerErr error
		wantKey    string
		wantRetry  int32
	}{
		{name: "success", wantKey: ""},
		{name: "first failure", handlerErr: errors.New("store down"), wantKey: "ingest_queue_retry", wantRetry: 1},
		{name: "later failure", headers: amqp.Table{retriesHeader: int32(2)}, handlerErr: errors.New("store down"), wantKey: "ingest_queue_retry", wantRetry: 3},
		{name: "retries exhausted", headers: amqp.Table{retriesHeader: int32(5)}, handlerErr: errors.New("store down"), wantKey: "ingest_queue_dlq"},
		{name: "permanent", handlerErr: util.Permanent(errors.New("corrupt")), wantKey: "ingest_queue_dlq"},
		{name: "malformed", handlerErr: ErrMalformed, wantKey: "ingest_queue_dlq"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newFakeChannel(IngestQueue)
			ack := &fakeAck{signal: make(chan struct{}, 1)}
			ch.deliveries[IngestQueue] <- amqp.Delivery{Acknowledger: ack, Headers: tt.headers, Body: []byte(`{}`)}

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() {
				done <- Consume(ctx, ch, []string{IngestQueue}, 5, func(context.Context, string, []byte) error {
					return tt.handlerErr
				})
			}()

			select {
			case <-ack.signal:
			case <-time.After(5 * time.Second):
				t.Fatalf("message was not settled")
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("expected clean stop, got %v", err)
			}

			if ack.acks != 1 {
				t.Fatalf("expected the original to be acked, got %d acks %d nacks", ack.acks, ack.nacks)
			}
			if tt.wantKey == "" {
				if len(ch.published) != 0 {
					t.Fatalf("expected nothing republished, got %v", ch.published)
				}
				return
			}
			if len(ch.published) != 1 || ch.published[0].key != tt.wantKey {
				t.Fatalf("expected republish to %s, got %+v", tt.wantKey, ch.published)
			}
			if tt.wantRetry > 0 && ch.published[0].msg.Headers[retriesHeader] != tt.wantRetry {
				t.Fatalf("expected retry count %d, got %v", tt.wantRetry, ch.published[0].msg.Headers[retriesHeader])
			}
		})
	}
}

func TestDecodeIngest(t *testing.T) {
	tests := []struct {
		body    string
		wantErr bool
		want    IngestMessage
	}{
		{body: `{"path": "hr/staff.csv"}`, want: IngestMessage{SourceID: "hr/staff.csv", Location: LocationS3, Path: "hr/staff.csv"}},
		{body: `{"source_id": "s1", "location": "web", "path": "https://example.com", "format": "html"}`, want: IngestMessage{SourceID: "s1", Location: LocationWeb, Path: "https://example.com", Format: loader.FormatHTML}},
		{body: `{"location": "ftp", "path": "x"}`, wantErr: true},
		{body: `{"location": "file"}`, wantErr: true},
		{body: `not json`, wantErr: true},
	}
	for _, tt := range tests {
		msg, err := DecodeIngest([]byte(tt.body))
		if tt.wantErr {
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed for %s, got %v", tt.body, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", tt.body, err)
		}
		if *msg != tt.want {
			t.Fatalf("expected %+v, got %+v", tt.want, *msg)
		}
	}
}

func newProcessor(t *testing.T, s *memory.Storage, reasoner Inferrer) *Processor {
	t.Helper()
	p := ingest.NewPipeline(context.Background(), ingest.NewPipelineParams{
		Parser:    formats.NewRegistry(),
		Extractor: graph.NewExtractor(graph.NewExtractorParams{}),
		Upserter:  graph.NewUpserter(graph.NewUpserterParams{Store: s}),
	})
	t.Cleanup(p.Close)
	return NewProcessor(NewProcessorParams{
		Pipeline: p,
		Reasoner: reasoner,
		Sources:  map[string]loader.SourceLoader{LocationFile: lio.NewFileLoader(0)},
	})
}

func TestProcessIngest(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "staff.csv")
	if err := os.WriteFile(good, []byte("Name,Manager\nAlice,Bob\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	empty := filepath.Join(dir, "empty.md")
	if err := os.WriteFile(empty, []byte("\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := memory.New()
	p := newProcessor(t, s, nil)
	ctx := context.Background()

	body, _ := json.Marshal(IngestMessage{Location: LocationFile, Path: good})
	if err := p.Handle(ctx, IngestQueue, body); err != nil {
		t.Fatalf("expected ingest to succeed, got %v", err)
	}
	if e, r, _ := s.Counts(); e != 2 || r != 1 {
		t.Fatalf("expected 2 entities and 1 relationship, got %d and %d", e, r)
	}

	body, _ = json.Marshal(IngestMessage{Location: LocationFile, Path: empty})
	if err := p.Handle(ctx, IngestQueue, body); !util.IsPermanent(err) {
		t.Fatalf("expected a permanent error for an empty document, got %v", err)
	}

	body, _ = json.Marshal(IngestMessage{Location: LocationFile, Path: filepath.Join(dir, "missing.csv")})
	if err := p.Handle(ctx, IngestQueue, body); !util.IsPermanent(err) {
		t.Fatalf("expected a permanent error for a missing file, got %v", err)
	}

	body, _ = json.Marshal(IngestMessage{Location: LocationS3, Path: "x.csv"})
	if err := p.Handle(ctx, IngestQueue, body); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for an unconfigured location, got %v", err)
	}
}

type fakeReasoner struct {
	err   error
	scope string
}

func (f *fakeReasoner) Infer(_ context.Context, scope *reasoning.Scope) ([]common.Relationship, error) {
	f.scope = scope.String()
	return nil, f.err
}

func TestProcessInfer(t *testing.T) {
	ctx := context.Background()

	r := &fakeReasoner{}
	p := newProcessor(t, memory.New(), r)
	if err := p.Handle(ctx, InferQueue, []byte(`{"scope": "type == \"Person\""}`)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if r.scope != `type == "Person"` {
		t.Fatalf("unexpected scope %q", r.scope)
	}

	if err := p.Handle(ctx, InferQueue, []byte(`{"scope": "name +"}`)); !util.IsPermanent(err) {
		t.Fatalf("expected a permanent error for a bad scope, got %v", err)
	}

	r.err = leaselock.ErrBusy
	if err := p.Handle(ctx, InferQueue, nil); err != nil {
		t.Fatalf("expected a busy lease to be ignored, got %v", err)
	}
	if r.scope != "*" {
		t.Fatalf("expected the empty scope, got %q", r.scope)
	}

	if err := p.Handle(ctx, "unknown_queue", nil); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
