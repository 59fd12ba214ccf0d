package graph

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ai"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ai/aitest"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
)

const aliceResponse = `{
  "entities": [
    {"name": "Alice Smith", "type": "Person", "description": "Leads the platform team."},
    {"name": "Platform Team", "type": "Organization", "description": "Team led by Alice."},
    {"name": "", "type": "Person"},
    {"name": "Bob Jones", "type": "Wizard"}
  ],
  "relationships": [
    {"source": "Alice Smith", "target": "Platform Team", "kind": "leads", "confidence": 1.7},
    {"source": "Bob Jones", "target": "Nobody", "kind": "KNOWS", "confidence": 0.4},
    {"source": "Alice Smith", "target": "alice smith", "kind": "IS", "confidence": 0.9},
    {"source": "Bob Jones", "target": "Alice Smith", "kind": "REPORTS_TO"}
  ]
}`

func TestExtractValidatesModelOutput(t *testing.T) {
	client := aitest.New(8)
	client.Respond = func(ctx context.Context, prompt string) (string, error) {
		return aliceResponse, nil
	}
	doc := &loader.Document{SourceID: "team.md"}
	doc.Add(loader.Paragraph("Alice Smith leads the platform team. Bob Jones reports to her.", common.Locator{Line: 4}))

	x, err := NewExtractor(NewExtractorParams{Client: client}).Extract(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(x.Entities) != 3 {
		t.Fatalf("expected 3 valid entities, got %+v", x.Entities)
	}
	bob := common.EntityID("Bob Jones", common.TypeOther)
	found := false
	for _, e := range x.Entities {
		if e.ID == bob {
			found = true
		}
		if len(e.Provenance) != 1 || e.Provenance[0].Locator.Line != 4 {
			t.Fatalf("unexpected provenance %+v", e.Provenance)
		}
	}
	if !found {
		t.Fatal("expected unknown type to fall back to Other")
	}

	if len(x.Relationships) != 2 {
		t.Fatalf("expected 2 valid relationships, got %+v", x.Relationships)
	}
	for _, r := range x.Relationships {
		switch r.Kind {
		case "LEADS":
			if r.Confidence != 1 {
				t.Fatalf("expected clamped confidence 1, got %v", r.Confidence)
			}
		case "REPORTS_TO":
			if r.Confidence != defaultConfidence {
				t.Fatalf("expected default confidence, got %v", r.Confidence)
			}
		default:
			t.Fatalf("unexpected relationship %+v", r)
		}
	}

	if len(x.Fragments) != 1 || len(x.Fragments[0].Mentions) != 3 {
		t.Fatalf("expected one fragment mentioning 3 entities, got %+v", x.Fragments)
	}
	if prompts := client.Prompts(); len(prompts) != 1 || !strings.Contains(prompts[0], "Alice Smith leads") {
		t.Fatalf("expected the unit text in the prompt, got %v", prompts)
	}
}

func TestExtractRetriesThenSkips(t *testing.T) {
	var calls atomic.Int32
	client := aitest.New(8)
	client.Respond = func(ctx context.Context, prompt string) (string, error) {
		calls.Add(1)
		if strings.Contains(prompt, "broken") {
			return "this is not json at all", nil
		}
		return `{"entities": [{"name": "Acme Corp", "type": "Organization"}], "relationships": []}`, nil
	}
	doc := &loader.Document{SourceID: "mixed.md"}
	doc.Add(
		loader.Heading(1, "One", common.Locator{Line: 1}),
		loader.Paragraph("Acme Corp is a company.", common.Locator{Line: 2}),
		loader.Heading(1, "Two", common.Locator{Line: 3}),
		loader.Paragraph("This part is broken.", common.Locator{Line: 4}),
	)

	x, err := NewExtractor(NewExtractorParams{Client: client, MaxRetries: 3}).Extract(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 4 {
		t.Fatalf("expected 1 call plus 3 attempts, got %d", calls.Load())
	}
	if len(x.Entities) != 1 {
		t.Fatalf("expected the good unit to be kept, got %+v", x.Entities)
	}
	if len(x.Skipped) != 1 {
		t.Fatalf("expected 1 skipped unit, got %d", len(x.Skipped))
	}
	if x.Skipped[0].Kind != SchemaViolation || x.Skipped[0].Block.Line != 4 {
		t.Fatalf("unexpected skip %+v", x.Skipped[0])
	}
}

func TestExtractTimeout(t *testing.T) {
	client := aitest.New(8)
	client.Respond = func(ctx context.Context, prompt string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	doc := &loader.Document{SourceID: "slow.md"}
	doc.Add(loader.Paragraph("Slow text.", common.Locator{Line: 1}))

	x, err := NewExtractor(NewExtractorParams{
		Client:      client,
		MaxRetries:  2,
		CallTimeout: 10 * time.Millisecond,
	}).Extract(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(x.Skipped) != 1 || x.Skipped[0].Kind != ModelTimeout {
		t.Fatalf("expected a model timeout skip, got %+v", x.Skipped)
	}
}

func TestExtractWithoutModelKeepsTables(t *testing.T) {
	doc := &loader.Document{SourceID: "staff.csv"}
	doc.Add(
		loader.Paragraph("Staff list", common.Locator{Line: 1}),
		loader.TableRow(0, []string{"Name", "Manager"}, true, common.Locator{Row: 1}),
		loader.TableRow(0, []string{"Alice", "Bob"}, false, common.Locator{Row: 2}),
	)
	x, err := NewExtractor(NewExtractorParams{}).Extract(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(x.Entities) != 2 || len(x.Relationships) != 1 {
		t.Fatalf("expected table records, got %d entities %d relationships", len(x.Entities), len(x.Relationships))
	}
	if len(x.Skipped) != 1 || !errors.Is(x.Skipped[0], ai.ErrNotConfigured) {
		t.Fatalf("expected the prose unit to be skipped, got %+v", x.Skipped)
	}
}

func TestExtractCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	doc := &loader.Document{SourceID: "x"}
	doc.Add(loader.Paragraph("text", common.Locator{Line: 1}))
	if _, err := NewExtractor(NewExtractorParams{Client: aitest.New(4)}).Extract(ctx, doc); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
