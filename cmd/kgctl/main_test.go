package main

import (
	"strings"
	"testing"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/query"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"
)

func TestCommands(t *testing.T) {
	root := (&cli{}).rootCommand()
	want := []string{"ingest", "enqueue", "retrieve", "infer", "neighborhood", "export", "reset", "migrate"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("expected subcommand %s, got %v (%v)", name, cmd, err)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Fatalf("expected a persistent --config flag")
	}
}

func TestResetNeedsConfirmation(t *testing.T) {
	c := &cli{}
	root := c.rootCommand()
	reset, _, _ := root.Find([]string{"reset"})
	err := c.runReset(reset, nil)
	if err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Fatalf("expected confirmation error, got %v", err)
	}
}

func TestDeclaredFormat(t *testing.T) {
	root := (&cli{}).rootCommand()
	ingest, _, _ := root.Find([]string{"ingest"})

	if f, err := declaredFormat(ingest); err != nil || f != "" {
		t.Fatalf("expected empty format, got %q %v", f, err)
	}
	if err := ingest.Flags().Set("format", "exe"); err != nil {
		t.Fatal(err)
	}
	if _, err := declaredFormat(ingest); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}

func TestSourceID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "docs/report.pdf", want: "report.pdf"},
		{in: "staff.csv", want: "staff.csv"},
		{in: "https://example.com/a", want: "https://example.com/a"},
	}
	for _, tt := range tests {
		if got := sourceID(tt.in); got != tt.want {
			t.Fatalf("sourceID(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestLabel(t *testing.T) {
	e := &common.Entity{Name: "Marta", Type: common.TypePerson}
	if got := label(query.Scored{Entity: e}); got != "Marta (Person)" {
		t.Fatalf("expected entity label, got %q", got)
	}

	long := strings.Repeat("word ", 40)
	got := label(query.Scored{Fragment: &common.Fragment{Text: long}})
	if n := len([]rune(got)); n != maxLabelRunes {
		t.Fatalf("expected %d runes, got %d", maxLabelRunes, n)
	}
}

func TestRetrieveOutput(t *testing.T) {
	res := &query.Result{
		Degraded: true,
		Items: []query.Scored{
			{ID: "entity:a", Kind: store.NodeEntity, Score: 0.9, Entity: &common.Entity{Name: "A", Type: common.TypeConcept}},
			{ID: "fragment:b", Kind: store.NodeFragment, Score: 0.5, Fragment: &common.Fragment{Text: "b", SourceID: "doc"}},
		},
	}
	out := retrieveOutput(res)
	if out["degraded"] != true {
		t.Fatalf("expected degraded flag, got %v", out["degraded"])
	}
	items := out["items"].([]retrieveItem)
	if len(items) != 2 || items[0].Name != "A" || items[1].SourceID != "doc" {
		t.Fatalf("unexpected items %+v", items)
	}
}
