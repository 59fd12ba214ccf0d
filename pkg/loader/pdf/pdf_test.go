package pdf

import (
	"context"
	"testing"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
)

func TestLayoutPageHeadingsAndParagraphs(t *testing.T) {
	lines := []line{
		{text: "Annual Report", size: 24, y: 800},
		{text: "Overview", size: 16, y: 770},
		{text: "Acme Corp grew in every", size: 11, y: 750},
		{text: "region this year.", size: 11, y: 737},
		{text: "The board approved a new", size: 11, y: 700},
		{text: "strategy.", size: 11, y: 687},
	}
	blocks := layoutPage(2, lines)

	want := []struct {
		kind  loader.BlockKind
		text  string
		level int
	}{
		{loader.BlockHeading, "Annual Report", 1},
		{loader.BlockHeading, "Overview", 2},
		{loader.BlockParagraph, "Acme Corp grew in every region this year.", 0},
		{loader.BlockParagraph, "The board approved a new strategy.", 0},
	}
	if len(blocks) != len(want) {
		t.Fatalf("expected %d blocks, got %d: %+v", len(want), len(blocks), blocks)
	}
	for i, w := range want {
		b := blocks[i]
		if b.Kind != w.kind || b.Text != w.text || b.Level != w.level {
			t.Fatalf("block %d: expected %v %q %d, got %v %q %d", i, w.kind, w.text, w.level, b.Kind, b.Text, b.Level)
		}
		if b.Locator.Page != 2 {
			t.Fatalf("block %d: expected page 2, got %d", i, b.Locator.Page)
		}
	}
}

func TestLayoutPagePlainText(t *testing.T) {
	lines := []line{{text: "first para"}, {text: "continues"}, {text: ""}, {text: "second para"}}
	blocks := layoutPage(1, lines)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 paragraphs, got %d", len(blocks))
	}
	if blocks[0].Text != "first para continues" || blocks[1].Locator.Line != 4 {
		t.Fatalf("unexpected blocks %+v", blocks)
	}
}

func TestJoinLinesHyphenation(t *testing.T) {
	if got := joinLines([]string{"inter-", "national trade"}); got != "international trade" {
		t.Fatalf("unexpected join %q", got)
	}
}

func TestParseGarbage(t *testing.T) {
	_, err := NewParser().Parse(context.Background(), []byte("%PDF-1.4 this is not a pdf"))
	if !loader.IsKind(err, loader.Corrupt) {
		t.Fatalf("expected corrupt error, got %v", err)
	}
}
