package formats

import (
	"context"
	"testing"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
)

func TestRegistryParsesEveryTextFormat(t *testing.T) {
	tests := []struct {
		name   string
		format loader.Format
		raw    string
		kind   loader.BlockKind
	}{
		{"csv", loader.FormatCSV, "Name,Manager\nAlice,Bob\n", loader.BlockTableRow},
		{"html", loader.FormatHTML, "<p>Alice works at Acme.</p>", loader.BlockParagraph},
		{"json", loader.FormatJSON, `{"ceo": "Alice"}`, loader.BlockParagraph},
		{"xml", loader.FormatXML, "<org><ceo>Alice</ceo></org>", loader.BlockParagraph},
		{"markdown", loader.FormatMarkdown, "# Acme\n\nAlice is the CEO.", loader.BlockHeading},
		{"detected csv", "", "Name,Manager\nAlice,Bob\n", loader.BlockTableRow},
		{"detected json", "", `{"ceo": "Alice"}`, loader.BlockParagraph},
	}

	reg := NewRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := reg.Parse(context.Background(), []byte(tt.raw), tt.format, "src-"+tt.name)
			if err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			if len(doc.Blocks) == 0 || doc.Blocks[0].Kind != tt.kind {
				t.Fatalf("expected first block of kind %v, got %+v", tt.kind, doc.Blocks)
			}
			if doc.SourceID != "src-"+tt.name {
				t.Fatalf("expected source id to be set, got %q", doc.SourceID)
			}
		})
	}
}

func TestRegistryFailurePolicy(t *testing.T) {
	reg := NewRegistry(loader.WithMaxBytes(64))

	_, err := reg.Parse(context.Background(), []byte("%PDF-1.4 garbage"), loader.FormatPDF, "broken")
	if !loader.IsKind(err, loader.EmptyExtraction) || !loader.IsKind(err, loader.Corrupt) {
		t.Fatalf("expected EmptyExtraction wrapping Corrupt, got %v", err)
	}

	_, err = reg.Parse(context.Background(), make([]byte, 65), loader.FormatCSV, "big")
	if !loader.IsKind(err, loader.TooLarge) {
		t.Fatalf("expected TooLarge, got %v", err)
	}

	_, err = reg.Parse(context.Background(), []byte("x"), loader.Format("pptx"), "slides")
	if !loader.IsKind(err, loader.UnsupportedFormat) {
		t.Fatalf("expected UnsupportedFormat, got %v", err)
	}
}
