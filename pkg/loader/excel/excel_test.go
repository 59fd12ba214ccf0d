package excel

import (
	"context"
	"testing"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"

	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetRow(SheetName(1), "A1", &[]any{"Name", "Manager"}); err != nil {
		t.Fatalf("set header: %v", err)
	}
	if err := f.SetSheetRow(SheetName(1), "A2", &[]any{"Alice", "Bob"}); err != nil {
		t.Fatalf("set row: %v", err)
	}
	if _, err := f.NewSheet("Offices"); err != nil {
		t.Fatalf("new sheet: %v", err)
	}
	if err := f.SetSheetRow("Offices", "A1", &[]any{"Company", "City"}); err != nil {
		t.Fatalf("set header: %v", err)
	}
	if err := f.SetSheetRow("Offices", "A3", &[]any{"Acme", "Berlin"}); err != nil {
		t.Fatalf("set row: %v", err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func TestParseWorkbook(t *testing.T) {
	doc, err := NewParser().Parse(context.Background(), buildWorkbook(t))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got := doc.Count(loader.BlockHeading); got != 2 {
		t.Fatalf("expected 2 sheet headings, got %d", got)
	}
	if got := doc.Count(loader.BlockTableRow); got != 4 {
		t.Fatalf("expected 4 rows, got %d", got)
	}

	var offices []loader.Block
	for _, b := range doc.Blocks {
		if b.Kind == loader.BlockTableRow && b.Locator.Sheet == "Offices" {
			offices = append(offices, b)
		}
	}
	if len(offices) != 2 {
		t.Fatalf("expected 2 office rows, got %d", len(offices))
	}
	if !offices[0].Header || offices[1].Header {
		t.Fatal("expected header on the first office row only")
	}
	if offices[1].Locator.Row != 3 {
		t.Fatalf("expected spreadsheet row 3, got %d", offices[1].Locator.Row)
	}
	if offices[0].Table == doc.Blocks[1].Table {
		t.Fatal("expected sheets to be separate tables")
	}
}

func TestParseNotAWorkbook(t *testing.T) {
	_, err := NewParser().Parse(context.Background(), []byte("not a zip"))
	if !loader.IsKind(err, loader.Corrupt) {
		t.Fatalf("expected corrupt error, got %v", err)
	}
}
