// Package excel parses spreadsheet workbooks (.xlsx, .xlsm). Every sheet
// becomes a heading followed by its rows as table rows.
package excel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"

	"github.com/xuri/excelize/v2"
)

// Parser implements loader.Parser for spreadsheets.
type Parser struct {
	// MaxRowsPerSheet stops reading a sheet after this many rows; 0 is unlimited.
	MaxRowsPerSheet int
}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(_ context.Context, raw []byte) (*loader.Document, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, loader.NewCorruptError(loader.FormatSpreadsheet, err)
	}
	defer f.Close()

	doc := &loader.Document{}
	if props, err := f.GetDocProps(); err == nil && props != nil {
		doc.SetMeta("title", props.Title)
		doc.SetMeta("author", props.Creator)
	}

	sheets := f.GetSheetList()
	doc.SetMeta("sheets", strconv.Itoa(len(sheets)))
	failed := 0
	for i, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			failed++
			doc.Warn("sheet %q unreadable: %v", sheet, err)
			continue
		}
		p.addSheet(doc, i, sheet, rows)
	}

	if len(sheets) > 0 && failed == len(sheets) {
		return doc, loader.NewCorruptError(loader.FormatSpreadsheet, errors.New("no readable sheets"))
	}
	return doc, nil
}

func (p *Parser) addSheet(doc *loader.Document, table int, sheet string, rows [][]string) {
	type numbered struct {
		cells []string
		row   int
	}
	var kept []numbered
	for i, row := range rows {
		if p.MaxRowsPerSheet > 0 && len(kept) >= p.MaxRowsPerSheet {
			doc.Warn("sheet %q truncated at %d rows", sheet, p.MaxRowsPerSheet)
			break
		}
		if cells := loader.TrimCells(row); len(cells) > 0 {
			kept = append(kept, numbered{cells: cells, row: i + 1})
		}
	}
	if len(kept) == 0 {
		return
	}

	doc.Add(loader.Heading(1, sheet, common.Locator{Sheet: sheet}))
	rest := make([][]string, 0, len(kept)-1)
	for _, k := range kept[1:] {
		rest = append(rest, k.cells)
	}
	header := loader.LooksLikeHeader(kept[0].cells, rest)
	for i, k := range kept {
		doc.Add(loader.TableRow(table, k.cells, header && i == 0, common.Locator{Sheet: sheet, Row: k.row}))
	}
}

// SheetName formats the conventional default name of the n-th sheet.
func SheetName(n int) string {
	return fmt.Sprintf("Sheet%d", n)
}
